package traffic

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ecscrape/scraper-service/internal/entity"
)

const blobVersion = 1

type cookieBlob struct {
	Version int                       `json:"version"`
	Cookies map[string][]storedCookie `json:"cookies"`
}

// storedCookie keeps the attributes the jar needs to scope a cookie again
// after a restore. Blobs written before Path existed restore at "/".
type storedCookie struct {
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Path     string     `json:"path,omitempty"`
	Domain   string     `json:"domain,omitempty"`
	Secure   bool       `json:"secure,omitempty"`
	HTTPOnly bool       `json:"http_only,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"`
}

func (c storedCookie) key() string { return c.Domain + "|" + c.Path + "|" + c.Name }

func (c storedCookie) httpCookie() *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	if hc.Path == "" {
		hc.Path = "/"
	}
	if c.Expires != nil {
		hc.Expires = *c.Expires
	}
	return hc
}

// setCookies stores cookies in the jar and remembers their attributes,
// which the jar does not hand back.
func (s *Session) setCookies(u *url.URL, cookies []*http.Cookie) {
	s.jar.SetCookies(u, cookies)

	origin := originOf(u)
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey := s.cookies[origin]
	if byKey == nil {
		byKey = make(map[string]storedCookie)
		s.cookies[origin] = byKey
	}
	for _, c := range cookies {
		sc := storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   strings.TrimPrefix(strings.ToLower(c.Domain), "."),
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if sc.Path == "" || sc.Path[0] != '/' {
			sc.Path = defaultCookiePath(u.Path)
		}
		switch {
		case c.MaxAge > 0:
			exp := now.Add(time.Duration(c.MaxAge) * time.Second).UTC()
			sc.Expires = &exp
		case !c.Expires.IsZero():
			exp := c.Expires.UTC()
			sc.Expires = &exp
		}
		if c.MaxAge < 0 || (sc.Expires != nil && !sc.Expires.After(now)) {
			delete(byKey, sc.key())
			continue
		}
		byKey[sc.key()] = sc
	}
}

// defaultCookiePath is the directory of the request path (RFC 6265 5.1.4).
func defaultCookiePath(p string) string {
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

func originOf(u *url.URL) string { return u.Scheme + "://" + u.Host + "/" }

// live reports whether the jar still sends c for origin.
func (s *Session) live(origin *url.URL, c storedCookie) bool {
	u := *origin
	u.Path = c.Path
	if c.Secure {
		u.Scheme = "https"
	}
	for _, jc := range s.jar.Cookies(&u) {
		if jc.Name == c.Name && jc.Value == c.Value {
			return true
		}
	}
	return false
}

// ExportCookies serializes the cookies of every origin the session talked
// to. The result is what gets persisted as the account's session blob.
func (s *Session) ExportCookies() (string, error) {
	s.mu.Lock()
	origins := make([]string, 0, len(s.origins))
	for o := range s.origins {
		origins = append(origins, o)
	}
	stored := make(map[string][]storedCookie, len(s.cookies))
	for o, byKey := range s.cookies {
		for _, c := range byKey {
			stored[o] = append(stored[o], c)
		}
	}
	s.mu.Unlock()
	sort.Strings(origins)

	blob := cookieBlob{Version: blobVersion, Cookies: make(map[string][]storedCookie)}
	for _, o := range origins {
		u, _ := url.Parse(o)
		cookies := stored[o]
		sort.Slice(cookies, func(i, j int) bool { return cookies[i].key() < cookies[j].key() })
		for _, c := range cookies {
			if s.live(u, c) {
				blob.Cookies[o] = append(blob.Cookies[o], c)
			}
		}
	}

	b, err := json.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("encode session blob: %w", err)
	}
	return string(b), nil
}

// RestoreCookies loads a previously exported blob. A structurally invalid
// blob is reported as an authentication failure.
func (s *Session) RestoreCookies(blob string) error {
	var b cookieBlob
	if err := json.Unmarshal([]byte(blob), &b); err != nil {
		return fmt.Errorf("%w: session blob: %v", entity.ErrAuthFailure, err)
	}
	if b.Version != blobVersion {
		return fmt.Errorf("%w: session blob version %d", entity.ErrAuthFailure, b.Version)
	}
	if len(b.Cookies) == 0 {
		return fmt.Errorf("%w: session blob has no cookies", entity.ErrAuthFailure)
	}

	restored := make(map[*url.URL][]*http.Cookie, len(b.Cookies))
	for origin, cookies := range b.Cookies {
		u, err := url.Parse(origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: session blob origin %q", entity.ErrAuthFailure, origin)
		}
		hc := make([]*http.Cookie, 0, len(cookies))
		for _, c := range cookies {
			if c.Name == "" {
				return fmt.Errorf("%w: session blob has unnamed cookie for %s", entity.ErrAuthFailure, origin)
			}
			hc = append(hc, c.httpCookie())
		}
		restored[u] = hc
	}

	for u, hc := range restored {
		s.setCookies(u, hc)
		s.rememberOrigin(u)
	}
	return nil
}
