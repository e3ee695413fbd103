package traffic

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/repository"
	"github.com/ecscrape/scraper-service/pkg/metrics"
	"github.com/ecscrape/scraper-service/pkg/proxy"
)

// Session is one outbound client session for one account. It is used by a
// single worker at a time; the mutex only guards against Finish racing with
// a cancelled Fetch.
type Session struct {
	id           string
	ref          AccountRef
	throttled    bool
	fetcher      repository.Fetcher
	identity     proxy.Identity
	jar          *cookiejar.Jar
	limiter      *rate.Limiter
	jitter       time.Duration
	maxRedirects int
	started      time.Time
	metrics      *metrics.Metrics
	logger       *zap.Logger

	mu       sync.Mutex
	origins  map[string]struct{}
	cookies  map[string]map[string]storedCookie
	requests int
	bytes    int64
	errors   int
	events   []entity.RequestEvent
	finished bool
	summary  entity.TrafficSummary
}

func (s *Session) ID() string { return s.id }

func (s *Session) Account() AccountRef { return s.ref }

// Get is a shorthand for a GET fetch.
func (s *Session) Get(ctx context.Context, rawURL string) (*entity.Page, error) {
	return s.Fetch(ctx, &repository.FetchRequest{URL: rawURL, Method: http.MethodGet})
}

// PostForm submits a form the way a browser would.
func (s *Session) PostForm(ctx context.Context, rawURL string, form url.Values) (*entity.Page, error) {
	return s.Fetch(ctx, &repository.FetchRequest{
		URL:     rawURL,
		Method:  http.MethodPost,
		Form:    form,
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
	})
}

// Fetch performs one logical page fetch, following redirects and keeping
// every cookie set along the way. Throttled sessions wait for the pacing
// interval plus jitter first.
func (s *Session) Fetch(ctx context.Context, req *repository.FetchRequest) (*entity.Page, error) {
	if s.isFinished() {
		return nil, entity.ErrSessionFinished
	}
	if err := s.pace(ctx); err != nil {
		return nil, fmt.Errorf("%w: pacing: %w", entity.ErrFetchFailure, err)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	current := req.URL
	form := req.Form

	for hop := 0; hop <= s.maxRedirects; hop++ {
		u, err := url.Parse(current)
		if err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("%w: bad url %q", entity.ErrFetchFailure, current)
		}

		hopReq := &repository.FetchRequest{
			URL:     current,
			Method:  method,
			Headers: s.headers(req.Headers),
			Form:    form,
			Cookies: s.jar.Cookies(u),
			Proxy:   s.identity.Proxy,
		}

		started := time.Now()
		resp, err := s.fetcher.Fetch(ctx, hopReq)
		s.record(hopReq, resp, err, started)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %w", entity.ErrFetchFailure, method, current, err)
		}

		s.rememberOrigin(u)
		if len(resp.Cookies) > 0 {
			s.setCookies(u, resp.Cookies)
		}

		if isRedirect(resp.Status) && resp.Location != "" {
			next, err := u.Parse(resp.Location)
			if err != nil {
				return nil, fmt.Errorf("%w: bad redirect %q", entity.ErrFetchFailure, resp.Location)
			}
			current = next.String()
			if resp.Status != http.StatusTemporaryRedirect && resp.Status != http.StatusPermanentRedirect {
				method, form = http.MethodGet, nil
			}
			continue
		}

		if resp.Status >= http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %s %s: status %d", entity.ErrFetchFailure, method, current, resp.Status)
		}

		final := current
		if resp.FinalURL != "" {
			final = resp.FinalURL
		}
		return &entity.Page{URL: req.URL, FinalURL: final, Status: resp.Status, Body: resp.Body}, nil
	}
	return nil, fmt.Errorf("%w: too many redirects from %s", entity.ErrFetchFailure, req.URL)
}

// Finish finalizes the session into its traffic summary. Calling it more
// than once returns the same summary.
func (s *Session) Finish() entity.TrafficSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return s.summary
	}
	s.finished = true
	s.summary = entity.TrafficSummary{
		SessionID:  s.id,
		AccountID:  s.ref.AccountID,
		Site:       s.ref.Site,
		Requests:   s.requests,
		Bytes:      s.bytes,
		Errors:     s.errors,
		StartedAt:  s.started,
		FinishedAt: time.Now(),
	}
	s.metrics.ActiveSessions.Dec()
	s.logger.Debug("traffic session finished",
		zap.Int("requests", s.requests),
		zap.Int64("bytes", s.bytes),
		zap.Duration("elapsed", s.summary.FinishedAt.Sub(s.started)))
	return s.summary
}

// Events returns a copy of the request events recorded so far.
func (s *Session) Events() []entity.RequestEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.RequestEvent(nil), s.events...)
}

func (s *Session) isFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *Session) pace(ctx context.Context) error {
	if !s.throttled {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The limiter refuses up front when the deadline falls before the
		// next slot.
		if _, ok := ctx.Deadline(); ok {
			return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return err
	}
	if s.jitter <= 0 {
		return nil
	}

	t := time.NewTimer(rand.N(s.jitter))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Session) headers(extra map[string]string) map[string]string {
	h := map[string]string{"User-Agent": s.identity.UserAgent}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

func (s *Session) record(req *repository.FetchRequest, resp *repository.FetchResponse, err error, started time.Time) {
	ev := entity.RequestEvent{
		URL:        req.URL,
		Method:     req.Method,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if resp != nil {
		ev.Status = resp.Status
		ev.Bytes = int64(len(resp.Body))
	}
	if err != nil {
		ev.Err = err.Error()
	}

	s.mu.Lock()
	s.requests++
	s.bytes += ev.Bytes
	if err != nil || ev.Status >= http.StatusBadRequest {
		s.errors++
	}
	s.events = append(s.events, ev)
	s.mu.Unlock()

	result := "ok"
	if err != nil || ev.Status >= http.StatusBadRequest {
		result = "error"
	}
	s.metrics.FetchesTotal.WithLabelValues(result).Inc()
	s.metrics.FetchedBytes.WithLabelValues(s.ref.Site).Add(float64(ev.Bytes))
}

func (s *Session) rememberOrigin(u *url.URL) {
	s.mu.Lock()
	s.origins[originOf(u)] = struct{}{}
	s.mu.Unlock()
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
