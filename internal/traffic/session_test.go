package traffic_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/repository"
	"github.com/ecscrape/scraper-service/internal/traffic"
	"github.com/ecscrape/scraper-service/pkg/metrics"
	"github.com/ecscrape/scraper-service/pkg/proxy"
)

// fakeFetcher answers from a route table and remembers every request.
type fakeFetcher struct {
	mu       sync.Mutex
	routes   map[string]*repository.FetchResponse
	requests []*repository.FetchRequest
	fail     error
}

func (f *fakeFetcher) Fetch(_ context.Context, req *repository.FetchRequest) (*repository.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.fail != nil {
		return nil, f.fail
	}
	if resp, ok := f.routes[req.URL]; ok {
		return resp, nil
	}
	return &repository.FetchResponse{Status: http.StatusNotFound}, nil
}

func newManager(f repository.Fetcher, opts traffic.Options) *traffic.Manager {
	return traffic.NewManager(f, proxy.NewManager(nil, []string{"test-agent"}), opts, metrics.NewNop(), zap.NewNop())
}

func TestSession_FollowsRedirectsAndKeepsCookies(t *testing.T) {
	f := &fakeFetcher{routes: map[string]*repository.FetchResponse{
		"https://shop.example/login": {
			Status:   http.StatusFound,
			Location: "/home",
			Cookies:  []*http.Cookie{{Name: "sid", Value: "abc", Path: "/"}},
		},
		"https://shop.example/home": {Status: http.StatusOK, Body: []byte("<p>hello</p>")},
	}}
	s := newManager(f, traffic.Options{}).Open(traffic.AccountRef{AccountID: 7, Site: "shop"}, false)
	defer s.Finish()

	page, err := s.PostForm(context.Background(), "https://shop.example/login", map[string][]string{"u": {"taro"}})
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example/home", page.FinalURL)
	assert.Equal(t, "<p>hello</p>", string(page.Body))

	require.Len(t, f.requests, 2)
	assert.Equal(t, http.MethodPost, f.requests[0].Method)
	assert.Equal(t, http.MethodGet, f.requests[1].Method)
	assert.Nil(t, f.requests[1].Form)
	require.Len(t, f.requests[1].Cookies, 1)
	assert.Equal(t, "sid", f.requests[1].Cookies[0].Name)
	assert.Equal(t, "test-agent", f.requests[1].Headers["User-Agent"])
}

func TestSession_ErrorStatusIsFetchFailure(t *testing.T) {
	f := &fakeFetcher{routes: map[string]*repository.FetchResponse{
		"https://shop.example/down": {Status: http.StatusServiceUnavailable},
	}}
	s := newManager(f, traffic.Options{}).Open(traffic.Anonymous("shop"), false)

	_, err := s.Get(context.Background(), "https://shop.example/down")
	assert.ErrorIs(t, err, entity.ErrFetchFailure)

	f.fail = errors.New("connection reset")
	_, err = s.Get(context.Background(), "https://shop.example/down")
	assert.ErrorIs(t, err, entity.ErrFetchFailure)

	sum := s.Finish()
	assert.Equal(t, 2, sum.Requests)
	assert.Equal(t, 2, sum.Errors)
	assert.Len(t, s.Events(), 2)
}

func TestSession_FinishIsIdempotent(t *testing.T) {
	f := &fakeFetcher{routes: map[string]*repository.FetchResponse{
		"https://shop.example/": {Status: http.StatusOK, Body: []byte("12345")},
	}}
	s := newManager(f, traffic.Options{}).Open(traffic.AccountRef{AccountID: 3, Site: "shop"}, false)

	_, err := s.Get(context.Background(), "https://shop.example/")
	require.NoError(t, err)

	first := s.Finish()
	second := s.Finish()
	assert.Equal(t, first, second)
	assert.Equal(t, int64(5), first.Bytes)
	assert.Equal(t, int64(3), first.AccountID)

	_, err = s.Get(context.Background(), "https://shop.example/")
	assert.ErrorIs(t, err, entity.ErrSessionFinished)
}

func TestSession_ThrottledFetchesArePaced(t *testing.T) {
	f := &fakeFetcher{routes: map[string]*repository.FetchResponse{
		"https://shop.example/": {Status: http.StatusOK},
	}}
	mgr := newManager(f, traffic.Options{MinInterval: 40 * time.Millisecond, Jitter: 5 * time.Millisecond})

	throttled := mgr.Open(traffic.Anonymous("shop"), true)
	defer throttled.Finish()
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := throttled.Get(context.Background(), "https://shop.example/")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	free := mgr.Open(traffic.Anonymous("shop"), false)
	defer free.Finish()
	start = time.Now()
	for i := 0; i < 3; i++ {
		_, err := free.Get(context.Background(), "https://shop.example/")
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 40*time.Millisecond)
}

func TestSession_PacingHonoursCancellation(t *testing.T) {
	f := &fakeFetcher{routes: map[string]*repository.FetchResponse{
		"https://shop.example/": {Status: http.StatusOK},
	}}
	s := newManager(f, traffic.Options{MinInterval: time.Hour}).Open(traffic.Anonymous("shop"), true)
	defer s.Finish()

	_, err := s.Get(context.Background(), "https://shop.example/")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Get(ctx, "https://shop.example/")
	assert.ErrorIs(t, err, entity.ErrFetchFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, entity.CauseCanceled, entity.Classify(err))
}

func TestSession_CanceledTransportKeepsContextError(t *testing.T) {
	f := &fakeFetcher{fail: context.Canceled}
	s := newManager(f, traffic.Options{}).Open(traffic.Anonymous("shop"), false)
	defer s.Finish()

	_, err := s.Get(context.Background(), "https://shop.example/")
	assert.ErrorIs(t, err, entity.ErrFetchFailure)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, entity.CauseCanceled, entity.Classify(err))

	f.fail = errors.New("connection refused")
	_, err = s.Get(context.Background(), "https://shop.example/")
	assert.Equal(t, entity.CauseFetch, entity.Classify(err))
}

func TestSession_CookieBlobRoundTrip(t *testing.T) {
	f := &fakeFetcher{routes: map[string]*repository.FetchResponse{
		"https://shop.example/": {Status: http.StatusOK, Cookies: []*http.Cookie{{Name: "token", Value: "t1", Path: "/"}}},
		"https://shop.example/me": {Status: http.StatusOK},
	}}
	mgr := newManager(f, traffic.Options{})

	s := mgr.Open(traffic.Anonymous("shop"), false)
	_, err := s.Get(context.Background(), "https://shop.example/")
	require.NoError(t, err)
	blob, err := s.ExportCookies()
	require.NoError(t, err)
	s.Finish()

	restored := mgr.Open(traffic.Anonymous("shop"), false)
	defer restored.Finish()
	require.NoError(t, restored.RestoreCookies(blob))
	_, err = restored.Get(context.Background(), "https://shop.example/me")
	require.NoError(t, err)

	last := f.requests[len(f.requests)-1]
	require.Len(t, last.Cookies, 1)
	assert.Equal(t, "t1", last.Cookies[0].Value)
}

func TestSession_CookieBlobKeepsScope(t *testing.T) {
	f := &fakeFetcher{routes: map[string]*repository.FetchResponse{
		"https://www.shop.example/account/login": {Status: http.StatusOK, Cookies: []*http.Cookie{
			{Name: "acct", Value: "a1", Path: "/account"},
			{Name: "sid", Value: "s1", Domain: ".shop.example", Path: "/", Secure: true},
			{Name: "gone", Value: "x", Path: "/", MaxAge: -1},
		}},
		"https://www.shop.example/account/orders": {Status: http.StatusOK},
		"https://img.shop.example/":               {Status: http.StatusOK},
		"http://www.shop.example/":                {Status: http.StatusOK},
	}}
	mgr := newManager(f, traffic.Options{})

	s := mgr.Open(traffic.Anonymous("shop"), false)
	_, err := s.Get(context.Background(), "https://www.shop.example/account/login")
	require.NoError(t, err)
	blob, err := s.ExportCookies()
	require.NoError(t, err)
	s.Finish()
	assert.NotContains(t, blob, "gone")

	restored := mgr.Open(traffic.Anonymous("shop"), false)
	defer restored.Finish()
	require.NoError(t, restored.RestoreCookies(blob))

	sent := func(url string) map[string]string {
		t.Helper()
		_, err := restored.Get(context.Background(), url)
		require.NoError(t, err)
		last := f.requests[len(f.requests)-1]
		got := make(map[string]string, len(last.Cookies))
		for _, c := range last.Cookies {
			got[c.Name] = c.Value
		}
		return got
	}
	assert.Equal(t, map[string]string{"acct": "a1", "sid": "s1"}, sent("https://www.shop.example/account/orders"))
	assert.Equal(t, map[string]string{"sid": "s1"}, sent("https://img.shop.example/"), "domain cookie covers sibling hosts")
	assert.Empty(t, sent("http://www.shop.example/"), "secure cookie stays on https")
}

func TestSession_RestoreRejectsInvalidBlobs(t *testing.T) {
	s := newManager(&fakeFetcher{}, traffic.Options{}).Open(traffic.Anonymous("shop"), false)
	defer s.Finish()

	for _, blob := range []string{
		"",
		"not json",
		`{"version":2,"cookies":{"https://a.example/":[{"name":"a","value":"b"}]}}`,
		`{"version":1,"cookies":{}}`,
		`{"version":1,"cookies":{"ftp://a.example/":[{"name":"a","value":"b"}]}}`,
		`{"version":1,"cookies":{"https://a.example/":[{"name":"","value":"b"}]}}`,
	} {
		assert.ErrorIs(t, s.RestoreCookies(blob), entity.ErrAuthFailure, blob)
	}
}
