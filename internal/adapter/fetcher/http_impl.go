// Package fetcher implements repository.Fetcher over plain HTTP (resty) and
// over a headless browser (chromedp).
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/repository"
)

// HTTPFetcher issues single HTTP exchanges with resty. It never follows
// redirects and keeps no cookies of its own; both belong to the session.
type HTTPFetcher struct {
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	clients map[string]*resty.Client
}

func NewHTTPFetcher(timeout time.Duration, logger *zap.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		timeout: timeout,
		logger:  logger,
		clients: make(map[string]*resty.Client),
	}
}

// client returns the resty client bound to proxyURL, creating it on first use.
func (f *HTTPFetcher) client(proxyURL string) *resty.Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[proxyURL]; ok {
		return c
	}
	c := resty.New()
	c.SetCookieJar(nil)
	c.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))
	if f.timeout > 0 {
		c.SetTimeout(f.timeout)
	}
	if proxyURL != "" {
		c.SetProxy(proxyURL)
	}
	f.clients[proxyURL] = c
	return c
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *repository.FetchRequest) (*repository.FetchResponse, error) {
	r := f.client(req.Proxy).R().
		SetContext(ctx).
		SetHeaders(req.Headers).
		SetCookies(req.Cookies)
	if len(req.Form) > 0 {
		r.SetFormDataFromValues(req.Form)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	resp, err := r.Execute(method, req.URL)
	if err != nil {
		return nil, fmt.Errorf("http %s %s: %w", method, req.URL, err)
	}

	f.logger.Debug("fetched",
		zap.String("method", method),
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("elapsed", resp.Time()))

	return &repository.FetchResponse{
		Status:   resp.StatusCode(),
		Body:     resp.Body(),
		FinalURL: req.URL,
		Location: resp.Header().Get("Location"),
		Cookies:  resp.Cookies(),
	}, nil
}
