package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/repository"
)

// BrowserFetcher renders pages in headless Chrome for sites whose content
// is built by scripts. Only GET is rendered; other methods (form logins)
// go through the fallback fetcher.
type BrowserFetcher struct {
	fallback repository.Fetcher
	timeout  time.Duration
	slots    chan struct{}
	logger   *zap.Logger

	mu         sync.Mutex
	allocators map[string]allocator
}

type allocator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBrowserFetcher creates a browser fetcher running at most
// maxConcurrency tabs at once.
func NewBrowserFetcher(fallback repository.Fetcher, maxConcurrency int, pageLoadTimeout time.Duration, logger *zap.Logger) *BrowserFetcher {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &BrowserFetcher{
		fallback:   fallback,
		timeout:    pageLoadTimeout,
		slots:      make(chan struct{}, maxConcurrency),
		logger:     logger,
		allocators: make(map[string]allocator),
	}
}

// allocatorFor returns the browser process bound to proxyURL.
func (b *BrowserFetcher) allocatorFor(proxyURL string) context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()

	if a, ok := b.allocators[proxyURL]; ok {
		return a.ctx
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if proxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(proxyURL))
	}
	ctx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	b.allocators[proxyURL] = allocator{ctx: ctx, cancel: cancel}
	return ctx
}

func (b *BrowserFetcher) Fetch(ctx context.Context, req *repository.FetchRequest) (*repository.FetchResponse, error) {
	if req.Method != "" && req.Method != http.MethodGet {
		return b.fallback.Fetch(ctx, req)
	}

	select {
	case b.slots <- struct{}{}:
		defer func() { <-b.slots }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	taskCtx, cancel := chromedp.NewContext(b.allocatorFor(req.Proxy), chromedp.WithLogf(b.logger.Sugar().Debugf))
	defer cancel()
	taskCtx, cancel = context.WithTimeout(taskCtx, b.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(taskCtx, b.prepare(req)); err != nil {
		return nil, fmt.Errorf("browser prepare %s: %w", req.URL, err)
	}

	start := time.Now()
	resp, err := chromedp.RunResponse(taskCtx, chromedp.Navigate(req.URL))
	if err != nil {
		return nil, fmt.Errorf("browser navigate %s: %w", req.URL, err)
	}

	var (
		body     string
		location string
		cookies  []*network.Cookie
	)
	err = chromedp.Run(taskCtx,
		chromedp.OuterHTML("html", &body, chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithURLs([]string{location}).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("browser read %s: %w", req.URL, err)
	}

	status := http.StatusOK
	if resp != nil {
		status = int(resp.Status)
	}
	b.logger.Debug("rendered",
		zap.String("url", req.URL),
		zap.String("final_url", location),
		zap.Int("status", status),
		zap.Duration("elapsed", time.Since(start)))

	return &repository.FetchResponse{
		Status:   status,
		Body:     []byte(body),
		FinalURL: location,
		Cookies:  toHTTPCookies(cookies),
	}, nil
}

// prepare loads the session's cookies and user agent into the fresh tab.
func (b *BrowserFetcher) prepare(req *repository.FetchRequest) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if ua := req.Headers["User-Agent"]; ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return err
			}
		}
		for _, c := range req.Cookies {
			if err := network.SetCookie(c.Name, c.Value).WithURL(req.URL).Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

// Close shuts down every browser process.
func (b *BrowserFetcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, a := range b.allocators {
		a.cancel()
		delete(b.allocators, k)
	}
}

func toHTTPCookies(in []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value, Path: c.Path, Domain: c.Domain})
	}
	return out
}
