// Package traffic wraps outbound client sessions: one session per crawl
// attempt, owning its cookies, pacing state and traffic counters.
package traffic

import (
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/ecscrape/scraper-service/internal/repository"
	"github.com/ecscrape/scraper-service/pkg/metrics"
	"github.com/ecscrape/scraper-service/pkg/proxy"
)

const defaultMaxRedirects = 10

// Options configures pacing of throttled sessions.
type Options struct {
	MinInterval  time.Duration
	Jitter       time.Duration
	MaxRedirects int
}

// AccountRef identifies the owner of a session. AccountID is 0 for
// anonymous (dry-run, product, search) sessions.
type AccountRef struct {
	AccountID int64
	Site      string
}

// Anonymous returns the owner reference of a session without an account.
func Anonymous(site string) AccountRef {
	return AccountRef{Site: site}
}

// Manager opens sessions. It holds no per-session state, so concurrent
// sessions never share pacing counters.
type Manager struct {
	fetcher      repository.Fetcher
	siteFetchers map[string]repository.Fetcher
	proxies      *proxy.Manager
	opts         Options
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

func NewManager(fetcher repository.Fetcher, proxies *proxy.Manager, opts Options, m *metrics.Metrics, l *zap.Logger) *Manager {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = defaultMaxRedirects
	}
	if proxies == nil {
		proxies = proxy.NewManager(nil, nil)
	}
	return &Manager{
		fetcher:      fetcher,
		siteFetchers: make(map[string]repository.Fetcher),
		proxies:      proxies,
		opts:         opts,
		metrics:      m,
		logger:       l,
	}
}

// UseFetcher routes the sessions of one site through a different fetcher,
// e.g. a headless browser for script-rendered sites.
func (m *Manager) UseFetcher(site string, f repository.Fetcher) {
	m.siteFetchers[strings.ToLower(site)] = f
}

// Open starts a session. It never fails; errors surface on Fetch.
func (m *Manager) Open(ref AccountRef, throttled bool) *Session {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	fetcher := m.fetcher
	if f, ok := m.siteFetchers[strings.ToLower(ref.Site)]; ok {
		fetcher = f
	}

	limit := rate.Inf
	if throttled && m.opts.MinInterval > 0 {
		limit = rate.Every(m.opts.MinInterval)
	}

	s := &Session{
		id:           uuid.NewString(),
		ref:          ref,
		throttled:    throttled,
		fetcher:      fetcher,
		identity:     m.proxies.Next(),
		jar:          jar,
		origins:      make(map[string]struct{}),
		cookies:      make(map[string]map[string]storedCookie),
		limiter:      rate.NewLimiter(limit, 1),
		jitter:       m.opts.Jitter,
		maxRedirects: m.opts.MaxRedirects,
		started:      time.Now(),
		metrics:      m.metrics,
	}
	s.logger = m.logger.With(zap.String("session", s.id), zap.String("site", ref.Site), zap.Int64("account_id", ref.AccountID))
	m.metrics.ActiveSessions.Inc()
	return s
}
