package usecase_test

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/ecscrape/scraper-service/internal/auth"
	"github.com/ecscrape/scraper-service/internal/crawler"
	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/repository"
	"github.com/ecscrape/scraper-service/internal/traffic"
)

var errDown = errors.New("database is down")

type fakeAccounts struct {
	mu        sync.Mutex
	bySite    map[string][]*entity.Account
	blobs     map[int64]string
	failures  []*entity.AccountFailure
	findErr   error
	updateErr error
}

func newFakeAccounts(accounts ...*entity.Account) *fakeAccounts {
	f := &fakeAccounts{bySite: make(map[string][]*entity.Account), blobs: make(map[int64]string)}
	for _, a := range accounts {
		f.bySite[a.Site] = append(f.bySite[a.Site], a)
	}
	return f
}

func (f *fakeAccounts) FindActiveBySite(_ context.Context, site string) ([]*entity.Account, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.bySite[site], nil
}

func (f *fakeAccounts) UpdateSessionBlob(_ context.Context, id int64, blob string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.blobs[id] = blob
	return nil
}

func (f *fakeAccounts) RecordFailure(_ context.Context, failure *entity.AccountFailure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failure)
	return nil
}

type fakeRecords struct {
	mu      sync.Mutex
	saved   []entity.Record
	saves   int
	latest  map[int64]*entity.Record
	saveErr error
}

func (f *fakeRecords) Save(_ context.Context, _ entity.ResourceKind, records []entity.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, records...)
	return nil
}

func (f *fakeRecords) Latest(_ context.Context, accountID int64, _ entity.ResourceKind) (*entity.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.latest[accountID]; ok {
		return r, nil
	}
	return nil, entity.ErrNotFound
}

type fakeTraffic struct {
	mu        sync.Mutex
	summaries []entity.TrafficSummary
}

func (f *fakeTraffic) Save(_ context.Context, summary entity.TrafficSummary, _ []entity.RequestEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, summary)
	return nil
}

type memSnapshots struct {
	mu     sync.Mutex
	snaps  map[string]entity.Snapshot
	stores int
}

func (m *memSnapshots) Load(_ context.Context, site string, kind entity.ResourceKind, key string) (*entity.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[site+"/"+kind.String()+"/"+key]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return &s, nil
}

func (m *memSnapshots) Store(_ context.Context, snap *entity.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snaps == nil {
		m.snaps = make(map[string]entity.Snapshot)
	}
	m.stores++
	m.snaps[snap.Site+"/"+snap.Kind.String()+"/"+snap.Key] = *snap
	return nil
}

type fakeTargets map[string][]string

func (f fakeTargets) Sites(entity.ResourceKind) []string {
	sites := make([]string, 0, len(f))
	for s := range f {
		sites = append(sites, s)
	}
	sort.Strings(sites)
	return sites
}

func (f fakeTargets) Targets(site string, _ entity.ResourceKind) []string { return f[site] }

// fakeCrawler returns fixed orders per account and echoes product keys.
type fakeCrawler struct {
	site   string
	orders map[int64][]string

	// fetchURL, when set, is requested through the session before any
	// history is returned.
	fetchURL   string
	historyErr map[int64]error

	mu        sync.Mutex
	lastKnown map[int64]string
	calls     int
}

func (c *fakeCrawler) ModuleType() string { return c.site }

func (c *fakeCrawler) FetchPurchaseHistoryList(ctx context.Context, s *traffic.Session, lastKnown *entity.Record, _ bool) (*crawler.Result, error) {
	if c.fetchURL != "" {
		if _, err := s.Get(ctx, c.fetchURL); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	id := s.Account().AccountID
	if err := c.historyErr[id]; err != nil {
		return nil, err
	}
	if lastKnown != nil {
		if c.lastKnown == nil {
			c.lastKnown = make(map[int64]string)
		}
		c.lastKnown[id] = lastKnown.ID
	}
	res := &crawler.Result{}
	for _, no := range c.orders[id] {
		res.Records = append(res.Records, entity.Record{Site: c.site, Kind: entity.KindPurchaseHistory, ID: no, Total: "1000"})
	}
	return res, nil
}

func (c *fakeCrawler) FetchProductInfo(_ context.Context, _ *traffic.Session, key string) (*crawler.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if key == "broken" {
		return nil, entity.ErrParseFailure
	}
	return &crawler.Result{Records: []entity.Record{{Site: c.site, Kind: entity.KindProduct, ID: key, Fields: map[string]string{"title": "item " + key}}}}, nil
}

func (c *fakeCrawler) SearchProduct(context.Context, *traffic.Session, string) (*crawler.Result, error) {
	return &crawler.Result{}, nil
}

// fakeProvider rejects the password "wrong".
type fakeProvider struct{ site string }

func (p fakeProvider) ModuleType() string { return p.site }

func (p fakeProvider) Authenticate(_ context.Context, _ *traffic.Session, creds auth.Credentials) auth.Result {
	if creds.Password == "wrong" {
		return auth.Result{FailureReason: "sign-in page shown again", Cause: entity.CauseAuth}
	}
	return auth.Result{Success: true, Restored: creds.SessionBlob != ""}
}

type nopFetcher struct{}

func (nopFetcher) Fetch(context.Context, *repository.FetchRequest) (*repository.FetchResponse, error) {
	return &repository.FetchResponse{Status: http.StatusOK}, nil
}

type noConfigs struct{}

func (noConfigs) Get(context.Context, string, entity.ResourceKind) (*entity.ExtractionConfig, error) {
	return nil, entity.ErrNotFound
}

func (noConfigs) Save(context.Context, *entity.ExtractionConfig) (bool, error) { return true, nil }

// blockingFetcher holds every request until its context ends.
type blockingFetcher struct {
	entered chan struct{}
	once    sync.Once
}

func (f *blockingFetcher) Fetch(ctx context.Context, _ *repository.FetchRequest) (*repository.FetchResponse, error) {
	f.once.Do(func() { close(f.entered) })
	<-ctx.Done()
	return nil, ctx.Err()
}

// staticConfigs serves extraction configurations keyed "site/kind".
type staticConfigs map[string]string

func (c staticConfigs) Get(_ context.Context, site string, kind entity.ResourceKind) (*entity.ExtractionConfig, error) {
	text, ok := c[site+"/"+kind.String()]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return &entity.ExtractionConfig{Site: site, Kind: kind, Text: text, Version: 1}, nil
}

func (staticConfigs) Save(context.Context, *entity.ExtractionConfig) (bool, error) { return true, nil }
