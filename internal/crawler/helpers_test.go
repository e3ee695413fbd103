package crawler_test

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/repository"
	"github.com/ecscrape/scraper-service/internal/traffic"
	"github.com/ecscrape/scraper-service/pkg/metrics"
)

// pagesFetcher serves fixed bodies by URL and 404 for everything else.
type pagesFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fetched []string
}

func (p *pagesFetcher) Fetch(_ context.Context, req *repository.FetchRequest) (*repository.FetchResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetched = append(p.fetched, req.URL)
	body, ok := p.pages[req.URL]
	if !ok {
		return &repository.FetchResponse{Status: http.StatusNotFound}, nil
	}
	return &repository.FetchResponse{Status: http.StatusOK, Body: []byte(body)}, nil
}

type memArtifacts struct {
	mu     sync.Mutex
	bodies map[string][]byte
}

func (m *memArtifacts) Put(_ context.Context, meta entity.Artifact, body []byte) (entity.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bodies == nil {
		m.bodies = make(map[string][]byte)
	}
	meta.Name = fmt.Sprintf("%s-%d.html", meta.Site, len(m.bodies)+1)
	m.bodies[meta.Name] = body
	return meta, nil
}

func (m *memArtifacts) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bodies[name]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return b, nil
}

type memConfigs map[string]string

func (m memConfigs) Get(_ context.Context, site string, kind entity.ResourceKind) (*entity.ExtractionConfig, error) {
	text, ok := m[site+"/"+kind.String()]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return &entity.ExtractionConfig{Site: site, Kind: kind, Version: 1, Text: text}, nil
}

func (m memConfigs) Save(context.Context, *entity.ExtractionConfig) (bool, error) { return false, nil }

func session(t *testing.T, f repository.Fetcher) *traffic.Session {
	t.Helper()
	mgr := traffic.NewManager(f, nil, traffic.Options{}, metrics.NewNop(), zap.NewNop())
	s := mgr.Open(traffic.AccountRef{AccountID: 1, Site: "test"}, false)
	t.Cleanup(func() { s.Finish() })
	return s
}

func ids(records []entity.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}
