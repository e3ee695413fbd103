// Package crawler fetches purchase histories, product pages and search
// results from EC sites through an authenticated traffic session.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/extract"
	"github.com/ecscrape/scraper-service/internal/repository"
	"github.com/ecscrape/scraper-service/internal/traffic"
)

const (
	defaultMaxPages    = 20
	defaultDryRunPages = 1
)

// Result is what one crawl call produced. Every record references the
// artifact of the page it was read from.
type Result struct {
	Records   []entity.Record
	Artifacts []entity.Artifact
}

// Crawler is implemented by every site variant.
type Crawler interface {
	ModuleType() string
	// FetchPurchaseHistoryList returns the orders newer than lastKnown when
	// incremental is set. Otherwise it is a dry run over the first
	// DryRunPages pages.
	FetchPurchaseHistoryList(ctx context.Context, s *traffic.Session, lastKnown *entity.Record, incremental bool) (*Result, error)
	FetchProductInfo(ctx context.Context, s *traffic.Session, key string) (*Result, error)
	SearchProduct(ctx context.Context, s *traffic.Session, query string) (*Result, error)
}

// Options bounds pagination.
type Options struct {
	MaxPages    int
	DryRunPages int
}

func (o Options) withDefaults() Options {
	if o.MaxPages <= 0 {
		o.MaxPages = defaultMaxPages
	}
	if o.DryRunPages <= 0 {
		o.DryRunPages = defaultDryRunPages
	}
	return o
}

// Registry resolves the crawler of a site: a dedicated one when registered,
// otherwise a configuration-driven one built from the stored configurations.
type Registry struct {
	crawlers  map[string]Crawler
	configs   repository.ConfigRepository
	artifacts repository.ArtifactStore
	opts      Options
	logger    *zap.Logger
}

func NewRegistry(configs repository.ConfigRepository, artifacts repository.ArtifactStore, opts Options, logger *zap.Logger, crawlers ...Crawler) *Registry {
	r := &Registry{
		crawlers:  make(map[string]Crawler, len(crawlers)),
		configs:   configs,
		artifacts: artifacts,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
	for _, c := range crawlers {
		r.crawlers[strings.ToLower(c.ModuleType())] = c
	}
	return r
}

// Dedicated reports whether site has a hard-coded crawler.
func (r *Registry) Dedicated(site string) bool {
	_, ok := r.crawlers[strings.ToLower(site)]
	return ok
}

// Resolve returns the crawler for site able to serve kinds. For
// configuration-driven sites a missing or invalid configuration for any of
// kinds is reported as entity.ErrConfigInvalid.
func (r *Registry) Resolve(ctx context.Context, site string, kinds ...entity.ResourceKind) (Crawler, error) {
	key := strings.ToLower(site)
	if c, ok := r.crawlers[key]; ok {
		return c, nil
	}

	programs := make(map[entity.ResourceKind]*extract.Program, len(kinds))
	for _, kind := range kinds {
		cfg, err := r.configs.Get(ctx, key, kind)
		if errors.Is(err, entity.ErrNotFound) {
			return nil, fmt.Errorf("%w: no %s configuration for site %s", entity.ErrConfigInvalid, kind, key)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: load %s configuration for %s: %v", entity.ErrPersistence, kind, key, err)
		}
		prog, err := extract.Compile(cfg.Text)
		if err != nil {
			return nil, fmt.Errorf("site %s %s: %w", key, kind, err)
		}
		if err := Validate(kind, prog); err != nil {
			return nil, fmt.Errorf("site %s: %w", key, err)
		}
		programs[kind] = prog
	}
	return NewGeneral(key, programs, r.artifacts, r.opts, r.logger), nil
}

// Preview builds a configuration-driven crawler for site from an unsaved
// program. Dedicated crawlers are bypassed so the program itself is tried.
func (r *Registry) Preview(site string, kind entity.ResourceKind, prog *extract.Program) Crawler {
	return NewGeneral(strings.ToLower(site), map[entity.ResourceKind]*extract.Program{kind: prog}, r.artifacts, r.opts, r.logger)
}
