package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/crawler"
	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/extract"
	"github.com/ecscrape/scraper-service/internal/traffic"
)

// Previewer runs an unsaved configuration against the live site.
type Previewer interface {
	// Preview compiles configText and returns the records a dry run of it
	// yields. Accounts, records and snapshots are never touched.
	Preview(ctx context.Context, site string, kind entity.ResourceKind, configText string) ([]entity.Record, error)
}

type previewer struct {
	sessions *traffic.Manager
	crawlers *crawler.Registry
	logger   *zap.Logger
}

// NewPreviewer creates a new Previewer.
func NewPreviewer(sessions *traffic.Manager, crawlers *crawler.Registry, logger *zap.Logger) Previewer {
	return &previewer{sessions: sessions, crawlers: crawlers, logger: logger}
}

func (p *previewer) Preview(ctx context.Context, site string, kind entity.ResourceKind, configText string) ([]entity.Record, error) {
	if _, err := entity.ParseResourceKind(kind.String()); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrConfigInvalid, err)
	}
	prog, err := extract.Compile(configText)
	if err != nil {
		return nil, err
	}
	if err := crawler.Validate(kind, prog); err != nil {
		return nil, err
	}
	if kind != entity.KindPurchaseHistory && len(prog.PreviewKeys()) == 0 {
		return nil, fmt.Errorf("%w: %s preview needs preview_keys", entity.ErrConfigInvalid, kind)
	}

	c := p.crawlers.Preview(site, kind, prog)
	s := p.sessions.Open(traffic.Anonymous(site), false)
	start := time.Now()
	defer func() {
		sum := s.Finish()
		p.logger.Info("preview finished",
			zap.String("site", site),
			zap.String("kind", kind.String()),
			zap.Int("requests", sum.Requests),
			zap.Duration("elapsed", time.Since(start)))
	}()

	var records []entity.Record
	switch kind {
	case entity.KindPurchaseHistory:
		res, err := c.FetchPurchaseHistoryList(ctx, s, nil, false)
		if err != nil {
			return nil, err
		}
		records = res.Records
	default:
		for _, key := range prog.PreviewKeys() {
			var res *crawler.Result
			if kind == entity.KindProduct {
				res, err = c.FetchProductInfo(ctx, s, key)
			} else {
				res, err = c.SearchProduct(ctx, s, key)
			}
			if err != nil {
				return nil, fmt.Errorf("preview key %q: %w", key, err)
			}
			records = append(records, res.Records...)
		}
	}
	return records, nil
}
