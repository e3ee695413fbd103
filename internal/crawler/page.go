package crawler

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/repository"
	"github.com/ecscrape/scraper-service/internal/traffic"
	"github.com/ecscrape/scraper-service/pkg/utils"
)

// pager holds what every variant shares: fetching pages, keeping their raw
// body as an artifact and walking purchase-history pagination.
type pager struct {
	moduleType string
	artifacts  repository.ArtifactStore
	opts       Options
	logger     *zap.Logger
}

type fetchedPage struct {
	page     *entity.Page
	doc      *goquery.Document
	artifact entity.Artifact
}

func (p *pager) fetch(ctx context.Context, s *traffic.Session, kind entity.ResourceKind, url string, res *Result) (*fetchedPage, error) {
	page, err := s.Get(ctx, url)
	if err != nil {
		return nil, err
	}

	art := entity.Artifact{Site: p.moduleType, Kind: kind, URL: page.FinalURL, FetchedAt: time.Now().UTC()}
	if p.artifacts != nil {
		stored, err := p.artifacts.Put(ctx, art, page.Body)
		if err != nil {
			p.logger.Warn("raw page not kept", zap.String("url", url), zap.Error(err))
		} else {
			art = stored
			res.Artifacts = append(res.Artifacts, stored)
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", entity.ErrParseFailure, url, err)
	}
	return &fetchedPage{page: page, doc: doc, artifact: art}, nil
}

// historyPage parses one purchase-history page into records (most recent
// first) and the URL of the next page, "" on the last page.
type historyPage func(fp *fetchedPage, pageNo int) (records []entity.Record, next string, err error)

// history walks the purchase-history pages starting at firstURL. With
// incremental set it stops at lastKnown and returns only the newer records;
// otherwise it reads at most DryRunPages pages.
func (p *pager) history(ctx context.Context, s *traffic.Session, firstURL string, lastKnown *entity.Record, incremental bool, parse historyPage) (*Result, error) {
	limit := p.opts.DryRunPages
	if incremental {
		limit = p.opts.MaxPages
	}

	res := &Result{}
	url := firstURL
	for pageNo := 1; pageNo <= limit && url != ""; pageNo++ {
		fp, err := p.fetch(ctx, s, entity.KindPurchaseHistory, url, res)
		if err != nil {
			return nil, err
		}
		records, next, err := parse(fp, pageNo)
		if err != nil {
			return nil, err
		}

		for _, rec := range records {
			if incremental && lastKnown != nil && rec.ID == lastKnown.ID {
				return res, nil
			}
			res.Records = append(res.Records, p.stamp(rec, entity.KindPurchaseHistory, fp.artifact))
		}
		if len(records) == 0 || next == "" {
			break
		}
		if url, err = utils.ToAbsoluteURL(fp.page.FinalURL, next); err != nil {
			return nil, fmt.Errorf("%w: next page %q: %v", entity.ErrParseFailure, next, err)
		}
	}
	return res, nil
}

func (p *pager) stamp(rec entity.Record, kind entity.ResourceKind, art entity.Artifact) entity.Record {
	rec.Site = p.moduleType
	rec.Kind = kind
	rec.Artifact = art.Name
	return rec
}
