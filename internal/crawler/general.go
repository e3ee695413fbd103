package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/extract"
	"github.com/ecscrape/scraper-service/internal/repository"
	"github.com/ecscrape/scraper-service/internal/traffic"
)

// General is the configuration-driven crawler. Each resource kind it serves
// has a compiled extraction program.
type General struct {
	pager
	programs map[entity.ResourceKind]*extract.Program
}

func NewGeneral(site string, programs map[entity.ResourceKind]*extract.Program, artifacts repository.ArtifactStore, opts Options, logger *zap.Logger) *General {
	return &General{
		pager: pager{
			moduleType: strings.ToLower(site),
			artifacts:  artifacts,
			opts:       opts.withDefaults(),
			logger:     logger.With(zap.String("crawler", "general"), zap.String("site", site)),
		},
		programs: programs,
	}
}

func (g *General) ModuleType() string { return g.moduleType }

func (g *General) program(kind entity.ResourceKind) (*extract.Program, error) {
	prog, ok := g.programs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: site %s has no %s configuration", entity.ErrConfigInvalid, g.moduleType, kind)
	}
	if err := Validate(kind, prog); err != nil {
		return nil, fmt.Errorf("site %s: %w", g.moduleType, err)
	}
	return prog, nil
}

// Validate reports whether prog can drive a crawl of kind. Every kind is
// fetched from the program's url template.
func Validate(kind entity.ResourceKind, prog *extract.Program) error {
	if prog.URL() == "" {
		return fmt.Errorf("%w: %s configuration has no url", entity.ErrConfigInvalid, kind)
	}
	return nil
}

// expand fills the {page}, {key} and {query} placeholders of a URL template.
func expand(template string, page int, key, query string) string {
	return strings.NewReplacer(
		"{page}", strconv.Itoa(page),
		"{key}", url.PathEscape(key),
		"{query}", url.QueryEscape(query),
	).Replace(template)
}

func (g *General) pageLimit(prog *extract.Program) Options {
	opts := g.opts
	if mp := prog.MaxPages(); mp > 0 && mp < opts.MaxPages {
		opts.MaxPages = mp
	}
	return opts
}

func (g *General) FetchPurchaseHistoryList(ctx context.Context, s *traffic.Session, lastKnown *entity.Record, incremental bool) (*Result, error) {
	prog, err := g.program(entity.KindPurchaseHistory)
	if err != nil {
		return nil, err
	}
	templ := prog.URL()
	paged := strings.Contains(templ, "{page}")

	p := g.pager
	p.opts = g.pageLimit(prog)
	return p.history(ctx, s, expand(templ, 1, "", ""), lastKnown, incremental, func(fp *fetchedPage, pageNo int) ([]entity.Record, string, error) {
		records := prog.Apply(fp.doc, entity.KindPurchaseHistory)
		for _, rec := range records {
			if rec.ID == "" {
				return nil, "", fmt.Errorf("%w: %s: record without order number", entity.ErrParseFailure, fp.page.URL)
			}
		}

		next := prog.NextPage(fp.doc)
		if next == "" && paged {
			next = expand(templ, pageNo+1, "", "")
		}
		return records, next, nil
	})
}

func (g *General) FetchProductInfo(ctx context.Context, s *traffic.Session, key string) (*Result, error) {
	prog, err := g.program(entity.KindProduct)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	fp, err := g.fetch(ctx, s, entity.KindProduct, expand(prog.URL(), 1, key, ""), res)
	if err != nil {
		return nil, err
	}
	records := prog.Apply(fp.doc, entity.KindProduct)
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s: no product data for %s", entity.ErrParseFailure, fp.page.URL, key)
	}
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = key
		}
		res.Records = append(res.Records, g.stamp(rec, entity.KindProduct, fp.artifact))
	}
	return res, nil
}

func (g *General) SearchProduct(ctx context.Context, s *traffic.Session, query string) (*Result, error) {
	prog, err := g.program(entity.KindSearch)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	fp, err := g.fetch(ctx, s, entity.KindSearch, expand(prog.URL(), 1, query, query), res)
	if err != nil {
		return nil, err
	}
	for _, rec := range prog.Apply(fp.doc, entity.KindSearch) {
		if rec.ID == "" {
			continue
		}
		rec.Query = query
		res.Records = append(res.Records, g.stamp(rec, entity.KindSearch, fp.artifact))
	}
	return res, nil
}
