package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/extract"
	"github.com/ecscrape/scraper-service/internal/repository"
	"github.com/ecscrape/scraper-service/internal/traffic"
)

// GeneralProvider serves configuration-driven sites. It can only restore a
// stored session; the purchase-history configuration's session_check block
// says how to verify it.
type GeneralProvider struct {
	site    string
	configs repository.ConfigRepository
	logger  *zap.Logger
}

func NewGeneralProvider(site string, configs repository.ConfigRepository, logger *zap.Logger) *GeneralProvider {
	return &GeneralProvider{site: site, configs: configs, logger: logger.With(zap.String("provider", site))}
}

func (p *GeneralProvider) ModuleType() string { return p.site }

func (p *GeneralProvider) Authenticate(ctx context.Context, s *traffic.Session, creds Credentials) Result {
	if creds.SessionBlob == "" {
		return failed(entity.CauseAuth, "no stored session for a configuration-driven site")
	}
	res, _ := restore(ctx, s, creds.SessionBlob, p.verify)
	return res
}

func (p *GeneralProvider) verify(ctx context.Context, s *traffic.Session) error {
	cfg, err := p.configs.Get(ctx, p.site, entity.KindPurchaseHistory)
	if errors.Is(err, entity.ErrNotFound) {
		p.logger.Debug("no configuration, accepting restored session unverified")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: load configuration: %v", entity.ErrPersistence, err)
	}
	prog, err := extract.Compile(cfg.Text)
	if err != nil {
		return err
	}
	if prog.SessionCheckURL() == "" {
		return nil
	}

	page, err := s.Get(ctx, prog.SessionCheckURL())
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrAuthFailure, err)
	}
	if !prog.SessionValid(doc) {
		return fmt.Errorf("%w: %v", entity.ErrAuthFailure, errRejected)
	}
	return nil
}
