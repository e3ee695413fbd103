package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/crawler"
	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/extract"
	"github.com/ecscrape/scraper-service/internal/repository"
)

// ConfigService is the administrative surface over extraction configurations.
type ConfigService interface {
	Get(ctx context.Context, site string, kind entity.ResourceKind) (*entity.ExtractionConfig, error)
	// Save validates text by compiling it and checking it can drive a
	// crawl of kind, then stores it. It reports whether
	// the configuration was created rather than updated.
	Save(ctx context.Context, site string, kind entity.ResourceKind, text string) (*entity.ExtractionConfig, bool, error)
	// Execute dry-runs text without saving it.
	Execute(ctx context.Context, site string, kind entity.ResourceKind, text string) ([]entity.Record, error)
	// Artifact returns a stored raw page.
	Artifact(ctx context.Context, name string) ([]byte, error)
}

type configService struct {
	configs   repository.ConfigRepository
	artifacts repository.ArtifactStore
	previewer Previewer
	logger    *zap.Logger
}

// NewConfigService creates a new ConfigService.
func NewConfigService(configs repository.ConfigRepository, artifacts repository.ArtifactStore, previewer Previewer, logger *zap.Logger) ConfigService {
	return &configService{configs: configs, artifacts: artifacts, previewer: previewer, logger: logger}
}

func (s *configService) Get(ctx context.Context, site string, kind entity.ResourceKind) (*entity.ExtractionConfig, error) {
	return s.configs.Get(ctx, strings.ToLower(site), kind)
}

func (s *configService) Save(ctx context.Context, site string, kind entity.ResourceKind, text string) (*entity.ExtractionConfig, bool, error) {
	if _, err := entity.ParseResourceKind(kind.String()); err != nil {
		return nil, false, fmt.Errorf("%w: %v", entity.ErrConfigInvalid, err)
	}
	prog, err := extract.Compile(text)
	if err != nil {
		return nil, false, err
	}
	if err := crawler.Validate(kind, prog); err != nil {
		return nil, false, err
	}

	cfg := &entity.ExtractionConfig{Site: strings.ToLower(site), Kind: kind, Text: text}
	created, err := s.configs.Save(ctx, cfg)
	if err != nil {
		return nil, false, fmt.Errorf("%w: save %s configuration for %s: %v", entity.ErrPersistence, kind, cfg.Site, err)
	}
	s.logger.Info("configuration saved",
		zap.String("site", cfg.Site),
		zap.String("kind", kind.String()),
		zap.Int("version", cfg.Version),
		zap.Bool("created", created))
	return cfg, created, nil
}

func (s *configService) Execute(ctx context.Context, site string, kind entity.ResourceKind, text string) ([]entity.Record, error) {
	return s.previewer.Preview(ctx, strings.ToLower(site), kind, text)
}

func (s *configService) Artifact(ctx context.Context, name string) ([]byte, error) {
	return s.artifacts.Get(ctx, name)
}
