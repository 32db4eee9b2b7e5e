package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/radutopala/simsearch/internal/catalog"
	"github.com/radutopala/simsearch/internal/config"
	"github.com/radutopala/simsearch/internal/encoder"
	"github.com/radutopala/simsearch/internal/indexer"
	"github.com/radutopala/simsearch/internal/lifecycle"
	"github.com/radutopala/simsearch/internal/search"
)

// Service wires the encoder, index lifecycle and search engine together.
// It is constructed once at startup and handed to every transport.
type Service struct {
	encoder      encoder.Encoder
	manager      *lifecycle.Manager
	engine       *search.Engine
	defaultLimit int
	logger       *slog.Logger
}

// Options tunes a Service built from components
type Options struct {
	Lifecycle    lifecycle.Options
	Search       search.Options
	DefaultLimit int
}

// New loads the model and builds the catalog source from cfg.
// A model load failure is returned as encoder.ErrModelLoad and is fatal.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	enc, err := encoder.Load(ctx, cfg.Encoder.Model, encoder.Options{
		APIKey:    cfg.Encoder.APIKey,
		BaseURL:   cfg.Encoder.BaseURL,
		CacheDir:  cfg.Encoder.CacheDir,
		BatchSize: cfg.Encoder.BatchSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	source, err := NewSource(cfg.Catalog, logger)
	if err != nil {
		return nil, err
	}

	return NewWithComponents(source, enc, Options{
		Lifecycle:    lifecycle.Options{RefreshInterval: cfg.Index.RefreshInterval},
		Search:       search.Options{Timeout: cfg.Search.Timeout},
		DefaultLimit: cfg.Search.DefaultLimit,
	}, logger), nil
}

// NewSource returns a file or HTTP catalog source
func NewSource(cfg config.CatalogConfig, logger *slog.Logger) (catalog.Source, error) {
	if cfg.File != "" {
		return catalog.NewFileSource(cfg.File, cfg.TextField, logger), nil
	}

	source, err := catalog.NewHTTPSource(catalog.HTTPConfig{
		BaseURL:   cfg.URL,
		Path:      cfg.Path,
		TextField: cfg.TextField,
		Timeout:   cfg.Timeout,
		Client:    &http.Client{},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog configuration: %w", err)
	}
	return source, nil
}

// NewWithComponents assembles a Service from an already loaded encoder
func NewWithComponents(source catalog.Source, enc encoder.Encoder, opts Options, logger *slog.Logger) *Service {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 5
	}

	builder := indexer.NewBuilder(source, enc, logger)
	manager := lifecycle.NewManager(builder, opts.Lifecycle, logger)

	return &Service{
		encoder:      enc,
		manager:      manager,
		engine:       search.NewEngine(enc, manager, opts.Search, logger),
		defaultLimit: opts.DefaultLimit,
		logger:       logger,
	}
}

// Start begins the initial index build and periodic refresh in the background
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("Starting search service", "model", s.encoder.ModelID())
	s.manager.Start(ctx)
}

// Search returns ranked record ids; a non-positive limit uses the configured default
func (s *Service) Search(ctx context.Context, query string, limit int, subset []string) ([]string, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	return s.engine.Search(ctx, query, limit, subset)
}

// Health reports model and index readiness
func (s *Service) Health() lifecycle.Health {
	return s.manager.Health()
}

// TriggerRebuild schedules a background rebuild; false means one is already running
func (s *Service) TriggerRebuild() bool {
	return s.manager.TriggerRebuild()
}

// Rebuild runs a rebuild and waits for it
func (s *Service) Rebuild(ctx context.Context) error {
	return s.manager.Rebuild(ctx)
}

// Shutdown stops background work and waits for it to finish
func (s *Service) Shutdown(ctx context.Context) error {
	return s.manager.Shutdown(ctx)
}
