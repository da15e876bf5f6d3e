// Package svcctx builds the services a command needs from configuration and
// carries them through context.
package svcctx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackzampolin/inkwell/internal/config"
	"github.com/jackzampolin/inkwell/internal/crop"
	"github.com/jackzampolin/inkwell/internal/header"
	"github.com/jackzampolin/inkwell/internal/home"
	"github.com/jackzampolin/inkwell/internal/pipeline"
	"github.com/jackzampolin/inkwell/internal/providers"
	"github.com/jackzampolin/inkwell/internal/reference"
	"github.com/jackzampolin/inkwell/internal/render"
	"github.com/jackzampolin/inkwell/internal/roster"
	"github.com/jackzampolin/inkwell/internal/sheets"
	"github.com/jackzampolin/inkwell/internal/store"
	"github.com/jackzampolin/inkwell/internal/transcribe"
)

// Services holds the core services shared by commands. Heavy services are
// built on first use so commands only pay for what they touch.
type Services struct {
	Config *config.Manager
	Home   *home.Dir
	Logger *slog.Logger

	mu       sync.Mutex
	table    sheets.Table
	registry *providers.Registry
	cache    transcribe.Cache
	db       *sql.DB
}

// New creates Services.
func New(cfg *config.Manager, h *home.Dir, logger *slog.Logger) *Services {
	if logger == nil {
		logger = slog.Default()
	}
	return &Services{Config: cfg, Home: h, Logger: logger}
}

// SetTable injects the spreadsheet backend instead of Google Sheets.
func (s *Services) SetTable(t sheets.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = t
}

// SetRegistry injects a provider registry instead of building one from config.
func (s *Services) SetRegistry(r *providers.Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry = r
}

// Table returns the spreadsheet holding rosters and reference material.
func (s *Services) Table(ctx context.Context) (sheets.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table != nil {
		return s.table, nil
	}
	cfg := s.Config.Get()
	if err := cfg.ValidateSheets(); err != nil {
		return nil, err
	}
	sc := cfg.ResolvedSheets()
	t, err := sheets.NewGoogle(ctx, sheets.GoogleConfig{
		SpreadsheetID:   sc.SpreadsheetID,
		CredentialsFile: sc.CredentialsFile,
		Policy:          cfg.Policy(),
		Logger:          s.Logger,
	})
	if err != nil {
		return nil, err
	}
	s.table = t
	return t, nil
}

// Roster returns the roster over Table.
func (s *Services) Roster(ctx context.Context) (*roster.Roster, error) {
	t, err := s.Table(ctx)
	if err != nil {
		return nil, err
	}
	cols, err := s.Config.Get().Columns()
	if err != nil {
		return nil, err
	}
	return roster.New(roster.Config{Table: t, Columns: cols, Logger: s.Logger}), nil
}

// Registry returns the provider registry.
func (s *Services) Registry(ctx context.Context) *providers.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registry == nil {
		s.registry = providers.NewRegistryFromConfig(ctx, s.Config.Get().ToProviderRegistryConfig(), s.Logger)
	}
	return s.registry
}

// Cache returns the transcript cache: Postgres when cache.dsn is set,
// process memory otherwise.
func (s *Services) Cache(ctx context.Context) (transcribe.Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil {
		return s.cache, nil
	}
	cfg := s.Config.Get()
	dsn := config.ResolveEnvVars(cfg.Cache.DSN)
	if dsn == "" {
		s.cache = store.NewMemory()
		return s.cache, nil
	}
	db, err := store.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript cache: %w", err)
	}
	repo := store.NewTranscriptRepo(db, cfg.CacheMaxAge())
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.db = db
	s.cache = repo
	s.Logger.Info("transcript cache connected", "max_age", cfg.CacheMaxAge())
	return s.cache, nil
}

// Renderer returns a PDF renderer at the configured resolution.
func (s *Services) Renderer() *render.Renderer {
	return render.New(render.Config{DPI: s.Config.Get().Pipeline.DPI, Logger: s.Logger})
}

// PipelineOptions are per-run overrides.
type PipelineOptions struct {
	Lesson  int // 0 = use the header lesson
	Workers int // 0 = pipeline.workers
}

// Pipeline wires a document pipeline from configuration. Configuration
// problems are returned before anything runs.
func (s *Services) Pipeline(ctx context.Context, opts PipelineOptions) (*pipeline.Pipeline, error) {
	cfg := s.Config.Get()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := s.Registry(ctx)
	headerLLM, err := reg.GetLLM(cfg.Defaults.HeaderProvider)
	if err != nil {
		return nil, fmt.Errorf("header provider: %w", err)
	}
	restoreLLM, err := reg.GetLLM(cfg.Defaults.RestoreProvider)
	if err != nil {
		return nil, fmt.Errorf("restore provider: %w", err)
	}
	ocr, err := reg.GetOCR(cfg.Defaults.OCRProvider)
	if err != nil {
		return nil, fmt.Errorf("OCR provider: %w", err)
	}

	t, err := s.Table(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.Roster(ctx)
	if err != nil {
		return nil, err
	}
	cache, err := s.Cache(ctx)
	if err != nil {
		// Running without a cache only costs repeated calls.
		s.Logger.Warn("transcript cache unavailable", "error", err)
		cache = nil
	}
	regions, err := crop.NewManager(cfg.Regions())
	if err != nil {
		return nil, err
	}
	s.followCrop(regions)

	policy := cfg.Policy()
	workers := opts.Workers
	if workers <= 0 {
		workers = cfg.Pipeline.Workers
	}
	return pipeline.New(pipeline.Config{
		Header: header.NewExtractor(header.Config{
			Client:  headerLLM,
			Aliases: cfg.Academies,
			Policy:  policy,
			Logger:  s.Logger,
		}),
		Reference: reference.New(reference.Config{
			Table:  t,
			Sheet:  cfg.ResolvedSheets().ReferenceSheet,
			Logger: s.Logger,
		}),
		Transcriber: transcribe.New(transcribe.Config{
			OCR:           ocr,
			Restorer:      restoreLLM,
			OCRPolicy:     policy,
			RestorePolicy: policy,
			Cache:         cache,
			Logger:        s.Logger,
		}),
		Roster:  r,
		Cropper: crop.NewCropper(regions, cfg.Crop.MaxDimension),
		Workers: workers,
		Lesson:  opts.Lesson,
		Logger:  s.Logger,
	})
}

// followCrop applies reloaded crop regions to pages not yet cropped.
func (s *Services) followCrop(regions *crop.Manager) {
	s.Config.OnChange(func(c *config.Config) {
		for slot, r := range c.Regions() {
			if err := regions.Set(slot, r); err != nil {
				s.Logger.Warn("ignoring reloaded crop region", "slot", slot, "error", err)
			}
		}
	})
}

// Close releases connections opened by Services.
func (s *Services) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.registry != nil {
		errs = append(errs, s.registry.Close())
		s.registry = nil
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	return errors.Join(errs...)
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return slog.Default()
}
