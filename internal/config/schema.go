package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/inkwell/internal/crop"
	"github.com/jackzampolin/inkwell/internal/header"
	"github.com/jackzampolin/inkwell/internal/providers"
	"github.com/jackzampolin/inkwell/internal/reference"
	"github.com/jackzampolin/inkwell/internal/resilience"
	"github.com/jackzampolin/inkwell/internal/roster"
	"github.com/jackzampolin/inkwell/internal/sheets"
)

// ErrInvalidConfig wraps every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds inkwell configuration.
// Stored at: ~/.inkwell/config.yaml
type Config struct {
	LLMProviders map[string]ProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	OCRProviders map[string]ProviderCfg `mapstructure:"ocr_providers" yaml:"ocr_providers"`
	Defaults     DefaultsCfg            `mapstructure:"defaults" yaml:"defaults"`
	Sheets       SheetsCfg              `mapstructure:"sheets" yaml:"sheets"`
	Crop         CropCfg                `mapstructure:"crop" yaml:"crop"`
	Pipeline     PipelineCfg            `mapstructure:"pipeline" yaml:"pipeline"`
	Cache        CacheCfg               `mapstructure:"cache" yaml:"cache"`
	Academies    []header.Alias         `mapstructure:"academies" yaml:"academies,omitempty"` // Empty = built-in table
}

// ProviderCfg configures one LLM or OCR provider.
type ProviderCfg struct {
	Type      string `mapstructure:"type" yaml:"type"`                               // gemini, openai, clova, yandex
	Model     string `mapstructure:"model" yaml:"model,omitempty"`                   // Model name
	APIKey    string `mapstructure:"api_key" yaml:"api_key,omitempty"`               // Supports ${ENV_VAR}
	BaseURL   string `mapstructure:"base_url" yaml:"base_url,omitempty"`             // Endpoint override; CLOVA invoke URL
	Secret    string `mapstructure:"secret" yaml:"secret,omitempty"`                 // CLOVA X-OCR-SECRET
	FolderID  string `mapstructure:"folder_id" yaml:"folder_id,omitempty"`           // Yandex folder
	RateLimit int    `mapstructure:"rate_limit" yaml:"rate_limit,omitempty"`         // Requests per minute
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg selects which providers each stage uses.
type DefaultsCfg struct {
	HeaderProvider  string `mapstructure:"header_provider" yaml:"header_provider"`
	RestoreProvider string `mapstructure:"restore_provider" yaml:"restore_provider"`
	OCRProvider     string `mapstructure:"ocr_provider" yaml:"ocr_provider"`
}

// SheetsCfg locates the roster and reference spreadsheet.
type SheetsCfg struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id" yaml:"spreadsheet_id"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	ReferenceSheet  string `mapstructure:"reference_sheet" yaml:"reference_sheet"`
	Q1Column        string `mapstructure:"q1_column" yaml:"q1_column"`
	Q2Column        string `mapstructure:"q2_column" yaml:"q2_column"`
}

// CropCfg holds the answer-area ratios for both slots.
type CropCfg struct {
	Q1           crop.Region `mapstructure:"q1" yaml:"q1"`
	Q2           crop.Region `mapstructure:"q2" yaml:"q2"`
	MaxDimension int         `mapstructure:"max_dimension" yaml:"max_dimension"` // Longest side of a crop in pixels (0 = unbounded)
}

// PipelineCfg tunes document processing.
type PipelineCfg struct {
	Workers        int `mapstructure:"workers" yaml:"workers"` // Concurrent page pairs
	DPI            int `mapstructure:"dpi" yaml:"dpi"`
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"` // Per external call
	MaxRetries     int `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelayMS   int `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
}

// CacheCfg configures the optional Postgres transcript cache.
type CacheCfg struct {
	DSN         string `mapstructure:"dsn" yaml:"dsn"` // Empty disables the cache
	MaxAgeHours int    `mapstructure:"max_age_hours" yaml:"max_age_hours"`
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in credentials and endpoints.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		LLM: make(map[string]providers.ProviderConfig, len(c.LLMProviders)),
		OCR: make(map[string]providers.ProviderConfig, len(c.OCRProviders)),
	}
	for name, p := range c.LLMProviders {
		cfg.LLM[name] = p.resolve()
	}
	for name, p := range c.OCRProviders {
		cfg.OCR[name] = p.resolve()
	}
	return cfg
}

func (p ProviderCfg) resolve() providers.ProviderConfig {
	return providers.ProviderConfig{
		Type:      p.Type,
		Model:     p.Model,
		APIKey:    ResolveEnvVars(p.APIKey),
		BaseURL:   ResolveEnvVars(p.BaseURL),
		Secret:    ResolveEnvVars(p.Secret),
		FolderID:  ResolveEnvVars(p.FolderID),
		RateLimit: p.RateLimit,
		Enabled:   p.Enabled,
	}
}

// ResolvedSheets returns the sheets section with ${ENV_VAR} references expanded.
func (c *Config) ResolvedSheets() SheetsCfg {
	s := c.Sheets
	s.SpreadsheetID = ResolveEnvVars(s.SpreadsheetID)
	s.CredentialsFile = ResolveEnvVars(s.CredentialsFile)
	if s.ReferenceSheet == "" {
		s.ReferenceSheet = reference.DefaultSheet
	}
	return s
}

// Regions returns the crop regions keyed by slot.
func (c *Config) Regions() map[crop.Slot]crop.Region {
	return map[crop.Slot]crop.Region{crop.SlotQ1: c.Crop.Q1, crop.SlotQ2: c.Crop.Q2}
}

// Columns returns the roster answer columns.
func (c *Config) Columns() (roster.Columns, error) {
	q1, q2 := sheets.ColumnIndex(c.Sheets.Q1Column), sheets.ColumnIndex(c.Sheets.Q2Column)
	if q1 == 0 || q2 == 0 {
		return roster.Columns{}, fmt.Errorf("sheets answer columns %q/%q are not column letters", c.Sheets.Q1Column, c.Sheets.Q2Column)
	}
	if q1 == q2 {
		return roster.Columns{}, fmt.Errorf("sheets q1_column and q2_column are both %s", c.Sheets.Q1Column)
	}
	return roster.Columns{Q1: q1, Q2: q2}, nil
}

// Policy returns the retry policy for external calls.
func (c *Config) Policy() resilience.Policy {
	p := c.Pipeline
	return resilience.Policy{
		Attempts: p.MaxRetries,
		Delay:    time.Duration(p.RetryDelayMS) * time.Millisecond,
		MaxDelay: 20 * time.Second,
		Timeout:  time.Duration(p.TimeoutSeconds) * time.Second,
	}
}

// CacheMaxAge returns the transcript cache expiry (0 = never).
func (c *Config) CacheMaxAge() time.Duration {
	return time.Duration(c.Cache.MaxAgeHours) * time.Hour
}

// ValidateSheets checks what every spreadsheet command needs.
func (c *Config) ValidateSheets() error {
	return wrapInvalid(c.sheetErrors())
}

func (c *Config) sheetErrors() []error {
	var errs []error
	s := c.ResolvedSheets()
	if s.SpreadsheetID == "" {
		errs = append(errs, errors.New("sheets.spreadsheet_id is required"))
	}
	if _, err := c.Columns(); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// Validate checks everything document processing needs. Failures are
// configuration errors and should stop the command before any page runs.
func (c *Config) Validate() error {
	errs := c.sheetErrors()
	for _, use := range []struct{ key, name string }{
		{"defaults.header_provider", c.Defaults.HeaderProvider},
		{"defaults.restore_provider", c.Defaults.RestoreProvider},
	} {
		if err := checkProvider(c.LLMProviders, use.key, use.name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := checkProvider(c.OCRProviders, "defaults.ocr_provider", c.Defaults.OCRProvider); err != nil {
		errs = append(errs, err)
	}
	for slot, r := range c.Regions() {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("crop.%s: %w", slot, err))
		}
	}
	if c.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be at least 1, got %d", c.Pipeline.Workers))
	}
	if c.Pipeline.DPI < 72 {
		errs = append(errs, fmt.Errorf("pipeline.dpi must be at least 72, got %d", c.Pipeline.DPI))
	}
	return wrapInvalid(errs)
}

func checkProvider(all map[string]ProviderCfg, key, name string) error {
	if name == "" {
		return fmt.Errorf("%s is required", key)
	}
	p, ok := all[name]
	if !ok {
		return fmt.Errorf("%s: provider %q is not configured", key, name)
	}
	if !p.Enabled {
		return fmt.Errorf("%s: provider %q is disabled", key, name)
	}
	r := p.resolve()
	var missing string
	switch p.Type {
	case providers.GeminiName, providers.OpenAIName:
		if r.APIKey == "" {
			missing = "api_key"
		}
	case providers.ClovaName:
		if r.BaseURL == "" {
			missing = "base_url"
		} else if r.Secret == "" {
			missing = "secret"
		}
	case providers.YandexName:
		if r.APIKey == "" {
			missing = "api_key"
		} else if r.FolderID == "" {
			missing = "folder_id"
		}
	default:
		return fmt.Errorf("provider %q: %w: %q", name, providers.ErrUnknownProviderType, p.Type)
	}
	if missing != "" {
		return fmt.Errorf("provider %q: %s is empty (check the environment variable it references)", name, missing)
	}
	return nil
}

func wrapInvalid(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
