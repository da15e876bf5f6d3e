package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/inkwell/internal/crop"
	"github.com/jackzampolin/inkwell/internal/providers"
	"github.com/jackzampolin/inkwell/internal/reference"
)

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLMProviders: map[string]ProviderCfg{
			"gemini": {
				Type:      providers.GeminiName,
				Model:     providers.GeminiDefaultModel,
				APIKey:    "${GEMINI_API_KEY}",
				RateLimit: 60,
				Enabled:   true,
			},
			"openai": {
				Type:      providers.OpenAIName,
				Model:     providers.OpenAIDefaultModel,
				APIKey:    "${OPENAI_API_KEY}",
				RateLimit: 60,
				Enabled:   false,
			},
		},
		OCRProviders: map[string]ProviderCfg{
			"clova": {
				Type:      providers.ClovaName,
				BaseURL:   "${CLOVA_OCR_API_URL}",
				Secret:    "${CLOVA_OCR_SECRET_KEY}",
				RateLimit: 60,
				Enabled:   true,
			},
			"yandex": {
				Type:     providers.YandexName,
				APIKey:   "${YANDEX_OAUTH_TOKEN}",
				FolderID: "${YANDEX_FOLDER_ID}",
				Enabled:  false,
			},
		},
		Defaults: DefaultsCfg{
			HeaderProvider:  "gemini",
			RestoreProvider: "gemini",
			OCRProvider:     "clova",
		},
		Sheets: SheetsCfg{
			SpreadsheetID:   "${INKWELL_SPREADSHEET_ID}",
			CredentialsFile: "${GOOGLE_APPLICATION_CREDENTIALS}",
			ReferenceSheet:  reference.DefaultSheet,
			Q1Column:        "H",
			Q2Column:        "O",
		},
		Crop: CropCfg{
			Q1:           crop.DefaultQ1,
			Q2:           crop.DefaultQ2,
			MaxDimension: 2048,
		},
		Pipeline: PipelineCfg{
			Workers:        1,
			DPI:            200,
			TimeoutSeconds: 60,
			MaxRetries:     3,
			RetryDelayMS:   1000,
		},
		Cache: CacheCfg{
			MaxAgeHours: 24 * 30,
		},
	}
}

// setDefaults registers defaults on v. Scalar sections are set per key so
// INKWELL_* environment variables can override each one.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("llm_providers", d.LLMProviders)
	v.SetDefault("ocr_providers", d.OCRProviders)

	v.SetDefault("defaults.header_provider", d.Defaults.HeaderProvider)
	v.SetDefault("defaults.restore_provider", d.Defaults.RestoreProvider)
	v.SetDefault("defaults.ocr_provider", d.Defaults.OCRProvider)

	v.SetDefault("sheets.spreadsheet_id", d.Sheets.SpreadsheetID)
	v.SetDefault("sheets.credentials_file", d.Sheets.CredentialsFile)
	v.SetDefault("sheets.reference_sheet", d.Sheets.ReferenceSheet)
	v.SetDefault("sheets.q1_column", d.Sheets.Q1Column)
	v.SetDefault("sheets.q2_column", d.Sheets.Q2Column)

	for slot, r := range map[string]crop.Region{"q1": d.Crop.Q1, "q2": d.Crop.Q2} {
		v.SetDefault("crop."+slot+".left", r.Left)
		v.SetDefault("crop."+slot+".top", r.Top)
		v.SetDefault("crop."+slot+".right", r.Right)
		v.SetDefault("crop."+slot+".bottom", r.Bottom)
	}
	v.SetDefault("crop.max_dimension", d.Crop.MaxDimension)

	v.SetDefault("pipeline.workers", d.Pipeline.Workers)
	v.SetDefault("pipeline.dpi", d.Pipeline.DPI)
	v.SetDefault("pipeline.timeout_seconds", d.Pipeline.TimeoutSeconds)
	v.SetDefault("pipeline.max_retries", d.Pipeline.MaxRetries)
	v.SetDefault("pipeline.retry_delay_ms", d.Pipeline.RetryDelayMS)

	v.SetDefault("cache.dsn", d.Cache.DSN)
	v.SetDefault("cache.max_age_hours", d.Cache.MaxAgeHours)
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	header := []byte(`# inkwell configuration
# Secrets use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export GEMINI_API_KEY=xxx CLOVA_OCR_API_URL=xxx CLOVA_OCR_SECRET_KEY=xxx INKWELL_SPREADSHEET_ID=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
