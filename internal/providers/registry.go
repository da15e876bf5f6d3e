package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Registry holds LLM clients and OCR providers by name.
type Registry struct {
	mu           sync.RWMutex
	llmClients   map[string]LLMClient
	ocrProviders map[string]OCRProvider
	logger       *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		llmClients:   make(map[string]LLMClient),
		ocrProviders: make(map[string]OCRProvider),
		logger:       logger,
	}
}

// RegisterLLM registers an LLM client by name.
func (r *Registry) RegisterLLM(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmClients[name] = client
	r.logger.Debug("registered LLM client", "name", name)
}

// RegisterOCR registers an OCR provider by name.
func (r *Registry) RegisterOCR(name string, provider OCRProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ocrProviders[name] = provider
	r.logger.Debug("registered OCR provider", "name", name)
}

// GetLLM returns an LLM client by name.
func (r *Registry) GetLLM(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.llmClients[name]
	if !ok {
		return nil, fmt.Errorf("LLM client not found: %s", name)
	}
	return client, nil
}

// GetOCR returns an OCR provider by name.
func (r *Registry) GetOCR(name string) (OCRProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.ocrProviders[name]
	if !ok {
		return nil, fmt.Errorf("OCR provider not found: %s", name)
	}
	return p, nil
}

// ListLLM returns registered LLM client names, sorted.
func (r *Registry) ListLLM() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llmClients))
	for name := range r.llmClients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListOCR returns registered OCR provider names, sorted.
func (r *Registry) ListOCR() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ocrProviders))
	for name := range r.ocrProviders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every registered client that holds resources, such as the
// Gemini SDK connection.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, c := range r.llmClients {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	for name, p := range r.ocrProviders {
		if closer, ok := p.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// ProviderConfig configures one provider instance.
type ProviderConfig struct {
	Type      string `mapstructure:"type"` // gemini, openai, clova, yandex
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	Secret    string `mapstructure:"secret"`     // CLOVA X-OCR-SECRET
	FolderID  string `mapstructure:"folder_id"`  // Yandex folder
	RateLimit int    `mapstructure:"rate_limit"` // Requests per minute (0 = unlimited)
	Enabled   bool   `mapstructure:"enabled"`
}

// RegistryConfig configures all providers by name.
type RegistryConfig struct {
	LLM map[string]ProviderConfig
	OCR map[string]ProviderConfig
}

// ErrUnknownProviderType is returned for an unsupported Type.
var ErrUnknownProviderType = errors.New("unknown provider type")

// NewRegistryFromConfig builds every enabled provider. A provider that fails
// to construct is logged and skipped so the rest stay available.
func NewRegistryFromConfig(ctx context.Context, cfg RegistryConfig, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	httpClient := &http.Client{Timeout: 90 * time.Second}

	for name, pc := range cfg.LLM {
		if !pc.Enabled {
			continue
		}
		client, err := newLLM(ctx, pc, httpClient)
		if err != nil {
			r.logger.Warn("LLM provider unavailable", "name", name, "type", pc.Type, "error", err)
			continue
		}
		if pc.RateLimit > 0 {
			client = LimitLLM(client, NewRateLimiter(pc.RateLimit))
		}
		r.RegisterLLM(name, client)
	}

	for name, pc := range cfg.OCR {
		if !pc.Enabled {
			continue
		}
		p, err := newOCR(pc, httpClient)
		if err != nil {
			r.logger.Warn("OCR provider unavailable", "name", name, "type", pc.Type, "error", err)
			continue
		}
		if pc.RateLimit > 0 {
			p = LimitOCR(p, NewRateLimiter(pc.RateLimit))
		}
		r.RegisterOCR(name, p)
	}
	return r
}

func newLLM(ctx context.Context, pc ProviderConfig, httpClient *http.Client) (LLMClient, error) {
	switch pc.Type {
	case GeminiName:
		return NewGeminiClient(ctx, GeminiConfig{APIKey: pc.APIKey, Model: pc.Model, Endpoint: pc.BaseURL})
	case OpenAIName:
		return NewOpenAIClient(OpenAIConfig{APIKey: pc.APIKey, Model: pc.Model, BaseURL: pc.BaseURL, HTTPClient: httpClient})
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProviderType, pc.Type)
}

func newOCR(pc ProviderConfig, httpClient *http.Client) (OCRProvider, error) {
	switch pc.Type {
	case ClovaName:
		return NewClovaClient(ClovaConfig{URL: pc.BaseURL, Secret: pc.Secret, HTTPClient: httpClient})
	case YandexName:
		return NewYandexClient(YandexConfig{OAuthToken: pc.APIKey, FolderID: pc.FolderID, Model: pc.Model, HTTPClient: httpClient})
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProviderType, pc.Type)
}
