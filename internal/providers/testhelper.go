package providers

import (
	"context"
	"os"
)

// TestConfig holds provider credentials loaded from environment variables,
// so live tests use the same keys as production.
type TestConfig struct {
	GeminiAPIKey string
	OpenAIAPIKey string
	ClovaURL     string
	ClovaSecret  string
}

// LoadTestConfig loads provider credentials from the environment.
func LoadTestConfig() TestConfig {
	return TestConfig{
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		ClovaURL:     os.Getenv("CLOVA_OCR_API_URL"),
		ClovaSecret:  os.Getenv("CLOVA_OCR_SECRET_KEY"),
	}
}

// HasGemini reports whether a Gemini key is configured.
func (c TestConfig) HasGemini() bool {
	return c.GeminiAPIKey != ""
}

// HasClova reports whether CLOVA OCR is configured.
func (c TestConfig) HasClova() bool {
	return c.ClovaURL != "" && c.ClovaSecret != ""
}

// NewGeminiClient creates a Gemini client from test config, or nil.
func (c TestConfig) NewGeminiClient(ctx context.Context) *GeminiClient {
	if !c.HasGemini() {
		return nil
	}
	client, err := NewGeminiClient(ctx, GeminiConfig{APIKey: c.GeminiAPIKey})
	if err != nil {
		return nil
	}
	return client
}

// NewClovaClient creates a CLOVA client from test config, or nil.
func (c TestConfig) NewClovaClient() *ClovaClient {
	if !c.HasClova() {
		return nil
	}
	client, err := NewClovaClient(ClovaConfig{URL: c.ClovaURL, Secret: c.ClovaSecret})
	if err != nil {
		return nil
	}
	return client
}
