package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	GeminiName         = "gemini"
	GeminiDefaultModel = "gemini-2.0-flash"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey   string
	Model    string
	Endpoint string // Optional API endpoint override
}

// GeminiClient implements LLMClient on the Google generative AI SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini client. Close it when done.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("gemini: api key is empty")
	}
	if cfg.Model == "" {
		cfg.Model = GeminiDefaultModel
	}
	opts := []option.ClientOption{option.WithAPIKey(key)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	cl, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiClient{client: cl, model: strings.TrimSpace(cfg.Model)}, nil
}

// Name returns the provider identifier.
func (c *GeminiClient) Name() string {
	return GeminiName
}

// Close releases the underlying connection.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

// Chat sends a multimodal generate-content request.
func (c *GeminiClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}

	m := c.client.GenerativeModel(modelName)
	if req.Temperature != nil {
		m.SetTemperature(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.JSON {
		m.ResponseMIMEType = "application/json"
	}

	var parts []genai.Part
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(msg.Content)}}
			continue
		}
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
		for _, img := range msg.Images {
			parts = append(parts, &genai.Blob{MIMEType: DetectImageMIME(img), Data: img})
		}
	}
	if len(parts) == 0 {
		return nil, errors.New("gemini: request has no content")
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, mapGeminiError(err)
	}
	text := firstText(resp)
	if text == "" {
		return nil, errors.New("gemini: empty response")
	}

	result := &ChatResult{
		Content:       text,
		ExecutionTime: time.Since(start),
		Provider:      GeminiName,
		ModelUsed:     modelName,
		RequestID:     req.RequestID,
	}
	if resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			break
		}
	}
	return strings.TrimSpace(sb.String())
}

func mapGeminiError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests {
			return &RateLimitError{
				Message:    fmt.Sprintf("gemini rate limited: %s", gerr.Message),
				RetryAfter: parseRetryAfter(gerr.Header.Get("Retry-After")),
				StatusCode: gerr.Code,
			}
		}
		apiErr := &APIError{Provider: GeminiName, StatusCode: gerr.Code, Body: gerr.Message}
		if gerr.Code >= 400 && gerr.Code < 500 {
			return permanent(apiErr)
		}
		return apiErr
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return permanent(fmt.Errorf("gemini: %w", err))
	}
	return fmt.Errorf("gemini: %w", err)
}

var _ LLMClient = (*GeminiClient)(nil)
