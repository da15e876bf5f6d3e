// Package providers holds the clients for the external recognition and
// language-model services used by the intake pipeline.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackzampolin/inkwell/internal/resilience"
)

// LLMClient is a multimodal chat model.
type LLMClient interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Name returns the client identifier (e.g., "gemini").
	Name() string
}

// OCRProvider turns an image into raw recognized text.
// Separate from LLMClient because OCR engines return fragments with no
// conversational structure.
type OCRProvider interface {
	// Name returns the provider identifier (e.g., "clova").
	Name() string

	// Recognize extracts text from an encoded image.
	Recognize(ctx context.Context, image []byte) (*OCRResult, error)
}

// Message represents a chat message.
type Message struct {
	Role    string   `json:"role"` // "system", "user", "assistant"
	Content string   `json:"content"`
	Images  [][]byte `json:"-"` // Encoded images attached after the text
}

// ChatRequest is a request to an LLM.
type ChatRequest struct {
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	// Generation parameters. Nil Temperature leaves the provider default.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`

	// JSON asks the model for a bare JSON object.
	JSON bool `json:"json,omitempty"`

	RequestID string `json:"-"`
}

// ChatResult is the complete response from an LLM call.
type ChatResult struct {
	Content string `json:"content"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`

	ExecutionTime time.Duration `json:"execution_time"`

	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`
	RequestID string `json:"request_id"`
}

// OCRResult is the response from an OCR provider.
type OCRResult struct {
	Text      string   `json:"text"`      // Fragments joined with single spaces
	Fragments []string `json:"fragments"` // Recognized pieces in reading order

	Provider      string        `json:"provider"`
	RequestID     string        `json:"request_id,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// Float returns a pointer to v, for ChatRequest.Temperature.
func Float(v float64) *float64 {
	return &v
}

// JoinFragments joins OCR fragments the way the pipeline expects: trimmed,
// empty pieces dropped, single spaces between.
func JoinFragments(fragments []string) string {
	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " ")
}

// RateLimitError is returned when a provider answers 429.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// RetryAfterDuration lets the retry policy wait as long as the server asked.
func (e *RateLimitError) RetryAfterDuration() time.Duration {
	return e.RetryAfter
}

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// statusError classifies an HTTP failure. 429 becomes a RateLimitError,
// 5xx stays retryable, other 4xx are permanent.
func statusError(provider string, resp *http.Response, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			Message:    fmt.Sprintf("%s rate limited: %s", provider, msg),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			StatusCode: resp.StatusCode,
		}
	}
	err := &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: msg}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusRequestTimeout {
		return permanent(err)
	}
	return err
}

func permanent(err error) error {
	return resilience.Permanent(err)
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// DetectImageMIME sniffs the image type, defaulting to PNG.
func DetectImageMIME(data []byte) string {
	ct := http.DetectContentType(data)
	switch ct {
	case "image/png", "image/jpeg", "image/webp", "image/gif":
		return ct
	}
	return "image/png"
}

// imageFormat returns the short format name ("png", "jpg") for a MIME type.
func imageFormat(mime string) string {
	switch mime {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	}
	return "png"
}
