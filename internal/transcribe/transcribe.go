// Package transcribe runs two-stage handwriting recognition: a raw OCR pass
// followed by restoration against the image and reference material.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jackzampolin/inkwell/internal/providers"
	"github.com/jackzampolin/inkwell/internal/reference"
	"github.com/jackzampolin/inkwell/internal/resilience"
)

// Outcome classifies a Process result.
type Outcome string

const (
	// Success: both stages completed.
	Success Outcome = "success"
	// Degraded: restoration failed and the raw OCR text stands in.
	Degraded Outcome = "degraded"
	// Fatal: raw OCR failed; the slot has no text.
	Fatal Outcome = "fatal"
)

// Confidence values attached to results. They are fixed per outcome, not
// measured from the recognition.
const (
	SuccessConfidence  = 0.9
	DegradedConfidence = 0.6
)

// ErrEmptyRestore is the degraded warning when restoration returns nothing.
var ErrEmptyRestore = errors.New("restoration returned empty text")

// Result is the output of Process.
type Result struct {
	Text       string
	RawText    string
	Confidence float64
	Outcome    Outcome
	Warning    string // Set when Outcome is Degraded
	Err        error  // Set when Outcome is Fatal
}

// Config configures a Pipeline.
type Config struct {
	OCR         providers.OCRProvider
	Restorer    providers.LLMClient
	Model       string  // Restorer default when empty
	Temperature float64 // Default 0.1

	OCRPolicy     resilience.Policy
	RestorePolicy resilience.Policy

	Cache  Cache // Optional
	Logger *slog.Logger
}

// Pipeline runs both stages for one cropped answer image.
type Pipeline struct {
	ocr         providers.OCRProvider
	restorer    providers.LLMClient
	model       string
	temperature float64
	ocrPolicy   resilience.Policy
	restPolicy  resilience.Policy
	cache       Cache
	logger      *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		ocr:         cfg.OCR,
		restorer:    cfg.Restorer,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		ocrPolicy:   cfg.OCRPolicy,
		restPolicy:  cfg.RestorePolicy,
		cache:       cfg.Cache,
		logger:      logger.With("component", "transcribe"),
	}
}

// Process runs raw OCR then restoration. It never returns an error directly;
// the Outcome says how far it got.
func (p *Pipeline) Process(ctx context.Context, image []byte, ref reference.Bundle) Result {
	raw, err := p.recognize(ctx, image)
	if err != nil {
		p.logger.Warn("raw OCR failed", "provider", p.ocr.Name(), "error", err)
		return Result{Outcome: Fatal, Err: fmt.Errorf("raw OCR: %w", err)}
	}

	restored, err := p.restore(ctx, image, ref, raw)
	if err != nil {
		p.logger.Warn("restoration failed, using raw OCR text", "provider", p.restorer.Name(), "error", err)
		return Result{
			Text:       raw,
			RawText:    raw,
			Confidence: DegradedConfidence,
			Outcome:    Degraded,
			Warning:    fmt.Sprintf("restoration failed, raw OCR text kept: %v", err),
		}
	}
	return Result{
		Text:       restored,
		RawText:    raw,
		Confidence: SuccessConfidence,
		Outcome:    Success,
	}
}

func (p *Pipeline) recognize(ctx context.Context, image []byte) (string, error) {
	key := ocrKey(image, p.ocr.Name())
	if text, ok := p.cached(ctx, key); ok {
		return text, nil
	}
	res, err := resilience.Do(ctx, p.ocrPolicy, func(ctx context.Context) (*providers.OCRResult, error) {
		return p.ocr.Recognize(ctx, image)
	})
	if err != nil {
		return "", err
	}
	raw := providers.JoinFragments(res.Fragments)
	if raw == "" {
		raw = strings.TrimSpace(res.Text)
	}
	p.logger.Debug("raw OCR complete", "provider", p.ocr.Name(), "fragments", len(res.Fragments), "chars", len([]rune(raw)))
	p.store(ctx, key, raw)
	return raw, nil
}

func (p *Pipeline) restore(ctx context.Context, image []byte, ref reference.Bundle, raw string) (string, error) {
	key := restoreKey(image, p.restorer.Name(), p.model, ref, raw)
	if text, ok := p.cached(ctx, key); ok {
		return text, nil
	}
	req := &providers.ChatRequest{
		Messages: []providers.Message{{
			Role:    "user",
			Content: BuildRestorePrompt(ref, raw),
			Images:  [][]byte{image},
		}},
		Model:       p.model,
		Temperature: providers.Float(p.temperature),
		RequestID:   uuid.NewString(),
	}
	res, err := resilience.Do(ctx, p.restPolicy, func(ctx context.Context) (*providers.ChatResult, error) {
		return p.restorer.Chat(ctx, req)
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(providers.StripCodeFences(res.Content))
	if text == "" {
		return "", ErrEmptyRestore
	}
	p.store(ctx, key, text)
	return text, nil
}

func (p *Pipeline) cached(ctx context.Context, key string) (string, bool) {
	if p.cache == nil {
		return "", false
	}
	text, ok, err := p.cache.Lookup(ctx, key)
	if err != nil {
		p.logger.Warn("transcript cache lookup failed", "error", err)
		return "", false
	}
	return text, ok
}

func (p *Pipeline) store(ctx context.Context, key, text string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Store(ctx, key, text); err != nil {
		p.logger.Warn("transcript cache store failed", "error", err)
	}
}
