package transcribe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/jackzampolin/inkwell/internal/reference"
)

// Cache stores transcripts by key. Implementations must be safe for
// concurrent use. A miss is ("", false, nil).
type Cache interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Store(ctx context.Context, key, text string) error
}

// ocrKey identifies a stage-1 result: image digest and OCR provider.
func ocrKey(image []byte, provider string) string {
	return "ocr:" + provider + ":" + digest(image)
}

// restoreKey identifies a stage-2 result. It covers everything the prompt
// depends on, so edited reference material or raw text misses the cache.
func restoreKey(image []byte, provider, model string, b reference.Bundle, rawText string) string {
	ctx := digest([]byte(strings.Join([]string{b.Question, b.Passage, b.Rubric, b.ModelAnswer, rawText}, "\x00")))
	return "restore:" + provider + ":" + model + ":" + digest(image) + ":" + ctx[:16]
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
