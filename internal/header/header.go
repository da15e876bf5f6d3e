// Package header reads the student identity block at the top of an odd page.
package header

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/jackzampolin/inkwell/internal/providers"
	"github.com/jackzampolin/inkwell/internal/resilience"
)

// Info is the identity block of one answer sheet. A failed extraction has
// Error set and every other field empty.
type Info struct {
	Name        string `json:"name" yaml:"name"`
	Lesson      int    `json:"lesson" yaml:"lesson"`
	QuestionNum int    `json:"question_num" yaml:"question_num"`
	Academy     string `json:"academy" yaml:"academy"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Failed reports whether extraction failed.
func (i Info) Failed() bool {
	return i.Error != ""
}

// Prompt is the fixed instruction sent with every header image.
const Prompt = `이 원고지 이미지의 상단 헤더 부분에서 다음 정보를 추출하세요:

1. 학생 이름 (손글씨로 작성된 2-4글자 한글 이름)
2. 강 번호 (예: 1강, 2강, 3강...)
3. 문제 번호 (예: 문제1, 문제2)
4. 소속 학원명

## 출력 형식 (JSON)
{
  "name": "학생이름",
  "lesson": 2,
  "question_num": 1,
  "academy": "학원명"
}

정보를 찾을 수 없으면 빈 문자열이나 0으로 표시하세요.`

const infoSchema = `{
  "type": "object",
  "required": ["name", "lesson", "question_num", "academy"],
  "properties": {
    "name": {"type": "string"},
    "lesson": {"type": ["integer", "number", "string"]},
    "question_num": {"type": ["integer", "number", "string"]},
    "academy": {"type": "string"}
  }
}`

var schema = providers.MustCompileSchema(infoSchema)

// ErrMalformed is recorded when the model answer is not a valid identity record.
var ErrMalformed = errors.New("malformed header response")

// Config configures an Extractor.
type Config struct {
	Client      providers.LLMClient
	Model       string  // Client default when empty
	Temperature float64 // Default 0.1
	Aliases     []Alias // Default DefaultAliases
	Policy      resilience.Policy
	Logger      *slog.Logger
}

// Extractor runs header recognition.
type Extractor struct {
	client      providers.LLMClient
	model       string
	temperature float64
	aliases     []Alias
	policy      resilience.Policy
	logger      *slog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(cfg Config) *Extractor {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	if len(cfg.Aliases) == 0 {
		cfg.Aliases = DefaultAliases
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		client:      cfg.Client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		aliases:     cfg.Aliases,
		policy:      cfg.Policy,
		logger:      logger.With("component", "header"),
	}
}

// Extract sends one recognition request for image. It never returns an error;
// failures are reported in Info.Error.
func (e *Extractor) Extract(ctx context.Context, image []byte) Info {
	req := &providers.ChatRequest{
		Messages:    []providers.Message{{Role: "user", Content: Prompt, Images: [][]byte{image}}},
		Model:       e.model,
		Temperature: providers.Float(e.temperature),
		JSON:        true,
		RequestID:   uuid.NewString(),
	}

	res, err := resilience.Do(ctx, e.policy, func(ctx context.Context) (*providers.ChatResult, error) {
		return e.client.Chat(ctx, req)
	})
	if err != nil {
		e.logger.Warn("header request failed", "request_id", req.RequestID, "error", err)
		return Info{Error: err.Error()}
	}

	info, err := Parse(res.Content)
	if err != nil {
		e.logger.Warn("header response rejected", "request_id", req.RequestID, "error", err)
		return Info{Error: err.Error()}
	}
	info.Academy = NormalizeAcademyWith(e.aliases, info.Academy)
	e.logger.Debug("header extracted", "name", info.Name, "lesson", info.Lesson, "question", info.QuestionNum, "academy", info.Academy)
	return info
}

// Parse decodes a model answer into Info without alias normalization.
func Parse(content string) (Info, error) {
	doc, err := providers.ParseJSON(content)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := schema.Validate(doc); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var raw struct {
		Name        string `json:"name"`
		Lesson      any    `json:"lesson"`
		QuestionNum any    `json:"question_num"`
		Academy     string `json:"academy"`
	}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	lesson, err := toInt(raw.Lesson)
	if err != nil {
		return Info{}, fmt.Errorf("%w: lesson: %v", ErrMalformed, err)
	}
	q, err := toInt(raw.QuestionNum)
	if err != nil {
		return Info{}, fmt.Errorf("%w: question_num: %v", ErrMalformed, err)
	}
	return Info{
		Name:        norm.NFC.String(strings.TrimSpace(raw.Name)),
		Lesson:      lesson,
		QuestionNum: q,
		Academy:     strings.TrimSpace(raw.Academy),
	}, nil
}

// toInt accepts JSON numbers and strings like "2" or "2강". The first run of
// digits in a string wins. Empty means 0.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n < 0 {
			return 0, fmt.Errorf("not a whole number: %v", n)
		}
		return int(n), nil
	case string:
		digits := firstDigits(n)
		if digits == "" {
			if strings.TrimSpace(n) == "" {
				return 0, nil
			}
			return 0, fmt.Errorf("no digits in %q", n)
		}
		return strconv.Atoi(digits)
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}

func firstDigits(s string) string {
	start := strings.IndexFunc(s, isDigit)
	if start < 0 {
		return ""
	}
	end := strings.IndexFunc(s[start:], func(r rune) bool { return !isDigit(r) })
	if end < 0 {
		return s[start:]
	}
	return s[start : start+end]
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
