package pipeline

import (
	"strings"
	"unicode/utf8"

	"github.com/jackzampolin/inkwell/internal/reference"
	"github.com/jackzampolin/inkwell/internal/transcribe"
)

// Status is the roster state of an AnswerRecord.
type Status string

const (
	StatusMatched   Status = "matched"
	StatusUnmatched Status = "unmatched"
)

// ReviewConfidence is the confidence below which a record is flagged for review.
const ReviewConfidence = 0.9

// DriftLimit is the restored-vs-raw length difference that warrants a look.
const DriftLimit = 50

// AnswerRecord is one transcribed answer for one question slot.
type AnswerRecord struct {
	Name        string             `json:"name" yaml:"name"`
	Lesson      int                `json:"lesson" yaml:"lesson"`
	QuestionNum int                `json:"question_num" yaml:"question_num"`
	Academy     string             `json:"academy" yaml:"academy"`
	Row         *int               `json:"matched_row,omitempty" yaml:"matched_row,omitempty"`
	Manual      bool               `json:"manual,omitempty" yaml:"manual,omitempty"` // Row chosen by the operator
	Status      Status             `json:"status" yaml:"status"`
	Pages       []int              `json:"pages" yaml:"pages"`
	Text        string             `json:"text" yaml:"text"`
	RawText     string             `json:"raw_text,omitempty" yaml:"raw_text,omitempty"`
	Confidence  float64            `json:"confidence" yaml:"confidence"`
	Outcome     transcribe.Outcome `json:"outcome" yaml:"outcome"`
	Reference   reference.Bundle   `json:"reference" yaml:"reference"`
	Warnings    []string           `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Matched reports whether the record has a roster row.
func (r *AnswerRecord) Matched() bool {
	return r.Status == StatusMatched && r.Row != nil
}

// Assign marks the record as matched to a roster row chosen by the operator.
func (r *AnswerRecord) Assign(row int) {
	r.Row = &row
	r.Status = StatusMatched
	r.Manual = true
}

// Unassign clears the roster row.
func (r *AnswerRecord) Unassign() {
	r.Row = nil
	r.Status = StatusUnmatched
	r.Manual = false
}

// FirstPage returns the lowest page the record came from, or 0.
func (r *AnswerRecord) FirstPage() int {
	if len(r.Pages) == 0 {
		return 0
	}
	first := r.Pages[0]
	for _, p := range r.Pages[1:] {
		if p < first {
			first = p
		}
	}
	return first
}

// CharCount counts the answer's characters, not counting spaces or line breaks.
func (r *AnswerRecord) CharCount() int {
	return countChars(r.Text)
}

// LengthDrift is the restored text length minus the raw OCR length.
func (r *AnswerRecord) LengthDrift() int {
	if r.RawText == "" {
		return 0
	}
	return countChars(r.Text) - countChars(r.RawText)
}

// NeedsReview reports whether a human should look at the record before saving.
func (r *AnswerRecord) NeedsReview() bool {
	if !r.Matched() || r.Confidence < ReviewConfidence {
		return true
	}
	d := r.LengthDrift()
	return d > DriftLimit || d < -DriftLimit
}

func (r *AnswerRecord) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func countChars(s string) int {
	s = strings.NewReplacer(" ", "", "\n", "", "\r", "", "\t", "").Replace(s)
	return utf8.RuneCountInString(s)
}
