package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Warning is a page-level problem surfaced to the operator.
type Warning struct {
	Page    int    `json:"page" yaml:"page"`
	Message string `json:"message" yaml:"message"`
}

// Session is the result of processing one document. It is written to disk
// for review and read back by rematch and save.
type Session struct {
	ID        string         `json:"id" yaml:"id"`
	Source    string         `json:"source,omitempty" yaml:"source,omitempty"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	Lesson    int            `json:"lesson,omitempty" yaml:"lesson,omitempty"`
	Records   []AnswerRecord `json:"records" yaml:"records"`
	Warnings  []Warning      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// NewSession creates an empty session.
func NewSession(lesson int) *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Lesson:    lesson,
	}
}

// Sort orders records by first page then question, and warnings by page.
func (s *Session) Sort() {
	sort.SliceStable(s.Records, func(i, j int) bool {
		a, b := &s.Records[i], &s.Records[j]
		if a.FirstPage() != b.FirstPage() {
			return a.FirstPage() < b.FirstPage()
		}
		return a.QuestionNum < b.QuestionNum
	})
	sort.SliceStable(s.Warnings, func(i, j int) bool { return s.Warnings[i].Page < s.Warnings[j].Page })
}

// Unmatched returns the indexes of records without a roster row.
func (s *Session) Unmatched() []int {
	var out []int
	for i := range s.Records {
		if !s.Records[i].Matched() {
			out = append(out, i)
		}
	}
	return out
}

// NeedsReview returns the indexes of records flagged for review.
func (s *Session) NeedsReview() []int {
	var out []int
	for i := range s.Records {
		if s.Records[i].NeedsReview() {
			out = append(out, i)
		}
	}
	return out
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// WriteFile stores the session as JSON when path ends in .json, YAML otherwise.
func (s *Session) WriteFile(path string) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(s, "", "  ")
	} else {
		data, err = yaml.Marshal(s)
	}
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadSession loads a session written by WriteFile.
func ReadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if isJSON(path) {
		err = json.Unmarshal(data, &s)
	} else {
		err = yaml.Unmarshal(data, &s)
	}
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", path, err)
	}
	// A row on a record not marked matched was added by hand: treat it as an
	// operator assignment so save writes it and rematch keeps it.
	for i := range s.Records {
		rec := &s.Records[i]
		switch {
		case rec.Row == nil:
			rec.Unassign()
		case rec.Status != StatusMatched:
			rec.Assign(*rec.Row)
		}
	}
	return &s, nil
}
