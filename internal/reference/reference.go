// Package reference resolves (lesson, question) pairs to the reference
// material used to ground restoration.
package reference

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/jackzampolin/inkwell/internal/sheets"
)

// DefaultSheet is the sheet holding reference rows.
const DefaultSheet = "기초자료"

// Bundle is the reference material for one question. Any field may be empty.
type Bundle struct {
	Question    string `json:"question" yaml:"question"`
	Passage     string `json:"passage" yaml:"passage"`
	Rubric      string `json:"rubric" yaml:"rubric"`
	ModelAnswer string `json:"model_answer" yaml:"model_answer"`
}

// Empty reports whether the bundle carries no material at all.
func (b Bundle) Empty() bool {
	return b.Question == "" && b.Passage == "" && b.Rubric == "" && b.ModelAnswer == ""
}

// Config configures a Lookup.
type Config struct {
	Table  sheets.Table
	Sheet  string // Defaults to DefaultSheet
	Logger *slog.Logger
}

// Lookup finds reference bundles in a table whose columns are
// lesson, question number, question, passage, rubric, model answer.
type Lookup struct {
	table  sheets.Table
	sheet  string
	logger *slog.Logger

	mu    sync.Mutex
	index map[key]Bundle // Loaded lazily, once per Lookup
}

type key struct{ lesson, question int }

// New returns a Lookup over cfg.Table.
func New(cfg Config) *Lookup {
	if cfg.Sheet == "" {
		cfg.Sheet = DefaultSheet
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Lookup{table: cfg.Table, sheet: cfg.Sheet, logger: logger.With("component", "reference")}
}

// Find returns the bundle for (lesson, questionNum). A miss returns an empty
// bundle and found=false. A read failure returns an empty bundle and the error;
// callers treat both as degraded context, not as fatal.
func (l *Lookup) Find(ctx context.Context, lesson, questionNum int) (Bundle, bool, error) {
	idx, err := l.load(ctx)
	if err != nil {
		return Bundle{}, false, err
	}
	b, ok := idx[key{lesson, questionNum}]
	if !ok {
		l.logger.Debug("no reference material", "lesson", lesson, "question", questionNum)
	}
	return b, ok, nil
}

// Reload drops the cached index so the next Find re-reads the table.
func (l *Lookup) Reload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index = nil
}

func (l *Lookup) load(ctx context.Context) (map[key]Bundle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.index != nil {
		return l.index, nil
	}
	rows, err := l.table.Rows(ctx, l.sheet)
	if err != nil {
		return nil, fmt.Errorf("load reference sheet: %w", err)
	}
	l.index = parse(rows)
	l.logger.Debug("reference material loaded", "rows", len(l.index))
	return l.index, nil
}

// parse indexes reference rows. The first row is a header. Rows whose lesson
// or question cell is not an integer are skipped. When two rows share a key
// the first one wins.
func parse(rows [][]string) map[key]Bundle {
	idx := make(map[key]Bundle)
	for i, row := range rows {
		if i == 0 || len(row) < 2 {
			continue
		}
		lesson, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			continue
		}
		q, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil {
			continue
		}
		k := key{lesson, q}
		if _, dup := idx[k]; dup {
			continue
		}
		idx[k] = Bundle{
			Question:    cell(row, 2),
			Passage:     cell(row, 3),
			Rubric:      cell(row, 4),
			ModelAnswer: cell(row, 5),
		}
	}
	return idx
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
