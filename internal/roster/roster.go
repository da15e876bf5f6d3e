// Package roster reads per-lesson student sheets, matches recognized names
// to rows and writes answer text back.
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/jackzampolin/inkwell/internal/sheets"
)

// ErrNoColumn is returned when a question number has no answer column.
var ErrNoColumn = errors.New("no answer column for question")

// Entry is one student row of a lesson sheet.
type Entry struct {
	Row     int    `json:"row" yaml:"row"` // 1-based sheet row
	Name    string `json:"name" yaml:"name"`
	Teacher string `json:"teacher" yaml:"teacher"`
}

// Columns maps question numbers to 1-based answer columns.
type Columns struct {
	Q1 int `mapstructure:"q1" yaml:"q1" json:"q1"`
	Q2 int `mapstructure:"q2" yaml:"q2" json:"q2"`
}

// DefaultColumns are columns H and O.
var DefaultColumns = Columns{Q1: 8, Q2: 15}

// For returns the column for questionNum.
func (c Columns) For(questionNum int) (int, error) {
	switch questionNum {
	case 1:
		return c.Q1, nil
	case 2:
		return c.Q2, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrNoColumn, questionNum)
}

// headerNames are first-column labels that mark the header block.
var headerNames = map[string]bool{"학생이름": true, "이름": true}

// SheetName returns the sheet title for a lesson.
func SheetName(lesson int) string {
	return fmt.Sprintf("%d강", lesson)
}

// Config configures a Roster.
type Config struct {
	Table   sheets.Table
	Columns Columns
	Logger  *slog.Logger
}

// Roster is the per-lesson student store.
type Roster struct {
	table   sheets.Table
	columns Columns
	logger  *slog.Logger
	locks   keyedMutex
}

// New returns a Roster over cfg.Table.
func New(cfg Config) *Roster {
	if cfg.Columns.Q1 == 0 && cfg.Columns.Q2 == 0 {
		cfg.Columns = DefaultColumns
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Roster{
		table:   cfg.Table,
		columns: cfg.Columns,
		logger:  logger.With("component", "roster"),
	}
}

// Columns returns the configured answer columns.
func (r *Roster) Columns() Columns {
	return r.columns
}

// Students returns the lesson's entries in sheet order.
func (r *Roster) Students(ctx context.Context, lesson int) ([]Entry, error) {
	rows, err := r.table.Rows(ctx, SheetName(lesson))
	if err != nil {
		return nil, fmt.Errorf("load roster for lesson %d: %w", lesson, err)
	}
	return ParseEntries(rows), nil
}

// ParseEntries extracts entries from raw sheet rows. Data starts at the first
// row whose first cell is a non-empty, non-header value; if there is none,
// data starts at the second row. Rows with an empty first cell are skipped.
func ParseEntries(rows [][]string) []Entry {
	start := 1
	for i, row := range rows {
		if len(row) > 0 && row[0] != "" && !headerNames[row[0]] {
			start = i
			break
		}
	}

	var entries []Entry
	for i := start; i < len(rows); i++ {
		row := rows[i]
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		e := Entry{Row: i + 1, Name: norm.NFC.String(strings.TrimSpace(row[0]))}
		if len(row) > 1 {
			e.Teacher = strings.TrimSpace(row[1])
		}
		entries = append(entries, e)
	}
	return entries
}

// Match returns the first entry whose name contains name or is contained in
// it. Comparison is case-sensitive on NFC-normalized strings. An empty name
// never matches.
func Match(entries []Entry, name string) (Entry, bool) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return Entry{}, false
	}
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		if strings.Contains(e.Name, name) || strings.Contains(name, e.Name) {
			return e, true
		}
	}
	return Entry{}, false
}

// Match loads the lesson roster and matches name against it.
func (r *Roster) Match(ctx context.Context, lesson int, name string) (Entry, bool, error) {
	entries, err := r.Students(ctx, lesson)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := Match(entries, name)
	r.logger.Debug("roster match", "lesson", lesson, "name", name, "matched", ok, "row", e.Row)
	return e, ok, nil
}

// WriteAnswer stores text in the answer cell for (row, questionNum). Writes to
// the same cell never overlap.
func (r *Roster) WriteAnswer(ctx context.Context, lesson, row, questionNum int, text string) error {
	col, err := r.columns.For(questionNum)
	if err != nil {
		return err
	}
	if row < 1 {
		return fmt.Errorf("invalid roster row %d", row)
	}
	sheet := SheetName(lesson)

	unlock := r.locks.lock(cellKey{sheet, row, col})
	defer unlock()

	if err := r.table.SetCell(ctx, sheet, row, col, text); err != nil {
		return fmt.Errorf("write answer %s row %d col %s: %w", sheet, row, sheets.ColumnName(col), err)
	}
	r.logger.Info("answer saved", "lesson", lesson, "row", row, "question", questionNum)
	return nil
}

// ReadAnswer returns the stored answer for (row, questionNum).
func (r *Roster) ReadAnswer(ctx context.Context, lesson, row, questionNum int) (string, error) {
	col, err := r.columns.For(questionNum)
	if err != nil {
		return "", err
	}
	return r.table.Cell(ctx, SheetName(lesson), row, col)
}

type cellKey struct {
	sheet    string
	row, col int
}

// keyedMutex hands out one mutex per cell.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[cellKey]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key cellKey) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[cellKey]*keyedEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
