// Package sheets provides the tabular store behind the roster and the
// reference material: a Google Sheets client and an in-memory table.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrSheetNotFound is returned when a named sheet does not exist.
var ErrSheetNotFound = errors.New("sheet not found")

// Table is a spreadsheet of named sheets. Rows and columns are 1-based.
type Table interface {
	// Rows returns every row of the sheet, header included.
	Rows(ctx context.Context, sheet string) ([][]string, error)

	// Cell returns the value at (row, col), or "" if the cell is empty.
	Cell(ctx context.Context, sheet string, row, col int) (string, error)

	// SetCell writes value at (row, col).
	SetCell(ctx context.Context, sheet string, row, col int, value string) error
}

// ColumnName converts a 1-based column number to its A1 letters (1 -> A, 27 -> AA).
func ColumnName(col int) string {
	if col <= 0 {
		return ""
	}
	var sb []byte
	for col > 0 {
		col--
		sb = append([]byte{byte('A' + col%26)}, sb...)
		col /= 26
	}
	return string(sb)
}

// ColumnIndex parses column letters ("H", "aa") into a 1-based column number.
// It returns 0 for anything that is not a column name.
func ColumnIndex(name string) int {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" || len(name) > 3 {
		return 0
	}
	col := 0
	for _, r := range name {
		if r < 'A' || r > 'Z' {
			return 0
		}
		col = col*26 + int(r-'A') + 1
	}
	return col
}

// A1 returns the A1 reference for a single cell of sheet, quoting the sheet name.
func A1(sheet string, row, col int) string {
	return fmt.Sprintf("%s!%s%d", quoteSheet(sheet), ColumnName(col), row)
}

func quoteSheet(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}

// Memory is a Table held in memory. It is safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	sheets map[string][][]string
}

// NewMemory returns an empty in-memory table.
func NewMemory() *Memory {
	return &Memory{sheets: make(map[string][][]string)}
}

// Put replaces a whole sheet.
func (m *Memory) Put(sheet string, rows [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([][]string, len(rows))
	for i, r := range rows {
		cp[i] = append([]string(nil), r...)
	}
	m.sheets[sheet] = cp
}

// Rows implements Table.
func (m *Memory) Rows(ctx context.Context, sheet string) ([][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.sheets[sheet]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, sheet)
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

// Cell implements Table.
func (m *Memory) Cell(ctx context.Context, sheet string, row, col int) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.sheets[sheet]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSheetNotFound, sheet)
	}
	if row < 1 || row > len(rows) || col < 1 || col > len(rows[row-1]) {
		return "", nil
	}
	return rows[row-1][col-1], nil
}

// SetCell implements Table, growing the sheet as needed.
func (m *Memory) SetCell(ctx context.Context, sheet string, row, col int, value string) error {
	if row < 1 || col < 1 {
		return fmt.Errorf("invalid cell %d,%d", row, col)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.sheets[sheet]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSheetNotFound, sheet)
	}
	for len(rows) < row {
		rows = append(rows, nil)
	}
	for len(rows[row-1]) < col {
		rows[row-1] = append(rows[row-1], "")
	}
	rows[row-1][col-1] = value
	m.sheets[sheet] = rows
	return nil
}

var _ Table = (*Memory)(nil)
