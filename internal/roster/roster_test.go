package roster

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/inkwell/internal/sheets"
)

func lessonRows() [][]string {
	return [][]string{
		{"학생이름", "담당"},
		{"이름", ""},
		{"김민수", "박"},
		{"", "orphan"},
		{" 철수 ", "이"},
		{"김철수", "최"},
	}
}

func TestParseEntries(t *testing.T) {
	got := ParseEntries(lessonRows())
	want := []Entry{
		{Row: 3, Name: "김민수", Teacher: "박"},
		{Row: 5, Name: "철수", Teacher: "이"},
		{Row: 6, Name: "김철수", Teacher: "최"},
	}
	if len(got) != len(want) {
		t.Fatalf("ParseEntries() = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	t.Run("no header block", func(t *testing.T) {
		got := ParseEntries([][]string{{"고훈서", "A"}})
		if len(got) != 1 || got[0].Row != 1 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("header only", func(t *testing.T) {
		if got := ParseEntries([][]string{{"학생이름"}}); len(got) != 0 {
			t.Errorf("got %+v", got)
		}
	})
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		input   string
		wantRow int
		wantOK  bool
	}{
		{"recognized longer than roster", []Entry{{Row: 2, Name: "철수"}}, "김철수", 2, true},
		{"roster longer than recognized", []Entry{{Row: 2, Name: "김철수"}}, "철수", 2, true},
		{"exact", []Entry{{Row: 4, Name: "고훈서"}}, "고훈서", 4, true},
		{"first in roster order wins", []Entry{{Row: 3, Name: "김철수"}, {Row: 7, Name: "철수"}}, "철수", 3, true},
		{"empty never matches", []Entry{{Row: 2, Name: "철수"}}, "", 0, false},
		{"whitespace never matches", []Entry{{Row: 2, Name: "철수"}}, "  ", 0, false},
		{"no overlap", []Entry{{Row: 2, Name: "이서연"}}, "김민수", 0, false},
		{"case sensitive", []Entry{{Row: 2, Name: "Kim"}}, "kim", 0, false},
		{"decomposed hangul", []Entry{{Row: 2, Name: "철수"}}, "\u110E\u1165\u11AF\u1109\u116E", 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := Match(tt.entries, tt.input)
			if ok != tt.wantOK || e.Row != tt.wantRow {
				t.Errorf("Match() = %d, %v; want %d, %v", e.Row, ok, tt.wantRow, tt.wantOK)
			}
		})
	}
}

func TestRoster_MatchAndRoundTrip(t *testing.T) {
	table := sheets.NewMemory()
	table.Put("2강", lessonRows())
	r := New(Config{Table: table})
	ctx := context.Background()

	e, ok, err := r.Match(ctx, 2, "김민수")
	if err != nil || !ok || e.Row != 3 {
		t.Fatalf("Match() = %+v, %v, %v", e, ok, err)
	}

	text := "공공선은 모두의 이익이다.\n\n둘째 문단."
	if err := r.WriteAnswer(ctx, 2, e.Row, 2, text); err != nil {
		t.Fatalf("WriteAnswer() error = %v", err)
	}
	got, err := r.ReadAnswer(ctx, 2, e.Row, 2)
	if err != nil || got != text {
		t.Errorf("ReadAnswer() = %q, %v", got, err)
	}
	if cell, _ := table.Cell(ctx, "2강", 3, 15); cell != text {
		t.Errorf("question 2 should land in column O, got %q", cell)
	}

	t.Run("unknown question", func(t *testing.T) {
		if err := r.WriteAnswer(ctx, 2, 3, 3, "x"); !errors.Is(err, ErrNoColumn) {
			t.Errorf("expected ErrNoColumn, got %v", err)
		}
	})

	t.Run("missing lesson sheet", func(t *testing.T) {
		if _, _, err := r.Match(ctx, 9, "김민수"); !errors.Is(err, sheets.ErrSheetNotFound) {
			t.Errorf("expected ErrSheetNotFound, got %v", err)
		}
	})
}

// overlapTable fails the test if two writes to the same cell overlap.
type overlapTable struct {
	*sheets.Memory
	inflight atomic.Int32
	overlaps atomic.Int32
}

func (o *overlapTable) SetCell(ctx context.Context, sheet string, row, col int, value string) error {
	if o.inflight.Add(1) > 1 {
		o.overlaps.Add(1)
	}
	time.Sleep(2 * time.Millisecond)
	o.inflight.Add(-1)
	return o.Memory.SetCell(ctx, sheet, row, col, value)
}

func TestRoster_WritesToSameCellAreExclusive(t *testing.T) {
	mem := sheets.NewMemory()
	mem.Put("1강", lessonRows())
	table := &overlapTable{Memory: mem}
	r := New(Config{Table: table})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.WriteAnswer(context.Background(), 1, 3, 1, "answer"); err != nil {
				t.Errorf("WriteAnswer() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if n := table.overlaps.Load(); n != 0 {
		t.Errorf("%d overlapping writes to one cell", n)
	}
	if len(r.locks.locks) != 0 {
		t.Errorf("lock table not cleaned up: %d entries", len(r.locks.locks))
	}
}
