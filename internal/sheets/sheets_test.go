package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/jackzampolin/inkwell/internal/resilience"
)

func TestColumnName(t *testing.T) {
	tests := map[int]string{0: "", 1: "A", 8: "H", 15: "O", 26: "Z", 27: "AA", 52: "AZ", 703: "AAA"}
	for in, want := range tests {
		if got := ColumnName(in); got != want {
			t.Errorf("ColumnName(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestColumnIndex(t *testing.T) {
	tests := map[string]int{"A": 1, "h": 8, " O ": 15, "AA": 27, "AAA": 703, "": 0, "H1": 0, "ABCD": 0}
	for in, want := range tests {
		if got := ColumnIndex(in); got != want {
			t.Errorf("ColumnIndex(%q) = %d, want %d", in, got, want)
		}
	}
	for col := 1; col < 800; col++ {
		if got := ColumnIndex(ColumnName(col)); got != col {
			t.Fatalf("round trip %d -> %q -> %d", col, ColumnName(col), got)
		}
	}
}

func TestA1(t *testing.T) {
	if got := A1("3강", 5, 8); got != "'3강'!H5" {
		t.Errorf("A1() = %q", got)
	}
	if got := A1("it's", 1, 1); got != "'it''s'!A1" {
		t.Errorf("A1() quoting = %q", got)
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Put("1강", [][]string{{"학생이름", "담당"}, {"김민수", "A"}})

	t.Run("rows are copies", func(t *testing.T) {
		rows, err := m.Rows(ctx, "1강")
		if err != nil {
			t.Fatalf("Rows() error = %v", err)
		}
		rows[1][0] = "changed"
		again, _ := m.Rows(ctx, "1강")
		if again[1][0] != "김민수" {
			t.Error("Rows() exposed internal state")
		}
	})

	t.Run("set grows the sheet", func(t *testing.T) {
		if err := m.SetCell(ctx, "1강", 4, 8, "answer"); err != nil {
			t.Fatalf("SetCell() error = %v", err)
		}
		got, err := m.Cell(ctx, "1강", 4, 8)
		if err != nil || got != "answer" {
			t.Errorf("Cell() = %q, %v", got, err)
		}
		if got, _ := m.Cell(ctx, "1강", 40, 40); got != "" {
			t.Errorf("out of range cell = %q", got)
		}
	})

	t.Run("missing sheet", func(t *testing.T) {
		if _, err := m.Rows(ctx, "9강"); !errors.Is(err, ErrSheetNotFound) {
			t.Errorf("expected ErrSheetNotFound, got %v", err)
		}
		if err := m.SetCell(ctx, "9강", 1, 1, "x"); !errors.Is(err, ErrSheetNotFound) {
			t.Errorf("expected ErrSheetNotFound, got %v", err)
		}
	})
}

// fakeSheetsAPI serves just enough of the Sheets v4 values API.
type fakeSheetsAPI struct {
	mu      sync.Mutex
	values  map[string][][]interface{}
	writes  map[string]string
	options []string
	fail    int // respond 503 this many times first
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail > 0 {
		f.fail--
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"code":503,"message":"backend error"}}`)
		return
	}

	idx := strings.Index(r.URL.Path, "/values/")
	if idx < 0 {
		http.NotFound(w, r)
		return
	}
	rng := r.URL.Path[idx+len("/values/"):]
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		vals, ok := f.values[rng]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":{"code":400,"message":"Unable to parse range: `+rng+`"}}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"range": rng, "values": vals})
	case http.MethodPut:
		var body struct {
			Values [][]interface{} `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.writes[rng] = body.Values[0][0].(string)
		f.options = append(f.options, r.URL.Query().Get("valueInputOption"))
		io.WriteString(w, `{}`)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestGoogle(t *testing.T, api *fakeSheetsAPI) *Google {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	g, err := NewGoogle(context.Background(), GoogleConfig{
		SpreadsheetID: "sheet-id",
		Endpoint:      srv.URL + "/",
		Policy:        resilience.Policy{Attempts: 3, Delay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Options:       []option.ClientOption{option.WithoutAuthentication(), option.WithHTTPClient(srv.Client())},
	})
	if err != nil {
		t.Fatalf("NewGoogle() error = %v", err)
	}
	return g
}

func TestGoogle_Rows(t *testing.T) {
	api := &fakeSheetsAPI{
		values: map[string][][]interface{}{
			"'1강'": {{"학생이름", "담당"}, {"김민수", "박"}, {"이서연"}},
		},
		writes: map[string]string{},
		fail:   1,
	}
	g := newTestGoogle(t, api)

	rows, err := g.Rows(context.Background(), "1강")
	if err != nil {
		t.Fatalf("Rows() error = %v", err)
	}
	if len(rows) != 3 || rows[1][0] != "김민수" || rows[2][0] != "이서연" {
		t.Errorf("Rows() = %v", rows)
	}
}

func TestGoogle_MissingSheet(t *testing.T) {
	api := &fakeSheetsAPI{values: map[string][][]interface{}{}, writes: map[string]string{}}
	g := newTestGoogle(t, api)

	_, err := g.Rows(context.Background(), "7강")
	if !errors.Is(err, ErrSheetNotFound) {
		t.Fatalf("expected ErrSheetNotFound, got %v", err)
	}
}

func TestGoogle_SetCell(t *testing.T) {
	api := &fakeSheetsAPI{values: map[string][][]interface{}{}, writes: map[string]string{}}
	g := newTestGoogle(t, api)

	if err := g.SetCell(context.Background(), "2강", 3, 15, "=not a formula"); err != nil {
		t.Fatalf("SetCell() error = %v", err)
	}
	if got := api.writes["'2강'!O3"]; got != "=not a formula" {
		t.Errorf("write = %q, all writes %v", got, api.writes)
	}
	if len(api.options) != 1 || api.options[0] != "RAW" {
		t.Errorf("valueInputOption = %v", api.options)
	}
}
