package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/inkwell/internal/crop"
	"github.com/jackzampolin/inkwell/internal/header"
	"github.com/jackzampolin/inkwell/internal/providers"
	"github.com/jackzampolin/inkwell/internal/reference"
	"github.com/jackzampolin/inkwell/internal/render"
	"github.com/jackzampolin/inkwell/internal/resilience"
	"github.com/jackzampolin/inkwell/internal/roster"
	"github.com/jackzampolin/inkwell/internal/sheets"
	"github.com/jackzampolin/inkwell/internal/transcribe"
)

var fast = resilience.Policy{Attempts: 2, Delay: time.Millisecond, MaxDelay: time.Millisecond}

// fixture wires real components over in-memory sheets and mock services.
type fixture struct {
	table   *sheets.Memory
	llm     *providers.MockClient
	ocr     *providers.MockOCR
	roster  *roster.Roster
	headers map[string]string // page image -> header JSON, missing = service error
	restore func(image string) (string, error)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		table:   sheets.NewMemory(),
		headers: map[string]string{},
	}
	f.table.Put("2강", [][]string{
		{"학생이름", "담당"},
		{"김민지", "박"},
		{"고훈서", "이"},
	})
	f.table.Put(reference.DefaultSheet, [][]string{
		{"강", "문항", "문제", "제시문", "채점기준", "모범답안"},
		{"2", "1", "공공선이란", "제시문 가", "공공선 용어", "공공선은 모두의 이익"},
		{"2", "2", "정의란", "제시문 나", "정의 용어", "정의는 공정함"},
	})

	var mu sync.Mutex
	f.llm = &providers.MockClient{Handler: func(req *providers.ChatRequest) (string, error) {
		msg := req.Messages[0]
		image := string(msg.Images[0])
		if msg.Content == header.Prompt {
			mu.Lock()
			defer mu.Unlock()
			js, ok := f.headers[image]
			if !ok {
				return "", resilience.Permanent(errors.New("vision service unavailable"))
			}
			return js, nil
		}
		if f.restore != nil {
			return f.restore(image)
		}
		return "restored " + image, nil
	}}
	f.ocr = &providers.MockOCR{Handler: func(image []byte) ([]string, error) {
		return []string{"raw", string(image)}, nil
	}}
	f.roster = roster.New(roster.Config{Table: f.table})
	return f
}

func (f *fixture) pipeline(t *testing.T, mutate func(*Config)) *Pipeline {
	t.Helper()
	cfg := Config{
		Header: header.NewExtractor(header.Config{Client: f.llm, Policy: fast}),
		Reference: reference.New(reference.Config{Table: f.table}),
		Transcriber: transcribe.New(transcribe.Config{
			OCR:           f.ocr,
			Restorer:      f.llm,
			OCRPolicy:     fast,
			RestorePolicy: fast,
		}),
		Roster: f.roster,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func pages(n int) []render.Page {
	out := make([]render.Page, n)
	for i := range out {
		out[i] = render.Page{Num: i + 1, Image: []byte(fmt.Sprintf("page%d", i+1))}
	}
	return out
}

func TestRun_TwoPageStudent(t *testing.T) {
	f := newFixture(t)
	f.headers["page1"] = `{"name": "고훈서", "lesson": 2, "question_num": 1, "academy": "분당"}`

	s, err := f.pipeline(t, nil).Run(context.Background(), pages(2))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(s.Records) != 2 || len(s.Warnings) != 0 {
		t.Fatalf("got %d records, warnings %v", len(s.Records), s.Warnings)
	}
	q1, q2 := s.Records[0], s.Records[1]
	for i, rec := range []AnswerRecord{q1, q2} {
		if rec.Name != "고훈서" || rec.Academy != "분당 러셀" || rec.Lesson != 2 {
			t.Errorf("record %d identity = %q/%q/%d", i, rec.Name, rec.Academy, rec.Lesson)
		}
		if !rec.Matched() || *rec.Row != 3 {
			t.Errorf("record %d should match row 3, got %+v", i, rec.Row)
		}
	}
	if q1.QuestionNum != 1 || q2.QuestionNum != 2 {
		t.Errorf("question numbers = %d, %d", q1.QuestionNum, q2.QuestionNum)
	}
	if q1.Pages[0] != 1 || q2.Pages[0] != 2 {
		t.Errorf("pages = %v, %v", q1.Pages, q2.Pages)
	}
	if q1.Text != "restored page1" || q1.RawText != "raw page1" || q1.Confidence != transcribe.SuccessConfidence {
		t.Errorf("q1 text = %q raw = %q conf = %v", q1.Text, q1.RawText, q1.Confidence)
	}
	if q1.Reference.Question != "공공선이란" || q2.Reference.Question != "정의란" {
		t.Errorf("references = %q, %q", q1.Reference.Question, q2.Reference.Question)
	}

	// The header is read once per odd page: two header calls would make four.
	if got := f.llm.RequestCount(); got != 3 {
		t.Errorf("LLM calls = %d, want 1 header + 2 restorations", got)
	}
}

func TestRun_HeaderFailure(t *testing.T) {
	f := newFixture(t)

	s, err := f.pipeline(t, nil).Run(context.Background(), pages(2))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(s.Records) > 1 {
		t.Fatalf("got %d records", len(s.Records))
	}
	for _, rec := range s.Records {
		if rec.Pages[0] != 1 {
			t.Errorf("record from page %d, want only page 1", rec.Pages[0])
		}
		if rec.Name != "" || rec.Matched() {
			t.Errorf("page 1 record should be unmatched with empty name: %+v", rec)
		}
	}
	if len(s.Warnings) != 2 {
		t.Fatalf("warnings = %v, want 2", s.Warnings)
	}
	if s.Warnings[0].Page != 1 || s.Warnings[1].Page != 2 {
		t.Errorf("warning pages = %d, %d", s.Warnings[0].Page, s.Warnings[1].Page)
	}
	if !strings.Contains(s.Warnings[1].Message, "no student context") {
		t.Errorf("second warning = %q", s.Warnings[1].Message)
	}
}

func TestRun_RestorationFallback(t *testing.T) {
	f := newFixture(t)
	f.headers["page1"] = `{"name": "김민지", "lesson": 2, "question_num": 1, "academy": "대치"}`
	f.restore = func(string) (string, error) { return "", errors.New("generation failed") }

	s, err := f.pipeline(t, nil).Run(context.Background(), pages(2))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Records) != 2 {
		t.Fatalf("got %d records", len(s.Records))
	}
	for _, rec := range s.Records {
		if rec.Text != rec.RawText || rec.Text == "" {
			t.Errorf("text %q should equal raw %q", rec.Text, rec.RawText)
		}
		if rec.Outcome != transcribe.Degraded || len(rec.Warnings) == 0 {
			t.Errorf("outcome = %s warnings = %v", rec.Outcome, rec.Warnings)
		}
		if !rec.NeedsReview() {
			t.Error("degraded record should need review")
		}
	}
}

func TestRun_FatalOCRDropsSlotOnly(t *testing.T) {
	f := newFixture(t)
	f.headers["page1"] = `{"name": "김민지", "lesson": 2, "question_num": 1, "academy": ""}`
	f.ocr.Handler = func(image []byte) ([]string, error) {
		if string(image) == "page1" {
			return nil, resilience.Permanent(errors.New("ocr rejected image"))
		}
		return []string{"raw"}, nil
	}

	s, err := f.pipeline(t, nil).Run(context.Background(), pages(2))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Records) != 1 || s.Records[0].QuestionNum != 2 || s.Records[0].Name != "김민지" {
		t.Fatalf("records = %+v", s.Records)
	}
	if len(s.Warnings) != 1 || s.Warnings[0].Page != 1 {
		t.Errorf("warnings = %v", s.Warnings)
	}
}

func TestRun_CropFailureUsesFullPage(t *testing.T) {
	f := newFixture(t)
	f.headers["page1"] = `{"name": "김민지", "lesson": 2, "question_num": 1, "academy": ""}`
	regions, err := crop.NewManager(nil)
	if err != nil {
		t.Fatal(err)
	}
	p := f.pipeline(t, func(c *Config) { c.Cropper = crop.NewCropper(regions, 0) })

	// The fake pages are not images, so every crop fails.
	s, err := p.Run(context.Background(), pages(2))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Records) != 2 {
		t.Fatalf("got %d records", len(s.Records))
	}
	if s.Records[0].RawText != "raw page1" {
		t.Errorf("full page should reach OCR, raw = %q", s.Records[0].RawText)
	}
	if !strings.Contains(strings.Join(s.Records[0].Warnings, "\n"), "crop failed") {
		t.Errorf("warnings = %v", s.Records[0].Warnings)
	}
}

func TestRun_LessonOverride(t *testing.T) {
	f := newFixture(t)
	f.headers["page1"] = `{"name": "고훈서", "lesson": 7, "question_num": 1, "academy": ""}`
	s, err := f.pipeline(t, func(c *Config) { c.Lesson = 2 }).Run(context.Background(), pages(2))
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range s.Records {
		if rec.Lesson != 2 || !rec.Matched() {
			t.Errorf("record = lesson %d matched %v", rec.Lesson, rec.Matched())
		}
	}
	if s.Lesson != 2 {
		t.Errorf("session lesson = %d", s.Lesson)
	}
}

func TestRun_UnknownStudentIsUnmatched(t *testing.T) {
	f := newFixture(t)
	f.headers["page1"] = `{"name": "홍길동", "lesson": 2, "question_num": 1, "academy": ""}`
	s, err := f.pipeline(t, nil).Run(context.Background(), pages(2))
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Unmatched(); len(got) != 2 {
		t.Errorf("unmatched = %v", got)
	}
	if len(s.Warnings) != 0 {
		t.Errorf("a roster miss is not a warning: %v", s.Warnings)
	}
}

func TestRun_NoPages(t *testing.T) {
	f := newFixture(t)
	if _, err := f.pipeline(t, nil).Run(context.Background(), nil); !errors.Is(err, ErrNoPages) {
		t.Errorf("expected ErrNoPages, got %v", err)
	}
}

func TestRun_Parity(t *testing.T) {
	f := newFixture(t)
	f.headers["page1"] = `{"name": "김민지", "lesson": 2, "question_num": 1, "academy": ""}`
	f.headers["page3"] = `{"name": "고훈서", "lesson": 2, "question_num": 1, "academy": ""}`
	f.headers["page5"] = `{"name": "김민지", "lesson": 2, "question_num": 1, "academy": ""}`

	// Out-of-order input is consumed in page order.
	in := pages(5)
	in[0], in[3] = in[3], in[0]

	s, err := f.pipeline(t, nil).Run(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Records) != 5 {
		t.Fatalf("got %d records", len(s.Records))
	}
	wantNames := []string{"김민지", "김민지", "고훈서", "고훈서", "김민지"}
	for i, rec := range s.Records {
		page := rec.Pages[0]
		if page != i+1 {
			t.Errorf("record %d from page %d", i, page)
		}
		wantQ := 1
		if page%2 == 0 {
			wantQ = 2
		}
		if rec.QuestionNum != wantQ || rec.Name != wantNames[i] {
			t.Errorf("page %d: q=%d name=%q", page, rec.QuestionNum, rec.Name)
		}
	}
	// Page 5 has no partner.
	if len(s.Warnings) != 1 || s.Warnings[0].Page != 5 {
		t.Errorf("warnings = %v", s.Warnings)
	}
}

// countingTranscriber tracks how many Process calls overlap.
type countingTranscriber struct {
	active, peak atomic.Int32
}

func (c *countingTranscriber) Process(ctx context.Context, image []byte, _ reference.Bundle) transcribe.Result {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return transcribe.Result{Text: string(image), RawText: string(image), Confidence: 1, Outcome: transcribe.Success}
}

type staticHeader struct{ info header.Info }

func (h staticHeader) Extract(context.Context, []byte) header.Info { return h.info }

func TestRun_BoundedConcurrency(t *testing.T) {
	f := newFixture(t)
	tr := &countingTranscriber{}
	p := f.pipeline(t, func(c *Config) {
		c.Header = staticHeader{header.Info{Name: "고훈서", Lesson: 2, QuestionNum: 1}}
		c.Transcriber = tr
		c.Workers = 3
	})

	s, err := p.Run(context.Background(), pages(12))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Records) != 12 {
		t.Fatalf("got %d records", len(s.Records))
	}
	for i, rec := range s.Records {
		if rec.FirstPage() != i+1 {
			t.Errorf("record %d from page %d; session must be sorted", i, rec.FirstPage())
		}
	}
	if peak := tr.peak.Load(); peak > 3 || peak < 2 {
		t.Errorf("peak concurrency = %d, want 2..3", peak)
	}
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := f.pipeline(t, nil).Run(ctx, pages(2))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if s == nil || len(s.Records) != 0 {
		t.Errorf("no pages should run after cancellation: %+v", s)
	}
}

func TestNew_RequiresComponents(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrMissingComponent) {
		t.Errorf("expected ErrMissingComponent, got %v", err)
	}
}

func TestRematch(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, nil)
	ctx := context.Background()

	rec := AnswerRecord{Name: "", Lesson: 2, QuestionNum: 1}
	if err := p.Rematch(ctx, &rec); err != nil || rec.Matched() {
		t.Fatalf("empty name matched: %v", err)
	}

	rec.Name = "민지"
	if err := p.Rematch(ctx, &rec); err != nil {
		t.Fatal(err)
	}
	if !rec.Matched() || *rec.Row != 2 || rec.Status != StatusMatched {
		t.Errorf("after correction: %+v", rec)
	}

	rec.Name = "없는학생"
	if err := p.Rematch(ctx, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Matched() || rec.Status != StatusUnmatched || rec.Row != nil {
		t.Errorf("after second correction: %+v", rec)
	}

	rec.Lesson = 9
	rec.Name = "김민지"
	if err := p.Rematch(ctx, &rec); err == nil {
		t.Error("missing lesson sheet should error")
	}
}

func TestRematchSession_KeepsManualRows(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, nil)

	s := NewSession(2)
	s.Records = []AnswerRecord{
		{Name: "고훈서", Lesson: 2, QuestionNum: 1, Status: StatusUnmatched},
		{Name: "홍길동", Lesson: 2, QuestionNum: 1},
	}
	s.Records[1].Assign(2)

	changed, err := p.RematchSession(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if changed != 1 {
		t.Errorf("changed = %d", changed)
	}
	if *s.Records[0].Row != 3 || *s.Records[1].Row != 2 || !s.Records[1].Manual {
		t.Errorf("records = %+v", s.Records)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	f := newFixture(t)
	f.headers["page1"] = `{"name": "고훈서", "lesson": 2, "question_num": 1, "academy": "분당"}`
	p := f.pipeline(t, nil)
	ctx := context.Background()

	s, err := p.Run(ctx, pages(2))
	if err != nil {
		t.Fatal(err)
	}
	s.Records[1].Text = "공공선은 중요하다.\n\n둘째 문단."
	s.Records = append(s.Records, AnswerRecord{Name: "홍길동", Lesson: 2, QuestionNum: 1, Text: "x", Status: StatusUnmatched})

	report, err := p.Save(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if report.Saved != 2 || report.Skipped != 1 || len(report.Failures) != 0 {
		t.Errorf("report = %+v", report)
	}
	for _, rec := range s.Records[:2] {
		got, err := f.roster.ReadAnswer(ctx, rec.Lesson, *rec.Row, rec.QuestionNum)
		if err != nil {
			t.Fatal(err)
		}
		if got != rec.Text {
			t.Errorf("q%d cell = %q, want %q", rec.QuestionNum, got, rec.Text)
		}
	}
}

func TestSave_CollectsFailures(t *testing.T) {
	f := newFixture(t)
	p := NewReviewer(f.roster, 0, nil)
	s := NewSession(0)
	s.Records = []AnswerRecord{{Name: "a", Lesson: 5, QuestionNum: 1, Text: "t"}}
	s.Records[0].Assign(2)

	report, err := p.Save(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if report.Saved != 0 || len(report.Failures) != 1 || report.Failures[0].Index != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestRecordHints(t *testing.T) {
	rec := AnswerRecord{Text: "가 나\n다", RawText: "가나", Confidence: 0.9}
	if rec.CharCount() != 3 {
		t.Errorf("CharCount() = %d", rec.CharCount())
	}
	if rec.LengthDrift() != 1 {
		t.Errorf("LengthDrift() = %d", rec.LengthDrift())
	}
	if !rec.NeedsReview() {
		t.Error("unmatched record needs review")
	}
	rec.Assign(4)
	if rec.NeedsReview() {
		t.Error("matched confident record should not need review")
	}
	rec.Text = strings.Repeat("가", 60)
	if !rec.NeedsReview() {
		t.Error("large drift needs review")
	}
	rec.Unassign()
	if rec.Row != nil || rec.Status != StatusUnmatched || rec.Manual {
		t.Errorf("Unassign() = %+v", rec)
	}
}

func TestSessionFile(t *testing.T) {
	row := 3
	s := NewSession(2)
	s.Source = "scan.pdf"
	s.Records = []AnswerRecord{{
		Name: "고훈서", Lesson: 2, QuestionNum: 1, Row: &row, Status: StatusMatched,
		Pages: []int{1}, Text: "첫 줄\n\n둘째 문단", Confidence: 0.9, Outcome: transcribe.Success,
	}}
	s.Warnings = []Warning{{Page: 2, Message: "no student context"}}

	for _, name := range []string{"session.yaml", "session.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sessions", name)
			if err := s.WriteFile(path); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			got, err := ReadSession(path)
			if err != nil {
				t.Fatalf("ReadSession() error = %v", err)
			}
			if got.ID != s.ID || got.Source != s.Source || len(got.Records) != 1 || len(got.Warnings) != 1 {
				t.Fatalf("got %+v", got)
			}
			rec := got.Records[0]
			if rec.Text != s.Records[0].Text || !rec.Matched() || *rec.Row != 3 {
				t.Errorf("record = %+v", rec)
			}
		})
	}
}

func TestReadSession_HandEditedRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	data := `id: s1
lesson: 2
records:
  - name: 고훈서
    lesson: 2
    question_num: 1
    status: unmatched
    matched_row: 3
    text: 답안
  - name: 김민지
    lesson: 2
    question_num: 1
    matched_row: 2
    text: 답안
  - name: 이름없음
    lesson: 2
    question_num: 2
    status: matched
    text: 답안
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := ReadSession(path)
	if err != nil {
		t.Fatalf("ReadSession() error = %v", err)
	}
	for i, want := range []int{3, 2} {
		rec := s.Records[i]
		if !rec.Matched() || *rec.Row != want || !rec.Manual {
			t.Errorf("record %d = %+v, want manual row %d", i, rec, want)
		}
	}
	if rec := s.Records[2]; rec.Matched() || rec.Status != StatusUnmatched {
		t.Errorf("record without row = %+v", rec)
	}

	// The assignment survives a rematch and is saved.
	f := newFixture(t)
	r := NewReviewer(f.roster, 1, nil)
	if _, err := r.RematchSession(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if *s.Records[0].Row != 3 {
		t.Errorf("rematch moved row to %d", *s.Records[0].Row)
	}
	report, err := r.Save(context.Background(), s)
	if err != nil || report.Saved != 2 {
		t.Errorf("Save() = %+v, %v", report, err)
	}
}

func TestPairPages(t *testing.T) {
	in := []render.Page{{Num: 4}, {Num: 1}, {Num: 3}, {Num: 2}, {Num: 5}}
	pairs := pairPages(in)
	if len(pairs) != 3 {
		t.Fatalf("got %d pairs", len(pairs))
	}
	want := [][]int{{1, 2}, {3, 4}, {5}}
	for i, pair := range pairs {
		if len(pair) != len(want[i]) {
			t.Fatalf("pair %d = %v", i, pair)
		}
		for j, page := range pair {
			if page.Num != want[i][j] {
				t.Errorf("pair %d[%d] = %d", i, j, page.Num)
			}
		}
	}
}
