package pipeline

import (
	"context"
	"fmt"

	"github.com/jackzampolin/inkwell/internal/crop"
	"github.com/jackzampolin/inkwell/internal/render"
	"github.com/jackzampolin/inkwell/internal/transcribe"
)

type state int

const (
	awaitingOdd state = iota
	awaitingEven
)

func (s state) String() string {
	if s == awaitingEven {
		return "awaiting_even"
	}
	return "awaiting_odd"
}

// studentContext is the identity carried from an odd page to its even page.
type studentContext struct {
	name    string
	lesson  int
	academy string
	page    int
}

// machine pairs pages into records. Pages must be fed in ascending order.
type machine struct {
	p        *Pipeline
	state    state
	current  *studentContext
	oddPage  int
	records  []AnswerRecord
	warnings []Warning
}

// newMachine starts in awaitingOdd with no student context.
func newMachine(p *Pipeline) *machine {
	return &machine{p: p}
}

func (m *machine) warn(page int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	m.p.logger.Warn(msg, "page", page, "state", m.state.String())
	m.warnings = append(m.warnings, Warning{Page: page, Message: msg})
}

func (m *machine) feed(ctx context.Context, page render.Page) {
	if page.Num%2 == 1 {
		if m.state == awaitingEven {
			m.orphan()
		}
		m.odd(ctx, page)
		return
	}

	if m.state == awaitingOdd {
		m.warn(page.Num, "page %d has no preceding odd page, skipped", page.Num)
		return
	}
	student := m.current
	m.state, m.current = awaitingOdd, nil
	if student == nil {
		m.warn(page.Num, "no student context for page %d (header on page %d failed), skipped", page.Num, m.oddPage)
		return
	}
	m.even(ctx, page, student)
}

// finish closes out the stream. An odd page whose header succeeded but whose
// even page never arrived gets a warning.
func (m *machine) finish() {
	if m.state == awaitingEven {
		m.orphan()
	}
}

func (m *machine) orphan() {
	if m.current != nil {
		m.warn(m.oddPage, "page %d has no following even page; question 2 for %q missing", m.oddPage, m.current.name)
	}
	m.state, m.current = awaitingOdd, nil
}

func (m *machine) odd(ctx context.Context, page render.Page) {
	m.state, m.current, m.oddPage = awaitingEven, nil, page.Num

	info := m.p.header.Extract(ctx, page.Image)
	lesson := m.p.lesson
	if lesson <= 0 {
		lesson = info.Lesson
	}

	rec := AnswerRecord{
		Name:        info.Name,
		Lesson:      lesson,
		QuestionNum: crop.SlotQ1.QuestionNum(),
		Academy:     info.Academy,
		Pages:       []int{page.Num},
	}
	if info.Failed() {
		m.warn(page.Num, "header extraction failed on page %d: %s", page.Num, info.Error)
	} else {
		m.current = &studentContext{name: info.Name, lesson: lesson, academy: info.Academy, page: page.Num}
		if info.QuestionNum != 0 && info.QuestionNum != rec.QuestionNum {
			rec.warn(fmt.Sprintf("header question number %d ignored; odd pages hold question %d", info.QuestionNum, rec.QuestionNum))
		}
	}

	m.answer(ctx, page, crop.SlotQ1, rec)
}

func (m *machine) even(ctx context.Context, page render.Page, student *studentContext) {
	rec := AnswerRecord{
		Name:        student.name,
		Lesson:      student.lesson,
		QuestionNum: crop.SlotQ2.QuestionNum(),
		Academy:     student.academy,
		Pages:       []int{page.Num},
	}
	m.answer(ctx, page, crop.SlotQ2, rec)
}

// answer runs reference lookup, crop, transcription and roster matching for
// one slot. A fatal transcription drops the record.
func (m *machine) answer(ctx context.Context, page render.Page, slot crop.Slot, rec AnswerRecord) {
	rec.Reference = m.p.reference(ctx, &rec)

	image := page.Image
	if m.p.cropper != nil {
		cropped, err := m.p.cropper.Apply(page.Image, slot)
		if err != nil {
			m.p.logger.Warn("crop failed, using full page", "page", page.Num, "slot", slot, "error", err)
			rec.warn(fmt.Sprintf("crop failed, full page used: %v", err))
		} else {
			image = cropped
		}
	}

	res := m.p.transcriber.Process(ctx, image, rec.Reference)
	if res.Outcome == transcribe.Fatal {
		m.warn(page.Num, "question %d on page %d dropped: %v", rec.QuestionNum, page.Num, res.Err)
		return
	}
	if res.Warning != "" {
		rec.warn(res.Warning)
	}
	rec.Text = res.Text
	rec.RawText = res.RawText
	rec.Confidence = res.Confidence
	rec.Outcome = res.Outcome
	if d := rec.LengthDrift(); d > DriftLimit || d < -DriftLimit {
		rec.warn(fmt.Sprintf("restored text length differs from raw OCR by %d characters", d))
	}

	if err := m.p.Rematch(ctx, &rec); err != nil {
		rec.warn(fmt.Sprintf("roster lookup failed: %v", err))
	}
	m.records = append(m.records, rec)
}
