// Package pipeline turns a scanned stack of answer sheets into answer records.
//
// Pages come in pairs: the odd page carries the student's header and question
// 1, the even page question 2. Pairs are independent and may be processed
// concurrently; pages within a pair run in order on one goroutine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/inkwell/internal/crop"
	"github.com/jackzampolin/inkwell/internal/header"
	"github.com/jackzampolin/inkwell/internal/reference"
	"github.com/jackzampolin/inkwell/internal/render"
	"github.com/jackzampolin/inkwell/internal/roster"
	"github.com/jackzampolin/inkwell/internal/transcribe"
)

var (
	// ErrNoPages is returned by Run when there is nothing to process.
	ErrNoPages = render.ErrNoPages
	// ErrMissingComponent is returned by New when a required collaborator is nil.
	ErrMissingComponent = errors.New("pipeline component missing")
)

// HeaderReader extracts the identity block from an odd page.
type HeaderReader interface {
	Extract(ctx context.Context, image []byte) header.Info
}

// ReferenceFinder looks up reference material for a question.
type ReferenceFinder interface {
	Find(ctx context.Context, lesson, questionNum int) (reference.Bundle, bool, error)
}

// Transcriber runs OCR and restoration on a cropped answer.
type Transcriber interface {
	Process(ctx context.Context, image []byte, ref reference.Bundle) transcribe.Result
}

// RosterStore matches names to roster rows and stores answers.
type RosterStore interface {
	Match(ctx context.Context, lesson int, name string) (roster.Entry, bool, error)
	WriteAnswer(ctx context.Context, lesson, row, questionNum int, text string) error
}

// Cropper cuts a slot's answer area out of a page.
type Cropper interface {
	Apply(page []byte, slot crop.Slot) ([]byte, error)
}

// Config configures a Pipeline. Reference and Cropper are optional.
type Config struct {
	Header      HeaderReader
	Reference   ReferenceFinder
	Transcriber Transcriber
	Roster      RosterStore
	Cropper     Cropper

	Workers int // Concurrent page pairs, default 1
	Lesson  int // Overrides the header lesson when > 0
	Logger  *slog.Logger
}

// Pipeline processes documents. Its Reviewer handles rematching and saving.
type Pipeline struct {
	*Reviewer

	header      HeaderReader
	refs        ReferenceFinder
	transcriber Transcriber
	cropper     Cropper
	workers     int
	lesson      int
	logger      *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Header == nil:
		return nil, fmt.Errorf("%w: header extractor", ErrMissingComponent)
	case cfg.Transcriber == nil:
		return nil, fmt.Errorf("%w: transcriber", ErrMissingComponent)
	case cfg.Roster == nil:
		return nil, fmt.Errorf("%w: roster", ErrMissingComponent)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Reviewer:    NewReviewer(cfg.Roster, cfg.Workers, logger),
		header:      cfg.Header,
		refs:        cfg.Reference,
		transcriber: cfg.Transcriber,
		cropper:     cfg.Cropper,
		workers:     cfg.Workers,
		lesson:      cfg.Lesson,
		logger:      logger.With("component", "pipeline"),
	}, nil
}

// Run processes pages and returns the session. Per-page failures become
// warnings; only an empty input or cancellation is an error.
func (p *Pipeline) Run(ctx context.Context, pages []render.Page) (*Session, error) {
	if len(pages) == 0 {
		return nil, ErrNoPages
	}
	pairs := pairPages(pages)
	p.logger.Info("processing document", "pages", len(pages), "pairs", len(pairs), "workers", p.workers)

	results := make([]*machine, len(pairs))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, pair := range pairs {
		g.Go(func() error {
			m := newMachine(p)
			for _, page := range pair {
				if ctx.Err() != nil {
					break
				}
				m.feed(ctx, page)
			}
			m.finish()
			results[i] = m
			return nil
		})
	}
	_ = g.Wait()

	s := NewSession(p.lesson)
	for _, m := range results {
		s.Records = append(s.Records, m.records...)
		s.Warnings = append(s.Warnings, m.warnings...)
	}
	s.Sort()

	if err := ctx.Err(); err != nil {
		return s, fmt.Errorf("processing interrupted: %w", err)
	}
	p.logger.Info("document processed", "records", len(s.Records), "warnings", len(s.Warnings), "unmatched", len(s.Unmatched()))
	return s, nil
}

// pairPages sorts pages and groups page 2k-1 with page 2k.
func pairPages(pages []render.Page) [][]render.Page {
	sorted := append([]render.Page(nil), pages...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Num < sorted[j].Num })

	var pairs [][]render.Page
	index := make(map[int]int)
	for _, page := range sorted {
		k := (page.Num + 1) / 2
		i, ok := index[k]
		if !ok {
			i = len(pairs)
			index[k] = i
			pairs = append(pairs, nil)
		}
		pairs[i] = append(pairs[i], page)
	}
	return pairs
}

func (p *Pipeline) reference(ctx context.Context, rec *AnswerRecord) reference.Bundle {
	if p.refs == nil {
		return reference.Bundle{}
	}
	if rec.Lesson <= 0 {
		rec.warn("lesson unknown, reference material skipped")
		return reference.Bundle{}
	}
	b, found, err := p.refs.Find(ctx, rec.Lesson, rec.QuestionNum)
	switch {
	case err != nil:
		p.logger.Warn("reference lookup failed", "lesson", rec.Lesson, "question", rec.QuestionNum, "error", err)
		rec.warn(fmt.Sprintf("reference lookup failed: %v", err))
		return reference.Bundle{}
	case !found:
		rec.warn(fmt.Sprintf("no reference material for lesson %d question %d", rec.Lesson, rec.QuestionNum))
	}
	return b
}

