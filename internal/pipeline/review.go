package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Reviewer rematches and saves records. It needs only the roster, so review
// commands can run without recognition services configured.
type Reviewer struct {
	roster  RosterStore
	workers int
	logger  *slog.Logger
}

// NewReviewer creates a Reviewer. workers bounds concurrent roster writes.
func NewReviewer(r RosterStore, workers int, logger *slog.Logger) *Reviewer {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reviewer{roster: r, workers: workers, logger: logger.With("component", "review")}
}

// Rematch runs roster matching for rec again, typically after its name or
// lesson was corrected. It replaces any manual assignment.
func (p *Reviewer) Rematch(ctx context.Context, rec *AnswerRecord) error {
	rec.Unassign()
	if rec.Name == "" || rec.Lesson <= 0 {
		return nil
	}
	e, ok, err := p.roster.Match(ctx, rec.Lesson, rec.Name)
	if err != nil {
		return fmt.Errorf("match %q in lesson %d: %w", rec.Name, rec.Lesson, err)
	}
	if ok {
		row := e.Row
		rec.Row = &row
		rec.Status = StatusMatched
	}
	return nil
}

// RematchSession rematches every record that was not assigned by hand and
// returns how many changed status or row.
func (p *Reviewer) RematchSession(ctx context.Context, s *Session) (int, error) {
	changed := 0
	var errs []error
	for i := range s.Records {
		rec := &s.Records[i]
		if rec.Manual {
			continue
		}
		before, beforeRow := rec.Status, rowOf(rec)
		if err := p.Rematch(ctx, rec); err != nil {
			errs = append(errs, err)
			continue
		}
		if rec.Status != before || rowOf(rec) != beforeRow {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

func rowOf(rec *AnswerRecord) int {
	if rec.Row == nil {
		return 0
	}
	return *rec.Row
}

// SaveFailure is one record that could not be written.
type SaveFailure struct {
	Index int    `json:"index" yaml:"index"`
	Error string `json:"error" yaml:"error"`
}

// SaveReport summarizes Save.
type SaveReport struct {
	Saved    int           `json:"saved" yaml:"saved"`
	Skipped  int           `json:"skipped" yaml:"skipped"`
	Failures []SaveFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Save writes every matched record with text to the roster. Unmatched and
// empty records are skipped. Write failures are collected in the report.
func (p *Reviewer) Save(ctx context.Context, s *Session) (SaveReport, error) {
	var (
		mu     sync.Mutex
		report SaveReport
	)
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i := range s.Records {
		rec := s.Records[i]
		if !rec.Matched() || rec.Text == "" {
			report.Skipped++
			continue
		}
		g.Go(func() error {
			err := p.roster.WriteAnswer(ctx, rec.Lesson, *rec.Row, rec.QuestionNum, rec.Text)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.logger.Error("save failed", "record", i, "name", rec.Name, "error", err)
				report.Failures = append(report.Failures, SaveFailure{Index: i, Error: err.Error()})
				return nil
			}
			report.Saved++
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(report.Failures, func(a, b int) bool { return report.Failures[a].Index < report.Failures[b].Index })

	if err := ctx.Err(); err != nil {
		return report, err
	}
	p.logger.Info("session saved", "saved", report.Saved, "skipped", report.Skipped, "failed", len(report.Failures))
	return report, nil
}
