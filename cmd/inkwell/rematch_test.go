package main

import (
	"testing"

	"github.com/jackzampolin/inkwell/internal/pipeline"
)

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"0=5", " 3 = 12 "})
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 5 || got[3] != 12 || len(got) != 2 {
		t.Errorf("got %v", got)
	}

	for _, bad := range []string{"5", "x=3", "1=y", "1=1", "1=0"} {
		if _, err := parseAssignments([]string{bad}); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestSummarize(t *testing.T) {
	row := 4
	sess := &pipeline.Session{Records: []pipeline.AnswerRecord{
		{Name: "김민지", QuestionNum: 1, Row: &row, Status: pipeline.StatusMatched, Text: "답", RawText: "답", Confidence: 0.9},
		{Name: "김민지", QuestionNum: 2, Row: &row, Status: pipeline.StatusMatched, Text: "답", RawText: "답", Confidence: 0.6},
		{Name: "", QuestionNum: 1, Status: pipeline.StatusUnmatched},
	}}
	sum := summarize("s.yaml", sess)
	if sum.Records != 3 || sum.Matched != 2 {
		t.Errorf("counts = %+v", sum)
	}
	if len(sum.Unmatched) != 1 || sum.Unmatched[0].Index != 2 {
		t.Errorf("unmatched = %+v", sum.Unmatched)
	}
	// Unmatched records are listed once, not again under needs_review.
	if len(sum.NeedsReview) != 1 || sum.NeedsReview[0].Index != 1 {
		t.Errorf("needs review = %+v", sum.NeedsReview)
	}
}
