package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/inkwell/internal/output"
	"github.com/jackzampolin/inkwell/internal/pipeline"
	"github.com/jackzampolin/inkwell/internal/render"
	"github.com/jackzampolin/inkwell/internal/svcctx"
)

var (
	processLesson  int
	processWorkers int
	processSession string
	processSave    bool
)

var processCmd = &cobra.Command{
	Use:   "process <scan.pdf | image-dir>",
	Short: "Transcribe a scanned document into a review session",
	Long: `Render a scanned PDF (or read a directory of page images), transcribe every
answer and match each student against the roster.

The session is written to ~/.inkwell/sessions (or --session) for review. Edit
names or text there, or set matched_row to pin a record to a roster row (same
as "inkwell rematch --assign"), then run "inkwell rematch" and "inkwell save".

Examples:
  inkwell process scan.pdf --lesson 3
  inkwell process ./pages --workers 4
  inkwell process scan.pdf --save          # write matched answers immediately`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s := services(cmd)
		if err := s.Home.EnsureExists(); err != nil {
			return err
		}

		// Configuration problems stop here, before any page is rendered.
		p, err := s.Pipeline(ctx, svcctx.PipelineOptions{Lesson: processLesson, Workers: processWorkers})
		if err != nil {
			return err
		}

		if s.Config.Path() != "" {
			s.Config.WatchConfig()
		}

		pages, err := loadPages(cmd, s, args[0])
		if err != nil {
			return err
		}

		sess, err := p.Run(ctx, pages)
		if sess == nil {
			return err
		}
		sess.Source = args[0]

		path := processSession
		if path == "" {
			path = s.Home.SessionPath(args[0], sess.CreatedAt, output.GetFormat().Ext())
		}
		if werr := sess.WriteFile(path); werr != nil {
			return werr
		}
		if err != nil {
			// Interrupted: keep what finished so it can be reviewed.
			s.Logger.Warn("partial session saved", "file", path)
			return err
		}

		summary := summarize(path, sess)
		if processSave {
			report, err := p.Save(ctx, sess)
			if err != nil {
				return err
			}
			summary.Save = &report
		}
		return output.Print(summary)
	},
}

func init() {
	processCmd.Flags().IntVar(&processLesson, "lesson", 0, "lesson number for every page (default: read from each header)")
	processCmd.Flags().IntVar(&processWorkers, "workers", 0, "page pairs processed concurrently (default: pipeline.workers)")
	processCmd.Flags().StringVar(&processSession, "session", "", "session file to write (.yaml or .json)")
	processCmd.Flags().BoolVar(&processSave, "save", false, "save matched answers to the roster after processing")
}

func loadPages(cmd *cobra.Command, s *svcctx.Services, src string) ([]render.Page, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return render.LoadImages(src)
	}
	if !strings.EqualFold(filepath.Ext(src), ".pdf") {
		return nil, fmt.Errorf("%s: expected a PDF or a directory of page images", src)
	}
	return s.Renderer().RenderFile(cmd.Context(), src)
}

// sessionSummary is what process, rematch and save print.
type sessionSummary struct {
	Session     string               `json:"session" yaml:"session"`
	Records     int                  `json:"records" yaml:"records"`
	Matched     int                  `json:"matched" yaml:"matched"`
	Unmatched   []recordRef          `json:"unmatched,omitempty" yaml:"unmatched,omitempty"`
	NeedsReview []recordRef          `json:"needs_review,omitempty" yaml:"needs_review,omitempty"`
	Warnings    []pipeline.Warning   `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Save        *pipeline.SaveReport `json:"save,omitempty" yaml:"save,omitempty"`
}

type recordRef struct {
	Index    int    `json:"index" yaml:"index"`
	Name     string `json:"name" yaml:"name"`
	Question int    `json:"question" yaml:"question"`
	Pages    []int  `json:"pages" yaml:"pages"`
	Chars    int    `json:"chars" yaml:"chars"`
}

func summarize(path string, sess *pipeline.Session) sessionSummary {
	ref := func(i int) recordRef {
		r := &sess.Records[i]
		return recordRef{Index: i, Name: r.Name, Question: r.QuestionNum, Pages: r.Pages, Chars: r.CharCount()}
	}
	sum := sessionSummary{Session: path, Records: len(sess.Records), Warnings: sess.Warnings}
	unmatched := sess.Unmatched()
	sum.Matched = len(sess.Records) - len(unmatched)
	for _, i := range unmatched {
		sum.Unmatched = append(sum.Unmatched, ref(i))
	}
	for _, i := range sess.NeedsReview() {
		if sess.Records[i].Matched() {
			sum.NeedsReview = append(sum.NeedsReview, ref(i))
		}
	}
	return sum
}
