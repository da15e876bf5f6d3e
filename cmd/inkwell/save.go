package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/inkwell/internal/output"
	"github.com/jackzampolin/inkwell/internal/pipeline"
)

var saveWorkers int

var saveCmd = &cobra.Command{
	Use:   "save [session]",
	Short: "Write matched answers from a session to the roster",
	Long: `Write every matched answer in a session file to its roster cell.

Unmatched records and records with empty text are skipped. Failed writes are
reported and do not stop the others. Without an argument the newest session in
~/.inkwell/sessions is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s := services(cmd)

		path, err := sessionArg(s.Home, args)
		if err != nil {
			return err
		}
		sess, err := pipeline.ReadSession(path)
		if err != nil {
			return err
		}
		r, err := s.Roster(ctx)
		if err != nil {
			return err
		}

		workers := saveWorkers
		if workers <= 0 {
			workers = s.Config.Get().Pipeline.Workers
		}
		report, err := pipeline.NewReviewer(r, workers, s.Logger).Save(ctx, sess)
		if err != nil {
			return err
		}
		s.Logger.Info("session saved", "file", path, "saved", report.Saved, "failed", len(report.Failures))
		return output.Print(report)
	},
}

func init() {
	saveCmd.Flags().IntVar(&saveWorkers, "workers", 0, "concurrent cell writes (default: pipeline.workers)")
}
