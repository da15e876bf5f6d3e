package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/inkwell/internal/output"
	"github.com/jackzampolin/inkwell/internal/roster"
)

var rosterLesson int

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "List the students of a lesson sheet",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rosterLesson <= 0 {
			return fmt.Errorf("--lesson is required")
		}
		r, err := services(cmd).Roster(cmd.Context())
		if err != nil {
			return err
		}
		students, err := r.Students(cmd.Context(), rosterLesson)
		if err != nil {
			return err
		}
		return output.Print(map[string]any{
			"sheet":    roster.SheetName(rosterLesson),
			"columns":  r.Columns(),
			"students": students,
		})
	},
}

func init() {
	rosterCmd.Flags().IntVar(&rosterLesson, "lesson", 0, "lesson number")
}
