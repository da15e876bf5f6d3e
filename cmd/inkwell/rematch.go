package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/inkwell/internal/home"
	"github.com/jackzampolin/inkwell/internal/output"
	"github.com/jackzampolin/inkwell/internal/pipeline"
)

var (
	rematchAssign   []string
	rematchUnassign []int
)

var rematchCmd = &cobra.Command{
	Use:   "rematch [session]",
	Short: "Re-run roster matching after editing a session",
	Long: `Match every record of a session against the roster again, typically after
correcting names by hand. Records assigned with --assign keep their row on
later rematches.

Record indexes are the ones printed by "inkwell process".

Examples:
  inkwell rematch
  inkwell rematch sessions/20261014-101500-scan.yaml --assign 3=12
  inkwell rematch --unassign 3`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s := services(cmd)

		assigns, err := parseAssignments(rematchAssign)
		if err != nil {
			return err
		}
		path, err := sessionArg(s.Home, args)
		if err != nil {
			return err
		}
		sess, err := pipeline.ReadSession(path)
		if err != nil {
			return err
		}
		for idx := range assigns {
			if idx < 0 || idx >= len(sess.Records) {
				return fmt.Errorf("--assign: record %d out of range (session has %d)", idx, len(sess.Records))
			}
		}
		for _, idx := range rematchUnassign {
			if idx < 0 || idx >= len(sess.Records) {
				return fmt.Errorf("--unassign: record %d out of range (session has %d)", idx, len(sess.Records))
			}
			sess.Records[idx].Unassign()
		}

		r, err := s.Roster(ctx)
		if err != nil {
			return err
		}
		changed, matchErr := pipeline.NewReviewer(r, s.Config.Get().Pipeline.Workers, s.Logger).RematchSession(ctx, sess)
		if matchErr != nil {
			s.Logger.Warn("some records could not be rematched", "error", matchErr)
		}
		for idx, row := range assigns {
			sess.Records[idx].Assign(row)
			changed++
		}

		if err := sess.WriteFile(path); err != nil {
			return err
		}
		s.Logger.Info("session rematched", "file", path, "changed", changed)
		return output.Print(summarize(path, sess))
	},
}

func init() {
	rematchCmd.Flags().StringArrayVar(&rematchAssign, "assign", nil, "pin record to roster row, as index=row (repeatable)")
	rematchCmd.Flags().IntSliceVar(&rematchUnassign, "unassign", nil, "release a pinned record before rematching (repeatable)")
}

// parseAssignments parses index=row pairs.
func parseAssignments(values []string) (map[int]int, error) {
	out := make(map[int]int, len(values))
	for _, v := range values {
		idx, row, ok := strings.Cut(v, "=")
		if !ok {
			return nil, fmt.Errorf("--assign %q: expected index=row", v)
		}
		i, err := strconv.Atoi(strings.TrimSpace(idx))
		if err != nil {
			return nil, fmt.Errorf("--assign %q: bad index", v)
		}
		r, err := strconv.Atoi(strings.TrimSpace(row))
		if err != nil || r < 2 {
			return nil, fmt.Errorf("--assign %q: row must be a sheet row below the header", v)
		}
		out[i] = r
	}
	return out, nil
}

// sessionArg resolves the optional session argument, defaulting to the newest.
func sessionArg(h *home.Dir, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return h.LatestSession()
}
