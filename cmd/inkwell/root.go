package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/inkwell/internal/config"
	"github.com/jackzampolin/inkwell/internal/home"
	"github.com/jackzampolin/inkwell/internal/output"
	"github.com/jackzampolin/inkwell/internal/svcctx"
	"github.com/jackzampolin/inkwell/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "inkwell",
	Short: "Handwritten essay intake: scan, transcribe, match, save",
	Long: `Inkwell turns scanned handwritten answer sheets into text in the class roster.

Each student's answers occupy one odd/even page pair: the odd page carries the
header (name, lesson, academy) and question 1, the even page question 2. For
every answer inkwell:
  - reads the header with a vision model
  - crops the answer area
  - runs handwriting OCR, then restores the text against the lesson's
    reference material
  - matches the student against the lesson roster

Results are written to a session file for review; "inkwell save" writes the
matched answers back to the roster spreadsheet.`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.inkwell/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "inkwell home directory (default: ~/.inkwell)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: debug, info, warn, error",
	)

	// Build services before any command runs
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		output.SetFormat(format)

		level, err := parseLevel(logLevel)
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		mgr, err := config.NewManager(cfgFile, h.Path())
		if err != nil {
			return err
		}
		cmd.SetContext(svcctx.WithServices(cmd.Context(), svcctx.New(mgr, h, logger)))
		return nil
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if s := svcctx.ServicesFrom(cmd.Context()); s != nil {
			return s.Close()
		}
		return nil
	}

	rootCmd.AddCommand(processCmd, saveCmd, rematchCmd, rosterCmd, calibrateCmd, configCmd, versionCmd)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid --log-level %q", s)
	}
	return level, nil
}

// services returns the command's services. PersistentPreRunE always sets them.
func services(cmd *cobra.Command) *svcctx.Services {
	return svcctx.ServicesFrom(cmd.Context())
}
