package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/jackzampolin/inkwell/internal/resilience"
)

// GoogleConfig configures the Google Sheets client.
type GoogleConfig struct {
	SpreadsheetID   string
	CredentialsFile string // Service-account JSON key file
	CredentialsJSON string // Inline service-account JSON (takes precedence)
	Endpoint        string // API endpoint override (tests)
	Policy          resilience.Policy
	Logger          *slog.Logger

	// Extra client options, appended last.
	Options []option.ClientOption
}

// Google is a Table backed by one Google spreadsheet.
type Google struct {
	svc           *gsheets.Service
	spreadsheetID string
	policy        resilience.Policy
	logger        *slog.Logger
}

// NewGoogle connects to the Sheets API.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("spreadsheet id is required")
	}
	opts := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	opts = append(opts, cfg.Options...)

	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.Policy
	if policy.Timeout == 0 {
		policy.Timeout = 30 * time.Second
	}
	return &Google{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		policy:        policy,
		logger:        logger.With("component", "sheets"),
	}, nil
}

// Rows implements Table.
func (g *Google) Rows(ctx context.Context, sheet string) ([][]string, error) {
	vr, err := resilience.Do(ctx, g.policy, func(ctx context.Context) (*gsheets.ValueRange, error) {
		resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, quoteSheet(sheet)).Context(ctx).Do()
		return resp, classify(err, sheet)
	})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return toStrings(vr.Values), nil
}

// Cell implements Table.
func (g *Google) Cell(ctx context.Context, sheet string, row, col int) (string, error) {
	ref := A1(sheet, row, col)
	vr, err := resilience.Do(ctx, g.policy, func(ctx context.Context) (*gsheets.ValueRange, error) {
		resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, ref).Context(ctx).Do()
		return resp, classify(err, sheet)
	})
	if err != nil {
		return "", fmt.Errorf("read cell %s: %w", ref, err)
	}
	rows := toStrings(vr.Values)
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "", nil
	}
	return rows[0][0], nil
}

// SetCell implements Table. Values are written RAW so answers are never
// reinterpreted as formulas.
func (g *Google) SetCell(ctx context.Context, sheet string, row, col int, value string) error {
	ref := A1(sheet, row, col)
	body := &gsheets.ValueRange{Values: [][]interface{}{{value}}}
	err := resilience.Run(ctx, g.policy, func(ctx context.Context) error {
		_, err := g.svc.Spreadsheets.Values.Update(g.spreadsheetID, ref, body).
			ValueInputOption("RAW").Context(ctx).Do()
		return classify(err, sheet)
	})
	if err != nil {
		return fmt.Errorf("write cell %s: %w", ref, err)
	}
	g.logger.Debug("cell written", "ref", ref, "chars", len([]rune(value)))
	return nil
}

// classify maps API errors onto sentinels and marks client errors permanent.
func classify(err error, sheet string) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusBadRequest && strings.Contains(gerr.Message, "Unable to parse range"):
			return resilience.Permanent(fmt.Errorf("%w: %s", ErrSheetNotFound, sheet))
		case gerr.Code == http.StatusNotFound:
			return resilience.Permanent(fmt.Errorf("%w: %s", ErrSheetNotFound, sheet))
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return err
		case gerr.Code >= 400:
			return resilience.Permanent(err)
		}
	}
	return err
}

func toStrings(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		r := make([]string, len(row))
		for j, v := range row {
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok {
				r[j] = s
			} else {
				r[j] = fmt.Sprint(v)
			}
		}
		out[i] = r
	}
	return out
}

var _ Table = (*Google)(nil)
