// Package render turns scanned PDFs into ordered page images.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"
)

// ErrNoPages is returned when a document yields nothing to process.
var ErrNoPages = errors.New("document has no pages")

// Page is one rendered page. Num is 1-based.
type Page struct {
	Num   int
	Image []byte // PNG
}

// Config configures a Renderer.
type Config struct {
	DPI     int    // Default 200
	Workers int    // Default runtime.NumCPU()
	Tool    string // pdftoppm binary, default "pdftoppm"
	Logger  *slog.Logger
}

// Renderer renders PDF pages with pdftoppm (poppler-utils).
type Renderer struct {
	dpi     int
	workers int
	tool    string
	logger  *slog.Logger
}

// New creates a Renderer.
func New(cfg Config) *Renderer {
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Tool == "" {
		cfg.Tool = "pdftoppm"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{dpi: cfg.DPI, workers: cfg.Workers, tool: cfg.Tool, logger: logger.With("component", "render")}
}

// Render renders every page of pdf in page order.
func (r *Renderer) Render(ctx context.Context, pdf []byte) ([]Page, error) {
	count, err := api.PageCount(bytes.NewReader(pdf), nil)
	if err != nil {
		return nil, fmt.Errorf("read PDF: %w", err)
	}
	if count == 0 {
		return nil, ErrNoPages
	}

	tmpDir, err := os.MkdirTemp("", "inkwell-render-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(pdfPath, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write temp PDF: %w", err)
	}

	pages := make([]Page, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := 1; i <= count; i++ {
		num := i
		g.Go(func() error {
			img, err := r.renderPage(gctx, pdfPath, tmpDir, num)
			if err != nil {
				return fmt.Errorf("render page %d: %w", num, err)
			}
			pages[num-1] = Page{Num: num, Image: img}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	r.logger.Info("PDF rendered", "pages", count, "dpi", r.dpi)
	return pages, nil
}

// RenderFile reads and renders the PDF at path.
func (r *Renderer) RenderFile(ctx context.Context, path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return r.Render(ctx, data)
}

func (r *Renderer) renderPage(ctx context.Context, pdfPath, tmpDir string, num int) ([]byte, error) {
	prefix := filepath.Join(tmpDir, fmt.Sprintf("page-%04d", num))
	page := strconv.Itoa(num)

	// -singlefile writes <prefix>.png with no page suffix.
	cmd := exec.CommandContext(ctx, r.tool,
		"-png",
		"-f", page,
		"-l", page,
		"-r", strconv.Itoa(r.dpi),
		"-singlefile",
		pdfPath,
		prefix,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s failed: %w (output: %s)", r.tool, err, strings.TrimSpace(string(output)))
	}
	data, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("%s did not create expected output: %w", r.tool, err)
	}
	return data, nil
}

var imageExt = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

var lastNumber = regexp.MustCompile(`(\d+)\D*$`)

// LoadImages reads already-rendered page images from dir. Files are ordered
// by the last number in their name (page_2.png before page_10.png) and
// renumbered from 1.
func LoadImages(dir string) ([]Page, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !imageExt[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, ErrNoPages
	}
	sortByNumber(names)

	pages := make([]Page, 0, len(names))
	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		pages = append(pages, Page{Num: i + 1, Image: data})
	}
	return pages, nil
}

// sortByNumber orders names by their trailing number; unnumbered names first.
func sortByNumber(names []string) {
	num := func(s string) int {
		m := lastNumber.FindStringSubmatch(strings.TrimSuffix(s, filepath.Ext(s)))
		if m == nil {
			return -1
		}
		n, _ := strconv.Atoi(m[1])
		return n
	}
	sort.SliceStable(names, func(i, j int) bool {
		ni, nj := num(names[i]), num(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})
}
