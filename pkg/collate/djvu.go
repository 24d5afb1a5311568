// Package collate assembles staged page images into one multi-page document.
// The concrete mechanism is DjVu via the DjVuLibre tools; the pipeline only
// depends on the Collator interface.
package collate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/arkivtools/dokufetch/pkg/logging"
)

// ErrCollation is returned when the external assembly step fails or produces
// no output file.
var ErrCollation = errors.New("collation failed")

var collationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dokufetch_collations_total",
	Help: "Total collation runs by status",
}, []string{"status"})

var commandContext = exec.CommandContext

// Collator produces one output document from ordered page image paths. It
// performs no reordering; the supplied order is trusted.
type Collator interface {
	Collate(ctx context.Context, pagePaths []string, outputPath string) error
}

// CollatorFunc adapts a function to the Collator interface.
type CollatorFunc func(ctx context.Context, pagePaths []string, outputPath string) error

// Collate implements Collator.
func (f CollatorFunc) Collate(ctx context.Context, pagePaths []string, outputPath string) error {
	return f(ctx, pagePaths, outputPath)
}

// Option configures the DjVu collator.
type Option func(*DjvuCollator)

// WithCjb2 overrides the cjb2 binary name.
func WithCjb2(binary string) Option {
	return func(c *DjvuCollator) {
		if binary != "" {
			c.cjb2 = binary
		}
	}
}

// WithDjvm overrides the djvm binary name.
func WithDjvm(binary string) Option {
	return func(c *DjvuCollator) {
		if binary != "" {
			c.djvm = binary
		}
	}
}

// DjvuCollator wraps the DjVuLibre command-line tools: each page is encoded
// with cjb2 and appended to the book with djvm.
type DjvuCollator struct {
	cjb2   string
	djvm   string
	logger zerolog.Logger
}

// NewDjvuCollator constructs a collator using default binary names.
func NewDjvuCollator(opts ...Option) *DjvuCollator {
	c := &DjvuCollator{
		cjb2:   "cjb2",
		djvm:   "djvm",
		logger: logging.NewLogger("collate"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckTools verifies the DjVuLibre binaries are on PATH and executable.
func (c *DjvuCollator) CheckTools() error {
	for _, tool := range []string{c.cjb2, c.djvm} {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("required tool %q not found on PATH: %w", tool, err)
		}
	}
	return nil
}

// Collate encodes the pages in the supplied order into one DjVu document at
// outputPath. On any failure the partial output is removed so no corrupt
// document is left behind.
func (c *DjvuCollator) Collate(ctx context.Context, pagePaths []string, outputPath string) error {
	if len(pagePaths) == 0 {
		return fmt.Errorf("%w: no pages to collate", ErrCollation)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	if err := c.assemble(ctx, pagePaths, outputPath); err != nil {
		os.Remove(outputPath)
		collationsTotal.WithLabelValues("error").Inc()
		return err
	}

	if _, err := os.Stat(outputPath); err != nil {
		collationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: no output produced at %s", ErrCollation, outputPath)
	}

	collationsTotal.WithLabelValues("ok").Inc()
	c.logger.Info().
		Str("output", outputPath).
		Int("pages", len(pagePaths)).
		Msg("collated document")

	return nil
}

func (c *DjvuCollator) assemble(ctx context.Context, pagePaths []string, outputPath string) error {
	tmpDir, err := os.MkdirTemp("", "dokufetch-collate-")
	if err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	tmpPage := filepath.Join(tmpDir, "page.djvu")

	for i, page := range pagePaths {
		if err := c.run(ctx, c.cjb2, "-clean", page, tmpPage); err != nil {
			return err
		}

		// djvm -c creates the book from the first page, -i appends the rest.
		mode := "-i"
		if i == 0 {
			mode = "-c"
		}
		if err := c.run(ctx, c.djvm, mode, outputPath, tmpPage); err != nil {
			return err
		}
	}

	return nil
}

func (c *DjvuCollator) run(ctx context.Context, name string, args ...string) error {
	c.logger.Debug().
		Str("command", name).
		Strs("args", args).
		Msg("running collation tool")

	cmd := commandContext(ctx, name, args...) //nolint:gosec
	out, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(out))
		if detail != "" {
			return fmt.Errorf("%w: %s %s: %v: %s", ErrCollation, name, strings.Join(args, " "), err, detail)
		}
		return fmt.Errorf("%w: %s %s: %v", ErrCollation, name, strings.Join(args, " "), err)
	}
	return nil
}
