// Package download fetches the page images of an article concurrently and
// stages them on disk in the scan's page order.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/arkivtools/dokufetch/pkg/client"
	"github.com/arkivtools/dokufetch/pkg/logging"
	"github.com/arkivtools/dokufetch/pkg/resolver"
)

// Prometheus metrics for page downloads.
var (
	pagesDownloadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dokufetch_pages_downloaded_total",
		Help: "Total page images downloaded",
	})

	pageBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dokufetch_page_bytes_total",
		Help: "Total page image bytes downloaded",
	})
)

// PageFetcher downloads a single page image.
type PageFetcher struct {
	client *client.Client
	logger zerolog.Logger
}

// NewPageFetcher creates a page fetcher backed by the given client.
func NewPageFetcher(c *client.Client) *PageFetcher {
	return &PageFetcher{
		client: c,
		logger: logging.NewLogger("fetcher"),
	}
}

// Fetch downloads one page image and returns its bytes. Transient errors are
// retried by the client; a permanently missing binary maps to
// resolver.ErrPageMissing.
func (f *PageFetcher) Fetch(ctx context.Context, ref resolver.PageRef) ([]byte, error) {
	query := url.Values{}
	query.Set("profile", ref.Profile)
	query.Set("mimeType", ref.MimeType)
	endpoint := "/binaryDownload/" + url.PathEscape(ref.Reference) + "?" + query.Encode()

	resp, err := f.client.Get(ctx, endpoint)
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return nil, fmt.Errorf("page image %s: %w", ref.Reference, resolver.ErrPageMissing)
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read page image %s: %w", ref.Reference, err)
	}

	pagesDownloadedTotal.Inc()
	pageBytesTotal.Add(float64(len(data)))

	f.logger.Debug().
		Str("reference", ref.Reference).
		Int("page", ref.Index+1).
		Int("bytes", len(data)).
		Msg("fetched page image")

	return data, nil
}

// Config holds downloader configuration.
type Config struct {
	// WorkDir is the root of the staging area; each article stages into its
	// own subdirectory.
	WorkDir string

	// MaxConcurrency caps simultaneous page downloads within one article.
	MaxConcurrency int

	// PageTimeout bounds a single page fetch including its retries.
	PageTimeout time.Duration
}

// DefaultConfig returns safe defaults for the given staging root.
func DefaultConfig(workDir string) Config {
	return Config{
		WorkDir:        workDir,
		MaxConcurrency: 4,
		PageTimeout:    2 * time.Minute,
	}
}

// StagedPage is a locally persisted page image pending collation.
type StagedPage struct {
	Ref  resolver.PageRef
	Path string
}

// Downloader stages all pages of an article.
type Downloader struct {
	resolver *resolver.Resolver
	fetcher  *PageFetcher
	config   Config
	logger   zerolog.Logger
}

// New creates a downloader.
func New(res *resolver.Resolver, fetcher *PageFetcher, cfg Config) *Downloader {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 2 * time.Minute
	}
	return &Downloader{
		resolver: res,
		fetcher:  fetcher,
		config:   cfg,
		logger:   logging.NewLogger("downloader"),
	}
}

// Resolve returns the article's ordered page references.
func (d *Downloader) Resolve(ctx context.Context, articleID string) ([]resolver.PageRef, error) {
	return d.resolver.Resolve(ctx, articleID)
}

// Stage fetches all referenced pages with a bounded worker pool and writes
// them under WorkDir/articleID. Staged file names carry the zero-padded page
// index so lexical order matches page order regardless of which fetch
// finishes first. The first page failure aborts the remaining fetches and
// removes the staging directory; a document with gaps is never produced.
func (d *Downloader) Stage(ctx context.Context, articleID string, refs []resolver.PageRef) ([]StagedPage, error) {
	dir := d.stagingDir(articleID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	pages := make([]StagedPage, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.MaxConcurrency)

	for _, ref := range refs {
		g.Go(func() error {
			pageCtx, cancel := context.WithTimeout(gctx, d.config.PageTimeout)
			defer cancel()

			data, err := d.fetcher.Fetch(pageCtx, ref)
			if err != nil {
				return fmt.Errorf("page %d (%s): %w", ref.Index+1, ref.FileName, err)
			}

			path := filepath.Join(dir, stagedName(ref))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("stage page %d: %w", ref.Index+1, err)
			}

			// Workers write disjoint indices; page order is fixed by the
			// resolver regardless of completion order.
			pages[ref.Index] = StagedPage{Ref: ref, Path: path}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if cleanupErr := d.Cleanup(articleID); cleanupErr != nil {
			d.logger.Error().
				Err(cleanupErr).
				Str("article_id", articleID).
				Msg("failed to clean staging directory")
		}
		return nil, err
	}

	d.logger.Info().
		Str("article_id", articleID).
		Int("pages", len(pages)).
		Msg("staged article pages")

	return pages, nil
}

// Download resolves and stages an article in one step.
func (d *Downloader) Download(ctx context.Context, articleID string) ([]StagedPage, error) {
	refs, err := d.Resolve(ctx, articleID)
	if err != nil {
		return nil, err
	}
	return d.Stage(ctx, articleID, refs)
}

// Cleanup removes the article's staging directory. Safe to call on all exit
// paths; removing an absent directory is not an error.
func (d *Downloader) Cleanup(articleID string) error {
	return os.RemoveAll(d.stagingDir(articleID))
}

func (d *Downloader) stagingDir(articleID string) string {
	return filepath.Join(d.config.WorkDir, articleID)
}

// stagedName builds the on-disk name for a page: zero-padded index prefix
// plus the sanitized original file name.
func stagedName(ref resolver.PageRef) string {
	name := filepath.Base(strings.ReplaceAll(ref.FileName, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		name = ref.Reference + ".tif"
	}
	return fmt.Sprintf("%04d_%s", ref.Index, name)
}
