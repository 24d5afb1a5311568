// Package batch drives the download-and-collation pipeline over a list of
// article identifiers, isolating per-article failures.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/arkivtools/dokufetch/pkg/client"
	"github.com/arkivtools/dokufetch/pkg/collate"
	"github.com/arkivtools/dokufetch/pkg/download"
	"github.com/arkivtools/dokufetch/pkg/logging"
)

var articlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dokufetch_articles_total",
	Help: "Total articles processed by outcome",
}, []string{"outcome"})

// Config holds batch runner configuration.
type Config struct {
	// OutputDir receives one document file per successful article.
	OutputDir string

	// MaxConcurrentArticles caps simultaneous in-flight articles.
	MaxConcurrentArticles int
}

// DefaultConfig returns safe defaults for the given output directory.
func DefaultConfig(outputDir string) Config {
	return Config{
		OutputDir:             outputDir,
		MaxConcurrentArticles: 2,
	}
}

// Runner orchestrates the per-article pipeline over a whole input list.
type Runner struct {
	session    *client.Session
	downloader *download.Downloader
	collator   collate.Collator
	config     Config
	logger     zerolog.Logger
}

// New creates a batch runner.
func New(session *client.Session, downloader *download.Downloader, collator collate.Collator, cfg Config) *Runner {
	if cfg.MaxConcurrentArticles <= 0 {
		cfg.MaxConcurrentArticles = 2
	}
	return &Runner{
		session:    session,
		downloader: downloader,
		collator:   collator,
		config:     cfg,
		logger:     logging.NewLogger("batch"),
	}
}

// Run processes every article and returns one Result per input identifier,
// in input order. Per-article failures never abort the batch; the only
// run-level fatal condition is failing to authenticate at all, since no
// article could succeed in that state.
func (r *Runner) Run(ctx context.Context, articleIDs []string) ([]Result, error) {
	start := time.Now()

	if err := r.session.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	if err := os.MkdirAll(r.config.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	r.logger.Info().
		Int("articles", len(articleIDs)).
		Int("concurrency", r.config.MaxConcurrentArticles).
		Msg("starting batch")

	results := make([]Result, len(articleIDs))

	// Plain group without shared cancellation: one failed article must not
	// cancel the others. Tasks record their outcome and always return nil.
	g := new(errgroup.Group)
	g.SetLimit(r.config.MaxConcurrentArticles)

	for i, id := range articleIDs {
		g.Go(func() error {
			results[i] = r.processArticle(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	var done, failed int
	for _, res := range results {
		if res.Failed() {
			failed++
		} else {
			done++
		}
	}

	r.logger.Info().
		Int("done", done).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("batch complete")

	return results, nil
}

// processArticle walks one article through the pipeline state machine and
// converts any error into that article's Failed result.
func (r *Runner) processArticle(ctx context.Context, articleID string) Result {
	res := Result{ArticleID: articleID}

	fail := func(stage Stage, err error) Result {
		res.Outcome = OutcomeFailed
		res.Stage = stage
		res.Err = err
		articlesTotal.WithLabelValues(string(OutcomeFailed)).Inc()
		r.logger.Warn().
			Err(err).
			Str("article_id", articleID).
			Str("stage", string(stage)).
			Msg("article failed")
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(StagePending, fmt.Errorf("cancelled before start: %w", err))
	}

	r.logger.Info().
		Str("article_id", articleID).
		Str("stage", string(StageResolving)).
		Msg("processing article")

	refs, err := r.downloader.Resolve(ctx, articleID)
	if err != nil {
		return fail(StageResolving, err)
	}
	res.Pages = len(refs)

	pages, err := r.downloader.Stage(ctx, articleID, refs)
	if err != nil {
		return fail(StageDownloading, err)
	}
	defer func() {
		if err := r.downloader.Cleanup(articleID); err != nil {
			r.logger.Error().
				Err(err).
				Str("article_id", articleID).
				Msg("failed to clean staging directory")
		}
	}()

	pagePaths := make([]string, len(pages))
	for i, page := range pages {
		pagePaths[i] = page.Path
	}

	outputPath := filepath.Join(r.config.OutputDir, articleID+".djvu")
	if err := r.collator.Collate(ctx, pagePaths, outputPath); err != nil {
		return fail(StageCollating, err)
	}

	res.Outcome = OutcomeDone
	res.OutputPath = outputPath
	articlesTotal.WithLabelValues(string(OutcomeDone)).Inc()

	r.logger.Info().
		Str("article_id", articleID).
		Str("output", outputPath).
		Int("pages", res.Pages).
		Msg("article done")

	return res
}
