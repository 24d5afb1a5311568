package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arkivtools/dokufetch/internal/config"
	"github.com/arkivtools/dokufetch/pkg/batch"
	"github.com/arkivtools/dokufetch/pkg/client"
	"github.com/arkivtools/dokufetch/pkg/collate"
	"github.com/arkivtools/dokufetch/pkg/download"
	"github.com/arkivtools/dokufetch/pkg/logging"
	"github.com/arkivtools/dokufetch/pkg/resolver"
)

func newFetchCommand() *cobra.Command {
	var (
		listPath    string
		outputDir   string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download and collate the articles named in a list file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if outputDir != "" {
				cfg.Batch.OutputDir = outputDir
			}
			if concurrency > 0 {
				cfg.Batch.ArticleConcurrency = concurrency
			}

			logging.Setup(logging.Config{
				Level:  logging.LogLevel(cfg.Log.Level),
				Pretty: cfg.Log.Pretty,
				Output: os.Stderr,
			})

			ids, err := readArticleList(listPath)
			if err != nil {
				return err
			}

			return runFetch(cfg, ids, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&listPath, "list", "", "file with one article uuid per line (required)")
	cmd.Flags().StringVar(&outputDir, "output", "", "output directory (overrides batch.output_dir)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "max articles in flight (overrides batch.article_concurrency)")
	_ = cmd.MarkFlagRequired("list")

	return cmd
}

func runFetch(cfg config.Config, ids []string, out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collator := collate.NewDjvuCollator(
		collate.WithCjb2(cfg.Tools.Cjb2),
		collate.WithDjvm(cfg.Tools.Djvm),
	)
	if err := collator.CheckTools(); err != nil {
		return err
	}

	apiClient, err := client.New(client.Config{
		BaseURL: cfg.Service.BaseURL,
		Credentials: client.Credentials{
			Username: cfg.Service.Username,
			Password: cfg.Service.Password,
		},
		UserAgent: cfg.Service.UserAgent,
		Timeout:   cfg.Service.Timeout,
		Retry: client.RetryConfig{
			MaxAttempts:       cfg.Service.RetryAttempts,
			InitialBackoff:    cfg.Service.InitialBackoff,
			MaxBackoff:        cfg.Service.MaxBackoff,
			BackoffMultiplier: 2.0,
		},
	})
	if err != nil {
		return err
	}

	downloader := download.New(
		resolver.New(apiClient),
		download.NewPageFetcher(apiClient),
		download.Config{
			WorkDir:        cfg.Download.WorkDir,
			MaxConcurrency: cfg.Download.PageConcurrency,
			PageTimeout:    cfg.Download.PageTimeout,
		},
	)

	runner := batch.New(apiClient.Session(), downloader, collator, batch.Config{
		OutputDir:             cfg.Batch.OutputDir,
		MaxConcurrentArticles: cfg.Batch.ArticleConcurrency,
	})

	results, err := runner.Run(ctx, ids)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, renderSummary(results))

	logPath, failed, err := writeFailureLog(results)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not write failure log: %v\n", err)
	} else if failed > 0 {
		fmt.Fprintf(out, "%d failed article id(s) written to %s\n", failed, logPath)
	}

	return nil
}

// readArticleList loads article uuids from a UTF-8 text file, one per line.
// Blank lines and #-comments are skipped; a malformed uuid fails the run
// before anything is downloaded.
func readArticleList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open list file: %w", err)
	}
	defer f.Close()

	var ids []string
	lineNo := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, err := uuid.Parse(line); err != nil {
			return nil, fmt.Errorf("%s:%d: %q is not a valid article uuid", path, lineNo, line)
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read list file: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s: no article ids found", path)
	}
	return ids, nil
}

// renderSummary builds the per-article outcome table.
func renderSummary(results []batch.Result) string {
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		detail := res.OutputPath
		stage := ""
		if res.Failed() {
			stage = string(res.Stage)
			detail = res.Err.Error()
		}
		rows = append(rows, []string{
			res.ArticleID,
			string(res.Outcome),
			fmt.Sprintf("%d", res.Pages),
			stage,
			detail,
		})
	}
	return renderTable(
		[]string{"Article", "Outcome", "Pages", "Failed At", "Output / Reason"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

// writeFailureLog records the ids of failed articles in a timestamped log
// file next to the working directory, for feeding back into a later run.
func writeFailureLog(results []batch.Result) (string, int, error) {
	var failed []string
	for _, res := range results {
		if res.Failed() {
			failed = append(failed, res.ArticleID)
		}
	}
	if len(failed) == 0 {
		return "", 0, nil
	}

	path := time.Now().Format("failed-20060102-150405.log")
	content := strings.Join(failed, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", 0, err
	}
	return path, len(failed), nil
}
