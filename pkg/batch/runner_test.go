package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arkivtools/dokufetch/internal/testutil"
	"github.com/arkivtools/dokufetch/pkg/client"
	"github.com/arkivtools/dokufetch/pkg/collate"
	"github.com/arkivtools/dokufetch/pkg/download"
	"github.com/arkivtools/dokufetch/pkg/resolver"
)

// copyCollator concatenates the staged pages into the output file, so tests
// can assert both page order and output presence without DjVuLibre.
func copyCollator() collate.Collator {
	return collate.CollatorFunc(func(_ context.Context, pagePaths []string, outputPath string) error {
		var buf []byte
		for _, p := range pagePaths {
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			buf = append(buf, data...)
			buf = append(buf, '\n')
		}
		return os.WriteFile(outputPath, buf, 0o644)
	})
}

func failingCollator(err error) collate.Collator {
	return collate.CollatorFunc(func(_ context.Context, _ []string, _ string) error {
		return err
	})
}

func newTestRunner(t *testing.T, mock *testutil.MockDokumentlager, collator collate.Collator, creds client.Credentials) (*Runner, string) {
	t.Helper()

	c, err := client.New(client.Config{
		BaseURL:     mock.URL(),
		Credentials: creds,
		UserAgent:   "dokufetch-test/0.0.0",
		Timeout:     5 * time.Second,
		Retry: client.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        10 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
	})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	workDir := t.TempDir()
	outputDir := t.TempDir()

	downloadCfg := download.DefaultConfig(workDir)
	downloadCfg.PageTimeout = 5 * time.Second
	d := download.New(resolver.New(c), download.NewPageFetcher(c), downloadCfg)

	return New(c.Session(), d, collator, DefaultConfig(outputDir)), outputDir
}

func validCreds(mock *testutil.MockDokumentlager) client.Credentials {
	return client.Credentials{Username: mock.Username, Password: mock.Password}
}

func TestRun_CompleteArticle(t *testing.T) {
	mock := testutil.NewMockDokumentlager()
	defer mock.Close()
	mock.AddArticle("a1",
		testutil.MockPage{Reference: "ref-1", FileName: "scan_001.tif", Body: []byte("page-one"), Delay: 40 * time.Millisecond},
		testutil.MockPage{Reference: "ref-2", FileName: "scan_002.tif", Body: []byte("page-two")},
		testutil.MockPage{Reference: "ref-3", FileName: "scan_003.tif", Body: []byte("page-three"), Delay: 20 * time.Millisecond},
	)

	runner, outputDir := newTestRunner(t, mock, copyCollator(), validCreds(mock))

	results, err := runner.Run(context.Background(), []string{"a1"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	res := results[0]
	if res.Outcome != OutcomeDone {
		t.Fatalf("outcome = %q (err %v), want %q", res.Outcome, res.Err, OutcomeDone)
	}
	if res.Pages != 3 {
		t.Errorf("pages = %d, want 3", res.Pages)
	}
	if res.OutputPath != filepath.Join(outputDir, "a1.djvu") {
		t.Errorf("output path = %q", res.OutputPath)
	}

	// Pages arrive in scan order despite skewed download delays.
	data, err := os.ReadFile(res.OutputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := "page-one\npage-two\npage-three\n"
	if string(data) != want {
		t.Errorf("collated content = %q, want %q", data, want)
	}
}

func TestRun_MissingPageFailsArticleOnly(t *testing.T) {
	mock := testutil.NewMockDokumentlager()
	defer mock.Close()
	mock.AddArticle("broken",
		testutil.MockPage{Reference: "ref-1", FileName: "scan_001.tif", Body: []byte("page-one")},
		testutil.MockPage{Reference: "ref-2", FileName: "scan_002.tif", Body: []byte("page-two")},
	)
	mock.FailPage("ref-2", 100, 404)
	mock.AddArticle("healthy",
		testutil.MockPage{Reference: "ref-9", FileName: "scan_001.tif", Body: []byte("fine")},
	)

	runner, outputDir := newTestRunner(t, mock, copyCollator(), validCreds(mock))

	results, err := runner.Run(context.Background(), []string{"broken", "healthy"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	broken := results[0]
	if broken.Outcome != OutcomeFailed {
		t.Fatalf("broken outcome = %q, want failed", broken.Outcome)
	}
	if broken.Stage != StageDownloading {
		t.Errorf("broken stage = %q, want %q", broken.Stage, StageDownloading)
	}
	if !errors.Is(broken.Err, resolver.ErrPageMissing) {
		t.Errorf("broken err = %v, want ErrPageMissing", broken.Err)
	}
	if !strings.Contains(broken.Err.Error(), "page 2") {
		t.Errorf("broken err %q should name the failing page", broken.Err)
	}
	if _, statErr := os.Stat(filepath.Join(outputDir, "broken.djvu")); !os.IsNotExist(statErr) {
		t.Errorf("no output may exist for a failed article, stat err = %v", statErr)
	}

	healthy := results[1]
	if healthy.Outcome != OutcomeDone {
		t.Errorf("healthy outcome = %q (err %v), want done", healthy.Outcome, healthy.Err)
	}
}

func TestRun_TransientFailuresRecover(t *testing.T) {
	mock := testutil.NewMockDokumentlager()
	defer mock.Close()
	mock.AddArticle("a1",
		testutil.MockPage{Reference: "ref-1", FileName: "scan_001.tif", Body: []byte("page-one")},
	)
	mock.FailPage("ref-1", 2, 503)

	runner, _ := newTestRunner(t, mock, copyCollator(), validCreds(mock))

	results, err := runner.Run(context.Background(), []string{"a1"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if results[0].Outcome != OutcomeDone {
		t.Errorf("outcome = %q (err %v), want done after retries", results[0].Outcome, results[0].Err)
	}
	if got := mock.DownloadCount("ref-1"); got != 3 {
		t.Errorf("downloads = %d, want 3", got)
	}
}

func TestRun_UnknownArticleFailsAtResolving(t *testing.T) {
	mock := testutil.NewMockDokumentlager()
	defer mock.Close()

	runner, _ := newTestRunner(t, mock, copyCollator(), validCreds(mock))

	results, err := runner.Run(context.Background(), []string{"nope"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	res := results[0]
	if res.Outcome != OutcomeFailed || res.Stage != StageResolving {
		t.Errorf("outcome = %q stage = %q, want failed at resolving", res.Outcome, res.Stage)
	}
	if !errors.Is(res.Err, client.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", res.Err)
	}
}

func TestRun_WrongCredentialsIsFatal(t *testing.T) {
	mock := testutil.NewMockDokumentlager()
	defer mock.Close()
	mock.AddArticle("a1", testutil.MockPage{Reference: "ref-1", FileName: "scan_001.tif", Body: []byte("x")})

	runner, _ := newTestRunner(t, mock, copyCollator(), client.Credentials{Username: "reader", Password: "wrong"})

	_, err := runner.Run(context.Background(), []string{"a1"})
	if !errors.Is(err, client.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	// The preflight must fail before any article work starts.
	if got := mock.DownloadCount("ref-1"); got != 0 {
		t.Errorf("downloads = %d, want 0", got)
	}
}

func TestRun_CollationFailure(t *testing.T) {
	mock := testutil.NewMockDokumentlager()
	defer mock.Close()
	mock.AddArticle("a1", testutil.MockPage{Reference: "ref-1", FileName: "scan_001.tif", Body: []byte("x")})

	collationErr := fmt.Errorf("%w: cjb2 exited 1", collate.ErrCollation)
	runner, _ := newTestRunner(t, mock, failingCollator(collationErr), validCreds(mock))

	results, err := runner.Run(context.Background(), []string{"a1"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	res := results[0]
	if res.Outcome != OutcomeFailed || res.Stage != StageCollating {
		t.Errorf("outcome = %q stage = %q, want failed at collating", res.Outcome, res.Stage)
	}
	if !errors.Is(res.Err, collate.ErrCollation) {
		t.Errorf("err = %v, want ErrCollation", res.Err)
	}
}

func TestRun_ResultsKeepInputOrder(t *testing.T) {
	mock := testutil.NewMockDokumentlager()
	defer mock.Close()
	ids := []string{"a1", "a2", "a3", "a4"}
	for i, id := range ids {
		mock.AddArticle(id, testutil.MockPage{
			Reference: fmt.Sprintf("ref-%d", i),
			FileName:  "scan_001.tif",
			Body:      []byte(id),
			Delay:     time.Duration(3-i) * 15 * time.Millisecond,
		})
	}

	runner, _ := newTestRunner(t, mock, copyCollator(), validCreds(mock))

	results, err := runner.Run(context.Background(), ids)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for i, res := range results {
		if res.ArticleID != ids[i] {
			t.Errorf("results[%d].ArticleID = %q, want %q", i, res.ArticleID, ids[i])
		}
	}
}

func TestProcessArticle_CancelledContext(t *testing.T) {
	mock := testutil.NewMockDokumentlager()
	defer mock.Close()
	mock.AddArticle("a1", testutil.MockPage{Reference: "ref-1", FileName: "scan_001.tif", Body: []byte("x")})

	runner, _ := newTestRunner(t, mock, copyCollator(), validCreds(mock))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := runner.processArticle(ctx, "a1")
	if res.Outcome != OutcomeFailed || res.Stage != StagePending {
		t.Errorf("outcome = %q stage = %q, want failed while pending", res.Outcome, res.Stage)
	}
	if got := mock.DownloadCount("ref-1"); got != 0 {
		t.Errorf("downloads = %d, want 0 for a cancelled article", got)
	}
}

func TestResult_Failed(t *testing.T) {
	if (Result{Outcome: OutcomeDone}).Failed() {
		t.Error("done result reported as failed")
	}
	if !(Result{Outcome: OutcomeFailed}).Failed() {
		t.Error("failed result not reported as failed")
	}
}
