package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arkivtools/dokufetch/pkg/batch"
)

func writeListFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "articles.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadArticleList(t *testing.T) {
	path := writeListFile(t, `# box 7, first half
550e8400-e29b-41d4-a716-446655440000

550e8400-e29b-41d4-a716-446655440001
  550e8400-e29b-41d4-a716-446655440002
`)

	ids, err := readArticleList(path)
	if err != nil {
		t.Fatalf("readArticleList() error = %v", err)
	}

	want := []string{
		"550e8400-e29b-41d4-a716-446655440000",
		"550e8400-e29b-41d4-a716-446655440001",
		"550e8400-e29b-41d4-a716-446655440002",
	}
	if len(ids) != len(want) {
		t.Fatalf("got %d ids, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestReadArticleList_MalformedUUID(t *testing.T) {
	path := writeListFile(t, `550e8400-e29b-41d4-a716-446655440000
not-a-uuid
`)

	_, err := readArticleList(path)
	if err == nil {
		t.Fatal("expected error for malformed uuid")
	}
	// The error names file, line and offending value.
	for _, want := range []string{path, ":2:", "not-a-uuid"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should contain %q", err, want)
		}
	}
}

func TestReadArticleList_Empty(t *testing.T) {
	path := writeListFile(t, "# only comments\n\n")

	_, err := readArticleList(path)
	if err == nil || !strings.Contains(err.Error(), "no article ids") {
		t.Errorf("expected empty-list error, got %v", err)
	}
}

func TestReadArticleList_MissingFile(t *testing.T) {
	_, err := readArticleList(filepath.Join(t.TempDir(), "absent.txt"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRenderSummary(t *testing.T) {
	results := []batch.Result{
		{
			ArticleID:  "550e8400-e29b-41d4-a716-446655440000",
			Outcome:    batch.OutcomeDone,
			Pages:      12,
			OutputPath: "output/550e8400-e29b-41d4-a716-446655440000.djvu",
		},
		{
			ArticleID: "550e8400-e29b-41d4-a716-446655440001",
			Outcome:   batch.OutcomeFailed,
			Stage:     batch.StageDownloading,
			Pages:     8,
			Err:       errors.New("page 3 (scan_003.tif): page image missing"),
		},
	}

	out := renderSummary(results)

	for _, want := range []string{
		"Article", "Outcome", "Pages", "Failed At",
		"550e8400-e29b-41d4-a716-446655440000",
		"output/550e8400-e29b-41d4-a716-446655440000.djvu",
		"done", "12",
		"failed", "downloading", "page image missing",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary should contain %q:\n%s", want, out)
		}
	}
}

func TestWriteFailureLog(t *testing.T) {
	t.Chdir(t.TempDir())

	results := []batch.Result{
		{ArticleID: "550e8400-e29b-41d4-a716-446655440000", Outcome: batch.OutcomeDone},
		{ArticleID: "550e8400-e29b-41d4-a716-446655440001", Outcome: batch.OutcomeFailed},
		{ArticleID: "550e8400-e29b-41d4-a716-446655440002", Outcome: batch.OutcomeFailed},
	}

	path, failed, err := writeFailureLog(results)
	if err != nil {
		t.Fatalf("writeFailureLog() error = %v", err)
	}
	if failed != 2 {
		t.Errorf("failed = %d, want 2", failed)
	}
	if !strings.HasPrefix(path, "failed-") || !strings.HasSuffix(path, ".log") {
		t.Errorf("log path = %q, want failed-<timestamp>.log", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failure log: %v", err)
	}
	want := "550e8400-e29b-41d4-a716-446655440001\n550e8400-e29b-41d4-a716-446655440002\n"
	if string(data) != want {
		t.Errorf("log content = %q, want %q", data, want)
	}
}

func TestWriteFailureLog_NoFailures(t *testing.T) {
	t.Chdir(t.TempDir())

	path, failed, err := writeFailureLog([]batch.Result{
		{ArticleID: "550e8400-e29b-41d4-a716-446655440000", Outcome: batch.OutcomeDone},
	})
	if err != nil {
		t.Fatalf("writeFailureLog() error = %v", err)
	}
	if path != "" || failed != 0 {
		t.Errorf("expected no log, got path=%q failed=%d", path, failed)
	}
}
