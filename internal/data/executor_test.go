package data

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/astracloud/astra-extras/internal/archive"
	"github.com/astracloud/astra-extras/internal/plan"
)

func testExecutor(t *testing.T) (*Executor, string) {
	t.Helper()
	tempRoot := t.TempDir()
	codec := archive.NewCodec(testLogger())
	return NewExecutor(codec, nil, tempRoot, testLogger()), tempRoot
}

func stagingEntries(t *testing.T, tempRoot string) int {
	t.Helper()
	entries, err := os.ReadDir(tempRoot)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func TestExecutorPlainCopy(t *testing.T) {
	e, tempRoot := testExecutor(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "file.txt")
	dst := filepath.Join(dir, "copy.txt")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := plan.TransferPlan{Source: localLoc(src), Destination: localLoc(dst)}
	if err := e.Execute(context.Background(), p); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("destination missing: %v", err)
	}
	if n := stagingEntries(t, tempRoot); n != 0 {
		t.Errorf("staging directory not cleaned up, %d entries left", n)
	}
}

func TestExecutorCompressThenExtract(t *testing.T) {
	e, tempRoot := testExecutor(t)
	dir := t.TempDir()

	srcDir := filepath.Join(dir, "dataset")
	if err := os.MkdirAll(filepath.Join(srcDir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "sub", "data.txt"), []byte("rows"), 0o644); err != nil {
		t.Fatal(err)
	}

	archivePath := filepath.Join(dir, "dataset.tar.gz")
	compressPlan := plan.TransferPlan{
		Source:      localLoc(srcDir),
		Destination: localLoc(archivePath),
		Compress:    true,
	}
	if err := e.Execute(context.Background(), compressPlan); err != nil {
		t.Fatalf("compress Execute() failed: %v", err)
	}
	if _, err := os.Stat(archivePath); err != nil {
		t.Fatalf("archive missing: %v", err)
	}

	outDir := filepath.Join(dir, "restored")
	extractPlan := plan.TransferPlan{
		Source:      localLoc(archivePath),
		Destination: localLoc(outDir),
		Extract:     true,
	}
	if err := e.Execute(context.Background(), extractPlan); err != nil {
		t.Fatalf("extract Execute() failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "sub", "data.txt"))
	if err != nil {
		t.Fatalf("extracted file missing: %v", err)
	}
	if string(data) != "rows" {
		t.Errorf("extracted content = %q", data)
	}
	if n := stagingEntries(t, tempRoot); n != 0 {
		t.Errorf("staging directory not cleaned up, %d entries left", n)
	}
}

func TestExecutorExtractUnsupportedFormat(t *testing.T) {
	e, tempRoot := testExecutor(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "data.rar")
	if err := os.WriteFile(src, []byte("not an archive"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := plan.TransferPlan{
		Source:      localLoc(src),
		Destination: localLoc(filepath.Join(dir, "out")),
		Extract:     true,
	}
	err := e.Execute(context.Background(), p)
	if err == nil {
		t.Fatal("expected error for unsupported archive format")
	}
	if n := stagingEntries(t, tempRoot); n != 0 {
		t.Errorf("staging directory not cleaned up after failure, %d entries left", n)
	}
}

func TestExecutorCompressDirectoryDestination(t *testing.T) {
	e, _ := testExecutor(t)
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		t.Fatal(err)
	}

	// Destination must name the archive file; a bare directory cannot
	// carry a format.
	p := plan.TransferPlan{
		Source:      localLoc(srcDir),
		Destination: localLoc(filepath.Join(dir, "out") + string(os.PathSeparator)),
		Compress:    true,
	}
	if err := e.Execute(context.Background(), p); err == nil {
		t.Fatal("expected error for directory compress destination")
	}
}

func TestExecutorStagingCleanupOnFailure(t *testing.T) {
	e, tempRoot := testExecutor(t)
	dir := t.TempDir()

	p := plan.TransferPlan{
		Source:      localLoc(filepath.Join(dir, "missing.tar.gz")),
		Destination: localLoc(filepath.Join(dir, "out")),
		Extract:     true,
	}
	if err := e.Execute(context.Background(), p); err == nil {
		t.Fatal("expected error for missing source archive")
	}
	if n := stagingEntries(t, tempRoot); n != 0 {
		t.Errorf("staging directory not cleaned up after failure, %d entries left", n)
	}
}
