package data

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// fastWebCopier shortens retry backoff for tests.
func fastWebCopier(t *testing.T, srcURL, dst string) *webCopier {
	t.Helper()
	c := newWebCopier(mustResolve(t, srcURL), localLoc(dst), testLogger()).(*webCopier)
	c.backoff = func(int) time.Duration { return time.Millisecond }
	return c
}

func TestWebCopierDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("file contents"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dst := filepath.Join(dir, "file.bin")
	c := fastWebCopier(t, srv.URL+"/file.bin", dst)

	got, err := c.Copy(context.Background())
	if err != nil {
		t.Fatalf("Copy() failed: %v", err)
	}
	if got != dst {
		t.Errorf("Copy() = %q, want %q", got, dst)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "file contents" {
		t.Errorf("content = %q, err = %v", data, err)
	}
}

func TestWebCopierIntoDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := fastWebCopier(t, srv.URL+"/dataset.tar.gz", dir)

	got, err := c.Copy(context.Background())
	if err != nil {
		t.Fatalf("Copy() failed: %v", err)
	}
	want := filepath.Join(dir, "dataset.tar.gz")
	if got != want {
		t.Errorf("Copy() = %q, want %q", got, want)
	}
}

func TestWebCopierRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("eventually"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := fastWebCopier(t, srv.URL+"/flaky.bin", filepath.Join(dir, "flaky.bin"))

	if _, err := c.Copy(context.Background()); err != nil {
		t.Fatalf("Copy() failed after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d requests, want 3", calls.Load())
	}
}

func TestWebCopierNoRetryOnNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := fastWebCopier(t, srv.URL+"/gone.bin", filepath.Join(dir, "gone.bin"))

	if _, err := c.Copy(context.Background()); err == nil {
		t.Fatal("expected error for 404")
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d requests for a permanent error, want 1", calls.Load())
	}
	if _, err := os.Stat(filepath.Join(dir, "gone.bin")); !os.IsNotExist(err) {
		t.Error("partial file left behind for permanent error")
	}
}

func TestWebCopierResume(t *testing.T) {
	full := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rng := r.Header.Get("Range"); rng == "bytes=4-" {
			w.WriteHeader(http.StatusPartialContent)
			w.Write(full[4:])
			return
		}
		w.Write(full)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dst := filepath.Join(dir, "resumable.bin")
	// Simulate a partial file left by an earlier interrupted attempt.
	if err := os.WriteFile(dst, full[:4], 0o644); err != nil {
		t.Fatal(err)
	}

	c := fastWebCopier(t, srv.URL+"/resumable.bin", dst)
	if _, err := c.Copy(context.Background()); err != nil {
		t.Fatalf("Copy() failed: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != string(full) {
		t.Errorf("content = %q, want %q", data, full)
	}
}

func TestWebCopierRejectsDirectorySource(t *testing.T) {
	dir := t.TempDir()
	c := fastWebCopier(t, "https://example.com/files/", filepath.Join(dir, "out"))
	if _, err := c.Copy(context.Background()); err == nil {
		t.Fatal("expected error for directory-like web source")
	}
}

func TestSplitObjectURI(t *testing.T) {
	tests := []struct {
		raw        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{raw: "s3://bucket/path/to/key", wantBucket: "bucket", wantKey: "path/to/key"},
		{raw: "s3://bucket", wantBucket: "bucket", wantKey: ""},
		{raw: "s3://bucket/", wantBucket: "bucket", wantKey: ""},
		{raw: "gs://bucket/key", wantErr: true},
		{raw: "s3://", wantErr: true},
	}

	for _, tt := range tests {
		bucket, key, err := splitObjectURI(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("splitObjectURI(%q) succeeded, want error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("splitObjectURI(%q) failed: %v", tt.raw, err)
			continue
		}
		if bucket != tt.wantBucket || key != tt.wantKey {
			t.Errorf("splitObjectURI(%q) = (%q, %q), want (%q, %q)",
				tt.raw, bucket, key, tt.wantBucket, tt.wantKey)
		}
	}
}
