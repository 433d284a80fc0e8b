package data

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/astracloud/astra-extras/internal/location"
)

// webCopier downloads a single file from an http(s) source with bounded
// retries, resumable transfers, and exponential backoff. Web endpoints are
// sources only; writing to them is rejected at planning time.
type webCopier struct {
	src        location.Location
	dst        location.Location
	httpClient *http.Client
	logger     *slog.Logger
	retryCount int
	userAgent  string
	backoff    func(attempt int) time.Duration
}

func newWebCopier(src, dst location.Location, logger *slog.Logger) Copier {
	return &webCopier{
		src: src,
		dst: dst,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout:   15 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
			// No overall Timeout. Body reads can take as long as needed;
			// context cancellation still interrupts them.
		},
		logger:     logger,
		retryCount: 3,
		userAgent:  "astra-extras/1.0",
		backoff:    backoffDelay,
	}
}

func (c *webCopier) Copy(ctx context.Context) (string, error) {
	filename := c.src.Filename()
	if filename == "" {
		return "", fmt.Errorf("cannot download %q: source does not address a file", c.src.Path)
	}

	dest := c.dst.Path
	if di, err := os.Stat(dest); err == nil && di.IsDir() {
		dest = filepath.Join(dest, filename)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryCount; attempt++ {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("download cancelled: %w", ctx.Err())
		default:
		}

		// Resume from a partial file left by a previous attempt.
		offset := int64(0)
		if fi, err := os.Stat(dest); err == nil && fi.Size() > 0 {
			offset = fi.Size()
		}

		size, err := c.downloadAttempt(ctx, dest, offset)
		if err == nil {
			c.logger.Info("downloaded", "url", c.src.Path, "destination", dest,
				"size", humanize.Bytes(uint64(size)), "attempts", attempt)
			return dest, nil
		}

		lastErr = err
		c.logger.Warn("download attempt failed", "url", c.src.Path, "attempt", attempt, "error", err)

		// Keep the partial file for resume on cancellation.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}

		if shouldNotRetry(err) {
			os.Remove(dest)
			return "", err
		}

		if attempt < c.retryCount {
			delay := c.backoff(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", fmt.Errorf("download cancelled during retry: %w", ctx.Err())
			}
		}
	}

	return "", fmt.Errorf("download failed after %d attempts: %w", c.retryCount, lastErr)
}

func (c *webCopier) downloadAttempt(ctx context.Context, dest string, offset int64) (int64, error) {
	if dir := filepath.Dir(dest); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("creating destination directory: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.src.Path, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, &httpError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 && resp.StatusCode == http.StatusPartialContent {
		flags |= os.O_APPEND
	} else {
		// Server ignored the Range header; restart from scratch.
		flags |= os.O_TRUNC
		offset = 0
	}

	file, err := os.OpenFile(dest, flags, 0o644)
	if err != nil {
		return 0, fmt.Errorf("opening destination: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("writing destination: %w", err)
	}
	return offset + written, nil
}

// backoffDelay is exponential with jitter: base 1s doubling per attempt
// plus random jitter up to half the delay.
func backoffDelay(attempt int) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
	jitter := time.Duration(rand.Int63n(int64(base / 2)))
	return base + jitter
}

// shouldNotRetry reports whether the error is a permanent client error.
func shouldNotRetry(err error) bool {
	var he *httpError
	if errors.As(err, &he) {
		// 4xx is permanent except 429.
		if he.StatusCode >= 400 && he.StatusCode < 500 && he.StatusCode != http.StatusTooManyRequests {
			return true
		}
	}
	return false
}

type httpError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}
