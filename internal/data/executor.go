package data

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/astracloud/astra-extras/internal/archive"
	"github.com/astracloud/astra-extras/internal/location"
	"github.com/astracloud/astra-extras/internal/plan"
	"github.com/astracloud/astra-extras/internal/platform"
)

// Executor runs the local-process half of a transfer plan: direct copies
// between the invoking machine and cloud endpoints, with extraction and
// compression staged through a per-invocation temp directory.
type Executor struct {
	codec    *archive.Codec
	runner   platform.Runner
	tempRoot string
	logger   *slog.Logger
}

// NewExecutor builds an Executor. tempRoot defaults to the system temp
// directory when empty.
func NewExecutor(codec *archive.Codec, runner platform.Runner, tempRoot string, logger *slog.Logger) *Executor {
	if tempRoot == "" {
		tempRoot = os.TempDir()
	}
	return &Executor{codec: codec, runner: runner, tempRoot: tempRoot, logger: logger}
}

// Execute performs the plan in-process. The staging directory, when one is
// needed, is removed on both success and failure.
func (e *Executor) Execute(ctx context.Context, p plan.TransferPlan) error {
	tempDir := filepath.Join(e.tempRoot, "astra-extras-"+uuid.NewString())
	if err := os.MkdirAll(tempDir, 0o700); err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			e.logger.Warn("failed to remove staging directory", "path", tempDir, "error", err)
		}
	}()

	switch {
	case p.Extract:
		return e.extract(ctx, p, tempDir)
	case p.Compress:
		return e.compress(ctx, p, tempDir)
	default:
		return e.copy(ctx, p.Source, p.Destination)
	}
}

func (e *Executor) copy(ctx context.Context, src, dst location.Location) error {
	copier, err := e.copierFor(src, dst)
	if err != nil {
		return err
	}
	_, err = copier.Copy(ctx)
	return err
}

// extract fetches the source archive (staging it locally when the source
// is remote), unpacks it, and delivers the tree to the destination.
func (e *Executor) extract(ctx context.Context, p plan.TransferPlan, tempDir string) error {
	src := p.Source
	filename := src.Filename()
	if filename == "" {
		return fmt.Errorf("cannot extract %q: source does not address an archive file", src.Path)
	}
	if archive.Detect(filename) == archive.FormatNone {
		return fmt.Errorf("%w: %q", archive.ErrUnsupportedFormat, filename)
	}

	archivePath := src.Path
	if !src.IsLocal() {
		staged := filepath.Join(tempDir, filename)
		if err := e.copy(ctx, src, localLoc(staged)); err != nil {
			return fmt.Errorf("staging archive: %w", err)
		}
		archivePath = staged
	}

	// Extract into staging first so a failed unpack never leaves a
	// half-written destination tree, then move the result into place.
	extracted := filepath.Join(tempDir, "extracted")
	if err := e.codec.Extract(ctx, archivePath, extracted); err != nil {
		return err
	}
	if p.Destination.IsLocal() {
		return moveInto(ctx, extracted, p.Destination.Path)
	}
	return e.copy(ctx, localLoc(extracted), p.Destination)
}

// compress packs the source tree into the archive named by the
// destination, staging both sides locally as needed.
func (e *Executor) compress(ctx context.Context, p plan.TransferPlan, tempDir string) error {
	filename := p.Destination.Filename()
	if filename == "" {
		return fmt.Errorf("cannot compress into %q: destination does not name an archive file", p.Destination.Path)
	}
	if archive.Detect(filename) == archive.FormatNone {
		return fmt.Errorf("%w: %q", archive.ErrUnsupportedFormat, filename)
	}

	srcPath := p.Source.Path
	if !p.Source.IsLocal() {
		staged := filepath.Join(tempDir, "source")
		if err := os.MkdirAll(staged, 0o700); err != nil {
			return err
		}
		if err := e.copy(ctx, p.Source, localLoc(staged)); err != nil {
			return fmt.Errorf("staging source: %w", err)
		}
		srcPath = staged
	}

	if p.Destination.IsLocal() {
		return e.codec.Compress(ctx, srcPath, p.Destination.Path)
	}

	archivePath := filepath.Join(tempDir, filename)
	if err := e.codec.Compress(ctx, srcPath, archivePath); err != nil {
		return err
	}
	return e.copy(ctx, localLoc(archivePath), p.Destination)
}

func localLoc(path string) location.Location {
	return location.Location{Kind: location.Local, Path: path}
}
