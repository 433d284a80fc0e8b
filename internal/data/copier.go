package data

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/astracloud/astra-extras/internal/location"
	"github.com/astracloud/astra-extras/internal/platform"
)

// Copier moves data between two concrete endpoints. Implementations handle
// exactly one route (fs, web, s3, gcs, azure); selection happens in the
// executor.
type Copier interface {
	// Copy moves source into destination and returns the path or URI the
	// data ended up at.
	Copy(ctx context.Context) (string, error)
}

// copierFor returns the Copier able to move data between src and dst, where
// at most one side is non-local.
func (e *Executor) copierFor(src, dst location.Location) (Copier, error) {
	remote := src
	if remote.IsLocal() {
		remote = dst
	}

	switch remote.Kind {
	case location.Local:
		return newFSCopier(src, dst, e.logger), nil
	case location.HTTP, location.HTTPS:
		return newWebCopier(src, dst, e.logger), nil
	case location.S3:
		return newS3Copier(src, dst, e.logger)
	case location.GCS:
		return newGSUtilCopier(src, dst, e.runner, e.logger), nil
	case location.Azure:
		return newAzCopyCopier(src, dst, e.runner, e.logger), nil
	default:
		return nil, fmt.Errorf("no local copier for %s -> %s", src.Kind, dst.Kind)
	}
}

// execCopier shells out to an external transfer tool (gsutil, azcopy).
type execCopier struct {
	tool   string
	args   []string
	dest   string
	runner platform.Runner
	logger *slog.Logger
}

func (c *execCopier) Copy(ctx context.Context) (string, error) {
	c.logger.Info("running transfer tool", "tool", c.tool, "args", c.args)
	if err := c.runner.Run(ctx, c.tool, c.args...); err != nil {
		return "", fmt.Errorf("%s failed: %w", c.tool, err)
	}
	return c.dest, nil
}

func newGSUtilCopier(src, dst location.Location, runner platform.Runner, logger *slog.Logger) Copier {
	return &execCopier{
		tool:   "gsutil",
		args:   []string{"-m", "cp", "-r", src.Path, dst.Path},
		dest:   dst.Path,
		runner: runner,
		logger: logger,
	}
}

func newAzCopyCopier(src, dst location.Location, runner platform.Runner, logger *slog.Logger) Copier {
	return &execCopier{
		tool:   "azcopy",
		args:   []string{"copy", "--recursive", azurePath(src), azurePath(dst)},
		dest:   dst.Path,
		runner: runner,
		logger: logger,
	}
}

// azurePath strips the azure+ disambiguation prefix so azcopy sees the
// native https blob URL.
func azurePath(loc location.Location) string {
	if loc.Kind == location.Azure {
		return strings.TrimPrefix(loc.Path, "azure+")
	}
	return loc.Path
}
