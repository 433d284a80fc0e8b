package data

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/astracloud/astra-extras/internal/location"
)

// fsCopier copies files and directory trees on the local filesystem.
// Single files are written to a sibling temp file and renamed into place
// so a failed copy never leaves a truncated destination.
type fsCopier struct {
	src    location.Location
	dst    location.Location
	logger *slog.Logger
}

func newFSCopier(src, dst location.Location, logger *slog.Logger) Copier {
	return &fsCopier{src: src, dst: dst, logger: logger}
}

func (c *fsCopier) Copy(ctx context.Context) (string, error) {
	info, err := os.Stat(c.src.Path)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}

	dest := c.dst.Path
	if info.IsDir() {
		if err := copyTree(ctx, c.src.Path, dest); err != nil {
			return "", err
		}
		c.logger.Info("copied directory", "source", c.src.Path, "destination", dest)
		return dest, nil
	}

	// Copying a file into an existing directory keeps the source name.
	if di, err := os.Stat(dest); err == nil && di.IsDir() {
		dest = filepath.Join(dest, filepath.Base(c.src.Path))
	}
	if err := copyFile(ctx, c.src.Path, dest, info.Mode()); err != nil {
		return "", err
	}
	c.logger.Info("copied file", "source", c.src.Path, "destination", dest,
		"size", humanize.Bytes(uint64(info.Size())))
	return dest, nil
}

func copyFile(ctx context.Context, src, dst string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".copy-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: in}); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, mode.Perm()); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("moving into place: %w", err)
	}
	return nil
}

func copyTree(ctx context.Context, srcDir, dstDir string) error {
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dstDir, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if d.Type()&fs.ModeSymlink != 0 {
			// Symlinks are re-created, not followed.
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			os.Remove(target)
			return os.Symlink(link, target)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(ctx, path, target, info.Mode())
	})
}

// moveInto moves src into dst, falling back to a copy plus remove when the
// rename crosses filesystems.
func moveInto(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := copyTree(ctx, src, dst); err != nil {
			return err
		}
	} else {
		if err := copyFile(ctx, src, dst, info.Mode()); err != nil {
			return err
		}
	}
	return os.RemoveAll(src)
}

// ctxReader fails in-flight reads once the context is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
		return cr.r.Read(p)
	}
}
