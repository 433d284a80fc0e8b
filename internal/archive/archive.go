// Package archive implements suffix-driven detection and streaming
// compression/extraction of dataset archives. Both directions run in
// bounded memory: tar entries are piped straight between the codec and
// the filesystem, never buffered whole.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	dbzip2 "github.com/dsnet/compress/bzip2"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// ErrUnsupportedFormat is returned when a filename carries no recognized
// archive suffix.
var ErrUnsupportedFormat = fmt.Errorf("unsupported archive format")

// Codec performs streaming extract/compress operations. Partially
// extracted trees are left in place on failure; cleanup belongs to the
// staging layer that owns the destination directory.
type Codec struct {
	logger *slog.Logger
}

// NewCodec creates a Codec logging through the given logger.
func NewCodec(logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{logger: logger}
}

// Extract unpacks archivePath into destDir. The format is derived from
// the archive filename; FormatNone fails with ErrUnsupportedFormat.
func (c *Codec) Extract(ctx context.Context, archivePath, destDir string) error {
	format := Detect(filepath.Base(archivePath))
	if format == FormatNone {
		return fmt.Errorf("%w: %q (supported: %s)",
			ErrUnsupportedFormat, filepath.Base(archivePath), strings.Join(SupportedSuffixes(), ", "))
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating extraction directory: %w", err)
	}

	c.logger.Info("extracting archive", "archive", archivePath, "dest", destDir, "format", format.String())

	switch {
	case format.isTar():
		return c.extractTar(ctx, format, archivePath, destDir)
	case format == FormatGz:
		return c.extractGzipFile(ctx, archivePath, destDir)
	case format == FormatZip:
		return c.extractZip(ctx, archivePath, destDir)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, archivePath)
	}
}

// Compress packs srcPath (a directory or a single file) into archivePath.
// The format is derived from the archive filename. Directory contents are
// stored relative to srcPath, so Extract(Compress(dir)) reproduces the
// original tree.
func (c *Codec) Compress(ctx context.Context, srcPath, archivePath string) error {
	format := Detect(filepath.Base(archivePath))
	if format == FormatNone {
		return fmt.Errorf("%w: %q (supported: %s)",
			ErrUnsupportedFormat, filepath.Base(archivePath), strings.Join(SupportedSuffixes(), ", "))
	}
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}

	c.logger.Info("compressing", "source", srcPath, "archive", archivePath, "format", format.String())

	var err error
	switch {
	case format.isTar():
		err = c.compressTar(ctx, format, srcPath, archivePath)
	case format == FormatGz:
		err = c.compressGzipFile(ctx, srcPath, archivePath)
	case format == FormatZip:
		err = c.compressZip(ctx, srcPath, archivePath)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, archivePath)
	}
	if err != nil {
		// A half-written archive is useless to every caller; drop it.
		_ = os.Remove(archivePath)
		return err
	}
	return nil
}

// decompressor wraps a raw archive stream in the format's decoder.
// The returned closer must be called before the underlying file closes.
func decompressor(format Format, r io.Reader) (io.Reader, func(), error) {
	switch format {
	case FormatTarGz:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return gz, func() { _ = gz.Close() }, nil
	case FormatTarBz2:
		return bzip2.NewReader(r), func() {}, nil
	case FormatTarXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("opening xz stream: %w", err)
		}
		return xr, func() {}, nil
	case FormatTarZst:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		return zr, zr.Close, nil
	case FormatTar:
		return r, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: not a tar variant", ErrUnsupportedFormat)
	}
}

// compressorFor wraps an archive file in the format's encoder.
func compressorFor(format Format, w io.Writer) (io.WriteCloser, error) {
	switch format {
	case FormatTarGz:
		return gzip.NewWriter(w), nil
	case FormatTarBz2:
		bw, err := dbzip2.NewWriter(w, &dbzip2.WriterConfig{Level: dbzip2.DefaultCompression})
		if err != nil {
			return nil, fmt.Errorf("opening bzip2 stream: %w", err)
		}
		return bw, nil
	case FormatTarXz:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("opening xz stream: %w", err)
		}
		return xw, nil
	case FormatTarZst:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		return zw, nil
	case FormatTar:
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("%w: not a tar variant", ErrUnsupportedFormat)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (c *Codec) extractTar(ctx context.Context, format Format, archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	r, closeDec, err := decompressor(format, f)
	if err != nil {
		return err
	}
	defer closeDec()

	tr := tar.NewReader(r)
	var files int
	var bytes int64
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("extraction cancelled: %w", ctx.Err())
		default:
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar stream: %w", err)
		}

		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			c.logger.Warn("skipping unsafe tar entry", "name", hdr.Name, "error", err)
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, hdr.FileInfo().Mode().Perm()|0o700); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", target, err)
			}
			n, err := writeFileFrom(target, tr, hdr.FileInfo().Mode().Perm())
			if err != nil {
				return fmt.Errorf("writing %s: %w", target, err)
			}
			files++
			bytes += n
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) || strings.HasPrefix(hdr.Linkname, "..") {
				c.logger.Warn("skipping symlink leaving extraction root", "name", hdr.Name, "target", hdr.Linkname)
				continue
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", target, err)
			}
		default:
			c.logger.Debug("skipping tar entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}

	c.logger.Info("extraction complete", "files", files, "size", humanize.Bytes(uint64(bytes)))
	return nil
}

func (c *Codec) extractGzipFile(ctx context.Context, archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	name := strings.TrimSuffix(filepath.Base(archivePath), ".gz")
	target := filepath.Join(destDir, name)
	if _, err := writeFileFrom(target, readerWithContext(ctx, gz), 0o644); err != nil {
		_ = os.Remove(target)
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return nil
}

func (c *Codec) extractZip(ctx context.Context, archivePath, destDir string) error {
	// Zip is not a stream format: the central directory lives at the end
	// of the file, so extraction needs a seekable local file.
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening zip archive: %w", err)
	}
	defer zr.Close()

	for _, entry := range zr.File {
		select {
		case <-ctx.Done():
			return fmt.Errorf("extraction cancelled: %w", ctx.Err())
		default:
		}

		target, err := safeJoin(destDir, entry.Name)
		if err != nil {
			c.logger.Warn("skipping unsafe zip entry", "name", entry.Name, "error", err)
			continue
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating parent of %s: %w", target, err)
		}
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("opening zip entry %s: %w", entry.Name, err)
		}
		_, err = writeFileFrom(target, rc, entry.FileInfo().Mode().Perm())
		rc.Close()
		if err != nil {
			return fmt.Errorf("writing %s: %w", target, err)
		}
	}
	return nil
}

func (c *Codec) compressTar(ctx context.Context, format Format, srcPath, archivePath string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer out.Close()

	cw, err := compressorFor(format, out)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)

	if err := c.tarTree(ctx, tw, srcPath); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalizing tar stream: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("finalizing compressed stream: %w", err)
	}
	return out.Close()
}

// tarTree writes srcPath into tw. Directories are stored by contents;
// a single file is stored under its own base name.
func (c *Codec) tarTree(ctx context.Context, tw *tar.Writer, srcPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("inspecting source: %w", err)
	}

	addFile := func(path, name string, fi os.FileInfo) error {
		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return fmt.Errorf("building tar header for %s: %w", path, err)
		}
		hdr.Name = filepath.ToSlash(name)
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("writing tar header for %s: %w", path, err)
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("archiving %s: %w", path, err)
		}
		return nil
	}

	if !info.IsDir() {
		return addFile(srcPath, info.Name(), info)
	}

	return filepath.Walk(srcPath, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("compression cancelled: %w", ctx.Err())
		default:
		}
		rel, err := filepath.Rel(srcPath, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			c.logger.Debug("skipping symlink during compression", "path", path)
			return nil
		}
		return addFile(path, rel, fi)
	})
}

func (c *Codec) compressGzipFile(ctx context.Context, srcPath, archivePath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("inspecting source: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("gzip cannot compress a directory, use a .tar.gz destination instead")
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, readerWithContext(ctx, in)); err != nil {
		return fmt.Errorf("compressing %s: %w", srcPath, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finalizing gzip stream: %w", err)
	}
	return out.Close()
}

func (c *Codec) compressZip(ctx context.Context, srcPath, archivePath string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("inspecting source: %w", err)
	}

	addFile := func(path, name string) error {
		w, err := zw.Create(filepath.ToSlash(name))
		if err != nil {
			return fmt.Errorf("adding zip entry %s: %w", name, err)
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		if _, err := io.Copy(w, f); err != nil {
			return fmt.Errorf("archiving %s: %w", path, err)
		}
		return nil
	}

	if !info.IsDir() {
		if err := addFile(srcPath, info.Name()); err != nil {
			return err
		}
	} else {
		err = filepath.Walk(srcPath, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("compression cancelled: %w", ctx.Err())
			default:
			}
			if !fi.Mode().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(srcPath, path)
			if err != nil {
				return err
			}
			return addFile(path, rel)
		})
		if err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing zip archive: %w", err)
	}
	return out.Close()
}

// writeFileFrom creates path with the given mode and streams r into it.
func writeFileFrom(path string, r io.Reader, mode os.FileMode) (int64, error) {
	if mode == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// readerWithContext makes long copies cancellable at chunk boundaries.
func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-c.ctx.Done():
		return 0, c.ctx.Err()
	default:
		return c.r.Read(p)
	}
}
