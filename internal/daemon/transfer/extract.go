package transfer

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// ErrUnsupportedArchive is returned for archive formats the pipeline
// cannot extract.
var ErrUnsupportedArchive = errors.New("unsupported archive format")

// ErrUnsafePath is returned for entries that would land outside the
// extract directory.
var ErrUnsafePath = errors.New("archive entry escapes extract directory")

type archiveFormat int

const (
	formatUnknown archiveFormat = iota
	formatZip
	formatTar
	formatTarGzip
	formatTarZstd
)

func detectFormat(name string) archiveFormat {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return formatZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return formatTarGzip
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return formatTarZstd
	case strings.HasSuffix(lower, ".tar"):
		return formatTar
	}
	return formatUnknown
}

var (
	zipMagic  = []byte("PK\x03\x04")
	zipEmpty  = []byte("PK\x05\x06")
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	tarMagic  = []byte("ustar")
)

const tarMagicOffset = 257

// sniffFormat identifies an archive by its leading bytes.
func sniffFormat(header []byte) archiveFormat {
	switch {
	case bytes.HasPrefix(header, zipMagic), bytes.HasPrefix(header, zipEmpty):
		return formatZip
	case bytes.HasPrefix(header, gzipMagic):
		return formatTarGzip
	case bytes.HasPrefix(header, zstdMagic):
		return formatTarZstd
	case len(header) >= tarMagicOffset+len(tarMagic) &&
		bytes.Equal(header[tarMagicOffset:tarMagicOffset+len(tarMagic)], tarMagic):
		return formatTar
	}
	return formatUnknown
}

// formatOf detects the archive format from its file name, falling back to
// the file's contents when the name has no recognised extension.
func formatOf(archive string) (archiveFormat, error) {
	if f := detectFormat(archive); f != formatUnknown {
		return f, nil
	}

	file, err := os.Open(archive)
	if err != nil {
		return formatUnknown, fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	header := make([]byte, tarMagicOffset+len(tarMagic))
	n, err := io.ReadFull(file, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return formatUnknown, fmt.Errorf("failed to read archive: %w", err)
	}
	return sniffFormat(header[:n]), nil
}

// extract unpacks archive into dest, reporting entries processed over
// total entries after each one.
func extract(ctx context.Context, archive, dest string, progress func(float64)) error {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create extract dir: %w", err)
	}

	format, err := formatOf(archive)
	if err != nil {
		return err
	}
	switch format {
	case formatZip:
		return extractZip(ctx, archive, dest, progress)
	case formatTar, formatTarGzip, formatTarZstd:
		return extractTar(ctx, archive, format, dest, progress)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(archive))
}

func extractZip(ctx context.Context, archive, dest string, progress func(float64)) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	total := len(r.File)
	if total == 0 {
		progress(1)
		return nil
	}

	for i, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := extractZipEntry(f, dest); err != nil {
			return err
		}
		progress(float64(i+1) / float64(total))
	}
	return nil
}

func extractZipEntry(f *zip.File, dest string) error {
	target, err := safeJoin(dest, f.Name)
	if err != nil {
		return err
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	return writeFile(target, rc, f.Mode().Perm())
}

func openTar(archive string, format archiveFormat) (*tar.Reader, io.Closer, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archive: %w", err)
	}

	switch format {
	case formatTarGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return tar.NewReader(gz), closers{gz, f}, nil
	case formatTarZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		return tar.NewReader(zr), closers{zstdCloser{zr}, f}, nil
	}
	return tar.NewReader(f), f, nil
}

func countTarEntries(ctx context.Context, archive string, format archiveFormat) (int, error) {
	tr, c, err := openTar(archive, format)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		_, err := tr.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read tar: %w", err)
		}
		n++
	}
}

func extractTar(ctx context.Context, archive string, format archiveFormat, dest string, progress func(float64)) error {
	total, err := countTarEntries(ctx, archive, format)
	if err != nil {
		return err
	}
	if total == 0 {
		progress(1)
		return nil
	}

	tr, c, err := openTar(archive, format)
	if err != nil {
		return err
	}
	defer c.Close()

	for done := 1; ; done++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}
		if err := extractTarEntry(tr, hdr, dest); err != nil {
			return err
		}
		progress(float64(min(done, total)) / float64(total))
	}
}

func extractTarEntry(tr *tar.Reader, hdr *tar.Header, dest string) error {
	target, err := safeJoin(dest, hdr.Name)
	if err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0o755)
	case tar.TypeReg:
		return writeFile(target, tr, os.FileMode(hdr.Mode).Perm())
	case tar.TypeSymlink:
		linkTarget := hdr.Linkname
		if !filepath.IsAbs(linkTarget) {
			linkTarget = filepath.Join(filepath.Dir(target), linkTarget)
		}
		if _, err := safeJoin(dest, mustRel(dest, linkTarget)); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		_ = os.Remove(target)
		return os.Symlink(hdr.Linkname, target)
	}
	// Other entry types (devices, fifos, hard links) are not part of snapshots.
	return nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return out.Close()
}

// safeJoin joins name onto dest and rejects results outside dest.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func mustRel(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return filepath.ToSlash(rel)
}

type closers []io.Closer

func (cs closers) Close() error {
	var errs []error
	for _, c := range cs {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

type zstdCloser struct {
	d *zstd.Decoder
}

func (z zstdCloser) Close() error {
	z.d.Close()
	return nil
}
