// Package archive extracts toolchain distribution archives. It
// understands the tar.xz and tar.gz layouts the upstream language
// distributions publish and refuses entries that would write outside
// the destination directory.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// Format identifies the compression wrapping a tar stream.
type Format string

const (
	FormatTarXz Format = "tar.xz"
	FormatTarGz Format = "tar.gz"
	FormatTar   Format = "tar"
)

// DetectFormat infers the archive format from a file name.
func DetectFormat(name string) (Format, bool) {
	switch {
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return FormatTarXz, true
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return FormatTarGz, true
	case strings.HasSuffix(name, ".tar"):
		return FormatTar, true
	}
	return "", false
}

// Options control extraction.
type Options struct {
	// StripComponents drops this many leading path elements from every
	// entry. Distribution tarballs wrap their content in a single
	// versioned top-level directory; 1 unwraps it.
	StripComponents int
}

// Summary reports what an extraction wrote.
type Summary struct {
	Files int
	Dirs  int
	Links int
	Bytes int64
}

// Extract unpacks the archive at src into dest, creating dest if
// needed. The format is detected from the file name.
func Extract(ctx context.Context, src, dest string, opts Options) (*Summary, error) {
	format, ok := DetectFormat(src)
	if !ok {
		return nil, fmt.Errorf("unsupported archive format: %s", filepath.Base(src))
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	switch format {
	case FormatTarXz:
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read xz stream: %w", err)
		}
		r = xr
	case FormatTarGz:
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read gzip stream: %w", err)
		}
		defer gr.Close()
		r = gr
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}
	return extractTar(ctx, r, dest, opts)
}

func extractTar(ctx context.Context, r io.Reader, dest string, opts Options) (*Summary, error) {
	summary := &Summary{}
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		header, err := tr.Next()
		if err == io.EOF {
			return summary, nil
		}
		if err != nil {
			return summary, fmt.Errorf("failed to read archive: %w", err)
		}

		name, ok := stripPath(header.Name, opts.StripComponents)
		if !ok {
			continue
		}
		target, err := safeJoin(dest, name)
		if err != nil {
			return summary, err
		}
		mode := header.FileInfo().Mode().Perm()

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, mode); err != nil {
				return summary, fmt.Errorf("failed to create directory: %w", err)
			}
			summary.Dirs++

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return summary, fmt.Errorf("failed to create directory: %w", err)
			}
			n, err := writeFile(target, tr, mode)
			if err != nil {
				return summary, err
			}
			summary.Files++
			summary.Bytes += n

		case tar.TypeSymlink:
			if err := checkLink(dest, target, header.Linkname); err != nil {
				return summary, err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return summary, fmt.Errorf("failed to create directory: %w", err)
			}
			os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return summary, fmt.Errorf("failed to create symlink: %w", err)
			}
			summary.Links++
		}
	}
}

func writeFile(target string, r io.Reader, mode os.FileMode) (int64, error) {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to write %s: %w", filepath.Base(target), err)
	}
	return n, nil
}

// stripPath drops n leading elements from a slash-separated entry
// name. Entries consumed entirely by the strip are skipped.
func stripPath(name string, n int) (string, bool) {
	name = path.Clean(strings.TrimPrefix(name, "/"))
	if name == "." || name == "" {
		return "", false
	}
	if n <= 0 {
		return name, true
	}
	parts := strings.Split(name, "/")
	if len(parts) <= n {
		return "", false
	}
	return path.Join(parts[n:]...), true
}

// safeJoin joins an entry name onto dest and rejects anything that
// resolves outside it.
func safeJoin(dest, name string) (string, error) {
	name = filepath.FromSlash(name)
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("archive entry has an absolute path: %s", name)
	}
	target := filepath.Join(dest, name)
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes the destination: %s", name)
	}
	return target, nil
}

// checkLink rejects symlinks whose target resolves outside dest.
// Distribution tarballs use relative links (bin/npm into lib/); an
// absolute or escaping link is hostile.
func checkLink(dest, target, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("archive symlink has an absolute target: %s", linkname)
	}
	resolved := filepath.Join(filepath.Dir(target), filepath.FromSlash(linkname))
	if resolved != dest && !strings.HasPrefix(resolved, dest+string(os.PathSeparator)) {
		return fmt.Errorf("archive symlink escapes the destination: %s", linkname)
	}
	return nil
}
