package geometry

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrArchiveTooLarge is returned when the extracted archive would exceed
// the configured size limit.
var ErrArchiveTooLarge = errors.New("archive exceeds extracted size limit")

var errTooLarge = errors.New("entry over limit")

// shapefileExts are the companion extensions normalised to lower case on
// extraction; go-shp derives sibling paths by swapping a lower-case suffix.
var shapefileExts = map[string]bool{
	".shp": true,
	".shx": true,
	".dbf": true,
	".prj": true,
	".cpg": true,
	".sbn": true,
	".sbx": true,
	".qix": true,
}

// extractArchive writes the regular files of a zip archive under dir and
// returns their paths in archive order. Entries that would land outside dir
// are rejected, as is an archive whose extracted size exceeds maxBytes.
func extractArchive(data []byte, dir string, maxBytes int64) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	root := filepath.Clean(dir) + string(os.PathSeparator)
	var (
		paths []string
		total int64
	)
	for _, f := range zr.File {
		if skipEntry(f) {
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(normalizeEntryName(f.Name)))
		if !strings.HasPrefix(target, root) {
			return nil, fmt.Errorf("archive entry %q escapes extraction directory", f.Name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return nil, fmt.Errorf("create directory for %q: %w", f.Name, err)
		}
		n, err := writeEntry(f, target, maxBytes-total)
		if errors.Is(err, errTooLarge) {
			return nil, fmt.Errorf("%w: limit is %d bytes", ErrArchiveTooLarge, maxBytes)
		}
		if err != nil {
			return nil, err
		}
		total += n
		paths = append(paths, target)
	}
	return paths, nil
}

func skipEntry(f *zip.File) bool {
	if f.FileInfo().IsDir() {
		return true
	}
	name := strings.ReplaceAll(f.Name, "\\", "/")
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(path.Base(name), "._")
}

// normalizeEntryName lower-cases shapefile-family extensions and leaves the
// rest of the name alone.
func normalizeEntryName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	ext := path.Ext(name)
	if shapefileExts[strings.ToLower(ext)] {
		return strings.TrimSuffix(name, ext) + strings.ToLower(ext)
	}
	return name
}

func writeEntry(f *zip.File, target string, remaining int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("open archive entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(target) //nolint:gosec // target is confined to the extraction directory
	if err != nil {
		return 0, fmt.Errorf("create %q: %w", f.Name, err)
	}
	n, err := io.Copy(out, io.LimitReader(rc, remaining+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("extract %q: %w", f.Name, err)
	}
	if n > remaining {
		return n, errTooLarge
	}
	return n, nil
}
