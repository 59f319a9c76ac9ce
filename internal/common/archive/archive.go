// Package archive packs local files into the zip bundles GeoServer accepts
// for shapefile and coverage uploads.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

var (
	shapefileRequired = []string{".shp", ".shx", ".dbf"}
	shapefileOptional = []string{".prj", ".cpg", ".qix"}
)

// Entry is one file to add to an archive.
type Entry struct {
	Name   string
	Reader io.Reader
}

// Zip writes entries to w as a deflated zip archive.
func Zip(w io.Writer, entries ...Entry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		fw, err := zw.Create(e.Name)
		if err != nil {
			return fmt.Errorf("adding %s: %w", e.Name, err)
		}
		if _, err := io.Copy(fw, e.Reader); err != nil {
			return fmt.Errorf("writing %s: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	return nil
}

// ZipFiles archives the files at paths under their base names.
func ZipFiles(w io.Writer, paths ...string) error {
	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("opening %s: %w", p, err)
		}
		defer f.Close()
		entries = append(entries, Entry{Name: filepath.Base(p), Reader: f})
	}
	return Zip(w, entries...)
}

// ShapefileParts returns the sidecar files of the shapefile at base, which
// may be given with or without the .shp extension. The .shp, .shx and .dbf
// parts are required.
func ShapefileParts(base string) ([]string, error) {
	base = strings.TrimSuffix(base, filepath.Ext(base))
	var parts []string
	for _, ext := range shapefileRequired {
		p := base + ext
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("shapefile %s is missing its %s part", filepath.Base(base), ext)
		}
		parts = append(parts, p)
	}
	for _, ext := range shapefileOptional {
		p := base + ext
		if _, err := os.Stat(p); err == nil {
			parts = append(parts, p)
		}
	}
	return parts, nil
}

// ZipShapefile bundles a shapefile and its sidecars. Each part is stored
// under name with its original extension.
func ZipShapefile(base, name string) (*bytes.Buffer, error) {
	parts, err := ShapefileParts(base)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(parts))
	for _, p := range parts {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", p, err)
		}
		defer f.Close()
		entries = append(entries, Entry{Name: name + filepath.Ext(p), Reader: f})
	}
	var buf bytes.Buffer
	if err := Zip(&buf, entries...); err != nil {
		return nil, err
	}
	return &buf, nil
}

// IsZip reports whether name has a .zip extension.
func IsZip(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zip")
}

// List returns the sorted entry names of a zip archive held in memory.
func List(data []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names, nil
}

// File is an archive member read into memory.
type File struct {
	Name string
	Data []byte
}

// Unzip reads every regular file of a zip archive held in memory. Directory
// entries are skipped and names are reduced to their base.
func Unzip(data []byte) ([]File, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	var files []File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.Name, err)
		}
		files = append(files, File{Name: filepath.Base(f.Name), Data: b})
	}
	return files, nil
}

// IsZipData reports whether data starts with a zip local file header.
func IsZipData(data []byte) bool {
	return bytes.HasPrefix(data, []byte("PK\x03\x04"))
}
