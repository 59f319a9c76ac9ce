package geoserver

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tethys-dataset-services/internal/common/archive"
	"github.com/tethys-dataset-services/pkg/dataset"
)

func readSource(src dataset.Source) ([]byte, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func baseName(fileName string) string {
	return strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
}

// prepareShapefile returns the zip uploaded for a shapefile and the name
// GeoServer gives the resulting feature type. A .shp path is bundled with
// its sidecars under the store name, while a zip keeps its own base name.
func prepareShapefile(op, storeName string, src dataset.Source) ([]byte, string, error) {
	if src.Path != "" && !archive.IsZip(src.Path) {
		buf, err := archive.ZipShapefile(src.Path, storeName)
		if err != nil {
			return nil, "", dataset.Errorf(dataset.KindInvalid, op, "%v", err)
		}
		return buf.Bytes(), storeName, nil
	}
	data, err := readSource(src)
	if err != nil {
		return nil, "", dataset.Errorf(dataset.KindInvalid, op, "%v", err)
	}
	if !archive.IsZipData(data) {
		return nil, "", dataset.Errorf(dataset.KindInvalid, op, "%q is not a zip archive", src.Name())
	}
	return data, baseName(src.Name()), nil
}

// prepareCoverage returns the zip uploaded for a coverage. Zip input is
// unpacked first so GRASS grids inside it can be converted.
func prepareCoverage(op, coverageType string, src dataset.Source) ([]byte, error) {
	data, err := readSource(src)
	if err != nil {
		return nil, dataset.Errorf(dataset.KindInvalid, op, "%v", err)
	}
	var files []archive.File
	if archive.IsZipData(data) {
		if files, err = archive.Unzip(data); err != nil {
			return nil, dataset.Errorf(dataset.KindInvalid, op, "%v", err)
		}
	} else {
		files = []archive.File{{Name: src.Name(), Data: data}}
	}

	if coverageType == CoverageGrassGrid {
		if len(files) > 2 {
			names := make([]string, len(files))
			for i, f := range files {
				names[i] = f.Name
			}
			return nil, dataset.Errorf(dataset.KindInvalid, op,
				"expected 1 or 2 files for coverage type %q but got %d: %s",
				CoverageGrassGrid, len(files), strings.Join(names, ", "))
		}
		for i, f := range files {
			if strings.Contains(f.Name, "prj") {
				continue
			}
			converted, err := grassToArcGrid(f.Data)
			if err != nil {
				return nil, dataset.Errorf(dataset.KindInvalid, op, "%v", err)
			}
			files[i].Data = converted
		}
	}

	entries := make([]archive.Entry, len(files))
	for i, f := range files {
		entries[i] = archive.Entry{Name: f.Name, Reader: bytes.NewReader(f.Data)}
	}
	var buf bytes.Buffer
	if err := archive.Zip(&buf, entries...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var errCorruptGrass = errors.New("GRASS file could not be processed, check that the GRASS grid is correctly formatted")

// grassToArcGrid replaces the six line GRASS ASCII header (north, south,
// east, west, rows, cols) with the equivalent ArcGrid header.
func grassToArcGrid(data []byte) ([]byte, error) {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(lines) < 6 {
		return nil, errCorruptGrass
	}

	var north, south, west float64
	var rows, cols int
	for _, line := range lines[:6] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errCorruptGrass
		}
		value = strings.TrimSpace(value)
		var err error
		switch {
		case strings.Contains(key, "north"):
			north, err = strconv.ParseFloat(value, 64)
		case strings.Contains(key, "south"):
			south, err = strconv.ParseFloat(value, 64)
		case strings.Contains(key, "east"):
		case strings.Contains(key, "west"):
			west, err = strconv.ParseFloat(value, 64)
		case strings.Contains(key, "rows"):
			rows, err = strconv.Atoi(value)
		case strings.Contains(key, "cols"):
			cols, err = strconv.Atoi(value)
		default:
			return nil, errCorruptGrass
		}
		if err != nil {
			return nil, errCorruptGrass
		}
	}
	if rows == 0 {
		return nil, errCorruptGrass
	}

	ff := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	var out bytes.Buffer
	fmt.Fprintf(&out, "ncols         %d\n", cols)
	fmt.Fprintf(&out, "nrows         %d\n", rows)
	fmt.Fprintf(&out, "xllcorner     %s\n", ff(west))
	fmt.Fprintf(&out, "yllcorner     %s\n", ff(south))
	fmt.Fprintf(&out, "cellsize      %s\n", ff((north-south)/float64(rows)))
	for _, line := range lines[6:] {
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.Bytes(), nil
}
