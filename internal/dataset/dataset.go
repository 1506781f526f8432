// Package dataset loads numeric training and test data from disk. Files are
// plain text, one sample per line, with whitespace- or comma-separated
// columns. Large files are memory-mapped; parsing walks the mapping without
// an intermediate copy.
package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrFormat is returned for lines that do not parse as the expected number
// of float columns.
var ErrFormat = errors.New("dataset: malformed data file")

// File is an open data file. It must be closed to release the mapping.
type File struct {
	data    []byte
	mmapped bool
}

// Open maps a data file read-only. If mmap is unavailable it falls back to
// reading the whole file.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < 0 || size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: unindexable size %d", ErrFormat, size64)
	}
	if size64 == 0 {
		return &File{data: []byte{}}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size64), unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		return &File{data: data, mmapped: true}, nil
	}

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &File{data: data}, nil
}

// Close releases any mmap backing.
func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	f.mmapped = false
	return err
}

// Columns parses the file into n float columns. Blank lines and lines
// starting with '#' are skipped. Every data line must carry exactly n
// fields.
func (f *File) Columns(n int) ([][]float64, error) {
	cols := make([][]float64, n)
	lineno := 0
	rest := f.data
	for len(rest) > 0 {
		lineno++
		line := rest
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
		} else {
			rest = nil
		}
		s := strings.TrimSpace(string(line))
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		fields := splitFields(s)
		if len(fields) != n {
			return nil, fmt.Errorf("%w: line %d has %d fields, want %d", ErrFormat, lineno, len(fields), n)
		}
		for j, fv := range fields {
			v, err := strconv.ParseFloat(fv, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d field %d: %v", ErrFormat, lineno, j+1, err)
			}
			cols[j] = append(cols[j], v)
		}
	}
	return cols, nil
}

// splitFields splits on commas or whitespace, whichever the line uses.
func splitFields(s string) []string {
	if strings.ContainsRune(s, ',') {
		parts := strings.Split(s, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return strings.Fields(s)
}

// LoadXY reads a two-column input/target file.
func LoadXY(path string) (x, y []float64, err error) {
	f, err := Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()
	cols, err := f.Columns(2)
	if err != nil {
		return nil, nil, err
	}
	return cols[0], cols[1], nil
}

// LoadX reads a single-column input file.
func LoadX(path string) ([]float64, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	cols, err := f.Columns(1)
	if err != nil {
		return nil, err
	}
	return cols[0], nil
}
