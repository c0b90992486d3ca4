// Package linesource looks up lines of a text resource by index.
//
// Lines are numbered from 0 over the filtered sequence: each raw line is
// trimmed and empty lines are skipped. Every Source in
// this package is safe for concurrent use.
package linesource

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// maxLineSize bounds a single raw line read from a resource.
const maxLineSize = 1024 * 1024

// Source returns the line at a 0-based index.
type Source interface {
	Lookup(ctx context.Context, index int) (string, error)
}

// keep reports whether a trimmed line takes part in the numbering.
func keep(line string) bool {
	return line != ""
}

// scanLines calls fn for every kept line of r with its index, until fn
// returns false.
func scanLines(r io.Reader, fn func(index int, line string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	index := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !keep(line) {
			continue
		}
		if !fn(index, line) {
			return nil
		}
		index++
	}
	return errors.Wrap(scanner.Err(), "scan lines")
}

// Memory is a Source holding every line in memory.
type Memory struct {
	lines []string
}

// FromLines builds a Memory source. Lines are trimmed and filtered the same
// way file lines are.
func FromLines(lines ...string) *Memory {
	m := &Memory{lines: make([]string, 0, len(lines))}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if keep(line) {
			m.lines = append(m.lines, line)
		}
	}
	return m
}

// Read builds a Memory source from r.
func Read(r io.Reader) (*Memory, error) {
	m := &Memory{}
	err := scanLines(r, func(_ int, line string) bool {
		m.lines = append(m.lines, line)
		return true
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Load builds a Memory source from the file at path.
func Load(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	return Read(f)
}

// Len returns the number of lines.
func (m *Memory) Len() int {
	return len(m.lines)
}

// Lookup returns the line at index or ErrNotFound.
func (m *Memory) Lookup(ctx context.Context, index int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if index < 0 || index >= len(m.lines) {
		return "", errors.Wrapf(ErrNotFound, "index %d of %d lines", index, len(m.lines))
	}
	return m.lines[index], nil
}

// Scan is a Source that reads the file from the start on every lookup.
// It needs no memory for the index and is meant to be wrapped in a Cached
// source.
type Scan struct {
	path string
}

// NewScan returns a Scan source over the file at path. The file must exist.
func NewScan(path string) (*Scan, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	return &Scan{path: path}, nil
}

// Lookup scans the file up to index.
func (s *Scan) Lookup(ctx context.Context, index int) (string, error) {
	if index < 0 {
		return "", errors.Wrapf(ErrNotFound, "negative index %d", index)
	}

	f, err := os.Open(s.path)
	if err != nil {
		return "", errors.Wrapf(err, "open %s", s.path)
	}
	defer f.Close()

	var (
		found  bool
		result string
		ctxErr error
	)
	err = scanLines(f, func(i int, line string) bool {
		if ctxErr = ctx.Err(); ctxErr != nil {
			return false
		}
		if i == index {
			found, result = true, line
			return false
		}
		return true
	})
	switch {
	case ctxErr != nil:
		return "", ctxErr
	case err != nil:
		return "", err
	case !found:
		return "", errors.Wrapf(ErrNotFound, "index %d", index)
	}
	return result, nil
}
