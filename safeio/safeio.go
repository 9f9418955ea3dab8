// Package safeio provides bounded reads for untrusted inputs (chart exports,
// decoded payloads, decompressed archive members) and confinement of
// client-supplied paths.
package safeio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrLimitExceeded is returned when an input is larger than its ceiling.
	ErrLimitExceeded = errors.New("safeio: input exceeds limit")

	// ErrPathTraversal is returned when a path would escape its root.
	ErrPathTraversal = errors.New("safeio: path escapes root")
)

// SafePath joins a client-supplied path onto base and returns the cleaned
// result, or ErrPathTraversal if userInput contains ".." or the result is
// not under base. Absolute inputs are taken relative to base.
func SafePath(base, userInput string) (string, error) {
	if strings.Contains(userInput, "..") {
		return "", ErrPathTraversal
	}
	root := filepath.Clean(base)
	cleaned := filepath.Join(root, filepath.Clean("/"+userInput))
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// LimitError reports which ceiling was crossed.
type LimitError struct {
	Limit int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("safeio: input exceeds %d bytes", e.Limit)
}

func (e *LimitError) Unwrap() error { return ErrLimitExceeded }

// LimitedReadAll reads at most maxBytes from r. One extra byte is read to
// tell "exactly at the limit" from "over the limit".
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, &LimitError{Limit: maxBytes}
	}
	return data, nil
}

// ReadFile reads path, refusing files larger than maxBytes before reading them.
func ReadFile(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() > maxBytes {
		return nil, &LimitError{Limit: maxBytes}
	}
	return LimitedReadAll(f, maxBytes)
}
