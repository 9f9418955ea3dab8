// Package diagnosis locates the principal diagnosis in the plain text of a
// discharge summary.
//
// The value sits two lines below the "PRINCIPAL DIAGNOSIS" heading, either as
// "1: Sepsis" (text after the first colon, minus one leading character) or as
// a short bulleted line such as "- Pneumonia" (text from the third character).
package diagnosis

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Marker is the heading that precedes the diagnosis value.
const Marker = "PRINCIPAL DIAGNOSIS"

// Offset is the distance in lines from the marker to the value.
const Offset = 2

// DefaultMaxLines bounds the scan when Options.MaxLines is zero.
const DefaultMaxLines = 20000

// ErrScanLimit is returned when a document has more lines than allowed.
var ErrScanLimit = errors.New("diagnosis: scan line limit exceeded")

// MalformedDiagnosisLineError reports a value line with a colon and nothing
// after it.
type MalformedDiagnosisLineError struct {
	Line string
}

func (e *MalformedDiagnosisLineError) Error() string {
	return fmt.Sprintf("diagnosis: unable to read diagnosis line: %q", e.Line)
}

// Options tunes Extract.
type Options struct {
	MaxLines int
}

// Extract returns every diagnosis value found in lines, in order. A document
// without the marker yields no values and no error.
func Extract(lines []string, opts Options) ([]string, error) {
	limit := opts.MaxLines
	if limit <= 0 {
		limit = DefaultMaxLines
	}
	if len(lines) > limit {
		return nil, ErrScanLimit
	}

	var out []string
	target := -1
	for i, line := range lines {
		if strings.Contains(strings.TrimSpace(line), Marker) {
			target = i + Offset
		}
		if i != target {
			continue
		}
		value, err := valueOf(line)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}

func valueOf(line string) (string, error) {
	if _, rest, ok := strings.Cut(line, ":"); ok {
		value := trimRight(dropRunes(rest, 1))
		if value == "" {
			return "", &MalformedDiagnosisLineError{Line: line}
		}
		return value, nil
	}
	return trimRight(dropRunes(line, 2)), nil
}

func dropRunes(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[i:]
		}
		n--
	}
	return ""
}

func trimRight(s string) string { return strings.TrimRightFunc(s, unicode.IsSpace) }
