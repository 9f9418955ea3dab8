package safeio

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLimitedReadAll(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		max     int64
		wantErr bool
	}{
		{"under", "abc", 5, false},
		{"exact", "abcde", 5, false},
		{"over", "abcdef", 5, true},
		{"empty", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := LimitedReadAll(strings.NewReader(tt.input), tt.max)
			if tt.wantErr {
				if !errors.Is(err, ErrLimitExceeded) {
					t.Fatalf("err = %v, want ErrLimitExceeded", err)
				}
				var le *LimitError
				if !errors.As(err, &le) || le.Limit != tt.max {
					t.Fatalf("err = %v, want *LimitError{%d}", err, tt.max)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != tt.input {
				t.Fatalf("data = %q, want %q", data, tt.input)
			}
		})
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.xml")
	if err := os.WriteFile(path, []byte("<Patient/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := ReadFile(path, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "<Patient/>" {
		t.Fatalf("data = %q", data)
	}

	if _, err := ReadFile(path, 4); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("small limit: err = %v, want ErrLimitExceeded", err)
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.xml"), 10); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file: err = %v, want ErrNotExist", err)
	}
}

func TestSafePath(t *testing.T) {
	tests := []struct {
		base, input string
		want        string
		wantErr     bool
	}{
		{"/data/charts", "Doe John 19181111.xml", "/data/charts/Doe John 19181111.xml", false},
		{"/data/charts", "2024/a.xml", "/data/charts/2024/a.xml", false},
		{"/data/charts", "/a.xml", "/data/charts/a.xml", false},
		{"/data/charts/", "a.xml", "/data/charts/a.xml", false},
		{"/data/charts", "../etc/passwd", "", true},
		{"/data/charts", "a/../b.xml", "", true},
		{"/data/charts", "a/../../outside.xml", "", true},
		{"/data/charts", "/../../etc/passwd", "", true},
	}
	for _, tt := range tests {
		got, err := SafePath(tt.base, tt.input)
		if tt.wantErr {
			if !errors.Is(err, ErrPathTraversal) {
				t.Errorf("SafePath(%q, %q) err = %v, want ErrPathTraversal", tt.base, tt.input, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("SafePath(%q, %q) = %q, %v, want %q", tt.base, tt.input, got, err, tt.want)
		}
	}
}
