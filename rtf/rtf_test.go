package rtf

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestToText(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"paragraphs", `{\rtf1\ansi PRINCIPAL DIAGNOSIS\par\par 1: Sepsis\par}`, "PRINCIPAL DIAGNOSIS\n\n1: Sepsis\n"},
		{"font and colour tables", `{\rtf1\ansi\deff0{\fonttbl{\f0\fswiss Arial;}}{\colortbl;\red0\green0\blue0;}\f0\fs20 Hello\par}`, "Hello\n"},
		{"starred destination", `{\rtf1{\*\generator Riched20 10.0;}Body\par}`, "Body\n"},
		{"info group", `{\rtf1{\info{\author Dr Who}{\title Summary}}Text}`, "Text"},
		{"formatting words", `{\rtf1\pard\plain\b Bold\b0  plain\par}`, "Bold plain\n"},
		{"hex escape 1252", `{\rtf1\ansi\ansicpg1252 Cr\'e8me\par}`, "Crème\n"},
		{"hex escape 1251", `{\rtf1\ansi\ansicpg1251 \'cf\'f0}`, "Пр"},
		{"unicode with fallback", `{\rtf1\uc1\u8212?x}`, "\u2014x"},
		{"surrogate pair", `{\rtf1\uc0\u-10179\u-8704 }`, "\U0001F600"},
		{"tabs and cells", `{\rtf1 a\tab b\cell}`, "a\tb\t"},
		{"section break", `{\rtf1 a\sect b}`, "a\n\nb"},
		{"escaped braces", `{\rtf1 \{x\}\\ y}`, `{x}\ y`},
		{"source newlines ignored", "{\\rtf1 a\r\nb}", "ab"},
		{"symbols", `{\rtf1 \bullet  \ldblquote x\rdblquote}`, "\u2022 \u201Cx\u201D"},
		{"non-breaking space", `{\rtf1 a\~b}`, "a b"},
		{"raw utf-8 text", "{\\rtf1 café}", "café"},
		{"hyphen after paragraph", `{\rtf1 PRINCIPAL DIAGNOSIS\par\par- Pneumonia\par}`, "PRINCIPAL DIAGNOSIS\n\n- Pneumonia\n"},
		{"hyphen after tab", `{\rtf1 a\tab-b}`, "a\t-b"},
		{"negative parameter", `{\rtf1\fi-360 x}`, "x"},
		{"field result kept", `{\rtf1{\field{\*\fldinst HYPERLINK "x"}{\fldrslt link}}}`, "link"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToText(tt.src)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("ToText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToText_NotRTF(t *testing.T) {
	src := "PRINCIPAL DIAGNOSIS\n\n- Pneumonia"
	got, err := ToText(src)
	if err != nil {
		t.Fatal(err)
	}
	if got != src {
		t.Fatalf("ToText = %q, want input unchanged", got)
	}
}

func TestToText_TooDeep(t *testing.T) {
	src := `{\rtf1` + strings.Repeat("{", MaxDepth) + "x"
	if _, err := ToText(src); !errors.Is(err, ErrTooDeep) {
		t.Fatalf("err = %v, want ErrTooDeep", err)
	}
}

func TestToText_Unbalanced(t *testing.T) {
	got, err := ToText(`{\rtf1 a}}} b`)
	if err != nil {
		t.Fatal(err)
	}
	if got != "a b" {
		t.Fatalf("ToText = %q", got)
	}
}

func TestIsRTF(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{`{\rtf1}`, true},
		{"\r\n  {\\rtf1}", true},
		{"\ufeff{\\rtf1}", true},
		{"{rtf1}", false},
		{"plain", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsRTF(tt.src); got != tt.want {
			t.Errorf("IsRTF(%q) = %v, want %v", tt.src, got, tt.want)
		}
	}
}

func TestLines(t *testing.T) {
	got := Lines("HISTORY\r\nPRINCIPAL DIAGNOSIS\n\n1: Sepsis\n")
	want := []string{"HISTORY", "PRINCIPAL DIAGNOSIS", "", "1: Sepsis", ""}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Lines = %q, want %q", got, want)
	}
}
