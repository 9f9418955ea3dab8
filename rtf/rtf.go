// Package rtf reduces RTF markup to plain text.
//
// Only what a reader sees survives: body text, paragraph and tab breaks, code
// page escapes and Unicode escapes. Font tables, style sheets, pictures,
// document info and every \* destination are dropped.
package rtf

import (
	"errors"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// MaxDepth bounds group nesting.
const MaxDepth = 1024

// ErrTooDeep is returned when groups nest deeper than MaxDepth.
var ErrTooDeep = errors.New("rtf: group nesting too deep")

// IsRTF reports whether src opens with an RTF header.
func IsRTF(src string) bool {
	return strings.HasPrefix(strings.TrimLeft(src, " \t\r\n\ufeff"), `{\rtf`)
}

// Lines splits text into lines, dropping a trailing carriage return from each.
func Lines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// ToText converts RTF to plain text. Input that is not RTF is returned as is.
func ToText(src string) (string, error) {
	if !IsRTF(src) {
		return src, nil
	}
	p := &parser{src: src, cp: charmap.Windows1252, state: group{uc: 1}}
	if err := p.run(); err != nil {
		return "", err
	}
	return p.out.String(), nil
}

type group struct {
	ignorable bool
	uc        int // fallback characters after \uN
}

type parser struct {
	src   string
	pos   int
	out   strings.Builder
	cp    *charmap.Charmap
	state group
	stack []group
	skip  int    // fallback characters still to drop
	high  uint16 // pending UTF-16 high surrogate
}

func (p *parser) run() error {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case '{':
			if len(p.stack) >= MaxDepth {
				return ErrTooDeep
			}
			p.stack = append(p.stack, p.state)
			p.pos++
		case '}':
			if n := len(p.stack); n > 0 {
				p.state = p.stack[n-1]
				p.stack = p.stack[:n-1]
			}
			p.pos++
		case '\\':
			p.pos++
			p.control()
		case '\r', '\n':
			p.pos++
		default:
			// Copy a whole rune so UTF-8 text outside escapes survives.
			end := p.pos + 1
			for end < len(p.src) && p.src[end]&0xC0 == 0x80 {
				end++
			}
			p.text(p.src[p.pos:end])
			p.pos = end
		}
	}
	return nil
}

func (p *parser) text(s string) {
	if p.state.ignorable {
		return
	}
	if p.skip > 0 {
		p.skip--
		return
	}
	p.flushSurrogate()
	p.out.WriteString(s)
}

func (p *parser) control() {
	if p.pos >= len(p.src) {
		return
	}
	c := p.src[p.pos]
	switch {
	case isLetter(c):
		p.word()
		return
	case c == '\'':
		p.pos++
		if p.pos+2 > len(p.src) {
			p.pos = len(p.src)
			return
		}
		b, ok := unhex(p.src[p.pos : p.pos+2])
		p.pos += 2
		if ok {
			p.text(string(p.cp.DecodeByte(b)))
		}
		return
	}

	p.pos++
	switch c {
	case '*':
		p.state.ignorable = true
	case '\\', '{', '}':
		p.text(string(c))
	case '~':
		p.text(" ")
	case '_':
		p.text("-")
	case '\r', '\n':
		p.text("\n")
	}
}

func (p *parser) word() {
	start := p.pos
	for p.pos < len(p.src) && isLetter(p.src[p.pos]) && p.pos-start < 32 {
		p.pos++
	}
	name := p.src[start:p.pos]

	param, hasParam := 0, false
	neg := false
	// A hyphen is a sign only when a digit follows; otherwise it is text.
	if p.pos+1 < len(p.src) && p.src[p.pos] == '-' && isDigit(p.src[p.pos+1]) {
		neg = true
		p.pos++
	}
	for n := 0; p.pos < len(p.src) && isDigit(p.src[p.pos]) && n < 10; n++ {
		param = param*10 + int(p.src[p.pos]-'0')
		hasParam = true
		p.pos++
	}
	if neg {
		param = -param
	}
	if p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}

	switch name {
	case "ansicpg":
		if cm, ok := codePages[param]; ok {
			p.cp = cm
		}
		return
	case "mac":
		p.cp = charmap.Macintosh
		return
	case "pc":
		p.cp = charmap.CodePage437
		return
	case "pca":
		p.cp = charmap.CodePage850
		return
	case "uc":
		if hasParam && param >= 0 {
			p.state.uc = param
		}
		return
	case "u":
		p.unicode(param)
		return
	case "bin":
		if hasParam && param > 0 {
			p.pos = min(p.pos+param, len(p.src))
		}
		return
	}

	if destinations[name] {
		p.state.ignorable = true
		return
	}
	if s, ok := symbols[name]; ok {
		p.text(s)
	}
}

func (p *parser) unicode(code int) {
	if p.state.ignorable {
		return
	}
	if code < 0 {
		code += 0x10000
	}
	r := uint16(code)
	switch {
	case utf16.IsSurrogate(rune(r)) && r < 0xDC00:
		p.flushSurrogate()
		p.high = r
	case utf16.IsSurrogate(rune(r)):
		if p.high != 0 {
			p.out.WriteRune(utf16.DecodeRune(rune(p.high), rune(r)))
			p.high = 0
		} else {
			p.out.WriteRune(utf8.RuneError)
		}
	default:
		p.flushSurrogate()
		p.out.WriteRune(rune(r))
	}
	p.skip = p.state.uc
}

func (p *parser) flushSurrogate() {
	if p.high != 0 {
		p.out.WriteRune(utf8.RuneError)
		p.high = 0
	}
}

func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }

func unhex(s string) (byte, bool) {
	var b byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			b = b<<4 | (c - '0')
		case c >= 'a' && c <= 'f':
			b = b<<4 | (c - 'a' + 10)
		case c >= 'A' && c <= 'F':
			b = b<<4 | (c - 'A' + 10)
		default:
			return 0, false
		}
	}
	return b, true
}
