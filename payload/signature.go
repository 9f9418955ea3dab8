package payload

import (
	"bytes"
	"fmt"
	"strings"
)

// Container is the outer encoding of a correspondence body.
type Container string

const (
	ContainerRichText Container = "rtf"     // base64 RTF
	ContainerArchive  Container = "archive" // base64 zip holding one member
)

// Kind is what a payload turned out to contain once unwrapped.
type Kind string

const (
	KindRichText Kind = "rtf"
	KindPDF      Kind = "pdf"
	KindBitmap   Kind = "bitmap"
	KindJPEG     Kind = "jpeg"
)

// SniffLen is the number of leading characters compared by Sniff.
const SniffLen = 5

type containerSignature struct {
	prefix    string
	container Container
}

// containerSignatures are the base64 renderings of "{\rt" and "PK\x03\x04".
// Order matters: the first literal match wins.
var containerSignatures = []containerSignature{
	{prefix: "e1xyd", container: ContainerRichText},
	{prefix: "UEsDB", container: ContainerArchive},
}

type binarySignature struct {
	kind   Kind
	offset int
	magic  []byte
}

// binarySignatures classify a decompressed archive member. Anything that
// matches none of them must be UTF-8 RTF.
var binarySignatures = []binarySignature{
	{kind: KindPDF, offset: 1, magic: []byte("PDF")},
	{kind: KindBitmap, offset: 0, magic: []byte("BM")},
	{kind: KindJPEG, offset: 0, magic: []byte{0xFF, 0xD8}},
}

// Sniff classifies body by an exact, case-sensitive prefix match.
func Sniff(body string) (Container, bool) {
	if len(body) < SniffLen {
		return "", false
	}
	head := body[:SniffLen]
	for _, sig := range containerSignatures {
		if head == sig.prefix {
			return sig.container, true
		}
	}
	return "", false
}

func classifyBinary(data []byte) (Kind, bool) {
	for _, sig := range binarySignatures {
		end := sig.offset + len(sig.magic)
		if len(data) >= end && bytes.Equal(data[sig.offset:end], sig.magic) {
			return sig.kind, true
		}
	}
	return "", false
}

// Signature describes one table row for listings (MCP, HTTP, CLI).
type Signature struct {
	Layer  string `json:"layer"` // "container" or "member"
	Name   string `json:"name"`
	Offset int    `json:"offset"`
	Magic  string `json:"magic"`
	Action string `json:"action"`
}

// Signatures lists both signature tables in evaluation order.
func Signatures() []Signature {
	var out []Signature
	for _, s := range containerSignatures {
		out = append(out, Signature{Layer: "container", Name: string(s.container), Magic: s.prefix, Action: "unwrap"})
	}
	for _, s := range binarySignatures {
		out = append(out, Signature{Layer: "member", Name: string(s.kind), Offset: s.offset, Magic: printable(s.magic), Action: "skip"})
	}
	return out
}

func printable(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c >= 0x20 && c < 0x7f {
			sb.WriteByte(c)
		} else {
			fmt.Fprintf(&sb, `\x%02X`, c)
		}
	}
	return sb.String()
}
