// Package payload turns the encoded body of a correspondence entry into RTF
// text, or recognises it as a binary document that carries no extractable
// text.
//
// Two signature tables drive the decision. The outer table matches the first
// five characters of the base64 body:
//
//	e1xyd  base64 RTF
//	UEsDB  base64 zip archive with exactly one member
//
// The inner table matches the decompressed archive member:
//
//	[1:4] "PDF"      skip
//	[0:2] "BM"       skip
//	[0:2] FF D8      skip
//	otherwise        UTF-8 RTF
//
// Skips come back as a Resolved value; structural problems come back as typed
// errors (UndeclaredHeaderError, MultiEntryArchiveError,
// UndecodablePayloadError, PayloadTooLargeError).
package payload

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/dischargedx/safeio"
)

// Meta identifies the document being resolved in errors and logs.
type Meta struct {
	Ref  string
	Date time.Time
}

// Resolved is the outcome of a successful resolution.
type Resolved struct {
	Container Container `json:"container"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text,omitempty"`   // KindRichText only
	Detail    string    `json:"detail,omitempty"` // skipped kinds only
	Size      int       `json:"size"`             // decoded bytes
}

// Skipped reports whether the payload is a binary document with no text.
func (r Resolved) Skipped() bool { return r.Kind != KindRichText }

// Limits are the decoding ceilings. Zero values take the defaults.
type Limits struct {
	MaxEncodedBytes      int64
	MaxDecompressedBytes int64
}

const (
	DefaultMaxEncodedBytes      int64 = 64 << 20
	DefaultMaxDecompressedBytes int64 = 32 << 20
)

func (l *Limits) defaults() {
	if l.MaxEncodedBytes <= 0 {
		l.MaxEncodedBytes = DefaultMaxEncodedBytes
	}
	if l.MaxDecompressedBytes <= 0 {
		l.MaxDecompressedBytes = DefaultMaxDecompressedBytes
	}
}

// Resolver unwraps payloads. It holds no per-document state and is safe for
// concurrent use.
type Resolver struct {
	limits Limits
	probe  bool
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithoutProbe disables the best-effort description of skipped binaries.
func WithoutProbe() Option { return func(r *Resolver) { r.probe = false } }

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// NewResolver creates a Resolver with the given ceilings.
func NewResolver(limits Limits, opts ...Option) *Resolver {
	limits.defaults()
	r := &Resolver{limits: limits, probe: true, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve classifies and unwraps body.
func (r *Resolver) Resolve(meta Meta, body string) (Resolved, error) {
	if int64(len(body)) > r.limits.MaxEncodedBytes {
		return Resolved{}, &PayloadTooLargeError{Ref: meta.Ref, Date: meta.Date, What: "encoded body", Limit: r.limits.MaxEncodedBytes}
	}

	container, ok := Sniff(body)
	if !ok {
		return Resolved{}, &UndeclaredHeaderError{Ref: meta.Ref, Date: meta.Date, Prefix: head(body)}
	}

	raw, err := decodeBase64(body)
	if err != nil {
		return Resolved{}, &UndecodablePayloadError{Ref: meta.Ref, Date: meta.Date, Stage: "base64", Err: err}
	}

	var res Resolved
	switch container {
	case ContainerRichText:
		res, err = r.richText(meta, raw)
	case ContainerArchive:
		res, err = r.archive(meta, raw)
	}
	if err != nil {
		return Resolved{}, err
	}
	res.Container = container

	r.logger.Debug("payload resolved", "document", meta.Ref, "container", container, "kind", res.Kind, "bytes", res.Size)
	return res, nil
}

func (r *Resolver) richText(meta Meta, raw []byte) (Resolved, error) {
	if !utf8.Valid(raw) {
		return Resolved{}, &UndecodablePayloadError{Ref: meta.Ref, Date: meta.Date, Stage: "utf-8 text"}
	}
	return Resolved{Kind: KindRichText, Text: string(raw), Size: len(raw)}, nil
}

func (r *Resolver) archive(meta Meta, raw []byte) (Resolved, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return Resolved{}, &UndecodablePayloadError{Ref: meta.Ref, Date: meta.Date, Stage: "zip archive", Err: err}
	}
	if len(zr.File) != 1 {
		return Resolved{}, &MultiEntryArchiveError{Ref: meta.Ref, Date: meta.Date, Count: len(zr.File)}
	}

	member := zr.File[0]
	tooLarge := &PayloadTooLargeError{Ref: meta.Ref, Date: meta.Date, What: "decompressed member", Limit: r.limits.MaxDecompressedBytes}
	if member.UncompressedSize64 > uint64(r.limits.MaxDecompressedBytes) {
		return Resolved{}, tooLarge
	}

	rc, err := member.Open()
	if err != nil {
		return Resolved{}, &UndecodablePayloadError{Ref: meta.Ref, Date: meta.Date, Stage: "zip member " + member.Name, Err: err}
	}
	defer rc.Close()

	// The header size is only a hint; the bounded read is what holds.
	data, err := safeio.LimitedReadAll(rc, r.limits.MaxDecompressedBytes)
	if errors.Is(err, safeio.ErrLimitExceeded) {
		return Resolved{}, tooLarge
	}
	if err != nil {
		return Resolved{}, &UndecodablePayloadError{Ref: meta.Ref, Date: meta.Date, Stage: "zip member " + member.Name, Err: err}
	}

	if kind, ok := classifyBinary(data); ok {
		res := Resolved{Kind: kind, Size: len(data)}
		if r.probe {
			res.Detail = describe(kind, data)
		}
		return res, nil
	}
	return r.richText(meta, data)
}

// decodeBase64 accepts bodies wrapped over several lines and bodies whose
// padding was stripped.
func decodeBase64(body string) ([]byte, error) {
	clean := strings.Map(func(c rune) rune {
		switch c {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return c
	}, body)
	raw, err := base64.StdEncoding.DecodeString(clean)
	if err == nil {
		return raw, nil
	}
	if len(clean)%4 != 0 {
		if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(clean, "=")); rawErr == nil {
			return raw, nil
		}
	}
	return nil, err
}

func head(body string) string {
	if len(body) > SniffLen {
		return body[:SniffLen]
	}
	return body
}
