package dxpipe

import (
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/dischargedx/diagnosis"
	"github.com/hazyhaar/dischargedx/payload"
	"github.com/hazyhaar/dischargedx/rtf"
)

// readDiagnoses normalizes RTF text to lines and extracts the diagnoses.
// Errors carry the document reference and date.
func (p *Pipeline) readDiagnoses(meta payload.Meta, richText string) (lines, values []string, err error) {
	text, err := rtf.ToText(richText)
	if err != nil {
		return nil, nil, &payload.UndecodablePayloadError{Ref: meta.Ref, Date: meta.Date, Stage: "rtf", Err: err}
	}
	lines = rtf.Lines(text)
	values, err = diagnosis.Extract(lines, diagnosis.Options{MaxLines: p.cfg.MaxScanLines})
	if errors.Is(err, diagnosis.ErrScanLimit) {
		return nil, nil, &payload.PayloadTooLargeError{Ref: meta.Ref, Date: meta.Date, What: "text lines", Limit: int64(p.cfg.MaxScanLines)}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("discharge summary %s on date %s: %w", meta.Ref, meta.Date.Format("02/01/2006"), err)
	}
	return lines, values, nil
}

// ResolvePayload unwraps a single correspondence body outside of any chart
// and runs the diagnosis extractor on its text. ref labels errors, which are
// dated today.
func (p *Pipeline) ResolvePayload(ref, body string) (*PayloadView, error) {
	now := p.now()
	meta := payload.Meta{Ref: ref, Date: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())}
	res, err := p.resolver.Resolve(meta, body)
	if err != nil {
		return nil, err
	}
	view := &PayloadView{
		Container: res.Container,
		Kind:      res.Kind,
		Skipped:   res.Skipped(),
		Detail:    res.Detail,
		Size:      res.Size,
	}
	if res.Skipped() {
		return view, nil
	}
	view.Lines, view.Diagnoses, err = p.readDiagnoses(meta, res.Text)
	if err != nil {
		return nil, err
	}
	return view, nil
}
