package payload

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"sync"

	_ "golang.org/x/image/bmp"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var disablePDFConfigDir sync.Once

// describe returns a short human description of a skipped binary for logs and
// reports. It never fails: unreadable content is described as such.
func describe(kind Kind, data []byte) string {
	switch kind {
	case KindPDF:
		pages, err := pdfPageCount(data)
		if err != nil {
			return fmt.Sprintf("pdf, %d bytes, unreadable: %v", len(data), err)
		}
		return fmt.Sprintf("pdf, %d bytes, %d pages", len(data), pages)
	case KindBitmap, KindJPEG:
		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return fmt.Sprintf("%s, %d bytes, unreadable: %v", kind, len(data), err)
		}
		return fmt.Sprintf("%s %dx%d, %d bytes", format, cfg.Width, cfg.Height, len(data))
	}
	return fmt.Sprintf("%s, %d bytes", kind, len(data))
}

func pdfPageCount(data []byte) (pages int, err error) {
	disablePDFConfigDir.Do(api.DisableConfigDir)

	// pdfcpu panics on some malformed cross-reference tables.
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("pdfcpu: %v", p)
		}
	}()

	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return 0, err
	}
	return ctx.PageCount, nil
}
