package document

import (
	"bytes"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageCounter reports the number of pages in a binary. ok is false when the
// binary could not be parsed.
type PageCounter func(data []byte) (pages int, ok bool)

// ExtractPageCount returns the page count of a PDF, or 1 when it cannot be parsed.
// It never panics.
func ExtractPageCount(data []byte) int {
	pages, _ := CountPDFPages(data)
	return pages
}

// CountPDFPages is the PageCounter backed by pdfcpu. Parser panics are recovered
// and reported as a failed parse.
func CountPDFPages(data []byte) (pages int, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			pages, ok = 1, false
		}
	}()
	if len(data) == 0 {
		return 1, false
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil || n < 1 {
		return 1, false
	}
	return n, true
}
