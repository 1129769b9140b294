// Package document turns uploaded binaries into normalised document records.
package document

import (
	"time"

	"github.com/noah-isme/printdesk/internal/printing"
)

// Document is the normalised record for one uploaded file. Only Options may change
// after intake.
type Document struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Size               int64             `json:"size"`
	MediaType          string            `json:"mediaType"`
	PageCount          int               `json:"pageCount"`
	PageCountEstimated bool              `json:"pageCountEstimated,omitempty"`
	UploadedAt         time.Time         `json:"uploadedAt"`
	Options            *printing.Options `json:"options,omitempty"`
}

// EffectiveOptions returns the document override when present, otherwise global.
func (d Document) EffectiveOptions(global printing.Options) printing.Options {
	if d.Options != nil {
		return *d.Options
	}
	return global
}

// TotalPages sums the page counts of docs.
func TotalPages(docs []Document) int {
	total := 0
	for _, d := range docs {
		total += d.PageCount
	}
	return total
}

// Clone returns a deep copy of docs so callers can mutate overrides safely.
func Clone(docs []Document) []Document {
	if docs == nil {
		return nil
	}
	out := make([]Document, len(docs))
	for i, d := range docs {
		if d.Options != nil {
			opts := *d.Options
			d.Options = &opts
		}
		out[i] = d
	}
	return out
}
