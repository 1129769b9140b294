// Package printing defines the print options a user selects for a batch of documents.
package printing

// ColorMode selects monochrome or colour output.
type ColorMode string

// Orientation selects the page orientation.
type Orientation string

// PageSize selects the paper size.
type PageSize string

// Sidedness selects single or double sided printing.
type Sidedness string

const (
	Monochrome ColorMode = "monochrome"
	Color      ColorMode = "color"

	Portrait  Orientation = "portrait"
	Landscape Orientation = "landscape"

	A4     PageSize = "A4"
	A3     PageSize = "A3"
	Letter PageSize = "letter"
	Legal  PageSize = "legal"

	Single Sidedness = "single"
	Double Sidedness = "double"
)

const (
	MinCopies = 1
	MaxCopies = 10
)

// Options is the full set of printing parameters for a document or a batch.
type Options struct {
	ColorMode   ColorMode   `json:"colorMode" validate:"required,oneof=monochrome color"`
	Orientation Orientation `json:"orientation" validate:"required,oneof=portrait landscape"`
	PageSize    PageSize    `json:"pageSize" validate:"required,oneof=A4 A3 letter legal"`
	Sidedness   Sidedness   `json:"sidedness" validate:"required,oneof=single double"`
	Copies      int         `json:"copies" validate:"min=1,max=10"`
	PageRange   string      `json:"pageRange" validate:"pagerange"`
}

// Patch is a partial update of Options; nil fields are left untouched.
type Patch struct {
	ColorMode   *ColorMode   `json:"colorMode,omitempty"`
	Orientation *Orientation `json:"orientation,omitempty"`
	PageSize    *PageSize    `json:"pageSize,omitempty"`
	Sidedness   *Sidedness   `json:"sidedness,omitempty"`
	Copies      *int         `json:"copies,omitempty"`
	PageRange   *string      `json:"pageRange,omitempty"`
}

// Defaults returns the options applied to a fresh session.
func Defaults() Options {
	return Options{
		ColorMode:   Monochrome,
		Orientation: Portrait,
		PageSize:    A4,
		Sidedness:   Single,
		Copies:      1,
		PageRange:   "1",
	}
}

// Apply returns o with the non-nil fields of p merged in. o is not modified.
func (o Options) Apply(p Patch) Options {
	if p.ColorMode != nil {
		o.ColorMode = *p.ColorMode
	}
	if p.Orientation != nil {
		o.Orientation = *p.Orientation
	}
	if p.PageSize != nil {
		o.PageSize = *p.PageSize
	}
	if p.Sidedness != nil {
		o.Sidedness = *p.Sidedness
	}
	if p.Copies != nil {
		o.Copies = *p.Copies
	}
	if p.PageRange != nil {
		o.PageRange = *p.PageRange
	}
	return o
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.ColorMode == nil && p.Orientation == nil && p.PageSize == nil &&
		p.Sidedness == nil && p.Copies == nil && p.PageRange == nil
}

// IsColor reports whether colour printing is selected.
func (o Options) IsColor() bool { return o.ColorMode == Color }

// IsDuplex reports whether double sided printing is selected.
func (o Options) IsDuplex() bool { return o.Sidedness == Double }
