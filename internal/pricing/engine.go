package pricing

import (
	"github.com/noah-isme/printdesk/internal/document"
	"github.com/noah-isme/printdesk/internal/printing"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// Modifier scales the per-page rate by Num/Den when Applies holds for the
// effective options of a document.
type Modifier struct {
	Name    string
	Num     int64
	Den     int64
	Applies func(printing.Options) bool
}

// Pipeline is the fixed, ordered list of rate modifiers: colour first, then duplex.
var Pipeline = []Modifier{
	{Name: "color", Num: 2, Den: 1, Applies: printing.Options.IsColor},
	{Name: "duplex", Num: 4, Den: 5, Applies: printing.Options.IsDuplex},
}

// Line is the priced view of one document.
type Line struct {
	DocumentID    string   `json:"documentId"`
	Name          string   `json:"name"`
	PageCount     int      `json:"pageCount"`
	Copies        int      `json:"copies"`
	BillablePages int      `json:"billablePages"`
	EffectiveRate Money    `json:"effectiveRate"`
	Amount        Money    `json:"amount"`
	Modifiers     []string `json:"modifiers,omitempty"`
}

// Quote aggregates the computed price of a document set.
type Quote struct {
	BaseRate      Money  `json:"baseRate"`
	EffectiveRate Money  `json:"effectiveRate"`
	TotalPages    int    `json:"totalPages"`
	Total         Money  `json:"total"`
	Lines         []Line `json:"lines"`
}

// ComputeTotal returns only the total of Compute.
func ComputeTotal(docs []document.Document, opts printing.Options, rate Money) Money {
	return Compute(docs, opts, rate).Total
}

// Compute prices docs at rate minor units per page. Each document uses its own
// options when set, otherwise opts. The total is the exact sum of the per-document
// amounts rounded once, half up; line amounts are rounded individually for display.
func Compute(docs []document.Document, opts printing.Options, rate Money) Quote {
	q := Quote{
		BaseRate:      rate,
		EffectiveRate: roundHalfUp(scaledRate(opts, rate)),
		Lines:         make([]Line, 0, len(docs)),
	}
	if len(docs) == 0 || rate <= 0 {
		return q
	}
	den := commonDenominator()
	var exact int64
	for _, d := range docs {
		eff := d.EffectiveOptions(opts)
		copies := eff.Copies
		if copies < 1 {
			copies = 1
		}
		pages := d.PageCount
		if pages < 1 {
			pages = 1
		}
		billable := pages * copies
		num, applied := rateNumerator(eff, rate, den)
		lineExact := int64(billable) * num
		exact += lineExact

		q.TotalPages += billable
		q.Lines = append(q.Lines, Line{
			DocumentID:    d.ID,
			Name:          d.Name,
			PageCount:     pages,
			Copies:        copies,
			BillablePages: billable,
			EffectiveRate: roundHalfUp(num, den),
			Amount:        roundHalfUp(lineExact, den),
			Modifiers:     applied,
		})
	}
	q.Total = roundHalfUp(exact, den)
	return q
}

// commonDenominator is the product of every modifier denominator, so all rates
// can be expressed as integers over the same base.
func commonDenominator() int64 {
	den := int64(1)
	for _, m := range Pipeline {
		den *= m.Den
	}
	return den
}

// rateNumerator returns rate*prod(applied Num/Den) expressed over den.
func rateNumerator(opts printing.Options, rate Money, den int64) (int64, []string) {
	num := rate
	var applied []string
	for _, m := range Pipeline {
		if m.Applies(opts) {
			num *= m.Num
			applied = append(applied, m.Name)
		} else {
			num *= m.Den
		}
	}
	return num, applied
}

func scaledRate(opts printing.Options, rate Money) (int64, int64) {
	den := commonDenominator()
	num, _ := rateNumerator(opts, rate, den)
	return num, den
}

// roundHalfUp divides num by den rounding halves away from zero.
func roundHalfUp(num, den int64) Money {
	if den == 0 {
		return 0
	}
	if num < 0 {
		return -roundHalfUp(-num, den)
	}
	return (2*num + den) / (2 * den)
}
