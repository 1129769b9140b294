package merchant

import "strings"

// Merchant is a print shop that can fulfil an order. Reference data owned by
// the upstream directory; never mutated here.
type Merchant struct {
	ID           string `json:"id"`
	BusinessName string `json:"businessName"`
	Address      string `json:"address"`
}

// Find returns the merchant with id from list.
func Find(list []Merchant, id string) (Merchant, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Merchant{}, false
	}
	for _, m := range list {
		if m.ID == id {
			return m, true
		}
	}
	return Merchant{}, false
}
