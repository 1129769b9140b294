package pricing

import (
	"fmt"
	"strings"
)

// FormatMinor renders an amount of minor units with two decimals, e.g. "INR 51.20".
func FormatMinor(amount Money, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	value := fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return value
	}
	return currency + " " + value
}
