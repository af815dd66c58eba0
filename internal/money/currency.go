package money

import (
	"regexp"
	"strings"
)

var currencyMarker = regexp.MustCompile(`(?i)(USD|SGD|MYR|RM|\$|€|EUR)`)

// DetectCurrency returns the first currency marker found in text, upper-cased,
// or "" when there is none.
func DetectCurrency(text string) string {
	return strings.ToUpper(currencyMarker.FindString(text))
}
