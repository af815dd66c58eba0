package ocr

import (
	"regexp"
	"strings"
)

var (
	// "$64.\n49" -> "$64.49"
	splitDollarAmount = regexp.MustCompile(`\$[ \t]*([0-9]+)\.[ \t]*\n?[ \t]*([0-9]{2})`)
	// "3.\n49" -> "3.49"
	splitAmount = regexp.MustCompile(`([0-9]+)\.[ \t]*\n?[ \t]*([0-9]{2})`)
	// "2\nAGLIO OLIO" -> "2 AGLIO OLIO"
	splitQuantity = regexp.MustCompile(`(\n|^)[ \t]*(\d+)[ \t]*\n[ \t]*([A-Za-z])`)
	// "$3.26.80" -> "$326.80"
	doubleDot = regexp.MustCompile(`\$([0-9])\.([0-9]{2})\.([0-9]{2})`)

	noiseLine  = regexp.MustCompile(`^[A-Z]{5,}$`)
	hSpaceRuns = regexp.MustCompile(`[ \t]{2,}`)
)

// Clean repairs common OCR damage on receipts: prices and quantities split
// across lines, doubled decimal points and all-caps noise lines. Line
// structure is preserved; blank lines are dropped.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = splitDollarAmount.ReplaceAllString(text, "$$${1}.${2}")
	text = splitAmount.ReplaceAllString(text, "${1}.${2}")
	text = splitQuantity.ReplaceAllString(text, "${1}${2} ${3}")
	text = doubleDot.ReplaceAllString(text, "$$${1}${2}.${3}")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(hSpaceRuns.ReplaceAllString(line, " "))
		if line == "" || noiseLine.MatchString(line) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
