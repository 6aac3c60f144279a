// Package taxon discovers candidate species names in document text and
// narrows them down with format, verification and taxonomy filters.
package taxon

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	columnMarker  = regexp.MustCompile(`=== COLUMN \d+ ===\n?`)
	pageMarker    = regexp.MustCompile(`=== PAGE \d+ ===\n?`)
	layoutComment = regexp.MustCompile(`<!-- Page \d+: \d+ columns detected -->\n?`)
	tablesMarker  = regexp.MustCompile(`--- TABLES ON PAGE \d+ ---\n?`)
	tableLabel    = regexp.MustCompile(`Table \d+:\n?`)

	innerParens  = regexp.MustCompile(`\(([^()]*)\)`)
	brackets     = regexp.MustCompile(`\[([^\]]*)\]`)
	emptyParens  = regexp.MustCompile(`\s*\(\s*\)\s*`)
	spaces       = regexp.MustCompile(`\s+`)
	periodSpace  = regexp.MustCompile(`\s*\.\s*`)
	commaSpace   = regexp.MustCompile(`\s*,\s*`)
	colonSpace   = regexp.MustCompile(`\s*:\s*`)
	semiSpace    = regexp.MustCompile(`\s*;\s*`)
	extraNewline = regexp.MustCompile(`\n{3,}`)
)

// Clean prepares document text for the name finder. Layout markers are
// removed, parentheses and brackets are unwrapped innermost first so names
// like "Zandhagedis (Lacerta agilis)" read as plain prose, and the result is
// NFC normalized.
func Clean(text string) string {
	text = columnMarker.ReplaceAllString(text, "")
	text = pageMarker.ReplaceAllString(text, "")
	text = layoutComment.ReplaceAllString(text, "")
	text = tablesMarker.ReplaceAllString(text, "")
	text = tableLabel.ReplaceAllString(text, "")

	for innerParens.MatchString(text) {
		text = innerParens.ReplaceAllString(text, " $1 ")
	}
	text = brackets.ReplaceAllString(text, " $1 ")
	text = emptyParens.ReplaceAllString(text, " ")

	text = spaces.ReplaceAllString(text, " ")
	text = periodSpace.ReplaceAllString(text, ". ")
	text = commaSpace.ReplaceAllString(text, ", ")
	text = colonSpace.ReplaceAllString(text, ": ")
	text = semiSpace.ReplaceAllString(text, "; ")
	text = extraNewline.ReplaceAllString(text, "\n\n")

	return norm.NFC.String(strings.TrimSpace(text))
}
