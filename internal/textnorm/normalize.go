// Package textnorm derives the search and LLM views of extracted document text.
package textnorm

import (
	"regexp"
	"strings"

	"github.com/sells-group/ecoparse/internal/model"
)

var (
	hyphenBreak    = regexp.MustCompile(`-\s*\n\s*`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
	inlineSpace    = regexp.MustCompile(`[ \t]+`)
	lineEdges      = regexp.MustCompile(`[ \t]*\n[ \t]*`)
	excessBreaks   = regexp.MustCompile(`\n{3,}`)
)

// SearchForm joins hyphen-broken words, folds every whitespace run (newlines
// included) into one space and trims. Mention location runs on this view.
func SearchForm(text string) model.NormalizedText {
	return model.NormalizedText{Text: Search(text), Mode: model.ModeSearch}
}

// LLMForm joins hyphen-broken words but keeps paragraph breaks, collapsing
// only intra-line whitespace. Text shown to a model uses this view.
func LLMForm(text string) model.NormalizedText {
	return model.NormalizedText{Text: LLM(text), Mode: model.ModeLLM}
}

// Search is SearchForm returning the bare string.
func Search(text string) string {
	text = hyphenBreak.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\n", " ")
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// LLM is LLMForm returning the bare string.
func LLM(text string) string {
	text = hyphenBreak.ReplaceAllString(text, "")

	// Paragraphs are split out instead of marked in place so the per-line
	// cleanup cannot touch them.
	paras := paragraphBreak.Split(text, -1)
	for i, p := range paras {
		p = inlineSpace.ReplaceAllString(p, " ")
		paras[i] = lineEdges.ReplaceAllString(p, "\n")
	}
	text = strings.Join(paras, "\n\n")

	text = excessBreaks.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
