// Package mention locates occurrences of entity names in document text,
// tolerating line breaks and hyphenation between name tokens.
package mention

import (
	"iter"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/model"
)

// separator allows up to five whitespace or hyphen characters between
// tokens. \p{Zs} covers no-break spaces left behind by PDF extraction.
const separator = `[\s\p{Zs}\-]{1,5}`

// Pattern is a compiled, case-insensitive matcher for one entity name.
// A nil Pattern, or one built from a blank name, matches nothing.
type Pattern struct {
	name string
	re   *regexp.Regexp
}

// Build compiles the flexible pattern for name. Tokens are matched
// literally. If the flexible form fails to compile the exact name is
// tried with word boundaries instead.
func Build(name string) *Pattern {
	words := strings.Fields(name)
	if len(words) == 0 {
		return &Pattern{name: name}
	}

	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}

	re, err := regexp.Compile(`(?i)` + strings.Join(quoted, separator))
	if err == nil {
		return &Pattern{name: name, re: re}
	}

	re, ferr := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(strings.TrimSpace(name)) + `\b`)
	if ferr != nil {
		zap.L().Warn("mention: no usable pattern, entity will have no mentions",
			zap.String("name", name), zap.Error(err))
		return &Pattern{name: name}
	}
	return &Pattern{name: name, re: re}
}

// Name returns the entity name the pattern was built from.
func (p *Pattern) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// FindAll returns every non-overlapping mention in text, left to right.
func (p *Pattern) FindAll(text string) []model.Mention {
	var out []model.Mention
	p.Each(text, func(m model.Mention) bool {
		out = append(out, m)
		return true
	})
	return out
}

// All exposes Each as an iterator.
func (p *Pattern) All(text string) iter.Seq[model.Mention] {
	return func(yield func(model.Mention) bool) {
		p.Each(text, yield)
	}
}

// Each calls fn for each mention in order until fn returns false. A
// mention is preceded and followed by a non-word character or a text edge.
// A candidate failing that test is dropped and the scan resumes one
// character after its start.
func (p *Pattern) Each(text string, fn func(model.Mention) bool) {
	if p == nil || p.re == nil {
		return
	}

	pos, runes := 0, 0 // runes counts the characters in text[:pos]
	for pos < len(text) {
		loc := p.re.FindStringIndex(text[pos:])
		if loc == nil {
			return
		}
		start, end := pos+loc[0], pos+loc[1]
		runeStart := runes + utf8.RuneCountInString(text[pos:start])

		if end == start || !bounded(text, start, end) {
			_, size := utf8.DecodeRuneInString(text[start:])
			if size == 0 {
				return
			}
			pos, runes = start+size, runeStart+1
			continue
		}

		runeEnd := runeStart + utf8.RuneCountInString(text[start:end])
		m := model.Mention{
			Start:     start,
			End:       end,
			RuneStart: runeStart,
			RuneEnd:   runeEnd,
			Text:      text[start:end],
		}
		if !fn(m) {
			return
		}
		pos, runes = end, runeEnd
	}
}

// Locate is a convenience for Build(name).FindAll(text).
func Locate(text, name string) []model.Mention {
	return Build(name).FindAll(text)
}

func bounded(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWord(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWord(r) {
			return false
		}
	}
	return true
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
