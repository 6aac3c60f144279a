// Package chunk builds the per-entity text excerpts sent to the model.
package chunk

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ecoparse/internal/mention"
	"github.com/sells-group/ecoparse/internal/model"
	"github.com/sells-group/ecoparse/internal/textnorm"
)

// Sentinel errors for sources that cannot produce chunks at all.
var (
	ErrEmptyText = eris.New("chunk: document text is empty")
	ErrNoPages   = eris.New("chunk: no page markers in document text")
)

var pageMarker = regexp.MustCompile(`=== PAGE (\d+) ===`)

// Options sizes the chunk windows. Widths are in characters.
type Options struct {
	Before int
	After  int
	Top    int
	Bottom int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{Before: 0, After: 250, Top: 500, Bottom: 500}
}

// Builder resolves chunks for entities of one document under one strategy.
// It is immutable after New and safe for concurrent use.
type Builder struct {
	strategy model.Strategy
	opts     Options
	text     []rune
	llm      string
	pages    []model.Page
	lower    []string
}

// New prepares a builder from the assembled, marker-bearing document text.
func New(raw string, strategy model.Strategy, opts Options) (*Builder, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyText
	}
	if _, err := model.ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	opts.Before = max(opts.Before, 0)
	opts.After = max(opts.After, 0)
	opts.Top = max(opts.Top, 0)
	opts.Bottom = max(opts.Bottom, 0)

	b := &Builder{strategy: strategy, opts: opts}
	if strategy == model.StrategyContextWindow || strategy == "" {
		b.strategy = model.StrategyContextWindow
		b.llm = textnorm.LLM(raw)
		b.text = []rune(b.llm)
		return b, nil
	}

	b.pages = Partition(raw)
	if len(b.pages) == 0 {
		return nil, ErrNoPages
	}
	b.lower = make([]string, len(b.pages))
	for i, p := range b.pages {
		b.lower[i] = strings.ToLower(p.Text)
	}
	return b, nil
}

// Strategy returns the strategy the builder was created with.
func (b *Builder) Strategy() model.Strategy { return b.strategy }

// Chunks returns the chunks for name. The boolean is false when the entity
// has no context under the active strategy.
func (b *Builder) Chunks(name string) ([]model.Chunk, bool) {
	if strings.TrimSpace(name) == "" {
		return nil, false
	}

	var out []model.Chunk
	switch b.strategy {
	case model.StrategyFullPage, model.StrategyPartialPage:
		out = b.pageChunks(name)
	default:
		out = b.contextChunks(name)
	}
	return out, len(out) > 0
}

func (b *Builder) contextChunks(name string) []model.Chunk {
	var out []model.Chunk
	seen := make(map[string]struct{})

	for m := range mention.Build(name).All(b.llm) {
		start := max(m.RuneStart-b.opts.Before, 0)
		end := min(m.RuneEnd+b.opts.After, len(b.text))
		text := string(b.text[start:end])
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, model.Chunk{Entity: name, Text: text, Strategy: model.StrategyContextWindow})
	}
	return out
}

func (b *Builder) pageChunks(name string) []model.Chunk {
	needle := strings.ToLower(name)
	var out []model.Chunk
	for i, p := range b.pages {
		if !strings.Contains(b.lower[i], needle) {
			continue
		}
		text := FullPage(p.Number, p.Text)
		if b.strategy == model.StrategyPartialPage {
			text = PartialPage(p.Number, p.Text, b.opts.Top, b.opts.Bottom)
		}
		out = append(out, model.Chunk{Entity: name, Text: text, Strategy: b.strategy, Page: p.Number})
	}
	return out
}

// Partition splits marker-bearing text into pages. Text before the first
// marker is ignored. Page bodies are returned in LLM form.
func Partition(raw string) []model.Page {
	locs := pageMarker.FindAllStringSubmatchIndex(raw, -1)
	pages := make([]model.Page, 0, len(locs))
	for i, loc := range locs {
		n, err := strconv.Atoi(raw[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		end := len(raw)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		pages = append(pages, model.Page{Number: n, Text: textnorm.LLM(raw[loc[1]:end])})
	}
	return pages
}

// FullPage renders a whole page as a chunk.
func FullPage(number int, text string) string {
	return fmt.Sprintf("=== PAGE %d ===\n%s", number, text)
}

// PartialPage renders the top and bottom of a page with the middle
// replaced by an omission marker. Pages no longer than top+bottom
// characters are rendered whole.
func PartialPage(number int, text string, top, bottom int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= top+bottom {
		return FullPage(number, text)
	}

	head := strings.TrimSpace(string(runes[:top]))
	tail := strings.TrimSpace(string(runes[len(runes)-bottom:]))
	return fmt.Sprintf("=== PAGE %d (Top %d + Bottom %d chars) ===\nTOP SECTION:\n%s\n\n"+
		"... [MIDDLE CONTENT OMITTED - %d characters] ...\n\nBOTTOM SECTION:\n%s",
		number, top, bottom, head, len(runes)-top-bottom, tail)
}
