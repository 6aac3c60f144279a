// Package document reads PDFs into positioned text fragments and assembles
// them into marker-bearing document text.
package document

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ecoparse/internal/config"
	"github.com/sells-group/ecoparse/internal/model"
)

// Reader names accepted in configuration.
const (
	ReaderPdfToText = "pdftotext"
	ReaderNative    = "native"
)

// Reader extracts positioned text from a PDF file.
type Reader interface {
	Read(ctx context.Context, path string, pages PageRange) ([]model.RawPage, error)
}

// PageRange selects pages by 1-based inclusive bounds. The zero value
// selects every page; a zero Last means through the end.
type PageRange struct {
	First int
	Last  int
}

// All reports whether r selects every page.
func (r PageRange) All() bool { return r.First <= 1 && r.Last == 0 }

// Contains reports whether page n is selected.
func (r PageRange) Contains(n int) bool {
	if n < max(r.First, 1) {
		return false
	}
	return r.Last == 0 || n <= r.Last
}

func (r PageRange) String() string {
	if r.All() {
		return "all"
	}
	if r.Last == 0 {
		return strconv.Itoa(r.First) + "-"
	}
	return strconv.Itoa(max(r.First, 1)) + "-" + strconv.Itoa(r.Last)
}

// ParsePageRange parses "a-b", "a-" or "a". An empty string or "all"
// selects all pages.
func ParsePageRange(s string) (PageRange, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return PageRange{}, nil
	}
	first, last, found := strings.Cut(s, "-")
	a, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil || a < 1 {
		return PageRange{}, eris.Errorf("document: invalid page range %q", s)
	}
	if !found {
		return PageRange{First: a, Last: a}, nil
	}
	last = strings.TrimSpace(last)
	if last == "" {
		return PageRange{First: a}, nil
	}
	b, err := strconv.Atoi(last)
	if err != nil || b < a {
		return PageRange{}, eris.Errorf("document: invalid page range %q", s)
	}
	return PageRange{First: a, Last: b}, nil
}

// NewReader creates the Reader selected by cfg.
func NewReader(cfg config.DocumentConfig) (Reader, error) {
	switch cfg.Reader {
	case ReaderPdfToText, "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case ReaderNative:
		return NewNativeReader(), nil
	default:
		return nil, eris.Errorf("document: unknown reader %q", cfg.Reader)
	}
}
