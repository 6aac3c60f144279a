package document

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/layout"
	"github.com/sells-group/ecoparse/internal/model"
	"github.com/sells-group/ecoparse/internal/textnorm"
)

// Document is an assembled source document.
type Document struct {
	Path  string       `json:"path"`
	Text  string       `json:"text"`
	Pages []model.Page `json:"pages"`
}

// Assemble segments each page into reading order and renders the result as
// marker-bearing text. When repair is set, known mis-encoded characters are
// fixed after rendering.
func Assemble(raw []model.RawPage, repair bool) ([]model.Page, string) {
	pages := make([]model.Page, 0, len(raw))
	for _, rp := range raw {
		pages = append(pages, layout.Segment(rp.Number, rp.Width, rp.Fragments))
	}
	text := layout.Render(pages)
	if repair {
		text = textnorm.RepairEncoding(text)
	}
	return pages, text
}

// Load reads path with r and assembles the selected pages.
func Load(ctx context.Context, r Reader, path string, pages PageRange, repair bool) (*Document, error) {
	raw, err := r.Read(ctx, path, pages)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, eris.Errorf("document: no pages read from %s", path)
	}
	ps, text := Assemble(raw, repair)

	multi := 0
	for _, p := range ps {
		if p.Columns > 1 {
			multi++
		}
	}
	zap.L().Info("document: assembled",
		zap.String("path", path),
		zap.Int("pages", len(ps)),
		zap.Int("multi_column_pages", multi),
		zap.Int("chars", len(text)),
	)
	return &Document{Path: path, Text: text, Pages: ps}, nil
}
