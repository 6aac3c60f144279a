package document

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/model"
)

// NativeReader reads PDFs in-process with ledongthuc/pdf. It needs no
// external binaries but copes less well with unusual font encodings.
type NativeReader struct{}

// NewNativeReader creates a NativeReader.
func NewNativeReader() *NativeReader { return &NativeReader{} }

// Read decodes the selected pages, grouping glyphs into line fragments.
func (n *NativeReader) Read(ctx context.Context, path string, pages PageRange) ([]model.RawPage, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "document: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	total := r.NumPage()
	if pages.First > total || (pages.Last > 0 && pages.Last > total) {
		return nil, eris.Errorf("document: page range %s outside 1-%d", pages, total)
	}

	var out []model.RawPage
	for i := 1; i <= total; i++ {
		if !pages.Contains(i) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "document: native read")
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		texts, err := pageText(p)
		if err != nil {
			zap.L().Warn("document: skipping unreadable page",
				zap.String("path", path),
				zap.Int("page", i),
				zap.Error(err),
			)
			out = append(out, model.RawPage{Number: i})
			continue
		}
		width, height := mediaBox(p)
		frags := groupLines(texts, height)
		if width <= 0 {
			for _, fr := range frags {
				width = math.Max(width, fr.X1)
			}
		}
		out = append(out, model.RawPage{Number: i, Width: width, Height: height, Fragments: frags})
	}
	return out, nil
}

// pageText recovers from decoder panics, which the library raises on
// malformed content streams.
func pageText(p pdf.Page) (texts []pdf.Text, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = eris.Errorf("document: malformed page content: %v", rec)
		}
	}()
	return p.Content().Text, nil
}

func mediaBox(p pdf.Page) (width, height float64) {
	box := p.V.Key("MediaBox")
	if box.IsNull() {
		box = p.V.Key("Parent").Key("MediaBox")
	}
	if box.Len() < 4 {
		return 0, 0
	}
	return box.Index(2).Float64() - box.Index(0).Float64(),
		box.Index(3).Float64() - box.Index(1).Float64()
}

// groupLines merges glyph runs sharing a baseline into line fragments and
// flips y so that it grows downwards. A horizontal gap wider than two font
// sizes starts a new fragment, which keeps adjacent columns apart.
func groupLines(texts []pdf.Text, height float64) []model.Fragment {
	glyphs := make([]pdf.Text, 0, len(texts))
	for _, t := range texts {
		if t.S != "" {
			glyphs = append(glyphs, t)
		}
	}
	sort.SliceStable(glyphs, func(a, b int) bool {
		if math.Abs(glyphs[a].Y-glyphs[b].Y) > baselineTolerance(glyphs[a], glyphs[b]) {
			return glyphs[a].Y > glyphs[b].Y
		}
		return glyphs[a].X < glyphs[b].X
	})

	var (
		out  []model.Fragment
		cur  strings.Builder
		line pdf.Text
		x0   float64
		x1   float64
		open bool
	)
	flush := func() {
		if !open {
			return
		}
		if s := strings.TrimSpace(cur.String()); s != "" {
			size := math.Max(line.FontSize, 1)
			out = append(out, model.Fragment{
				Text: s,
				X0:   x0,
				Y0:   height - line.Y - size,
				X1:   math.Max(x1, x0+1),
				Y1:   height - line.Y,
			})
		}
		cur.Reset()
		open = false
	}

	for _, g := range glyphs {
		if open {
			sameLine := math.Abs(g.Y-line.Y) <= baselineTolerance(g, line)
			gap := g.X - x1
			if !sameLine || gap > 2*math.Max(line.FontSize, 1) {
				flush()
			} else if gap > 0.25*math.Max(line.FontSize, 1) && !strings.HasSuffix(cur.String(), " ") {
				cur.WriteByte(' ')
			}
		}
		if !open {
			line = g
			x0 = g.X
			open = true
		}
		cur.WriteString(g.S)
		x1 = g.X + g.W
	}
	flush()
	return out
}

func baselineTolerance(a, b pdf.Text) float64 {
	return math.Max(math.Min(a.FontSize, b.FontSize)/2, 1)
}
