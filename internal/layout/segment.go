// Package layout reconstructs reading order for multi-column pages from
// positioned text fragments.
package layout

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/model"
)

// bins is the number of horizontal segments a page is divided into when
// looking for column centers.
const bins = 20

// Segment orders a page's fragments into reading order. Multi-column pages
// are emitted column by column, each column under a "=== COLUMN k ==="
// header. Anything unexpected during analysis degrades that page to a
// single column.
func Segment(number int, width float64, fragments []model.Fragment) model.Page {
	page := model.Page{Number: number}
	if len(fragments) == 0 {
		return page
	}

	bounds := analyze(number, width, fragments)
	page.Boundaries = bounds

	if len(bounds) <= 1 {
		page.Columns = 1
		page.Text = lines(fragments)
		return page
	}

	columns := make([][]model.Fragment, len(bounds))
	for _, f := range fragments {
		i := columnOf(f.CenterX(), bounds)
		columns[i] = append(columns[i], f)
	}

	var b strings.Builder
	for i, col := range columns {
		if len(col) == 0 {
			continue
		}
		sort.SliceStable(col, func(a, c int) bool { return col[a].Y0 < col[c].Y0 })
		fmt.Fprintf(&b, "\n=== COLUMN %d ===\n", i+1)
		b.WriteString(lines(col))
	}

	page.Columns = len(bounds)
	page.Text = b.String()
	return page
}

// analyze returns the column boundaries for a page: midpoints between
// adjacent column centers followed by the page width. A single-column page
// yields just the width, or nil when the width is unusable.
func analyze(number int, width float64, fragments []model.Fragment) (bounds []float64) {
	if !(width > 0) || math.IsInf(width, 0) {
		zap.L().Debug("layout: unusable page width, treating as single column",
			zap.Int("page", number), zap.Float64("width", width))
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("layout: analysis failed, treating as single column",
				zap.Int("page", number), zap.Any("panic", r))
			bounds = []float64{width}
		}
	}()

	size := width / bins
	counts := make(map[int]int)
	for _, f := range fragments {
		if !f.Valid() {
			continue
		}
		counts[int(f.CenterX()/size)]++
	}

	var centers []float64
	for bin, n := range counts {
		if n > max(counts[bin-1], counts[bin+1]) && n >= 2 {
			centers = append(centers, float64(bin)*size+size/2)
		}
	}
	sort.Float64s(centers)

	if len(centers) <= 1 {
		return []float64{width}
	}

	bounds = make([]float64, 0, len(centers))
	for i := 0; i+1 < len(centers); i++ {
		bounds = append(bounds, (centers[i]+centers[i+1])/2)
	}
	return append(bounds, width)
}

func columnOf(x float64, bounds []float64) int {
	for i, b := range bounds {
		if x <= b {
			return i
		}
	}
	return 0
}

// lines writes one line per fragment, skipping blank ones.
func lines(fragments []model.Fragment) string {
	var b strings.Builder
	for _, f := range fragments {
		if strings.TrimSpace(f.Text) == "" {
			continue
		}
		b.WriteString(f.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
