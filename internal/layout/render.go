package layout

import (
	"fmt"
	"strings"

	"github.com/sells-group/ecoparse/internal/model"
)

// PageMarker returns the marker line that opens page n in assembled text.
func PageMarker(n int) string {
	return fmt.Sprintf("=== PAGE %d ===", n)
}

// Render assembles pages into one marker-bearing document. Each page opens
// with its page marker followed by a layout comment recording the detected
// column count.
func Render(pages []model.Page) string {
	var b strings.Builder
	for _, p := range pages {
		b.WriteString(PageMarker(p.Number))
		b.WriteByte('\n')
		if p.Columns > 0 {
			fmt.Fprintf(&b, "<!-- Page %d: %d columns detected -->\n", p.Number, p.Columns)
		}
		b.WriteString(p.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
