package document

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ecoparse/internal/model"
)

// PdfToText reads PDFs with the poppler pdftotext binary in bbox-layout mode.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a reader that shells out to binPath. An empty path
// resolves pdftotext from PATH.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// Read runs pdftotext over the selected pages and returns one RawPage per
// page with each text line as a fragment.
func (p *PdfToText) Read(ctx context.Context, path string, pages PageRange) ([]model.RawPage, error) {
	cmd := exec.CommandContext(ctx, p.binPath, p.args(path, pages)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "document: pdftotext failed for %s: %s", path, strings.TrimSpace(stderr.String()))
	}
	return parseBBox(&stdout, max(pages.First, 1))
}

func (p *PdfToText) args(path string, pages PageRange) []string {
	args := []string{"-bbox-layout", "-enc", "UTF-8"}
	if pages.First > 1 {
		args = append(args, "-f", strconv.Itoa(pages.First))
	}
	if pages.Last > 0 {
		args = append(args, "-l", strconv.Itoa(pages.Last))
	}
	return append(args, path, "-")
}

type bboxDoc struct {
	Pages []bboxPage `xml:"body>doc>page"`
}

type bboxPage struct {
	Width  float64    `xml:"width,attr"`
	Height float64    `xml:"height,attr"`
	Flows  []bboxFlow `xml:"flow"`
}

type bboxFlow struct {
	Blocks []bboxBlock `xml:"block"`
}

type bboxBlock struct {
	Lines []bboxLine `xml:"line"`
}

type bboxLine struct {
	XMin  float64    `xml:"xMin,attr"`
	YMin  float64    `xml:"yMin,attr"`
	XMax  float64    `xml:"xMax,attr"`
	YMax  float64    `xml:"yMax,attr"`
	Words []bboxWord `xml:"word"`
}

type bboxWord struct {
	Text string `xml:",chardata"`
}

// parseBBox decodes pdftotext -bbox-layout output. Pages are numbered from
// first, the first page number requested.
func parseBBox(r io.Reader, first int) ([]model.RawPage, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	var doc bboxDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, eris.Wrap(err, "document: decode pdftotext bbox output")
	}

	out := make([]model.RawPage, 0, len(doc.Pages))
	for i, pg := range doc.Pages {
		raw := model.RawPage{Number: first + i, Width: pg.Width, Height: pg.Height}
		for _, fl := range pg.Flows {
			for _, bl := range fl.Blocks {
				for _, ln := range bl.Lines {
					words := make([]string, 0, len(ln.Words))
					for _, w := range ln.Words {
						if t := strings.TrimSpace(w.Text); t != "" {
							words = append(words, t)
						}
					}
					if len(words) == 0 {
						continue
					}
					raw.Fragments = append(raw.Fragments, model.Fragment{
						Text: strings.Join(words, " "),
						X0:   ln.XMin,
						Y0:   ln.YMin,
						X1:   ln.XMax,
						Y1:   ln.YMax,
					})
				}
			}
		}
		out = append(out, raw)
	}
	return out, nil
}
