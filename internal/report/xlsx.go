package report

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/ecoparse/internal/aggregate"
)

// ResultsSheet names the sheet WriteXLSX fills.
const ResultsSheet = "Results"

// summarySheet holds the value counts, when given.
const summarySheet = "Summary"

// WriteXLSX saves the table as a workbook at path with a bold header row.
// A non-empty summary adds a second sheet of value counts.
func WriteXLSX(path string, table aggregate.Table, summary []aggregate.ValueCount) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet(ResultsSheet)
	if err != nil {
		return eris.Wrap(err, "report: add results sheet")
	}
	addHeader(sheet, table.Header)
	for _, rec := range table.Rows {
		row := sheet.AddRow()
		for _, v := range rec {
			row.AddCell().SetString(v)
		}
	}

	if len(summary) > 0 {
		s, err := f.AddSheet(summarySheet)
		if err != nil {
			return eris.Wrap(err, "report: add summary sheet")
		}
		addHeader(s, []string{"value", "count"})
		for _, vc := range summary {
			row := s.AddRow()
			row.AddCell().SetString(vc.Value)
			row.AddCell().SetInt(vc.Count)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func addHeader(sheet *xlsx.Sheet, header []string) {
	row := sheet.AddRow()
	for _, h := range header {
		cell := row.AddCell()
		cell.SetString(h)
		style := xlsx.NewStyle()
		style.Font.Bold = true
		style.ApplyFont = true
		cell.SetStyle(style)
	}
}
