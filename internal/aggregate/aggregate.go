// Package aggregate merges extraction results across resumptions and
// flattens them into schema-complete tables.
package aggregate

import (
	"sort"

	"github.com/sells-group/ecoparse/internal/model"
)

// Column names framing the schema fields in a flattened table.
const (
	SpeciesColumn = "species"
	NotesColumn   = "notes"
)

// Merge appends next to prev in a fresh slice. Resumed runs only produce
// entities absent from prev, so no deduplication happens here.
func Merge(prev, next []model.Result) []model.Result {
	out := make([]model.Result, 0, len(prev)+len(next))
	out = append(out, prev...)
	return append(out, next...)
}

// CompletedSet returns the species names that already have a result.
func CompletedSet(results []model.Result) []string {
	seen := make(map[string]struct{}, len(results))
	out := make([]string, 0, len(results))
	for _, r := range results {
		if _, ok := seen[r.Species]; ok {
			continue
		}
		seen[r.Species] = struct{}{}
		out = append(out, r.Species)
	}
	return out
}

// Table is a rectangular view of results: one row per result, one column per
// header entry.
type Table struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// Flatten renders results against schema. Fields missing from a result are
// filled with model.NotFound.
func Flatten(results []model.Result, schema *model.Schema) Table {
	fields := schema.Names()
	header := make([]string, 0, len(fields)+2)
	header = append(header, SpeciesColumn)
	header = append(header, fields...)
	header = append(header, NotesColumn)

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		row := make([]string, 0, len(header))
		row = append(row, r.Species)
		for _, f := range fields {
			v, ok := r.Data[f]
			if !ok || v.String() == "" {
				row = append(row, model.NotFound)
				continue
			}
			row = append(row, v.String())
		}
		row = append(row, r.Notes)
		rows = append(rows, row)
	}
	return Table{Header: header, Rows: rows}
}

// Records returns the table as header-keyed maps, for JSON consumers.
func (t Table) Records() []map[string]string {
	out := make([]map[string]string, len(t.Rows))
	for i, row := range t.Rows {
		rec := make(map[string]string, len(t.Header))
		for j, h := range t.Header {
			if j < len(row) {
				rec[h] = row[j]
			}
		}
		out[i] = rec
	}
	return out
}

// ValueCount is how often one value appears in a field.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Summarize counts the values of field across results, most frequent first
// and ties by value. Missing values count as model.NotFound.
func Summarize(results []model.Result, field string) []ValueCount {
	counts := make(map[string]int)
	for _, r := range results {
		val := model.NotFound
		if v, ok := r.Data[field]; ok && v.String() != "" {
			val = v.String()
		}
		counts[val]++
	}

	out := make([]ValueCount, 0, len(counts))
	for v, n := range counts {
		out = append(out, ValueCount{Value: v, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// SortByEntities orders results by the position of their species in
// entities. Results for unknown species go last in their original order.
func SortByEntities(results []model.Result, entities []model.Entity) []model.Result {
	pos := make(map[string]int, len(entities))
	for i, e := range entities {
		if _, ok := pos[e.Name]; !ok {
			pos[e.Name] = i
		}
	}

	out := make([]model.Result, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		pi, iok := pos[out[i].Species]
		pj, jok := pos[out[j].Species]
		switch {
		case iok && jok:
			return pi < pj
		case iok:
			return true
		default:
			return false
		}
	})
	return out
}

// Totals sums the token counts of results.
func Totals(results []model.Result) (input, output int64) {
	for _, r := range results {
		input += r.InputTokens
		output += r.OutputTokens
	}
	return input, output
}
