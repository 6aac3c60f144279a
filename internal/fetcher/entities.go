package fetcher

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/ecoparse/internal/model"
)

// nameColumns are header names recognised as the entity-name column.
var nameColumns = map[string]bool{
	"species":         true,
	"name":            true,
	"entity":          true,
	"scientific_name": true,
	"scientificname":  true,
}

// ReadEntities loads an entity list. The format follows the extension:
//
//	.json        array of strings, or objects with a "name" field
//	.csv, .tsv   a recognised name column, or the first column
//	.xlsx        as csv, from the first sheet
//	.xml         <entity> elements, name in a name attribute or the text
//	other        one name per line, '#' starts a comment
//
// Names are NFC-normalised. Blank and duplicate names are dropped, keeping
// the first occurrence.
func ReadEntities(ctx context.Context, path string) ([]model.Entity, error) {
	var (
		entities []model.Entity
		err      error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		entities, err = readJSONEntities(ctx, path)
	case ".csv":
		entities, err = readDelimitedEntities(ctx, path, ',')
	case ".tsv":
		entities, err = readDelimitedEntities(ctx, path, '\t')
	case ".xlsx":
		var rows [][]string
		if rows, err = ReadXLSX(path, ""); err == nil {
			entities = tableEntities(rows)
		}
	case ".xml":
		entities, err = readXMLEntities(ctx, path)
	default:
		entities, err = readLineEntities(path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read entities from %s", path)
	}
	return dedupe(entities), nil
}

type jsonEntity struct {
	model.NameMatch
	Species  string            `json:"species"`
	Metadata map[string]string `json:"metadata"`
}

func readJSONEntities(ctx context.Context, path string) ([]model.Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	raws, err := drain(DecodeJSONArray[json.RawMessage](ctx, f))
	if err != nil {
		return nil, err
	}

	out := make([]model.Entity, 0, len(raws))
	for i, raw := range raws {
		var name string
		if json.Unmarshal(raw, &name) == nil {
			out = append(out, model.Entity{Name: name})
			continue
		}
		var obj jsonEntity
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, eris.Wrapf(err, "element %d", i)
		}
		switch {
		case obj.MatchType != "":
			out = append(out, obj.NameMatch.Entity())
		case obj.Name != "":
			out = append(out, model.Entity{Name: obj.Name, Metadata: obj.Metadata})
		default:
			out = append(out, model.Entity{Name: obj.Species, Metadata: obj.Metadata})
		}
	}
	return out, nil
}

func readDelimitedEntities(ctx context.Context, path string, delimiter rune) ([]model.Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	rows, err := drain(StreamCSV(ctx, f, delimiter))
	if err != nil {
		return nil, err
	}
	return tableEntities(rows), nil
}

// tableEntities reads names from tabular rows. When the first row names a
// recognised column, it is a header and the remaining columns become
// metadata keyed by header.
func tableEntities(rows [][]string) []model.Entity {
	if len(rows) == 0 {
		return nil
	}

	col, header := 0, []string(nil)
	for i, cell := range rows[0] {
		if nameColumns[strings.ToLower(strings.TrimSpace(cell))] {
			col, header = i, rows[0]
			rows = rows[1:]
			break
		}
	}

	out := make([]model.Entity, 0, len(rows))
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		e := model.Entity{Name: row[col]}
		for i, h := range header {
			if i == col || i >= len(row) || h == "" || row[i] == "" {
				continue
			}
			if e.Metadata == nil {
				e.Metadata = make(map[string]string)
			}
			e.Metadata[h] = row[i]
		}
		out = append(out, e)
	}
	return out
}

type xmlEntity struct {
	Name string `xml:"name,attr"`
	Text string `xml:",chardata"`
}

func readXMLEntities(ctx context.Context, path string) ([]model.Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	items, err := drain(StreamXML[xmlEntity](ctx, f, "entity"))
	if err != nil {
		return nil, err
	}
	out := make([]model.Entity, 0, len(items))
	for _, it := range items {
		name := it.Name
		if name == "" {
			name = it.Text
		}
		out = append(out, model.Entity{Name: name})
	}
	return out, nil
}

func readLineEntities(path string) ([]model.Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	var out []model.Entity
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		out = append(out, model.Entity{Name: line})
	}
	return out, sc.Err()
}

func dedupe(entities []model.Entity) []model.Entity {
	seen := make(map[string]struct{}, len(entities))
	out := make([]model.Entity, 0, len(entities))
	for _, e := range entities {
		e.Name = norm.NFC.String(strings.Join(strings.Fields(e.Name), " "))
		if e.Name == "" {
			continue
		}
		if _, ok := seen[e.Name]; ok {
			continue
		}
		seen[e.Name] = struct{}{}
		out = append(out, e)
	}
	return out
}
