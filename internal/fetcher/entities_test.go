package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/ecoparse/internal/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadEntities_JSON(t *testing.T) {
	path := writeFile(t, "names.json", `[
		"Lynx lynx",
		{"name": "Ursus arctos", "metadata": {"family": "Ursidae"}},
		{"species": "Canis lupus"},
		{"verbatim": "Felis silvestris", "name": "Felis silvestris", "match_type": "Exact", "matched_canonical": "Felis silvestris"},
		"Lynx  lynx",
		""
	]`)

	got, err := ReadEntities(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, model.Entity{Name: "Lynx lynx"}, got[0])
	assert.Equal(t, model.Entity{Name: "Ursus arctos", Metadata: map[string]string{"family": "Ursidae"}}, got[1])
	assert.Equal(t, "Canis lupus", got[2].Name)
	assert.Equal(t, "Felis silvestris", got[3].Name)
	assert.Equal(t, "Exact", got[3].Metadata["match_type"])
}

func TestReadEntities_JSONNotArray(t *testing.T) {
	path := writeFile(t, "names.json", `{"name": "Lynx lynx"}`)
	_, err := ReadEntities(context.Background(), path)
	assert.Error(t, err)
}

func TestReadEntities_CSVWithHeader(t *testing.T) {
	path := writeFile(t, "list.csv", "family,Species,status\nUrsidae, Ursus arctos ,VU\nFelidae,Lynx lynx,\n# comment\nFelidae,Lynx lynx,EN\n")

	got, err := ReadEntities(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.Entity{Name: "Ursus arctos", Metadata: map[string]string{"family": "Ursidae", "status": "VU"}}, got[0])
	assert.Equal(t, model.Entity{Name: "Lynx lynx", Metadata: map[string]string{"family": "Felidae"}}, got[1])
}

func TestReadEntities_TSVWithoutHeader(t *testing.T) {
	path := writeFile(t, "list.tsv", "Lynx lynx\tcat\nCanis lupus\tdog\n")

	got, err := ReadEntities(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Lynx lynx", "Canis lupus"}, model.EntityNames(got))
}

func TestReadEntities_XML(t *testing.T) {
	path := writeFile(t, "list.xml", `<?xml version="1.0" encoding="UTF-8"?>
<entities>
  <entity name="Lynx lynx"/>
  <entity>Canis lupus</entity>
  <other>Ignored name</other>
</entities>`)

	got, err := ReadEntities(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Lynx lynx", "Canis lupus"}, model.EntityNames(got))
}

func TestReadEntities_XMLCharset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.xml")
	content := append([]byte(`<?xml version="1.0" encoding="ISO-8859-1"?><entities><entity>Salmo trutta `), 0xE9)
	content = append(content, []byte(`</entity></entities>`)...)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	got, err := ReadEntities(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Salmo trutta é", got[0].Name)
}

func TestReadEntities_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Species")
	require.NoError(t, err)
	for _, r := range [][]string{{"scientific_name", "iucn"}, {"Lynx lynx", "LC"}, {"Ursus arctos", ""}} {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "list.xlsx")
	require.NoError(t, f.Save(path))

	got, err := ReadEntities(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.Entity{Name: "Lynx lynx", Metadata: map[string]string{"iucn": "LC"}}, got[0])
	assert.Equal(t, model.Entity{Name: "Ursus arctos"}, got[1])
}

func TestReadEntities_Lines(t *testing.T) {
	path := writeFile(t, "list.txt", "# target species\nLynx lynx\n\nCanis lupus # wolf\nLynx lynx\n")

	got, err := ReadEntities(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Lynx lynx", "Canis lupus"}, model.EntityNames(got))
}

func TestReadEntities_Missing(t *testing.T) {
	_, err := ReadEntities(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}
