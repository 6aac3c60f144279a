package report

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/ecoparse/internal/aggregate"
	"github.com/sells-group/ecoparse/internal/model"
	"github.com/sells-group/ecoparse/internal/taxon"
)

func sampleRun() *model.Run {
	return &model.Run{
		ID:        "run-1",
		Document:  "survey.pdf",
		CharCount: 1200,
		Project: model.ProjectConfig{
			ProjectName: "Birds",
			DataFields: []model.DataField{
				{Name: "status", Description: "IUCN status", ValidationValues: []string{"LC", "EN"}},
				{Name: "habitat", Description: "Habitat"},
			},
			Examples: []model.Example{{Input: "x", Output: map[string]any{"status": "LC"}}},
		},
		Settings: model.RunSettings{
			Provider:      "gemini",
			Model:         "gemini-2.5-flash-lite",
			Concurrency:   4,
			Strategy:      model.StrategyContextWindow,
			ContextAfter:  250,
			TopChars:      500,
			BottomChars:   500,
			ContextBefore: 0,
		},
		Status: model.RunStatusCompleted,
		Totals: model.RunTotals{Processed: 3, InputTokens: 300, OutputTokens: 30, ElapsedMs: 2500, EstimatedCostUSD: 0.01},
	}
}

func sampleResults() []model.Result {
	return []model.Result{
		{Species: "Lynx lynx", Data: map[string]model.Value{"status": model.StringValue("LC"), "habitat": model.StringValue("forest")}},
		{Species: "Aquila chrysaetos", Data: map[string]model.Value{"status": model.StringValue("LC")}},
		model.PlaceholderResult("Bufo bufo", "No text context found."),
	}
}

func TestBuild(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	disc := &taxon.Discovery{
		RawCount:     10,
		InitialCount: 4,
		Final:        []model.NameMatch{{Name: "Lynx lynx", MatchType: model.MatchExact}},
	}

	r := Build(Input{Run: sampleRun(), Results: sampleResults(), Discovery: disc, NamesURL: "http://gn", Pages: "1-5"}, now)

	assert.Equal(t, now, r.Timestamp)
	assert.Equal(t, "run-1", r.RunID)
	assert.Equal(t, DocumentInfo{FileName: "survey.pdf", CharCount: 1200, Pages: "1-5"}, r.Document)

	require.NotNil(t, r.Names)
	assert.Equal(t, 10, r.Names.Raw)
	assert.Equal(t, 4, r.Names.Initial)
	assert.Equal(t, 1, r.Names.Final)
	assert.Equal(t, "http://gn", r.Names.URL)

	ex := r.Extraction
	assert.Equal(t, model.StrategyContextWindow, ex.Method)
	assert.Equal(t, 250, ex.ContextAfter)
	assert.Zero(t, ex.TopChars)
	assert.Equal(t, 1, ex.TotalExamples)
	assert.Equal(t, 3, ex.SpeciesAssessed)
	assert.InDelta(t, 2.5, ex.RuntimeSeconds, 1e-9)
	assert.Equal(t, int64(300), ex.InputTokens)
	assert.Equal(t, []aggregate.ValueCount{{Value: "LC", Count: 2}, {Value: model.NotFound, Count: 1}}, ex.Summary)
	assert.Equal(t, "Birds", r.Project.ProjectName)
}

func TestBuild_PartialPageAndNoDiscovery(t *testing.T) {
	run := sampleRun()
	run.Settings.Strategy = model.StrategyPartialPage
	run.Project.Examples = nil

	r := Build(Input{Run: run}, time.Now())

	assert.Nil(t, r.Names)
	assert.Equal(t, 500, r.Extraction.TopChars)
	assert.Equal(t, 500, r.Extraction.BottomChars)
	assert.Empty(t, r.Extraction.Summary)
	assert.NotNil(t, r.Extraction.Examples)
	assert.NotNil(t, r.Extraction.Results)
}

func TestFileName(t *testing.T) {
	ts := time.Date(2026, 1, 2, 13, 4, 5, 0, time.UTC)
	assert.Equal(t, "ecoparse_report_20260102_130405.json", FileName(ts))
}

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	ts := time.Date(2026, 1, 2, 13, 4, 5, 0, time.UTC)
	r := Build(Input{Run: sampleRun(), Results: sampleResults()}, ts)

	path, err := Write(dir, r)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ecoparse_report_20260102_130405.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "pdf_info")
	assert.Contains(t, raw, "llm_extraction_info")
	assert.Contains(t, raw, "project_config_used")
	assert.NotContains(t, raw, "gnfinder_info")

	info := raw["pdf_info"].(map[string]any)
	assert.Equal(t, "survey.pdf", info["file_name"])

	llm := raw["llm_extraction_info"].(map[string]any)
	assert.Equal(t, "gemini", llm["provider"])
	assert.Len(t, llm["full_extraction_results"], 3)
}

func TestWrite_BadDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := Write(filepath.Join(file, "sub"), Build(Input{Run: sampleRun()}, time.Now()))
	assert.Error(t, err)
}

func sampleTable() aggregate.Table {
	schema, _ := model.NewSchema(sampleRun().Project.DataFields)
	return aggregate.Flatten(sampleResults(), schema)
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	summary := []aggregate.ValueCount{{Value: "LC", Count: 2}}

	require.NoError(t, WriteXLSX(path, sampleTable(), summary))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet[ResultsSheet]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 4)
	assert.Equal(t, "species", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "notes", sheet.Rows[0].Cells[3].String())
	assert.Equal(t, "Lynx lynx", sheet.Rows[1].Cells[0].String())
	assert.Equal(t, model.NotFound, sheet.Rows[3].Cells[1].String())

	s, ok := f.Sheet["Summary"]
	require.True(t, ok)
	require.Len(t, s.Rows, 2)
	assert.Equal(t, "LC", s.Rows[1].Cells[0].String())
	assert.Equal(t, "2", s.Rows[1].Cells[1].String())
}

func TestWriteXLSX_NoSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, WriteXLSX(path, sampleTable(), nil))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Sheets, 1)
}

func TestWriteXLSX_BadPath(t *testing.T) {
	err := WriteXLSX(filepath.Join(t.TempDir(), "missing", "out.xlsx"), sampleTable(), nil)
	assert.Error(t, err)
}

func TestRows(t *testing.T) {
	rows := Rows("run-1", sampleTable())
	require.Len(t, rows, 3)

	assert.Equal(t, "Lynx lynx", rows[0].Title)
	assert.Equal(t, "LC", rows[0].Fields["status"])
	assert.Equal(t, "forest", rows[0].Fields["habitat"])
	assert.Equal(t, "run-1", rows[0].Fields[RunProperty])
	assert.NotContains(t, rows[0].Fields, "species")

	assert.Equal(t, "No text context found.", rows[2].Fields[NotesProperty])
	assert.NotContains(t, rows[2].Fields, "notes")
}

func TestRows_NoRunID(t *testing.T) {
	rows := Rows("", sampleTable())
	assert.NotContains(t, rows[0].Fields, RunProperty)
}

type mockNotion struct {
	mock.Mock
}

func (m *mockNotion) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *mockNotion) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func TestNewNotionSink(t *testing.T) {
	_, err := NewNotionSink(nil, "db")
	assert.Error(t, err)

	_, err = NewNotionSink(&mockNotion{}, "")
	assert.Error(t, err)
}

func TestNotionSink_Export(t *testing.T) {
	m := &mockNotion{}
	m.On("QueryDatabase", mock.Anything, "db", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{}, nil).Times(3)
	m.On("CreatePage", mock.Anything, mock.Anything).Return(&notionapi.Page{}, nil).Times(3)

	sink, err := NewNotionSink(m, "db")
	require.NoError(t, err)

	created, updated, err := sink.Export(context.Background(), "run-1", sampleTable())
	require.NoError(t, err)
	assert.Equal(t, 3, created)
	assert.Zero(t, updated)
	m.AssertExpectations(t)
}

func TestNotionSink_RunRows(t *testing.T) {
	m := &mockNotion{}
	m.On("QueryDatabase", mock.Anything, "db", mock.MatchedBy(func(r *notionapi.DatabaseQueryRequest) bool {
		f, ok := r.Filter.(notionapi.PropertyFilter)
		return ok && f.Property == RunProperty && f.RichText.Equals == "run-1"
	})).Return(&notionapi.DatabaseQueryResponse{Results: []notionapi.Page{{ID: "a"}, {ID: "b"}}}, nil)

	sink, err := NewNotionSink(m, "db")
	require.NoError(t, err)

	n, err := sink.RunRows(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNotionSink_ExportError(t *testing.T) {
	m := &mockNotion{}
	m.On("QueryDatabase", mock.Anything, "db", mock.Anything).
		Return(nil, errors.New("boom"))

	sink, err := NewNotionSink(m, "db")
	require.NoError(t, err)

	_, _, err = sink.Export(context.Background(), "", sampleTable())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
