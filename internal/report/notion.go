package report

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ecoparse/internal/aggregate"
	"github.com/sells-group/ecoparse/pkg/notion"
)

// Notion property names.
const (
	TitleProperty = "Species"
	NotesProperty = "Notes"
	RunProperty   = "Run"
)

// NotionSink publishes flattened results as rows of a Notion database.
type NotionSink struct {
	client notion.Client
	dbID   string
}

// NewNotionSink creates a sink writing into database dbID.
func NewNotionSink(client notion.Client, dbID string) (*NotionSink, error) {
	if client == nil {
		return nil, eris.New("report: notion client is required")
	}
	if dbID == "" {
		return nil, eris.New("report: notion database id is required")
	}
	return &NotionSink{client: client, dbID: dbID}, nil
}

// Export upserts one row per table row, keyed by species. runID is recorded
// on every row when set.
func (s *NotionSink) Export(ctx context.Context, runID string, table aggregate.Table) (created, updated int, err error) {
	rows := Rows(runID, table)
	created, updated, err = notion.UpsertRows(ctx, s.client, s.dbID, TitleProperty, rows)
	if err != nil {
		return created, updated, eris.Wrap(err, "report: notion export")
	}
	return created, updated, nil
}

// RunRows counts the database rows tagged with runID.
func (s *NotionSink) RunRows(ctx context.Context, runID string) (int, error) {
	pages, err := notion.QueryAll(ctx, s.client, s.dbID, notionapi.PropertyFilter{
		Property: RunProperty,
		RichText: &notionapi.TextFilterCondition{Equals: runID},
	})
	if err != nil {
		return 0, eris.Wrap(err, "report: notion run rows")
	}
	return len(pages), nil
}

// Rows converts a flattened table into Notion rows. The species column
// becomes the title and the notes column is renamed to Notes.
func Rows(runID string, table aggregate.Table) []notion.Row {
	out := make([]notion.Row, 0, len(table.Rows))
	for _, rec := range table.Rows {
		row := notion.Row{Fields: make(map[string]string, len(table.Header))}
		for j, h := range table.Header {
			if j >= len(rec) {
				break
			}
			switch h {
			case aggregate.SpeciesColumn:
				row.Title = rec[j]
			case aggregate.NotesColumn:
				row.Fields[NotesProperty] = rec[j]
			default:
				row.Fields[h] = rec[j]
			}
		}
		if runID != "" {
			row.Fields[RunProperty] = runID
		}
		out = append(out, row)
	}
	return out
}
