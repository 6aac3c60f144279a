package notion

import (
	"context"
	"unicode/utf8"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// maxTextContent is Notion's limit on one rich-text object.
const maxTextContent = 2000

// Row is one database page: a title plus rich-text properties.
type Row struct {
	Title  string
	Fields map[string]string
}

// Properties renders a row with the title under titleProp. Empty fields
// are omitted.
func Properties(titleProp string, row Row) notionapi.Properties {
	props := notionapi.Properties{
		titleProp: notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: richText(row.Title),
		},
	}
	for k, v := range row.Fields {
		if v == "" || k == titleProp {
			continue
		}
		props[k] = notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(v),
		}
	}
	return props
}

// richText splits s into objects within the content limit, never inside a
// UTF-8 sequence.
func richText(s string) []notionapi.RichText {
	var out []notionapi.RichText
	for len(s) > maxTextContent {
		cut := maxTextContent
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		out = append(out, notionapi.RichText{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s[:cut]}})
		s = s[cut:]
	}
	return append(out, notionapi.RichText{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}})
}

// UpsertRows writes rows into the database, updating pages whose title
// already exists and creating the rest.
func UpsertRows(ctx context.Context, c Client, dbID, titleProp string, rows []Row) (created, updated int, err error) {
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return created, updated, eris.Wrap(err, "notion: upsert cancelled")
		}
		props := Properties(titleProp, row)

		pageID, err := FindByTitle(ctx, c, dbID, titleProp, row.Title)
		if err != nil {
			return created, updated, err
		}
		if pageID != "" {
			if _, err := c.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{Properties: props}); err != nil {
				return created, updated, err
			}
			updated++
			continue
		}

		_, err = c.CreatePage(ctx, &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(dbID),
			},
			Properties: props,
		})
		if err != nil {
			return created, updated, err
		}
		created++
	}
	zap.L().Info("notion: rows written", zap.String("database", dbID), zap.Int("created", created), zap.Int("updated", updated))
	return created, updated, nil
}
