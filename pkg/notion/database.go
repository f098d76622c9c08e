package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll fetches every page of a database query, following cursors.
func QueryAll(ctx context.Context, c Client, dbID string, query *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
		if query != nil {
			req.Filter = query.Filter
			req.Sorts = query.Sorts
			req.PageSize = query.PageSize
		}

		resp, err := c.QueryDatabase(ctx, dbID, req)
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all page")
		}
		all = append(all, resp.Results...)

		if !resp.HasMore || resp.NextCursor == "" {
			return all, nil
		}
		cursor = resp.NextCursor
	}
}

// GlobalScope marks guide rows that apply to every company.
const GlobalScope = "*"

// QueryGuideRows fetches the line item rows for a company plus the rows
// shared by all companies.
func QueryGuideRows(ctx context.Context, c Client, dbID, company string) ([]notionapi.Page, error) {
	query := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.OrCompoundFilter{
			notionapi.PropertyFilter{
				Property: "Company",
				Select:   &notionapi.SelectFilterCondition{Equals: company},
			},
			notionapi.PropertyFilter{
				Property: "Company",
				Select:   &notionapi.SelectFilterCondition{Equals: GlobalScope},
			},
		},
	}
	pages, err := QueryAll(ctx, c, dbID, query)
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query guide rows for %s", company)
	}
	return pages, nil
}

// PlainText concatenates the plain_text values of a rich text run.
func PlainText(rts []notionapi.RichText) string {
	var s string
	for _, rt := range rts {
		s += rt.PlainText
	}
	return s
}
