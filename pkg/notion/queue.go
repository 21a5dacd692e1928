package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueuedVenue is one row of the editorial extraction queue.
type QueuedVenue struct {
	PageID     string
	Name       string
	EntityType string
	PlaceID    string
	City       string
}

// QueryAll fetches all pages from a Notion database, handling pagination.
// Rate limiting is enforced by the Client (3 req/s by default).
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	var all []notionapi.Page

	req := &notionapi.DatabaseQueryRequest{}
	if filter != nil {
		req.Filter = filter.Filter
		req.Sorts = filter.Sorts
		req.PageSize = filter.PageSize
	}

	for {
		resp, err := c.QueryDatabase(ctx, dbID, req)
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all page")
		}
		all = append(all, resp.Results...)
		if !resp.HasMore {
			break
		}
		req = &notionapi.DatabaseQueryRequest{StartCursor: resp.NextCursor}
		if filter != nil {
			req.Filter = filter.Filter
			req.Sorts = filter.Sorts
			req.PageSize = filter.PageSize
		}
	}

	return all, nil
}

// QueryQueuedVenues fetches all rows with Status = "Queued" and maps them to
// QueuedVenue records the batch command can hand to the orchestrator.
func QueryQueuedVenues(ctx context.Context, c Client, dbID string) ([]QueuedVenue, error) {
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Status",
			Status: &notionapi.StatusFilterCondition{
				Equals: "Queued",
			},
		},
	}
	pages, err := QueryAll(ctx, c, dbID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "notion: query queued venues")
	}

	out := make([]QueuedVenue, 0, len(pages))
	for _, page := range pages {
		out = append(out, QueuedVenue{
			PageID:     string(page.ID),
			Name:       titleProp(page, "Name"),
			EntityType: selectProp(page, "Type"),
			PlaceID:    richTextProp(page, "Place ID"),
			City:       richTextProp(page, "City"),
		})
	}
	return out, nil
}

// UpdateStatus writes the Status property of a queue row.
func UpdateStatus(ctx context.Context, c Client, pageID, status string) error {
	_, err := c.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			"Status": notionapi.StatusProperty{
				Status: notionapi.Option{Name: status},
			},
		},
	})
	if err != nil {
		return eris.Wrapf(err, "notion: update status %s", pageID)
	}
	return nil
}

func titleProp(page notionapi.Page, name string) string {
	prop, ok := page.Properties[name].(*notionapi.TitleProperty)
	if !ok || len(prop.Title) == 0 {
		return ""
	}
	return prop.Title[0].PlainText
}

func richTextProp(page notionapi.Page, name string) string {
	prop, ok := page.Properties[name].(*notionapi.RichTextProperty)
	if !ok || len(prop.RichText) == 0 {
		return ""
	}
	return prop.RichText[0].PlainText
}

func selectProp(page notionapi.Page, name string) string {
	prop, ok := page.Properties[name].(*notionapi.SelectProperty)
	if !ok {
		return ""
	}
	return prop.Select.Name
}
