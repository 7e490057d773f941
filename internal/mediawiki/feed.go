package mediawiki

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mmcdole/gofeed"

	"wikitool/internal/model"
)

// RecentChanges reads the site's recent changes Atom feed covering the last
// days days, returning at most limit entries.
func (c *Client) RecentChanges(ctx context.Context, days, limit int) ([]model.Change, error) {
	params := url.Values{
		"action":     {"feedrecentchanges"},
		"feedformat": {"atom"},
		"days":       {strconv.Itoa(days)},
		"limit":      {strconv.Itoa(limit)},
	}
	u := *c.endpoint
	u.RawQuery = params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.send(req, "feedrecentchanges")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	changes := make([]model.Change, 0, len(feed.Items))
	for _, item := range feed.Items {
		ch := model.Change{
			Title:   item.Title,
			Link:    item.Link,
			Summary: item.Description,
			Updated: item.UpdatedParsed,
		}
		if ch.Updated == nil {
			ch.Updated = item.PublishedParsed
		}
		if len(item.Authors) > 0 && item.Authors[0] != nil {
			ch.Author = item.Authors[0].Name
		}
		changes = append(changes, ch)
	}
	return changes, nil
}
