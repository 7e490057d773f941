package mediawiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"wikitool/internal/model"
)

type titleJSON struct {
	NS    int    `json:"ns"`
	Title string `json:"title"`
}

type revisionJSON struct {
	RevID     int64     `json:"revid"`
	ParentID  int64     `json:"parentid"`
	Timestamp time.Time `json:"timestamp"`
	Slots     map[string]struct {
		Content string `json:"content"`
	} `json:"slots"`
}

type pageJSON struct {
	PageID    int64          `json:"pageid"`
	NS        int            `json:"ns"`
	Title     string         `json:"title"`
	Missing   bool           `json:"missing"`
	Invalid   bool           `json:"invalid"`
	Revisions []revisionJSON `json:"revisions"`
	Links     []titleJSON    `json:"links"`
	Templates []titleJSON    `json:"templates"`
	Images    []titleJSON    `json:"images"`
	ImageInfo []struct {
		URL string `json:"url"`
	} `json:"imageinfo"`
}

type pagesQuery struct {
	Pages []pageJSON `json:"pages"`
}

// Node retrieves a page with its content, outbound links, transcluded
// templates and embedded files. A missing page is returned with Exists=false
// and no error.
func (c *Client) Node(ctx context.Context, title string, expandTemplates bool) (*model.Node, error) {
	params := url.Values{
		"prop":     {"revisions|links|templates|images"},
		"titles":   {title},
		"rvprop":   {"content"},
		"rvslots":  {"main"},
		"pllimit":  {"max"},
		"tllimit":  {"max"},
		"imlimit":  {"max"},
		"continue": {""},
	}

	node := &model.Node{Title: title}
	err := c.query(ctx, params, func(raw json.RawMessage) error {
		var q pagesQuery
		if err := json.Unmarshal(raw, &q); err != nil {
			return fmt.Errorf("decode pages: %w", err)
		}
		for _, p := range q.Pages {
			if p.Missing || p.Invalid {
				continue
			}
			node.Exists = true
			if node.Content == "" && len(p.Revisions) > 0 {
				node.Content = p.Revisions[0].Slots["main"].Content
			}
			node.Links = appendTitles(node.Links, p.Links)
			node.Templates = appendTitles(node.Templates, p.Templates)
			node.Files = appendTitles(node.Files, p.Images)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query page %q: %w", title, err)
	}

	if expandTemplates && node.Exists {
		text, err := c.expand(ctx, title, node.Content)
		if err != nil {
			return nil, fmt.Errorf("expand templates of %q: %w", title, err)
		}
		node.Content = text
	}
	return node, nil
}

func (c *Client) expand(ctx context.Context, title, text string) (string, error) {
	var resp struct {
		ExpandTemplates struct {
			Wikitext string `json:"wikitext"`
		} `json:"expandtemplates"`
	}
	params := url.Values{
		"action": {"expandtemplates"},
		"title":  {title},
		"text":   {text},
		"prop":   {"wikitext"},
	}
	if err := c.post(ctx, params, &resp); err != nil {
		return "", err
	}
	return resp.ExpandTemplates.Wikitext, nil
}

// PageExists reports whether a page with the given title exists.
func (c *Client) PageExists(ctx context.Context, title string) (bool, error) {
	var resp struct {
		Query pagesQuery `json:"query"`
	}
	params := url.Values{"action": {"query"}, "prop": {"info"}, "titles": {title}}
	if err := c.get(ctx, params, &resp); err != nil {
		return false, fmt.Errorf("query page %q: %w", title, err)
	}
	for _, p := range resp.Query.Pages {
		if !p.Missing && !p.Invalid {
			return true, nil
		}
	}
	return false, nil
}

// FileExists reports whether the named file page exists.
func (c *Client) FileExists(ctx context.Context, name string) (bool, error) {
	return c.PageExists(ctx, fileTitle(name))
}

// DownloadFile copies the binary content of the named file into w.
func (c *Client) DownloadFile(ctx context.Context, name string, w io.Writer) error {
	var resp struct {
		Query pagesQuery `json:"query"`
	}
	params := url.Values{
		"action": {"query"},
		"prop":   {"imageinfo"},
		"iiprop": {"url"},
		"titles": {fileTitle(name)},
	}
	if err := c.get(ctx, params, &resp); err != nil {
		return fmt.Errorf("query file %q: %w", name, err)
	}

	var raw string
	for _, p := range resp.Query.Pages {
		if len(p.ImageInfo) > 0 {
			raw = p.ImageInfo[0].URL
			break
		}
	}
	if raw == "" {
		return fmt.Errorf("file %q: %w", name, ErrNotFound)
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse file url %q: %w", raw, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.ResolveReference(ref).String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	body, err := c.send(req, "download")
	if err != nil {
		return err
	}
	defer func() { _ = body.Body.Close() }()

	if _, err := io.Copy(w, body.Body); err != nil {
		return fmt.Errorf("download %q: %w", name, err)
	}
	return nil
}

// AllPages calls fn for every non-redirect page in the namespace, stopping
// after limit pages (0 means no cap).
func (c *Client) AllPages(ctx context.Context, namespace, limit int, fn func(model.PageRef) error) error {
	params := url.Values{
		"list":          {"allpages"},
		"apnamespace":   {strconv.Itoa(namespace)},
		"apfilterredir": {"nonredirects"},
		"aplimit":       {"max"},
		"continue":      {""},
	}

	seen := 0
	err := c.query(ctx, params, func(raw json.RawMessage) error {
		var q struct {
			AllPages []struct {
				PageID int64  `json:"pageid"`
				NS     int    `json:"ns"`
				Title  string `json:"title"`
			} `json:"allpages"`
		}
		if err := json.Unmarshal(raw, &q); err != nil {
			return fmt.Errorf("decode allpages: %w", err)
		}
		for _, p := range q.AllPages {
			if limit > 0 && seen >= limit {
				return errStop
			}
			seen++
			if err := fn(model.PageRef{ID: p.PageID, Namespace: p.NS, Title: p.Title}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("list pages in namespace %d: %w", namespace, err)
	}
	return nil
}

// FirstRevisionSince returns the oldest revision of the page made at or after
// since, or nil when there is none.
func (c *Client) FirstRevisionSince(ctx context.Context, title string, since time.Time) (*model.Revision, error) {
	var resp struct {
		Query pagesQuery `json:"query"`
	}
	params := url.Values{
		"action":  {"query"},
		"prop":    {"revisions"},
		"titles":  {title},
		"rvprop":  {"ids|timestamp"},
		"rvlimit": {"1"},
		"rvdir":   {"newer"},
		"rvstart": {since.UTC().Format(time.RFC3339)},
	}
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, fmt.Errorf("query revisions of %q: %w", title, err)
	}
	for _, p := range resp.Query.Pages {
		if len(p.Revisions) == 0 {
			continue
		}
		r := p.Revisions[0]
		return &model.Revision{ID: r.RevID, ParentID: r.ParentID, Timestamp: r.Timestamp}, nil
	}
	return nil, nil
}

func appendTitles(dst []string, src []titleJSON) []string {
	for _, t := range src {
		dst = append(dst, t.Title)
	}
	return dst
}

func fileTitle(name string) string {
	if strings.HasPrefix(strings.ToLower(name), "file:") {
		return name
	}
	return "File:" + name
}
