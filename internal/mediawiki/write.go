package mediawiki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// Result is the outcome of an edit or upload. Warnings holds the raw
// warnings object when the server attached one.
type Result struct {
	Status   string
	Warnings string
}

// OK reports whether the server accepted the change.
func (r Result) OK() bool {
	return r.Status == "Success"
}

// Edit saves text as the new content of the page.
func (c *Client) Edit(ctx context.Context, title, text, summary string) (Result, error) {
	token, err := c.csrf(ctx)
	if err != nil {
		return Result{}, err
	}

	var resp struct {
		Edit struct {
			Result string `json:"result"`
		} `json:"edit"`
		Warnings json.RawMessage `json:"warnings"`
	}
	params := url.Values{
		"action":  {"edit"},
		"title":   {title},
		"text":    {text},
		"summary": {summary},
		"token":   {token},
	}
	if err := c.post(ctx, params, &resp); err != nil {
		return Result{}, fmt.Errorf("edit %q: %w", title, err)
	}
	return Result{Status: resp.Edit.Result, Warnings: string(resp.Warnings)}, nil
}

// Upload stores the content of r as the named file. ignoreWarnings forces
// the upload over duplicate or overwrite warnings.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader, description string, ignoreWarnings bool) (Result, error) {
	token, err := c.csrf(ctx)
	if err != nil {
		return Result{}, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"action", "upload"},
		{"format", "json"},
		{"formatversion", "2"},
		{"filename", filename},
		{"comment", description},
		{"text", description},
		{"token", token},
	}
	if ignoreWarnings {
		fields = append(fields, [2]string{"ignorewarnings", "1"})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return Result{}, fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Result{}, fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return Result{}, fmt.Errorf("read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), &buf)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		Upload struct {
			Result   string          `json:"result"`
			Warnings json.RawMessage `json:"warnings"`
		} `json:"upload"`
		Warnings json.RawMessage `json:"warnings"`
	}
	if err := c.call(req, "upload", &resp); err != nil {
		return Result{}, fmt.Errorf("upload %q: %w", filename, err)
	}

	warnings := resp.Upload.Warnings
	if len(warnings) == 0 {
		warnings = resp.Warnings
	}
	return Result{Status: resp.Upload.Result, Warnings: string(warnings)}, nil
}
