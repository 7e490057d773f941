// Package mediawiki is a client for the MediaWiki action API (api.php).
//
// Every call is a sequential round trip. Requests are throttled client-side
// with a token bucket; nothing is retried.
package mediawiki

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"wikitool/internal/config"
	"wikitool/internal/observability"
)

const maxResponseBytes = 64 * 1024 * 1024

// ErrNotFound is returned when the requested page or file does not exist.
var ErrNotFound = errors.New("not found")

// errStop ends a paginated query early without reporting an error.
var errStop = errors.New("stop iteration")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is the error object returned by the API.
type APIError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %s: %s", e.Code, e.Info)
}

// Options configures a Client.
type Options struct {
	Site              config.Site
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
	// HTTPClient replaces the client built from Site (cookie jar, TLS).
	HTTPClient HTTPClient
	Metrics    *observability.Metrics
}

// Client talks to one MediaWiki site.
type Client struct {
	site      config.Site
	endpoint  *url.URL
	http      HTTPClient
	limiter   *rate.Limiter
	userAgent string
	metrics   *observability.Metrics
	csrfToken string
}

// New creates a Client. It does not contact the site; call Login for
// old-login authentication.
func New(opts Options) (*Client, error) {
	site := opts.Site
	if site.Host == "" {
		return nil, fmt.Errorf("%w: host is required", config.ErrInvalid)
	}
	site.ApplyDefaults()
	if err := site.Validate(); err != nil {
		return nil, err
	}

	endpoint, err := url.Parse(fmt.Sprintf("%s://%s%sapi.php", site.Scheme, site.Host, site.Path))
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient, err = newHTTPClient(site)
		if err != nil {
			return nil, err
		}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = "wikitool/" + config.Version
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.New()
	}

	return &Client{
		site:      site,
		endpoint:  endpoint,
		http:      httpClient,
		limiter:   rate.NewLimiter(limit, burst),
		userAgent: ua,
		metrics:   metrics,
	}, nil
}

func newHTTPClient(site config.Site) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if site.Auth == config.AuthSSL {
		keyFile := site.KeyPEM
		if keyFile == "" {
			keyFile = site.ClientPEM
		}
		cert, err := tls.LoadX509KeyPair(site.ClientPEM, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		transport.TLSClientConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	return &http.Client{Jar: jar, Transport: transport}, nil
}

// Site returns the connection settings in effect.
func (c *Client) Site() config.Site {
	return c.site
}

// Endpoint returns the api.php URL.
func (c *Client) Endpoint() string {
	return c.endpoint.String()
}

// Login authenticates with the legacy action=login flow.
func (c *Client) Login(ctx context.Context) error {
	token, err := c.token(ctx, "login")
	if err != nil {
		return fmt.Errorf("login token: %w", err)
	}

	var resp struct {
		Login struct {
			Result string `json:"result"`
			Reason string `json:"reason"`
		} `json:"login"`
	}
	params := url.Values{
		"action":     {"login"},
		"lgname":     {c.site.Username},
		"lgpassword": {c.site.Password},
		"lgtoken":    {token},
	}
	if err := c.post(ctx, params, &resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.Login.Result != "Success" {
		return fmt.Errorf("login %s: %s", resp.Login.Result, resp.Login.Reason)
	}
	c.csrfToken = ""
	return nil
}

func (c *Client) token(ctx context.Context, kind string) (string, error) {
	var resp struct {
		Query struct {
			Tokens map[string]string `json:"tokens"`
		} `json:"query"`
	}
	params := url.Values{"action": {"query"}, "meta": {"tokens"}, "type": {kind}}
	if err := c.get(ctx, params, &resp); err != nil {
		return "", err
	}
	tok := resp.Query.Tokens[kind+"token"]
	if tok == "" {
		return "", fmt.Errorf("no %s token in response", kind)
	}
	return tok, nil
}

func (c *Client) csrf(ctx context.Context) (string, error) {
	if c.csrfToken != "" {
		return c.csrfToken, nil
	}
	tok, err := c.token(ctx, "csrf")
	if err != nil {
		return "", fmt.Errorf("csrf token: %w", err)
	}
	c.csrfToken = tok
	return tok, nil
}

type queryResponse struct {
	Continue map[string]string `json:"continue"`
	Query    json.RawMessage   `json:"query"`
}

// query runs action=query and follows continuation until the server reports
// no more results or fn returns errStop.
func (c *Client) query(ctx context.Context, params url.Values, fn func(json.RawMessage) error) error {
	var cont map[string]string
	for {
		p := cloneValues(params)
		p.Set("action", "query")
		for k, v := range cont {
			p.Set(k, v)
		}

		var resp queryResponse
		if err := c.get(ctx, p, &resp); err != nil {
			return err
		}
		if len(resp.Query) > 0 {
			if err := fn(resp.Query); err != nil {
				if errors.Is(err, errStop) {
					return nil
				}
				return err
			}
		}
		if len(resp.Continue) == 0 {
			return nil
		}
		cont = resp.Continue
	}
}

func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	p := withFormat(params)
	u := *c.endpoint
	u.RawQuery = p.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.call(req, p.Get("action"), out)
}

func (c *Client) post(ctx context.Context, params url.Values, out any) error {
	p := withFormat(params)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), strings.NewReader(p.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.call(req, p.Get("action"), out)
}

func (c *Client) call(req *http.Request, action string, out any) error {
	resp, err := c.send(req, action)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.metrics.APIErrors.WithLabelValues(action).Inc()
		return fmt.Errorf("read body: %w", err)
	}

	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.metrics.APIErrors.WithLabelValues(action).Inc()
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	if envelope.Error != nil {
		c.metrics.APIErrors.WithLabelValues(action).Inc()
		return envelope.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	return nil
}

// send applies throttling, identification and authentication to req.
func (c *Client) send(req *http.Request, action string) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.site.Auth == config.AuthHTTP {
		req.SetBasicAuth(c.site.Username, c.site.Password)
	}

	c.metrics.APIRequests.WithLabelValues(action).Inc()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.APIErrors.WithLabelValues(action).Inc()
		return nil, fmt.Errorf("http %s: %w", action, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		_ = resp.Body.Close()
		c.metrics.APIErrors.WithLabelValues(action).Inc()
		return nil, fmt.Errorf("%s: unexpected status %d", action, resp.StatusCode)
	}
	return resp, nil
}

func withFormat(params url.Values) url.Values {
	p := cloneValues(params)
	p.Set("format", "json")
	p.Set("formatversion", "2")
	return p
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
