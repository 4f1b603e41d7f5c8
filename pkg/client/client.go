package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	jsonBodyLimit   = 1 << 20
	binaryBodyLimit = 64 << 20
)

// Client talks to a digaas server.
type Client struct {
	base       string
	httpClient *http.Client
	tokens     oauth2.TokenSource
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// WithToken attaches a static bearer token to every request.
func WithToken(token string) Option {
	return WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
}

// WithTokenSource attaches bearer tokens obtained from ts. Any oauth2
// token source works, including refreshing ones.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) error {
		c.tokens = ts
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:8123".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	if c.tokens != nil {
		c.httpClient = &http.Client{
			Transport: &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, c.tokens), Base: c.httpClient.Transport},
			Timeout:   c.httpClient.Timeout,
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Version returns the service name and API version.
func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	var v VersionInfo
	if err := c.doJSON(ctx, http.MethodGet, "/", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// SubmitObserver starts an observation. The returned observer is ACCEPTED.
func (c *Client) SubmitObserver(ctx context.Context, req ObserverRequest) (*Observer, error) {
	var o Observer
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/observers", req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// GetObserver fetches an observer by id.
func (c *Client) GetObserver(ctx context.Context, id string) (*Observer, error) {
	var o Observer
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/observers/"+url.PathEscape(id), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// WaitObserver polls an observer every poll until it leaves ACCEPTED or ctx
// ends.
func (c *Client) WaitObserver(ctx context.Context, id string, poll time.Duration) (*Observer, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		o, err := c.GetObserver(ctx, id)
		if err != nil {
			return nil, err
		}
		if o.Done() {
			return o, nil
		}
		select {
		case <-ctx.Done():
			return o, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CreateStats requests statistics for [start, end].
func (c *Client) CreateStats(ctx context.Context, start, end time.Time) (*Stats, error) {
	body := struct {
		Start Timestamp `json:"start"`
		End   Timestamp `json:"end"`
	}{At(start), At(end)}

	var st Stats
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/stats", body, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// GetStats fetches a stats request by id.
func (c *Client) GetStats(ctx context.Context, id string) (*Stats, error) {
	var st Stats
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/stats/"+url.PathEscape(id), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// WaitStats polls a stats request until it leaves ACCEPTED or ctx ends.
func (c *Client) WaitStats(ctx context.Context, id string, poll time.Duration) (*Stats, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		st, err := c.GetStats(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.Status != StatusAccepted {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetSummaries fetches the summaries of a finished stats request. It
// returns an error matching ErrNotReady while the request is running.
func (c *Client) GetSummaries(ctx context.Context, id string) (Summaries, error) {
	var s Summaries
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/stats/"+url.PathEscape(id)+"/summary", nil, &s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetPlot downloads one chart of a finished stats request and returns the
// image with its content type.
func (c *Client) GetPlot(ctx context.Context, id, plotType string) ([]byte, string, error) {
	path := "/api/v1/stats/" + url.PathEscape(id) + "/plots/" + url.PathEscape(plotType)
	return c.download(ctx, path)
}

// ExportXLSX downloads the summaries of a finished stats request as a
// spreadsheet.
func (c *Client) ExportXLSX(ctx context.Context, id string) ([]byte, error) {
	data, _, err := c.download(ctx, "/api/v1/stats/"+url.PathEscape(id)+"/export.xlsx")
	return data, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	data, _, err := c.do(req, jsonBodyLimit)
	if err != nil {
		return err
	}
	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(data, respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) download(ctx context.Context, path string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	return c.do(req, binaryBodyLimit)
}

func (c *Client) do(req *http.Request, limit int64) ([]byte, string, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, "", newAPIError(resp.StatusCode, body)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
