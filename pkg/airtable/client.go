// Package airtable is a minimal client for the Airtable REST API, used as
// the CRM persistence collaborator. Writes are rate limited to stay inside
// Airtable's per-base request budget.
package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.airtable.com/v0"

// Client performs record operations against one Airtable base.
type Client interface {
	// CreateRecord inserts a record into table and returns the record ID.
	CreateRecord(ctx context.Context, table string, fields map[string]any) (string, error)
	// ListRecords returns up to limit records from table, newest first.
	ListRecords(ctx context.Context, table string, limit int) ([]Record, error)
}

// Record is one Airtable record.
type Record struct {
	ID          string         `json:"id"`
	CreatedTime time.Time      `json:"createdTime"`
	Fields      map[string]any `json:"fields"`
}

// APIError reports a non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("airtable: unexpected status %d: %s", e.Status, e.Body)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int {
	return e.Status
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithRateLimit sets the sustained write rate in requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey  string
	baseID  string
	baseURL string
	limiter *rate.Limiter
	http    *http.Client
}

// NewClient creates an Airtable client for one base.
func NewClient(apiKey, baseID string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseID:  baseID,
		baseURL: defaultBaseURL,
		limiter: rate.NewLimiter(4, 4), // Airtable allows 5 rps per base
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) CreateRecord(ctx context.Context, table string, fields map[string]any) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "airtable: rate limit wait")
	}

	payload, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return "", eris.Wrap(err, "airtable: marshal record")
	}

	u := fmt.Sprintf("%s/%s/%s", c.baseURL, c.baseID, url.PathEscape(table))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", eris.Wrap(err, "airtable: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return "", eris.Wrap(err, "airtable: unmarshal record")
	}
	return rec.ID, nil
}

func (c *httpClient) ListRecords(ctx context.Context, table string, limit int) ([]Record, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "airtable: rate limit wait")
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	u := fmt.Sprintf("%s/%s/%s?maxRecords=%d&sort%%5B0%%5D%%5Bfield%%5D=created_at&sort%%5B0%%5D%%5Bdirection%%5D=desc",
		c.baseURL, c.baseID, url.PathEscape(table), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "airtable: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result struct {
		Records []Record `json:"records"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "airtable: unmarshal records")
	}
	return result.Records, nil
}

func (c *httpClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "airtable: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "airtable: read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
