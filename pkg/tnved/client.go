// Package tnved is a client for commodity-code (TN VED) classification APIs.
// It queries tnved.info as the primary source and falls back to keden.kz when
// the primary is unconfigured or failing.
package tnved

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL      = "https://api.tnved.info"
	defaultKedenBaseURL = "https://api.keden.kz"
)

// Client performs classification lookups.
type Client interface {
	// Search returns scored code candidates for a free-text product query.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	// CodeInfo returns duty context for a specific commodity code.
	CodeInfo(ctx context.Context, code string) (*CodeInfo, error)
}

// SearchResult is one scored candidate code.
type SearchResult struct {
	Probability float64    `json:"probability"`
	Code        string     `json:"code"`
	Description string     `json:"description"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	IsOld       bool       `json:"is_old"`
}

// CodeInfo is the duty context for a commodity code.
type CodeInfo struct {
	Code              string   `json:"code"`
	Description       string   `json:"description"`
	DutyRate          float64  `json:"duty_rate"`
	VATRate           float64  `json:"vat_rate"`
	RequiredDocuments []string `json:"required_documents"`
	Restrictions      []string `json:"restrictions"`
}

// APIError reports a non-2xx response from either classification API.
type APIError struct {
	Source string // "tnved" or "keden"
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Source, e.Status, e.Body)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int {
	return e.Status
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the primary API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithKeden configures the fallback API.
func WithKeden(key, baseURL string) Option {
	return func(c *httpClient) {
		c.kedenKey = key
		if baseURL != "" {
			c.kedenBaseURL = baseURL
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey       string
	baseURL      string
	kedenKey     string
	kedenBaseURL string
	http         *http.Client
}

// NewClient creates a classification API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		kedenBaseURL: defaultKedenBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// tnvedSearchResponse mirrors the primary API search payload.
type tnvedSearchResponse struct {
	Success      bool           `json:"success"`
	Results      []SearchResult `json:"results"`
	ErrorMessage string         `json:"error_message"`
}

// kedenSearchResponse mirrors the fallback API search payload.
type kedenSearchResponse struct {
	Items []struct {
		Score float64 `json:"score"`
		Code  string  `json:"code"`
		Name  string  `json:"name"`
	} `json:"items"`
}

func (c *httpClient) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	if c.apiKey != "" {
		results, err := c.searchPrimary(ctx, query, limit)
		if err == nil {
			return results, nil
		}
		if c.kedenKey == "" {
			return nil, err
		}
		// Fall through to keden on primary failure.
	}
	if c.kedenKey == "" {
		return nil, eris.New("tnved: no API key configured")
	}
	return c.searchKeden(ctx, query, limit)
}

func (c *httpClient) searchPrimary(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	u := fmt.Sprintf("%s/api/v1/search?q=%s&limit=%d", c.baseURL, url.QueryEscape(query), limit)
	body, err := c.get(ctx, "tnved", u, map[string]string{"Authorization": "Bearer " + c.apiKey})
	if err != nil {
		return nil, err
	}

	var resp tnvedSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "tnved: unmarshal search response")
	}
	if !resp.Success && resp.ErrorMessage != "" {
		return nil, eris.Errorf("tnved: search rejected: %s", resp.ErrorMessage)
	}
	return resp.Results, nil
}

func (c *httpClient) searchKeden(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	u := fmt.Sprintf("%s/api/search?query=%s&limit=%d", c.kedenBaseURL, url.QueryEscape(query), limit)
	body, err := c.get(ctx, "keden", u, map[string]string{"X-API-Key": c.kedenKey})
	if err != nil {
		return nil, err
	}

	var resp kedenSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "keden: unmarshal search response")
	}
	results := make([]SearchResult, 0, len(resp.Items))
	for _, item := range resp.Items {
		results = append(results, SearchResult{
			Probability: item.Score,
			Code:        item.Code,
			Description: item.Name,
		})
	}
	return results, nil
}

func (c *httpClient) CodeInfo(ctx context.Context, code string) (*CodeInfo, error) {
	if c.apiKey != "" {
		info, err := c.codeInfoPrimary(ctx, code)
		if err == nil {
			return info, nil
		}
		if c.kedenKey == "" {
			return nil, err
		}
	}
	if c.kedenKey == "" {
		return nil, eris.New("tnved: no API key configured")
	}
	return c.codeInfoKeden(ctx, code)
}

func (c *httpClient) codeInfoPrimary(ctx context.Context, code string) (*CodeInfo, error) {
	u := c.baseURL + "/api/v1/codes/" + url.PathEscape(code)
	body, err := c.get(ctx, "tnved", u, map[string]string{"Authorization": "Bearer " + c.apiKey})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Description       string   `json:"description"`
		DutyRate          float64  `json:"duty_rate"`
		VATRate           float64  `json:"vat_rate"`
		RequiredDocuments []string `json:"required_documents"`
		Restrictions      []string `json:"restrictions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "tnved: unmarshal code info")
	}
	return &CodeInfo{
		Code:              code,
		Description:       resp.Description,
		DutyRate:          resp.DutyRate,
		VATRate:           resp.VATRate,
		RequiredDocuments: resp.RequiredDocuments,
		Restrictions:      resp.Restrictions,
	}, nil
}

func (c *httpClient) codeInfoKeden(ctx context.Context, code string) (*CodeInfo, error) {
	u := c.kedenBaseURL + "/api/tnved/" + url.PathEscape(code)
	body, err := c.get(ctx, "keden", u, map[string]string{"X-API-Key": c.kedenKey})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Name         string   `json:"name"`
		Duty         float64  `json:"duty"`
		VAT          float64  `json:"vat"`
		Documents    []string `json:"documents"`
		Restrictions []string `json:"restrictions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "keden: unmarshal code info")
	}
	return &CodeInfo{
		Code:              code,
		Description:       resp.Name,
		DutyRate:          resp.Duty,
		VATRate:           resp.VAT,
		RequiredDocuments: resp.Documents,
		Restrictions:      resp.Restrictions,
	}, nil
}

func (c *httpClient) get(ctx context.Context, source, u string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: create request", source)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "logistics-cli/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: send request", source)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: read response", source)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Source: source, Status: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "… (" + strconv.Itoa(len(s)) + " bytes)"
}
