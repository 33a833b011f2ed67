// Package eaeu is a client for the EAEU commission rate service used for
// route tariff lookups.
package eaeu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://nsi.eaeunion.org/api/v1"

// Client performs tariff lookups.
type Client interface {
	// RouteRates returns the published rate rows for an "origin-destination"
	// route key. An empty slice means the route has no published rates.
	RouteRates(ctx context.Context, route string) ([]Rate, error)
}

// Rate is one published rate row.
type Rate struct {
	Route       string     `json:"route"`
	ServiceType string     `json:"service_type"` // "cargo" or "white"
	PricePerKg  float64    `json:"price_per_kg"`
	TransitDays int        `json:"transit_time_days"`
	ValidFrom   time.Time  `json:"valid_from"`
	ValidTo     *time.Time `json:"valid_to,omitempty"`
}

// APIError reports a non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("eaeu: unexpected status %d: %s", e.Status, e.Body)
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

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a tariff lookup client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
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

func (c *httpClient) RouteRates(ctx context.Context, route string) ([]Rate, error) {
	u := c.baseURL + "/tariffs?route=" + url.QueryEscape(route)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "eaeu: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "logistics-cli/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "eaeu: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "eaeu: read response")
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil // route not published
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		Items []Rate `json:"items"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "eaeu: unmarshal response")
	}
	return result.Items, nil
}
