// Package qichacha is a client for the Qichacha company registry used for
// supplier verification. Requests are signed with an MD5 digest of the sorted
// parameters plus the secret key, per the open.qichacha.com contract.
package qichacha

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://open.qichacha.com"

// ErrCompanyNotFound is returned when the registry has no record for the
// queried company name. It is an authoritative answer, not a transient error.
var ErrCompanyNotFound = eris.New("qichacha: company not found")

// Client performs supplier verification lookups.
type Client interface {
	// SearchCompany returns the best registry match for a company name.
	SearchCompany(ctx context.Context, name string) (*Company, error)
	// CompanyRisks returns the registry's risk records for a company key.
	CompanyRisks(ctx context.Context, keyNo string) ([]RiskRecord, error)
	// ComprehensiveCheck runs search plus risk lookup and scores the result.
	ComprehensiveCheck(ctx context.Context, name string) (*CheckResult, error)
}

// Company is the registry's basic company record.
type Company struct {
	KeyNo           string `json:"KeyNo"`
	Name            string `json:"Name"`
	RegNumber       string `json:"RegNumber"`
	LegalPersonName string `json:"LegalPersonName"`
	RegCapital      string `json:"RegCapital"`
	EstablishTime   string `json:"EstablishTime"`
	Status          string `json:"Status"`
	Industry        string `json:"Industry"`
	Address         string `json:"Address"`
}

// RiskRecord is one entry from the registry's risk list.
type RiskRecord struct {
	Type        string `json:"Type"`
	Title       string `json:"Title"`
	Date        string `json:"Date"`
	Description string `json:"Description"`
}

// CheckResult is the scored outcome of a comprehensive supplier check.
type CheckResult struct {
	Company          Company      `json:"company"`
	Risks            []RiskRecord `json:"risks"`
	ReliabilityScore int          `json:"reliability_score"` // 1..10
	RiskLevel        string       `json:"risk_level"`        // low, medium, high
}

// APIError reports a non-2xx transport response or an API-level error status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("qichacha: status %d: %s", e.Status, e.Message)
}

// HTTPStatus returns the effective status code.
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
	apiKey    string
	secretKey string
	baseURL   string
	http      *http.Client
	nowMillis func() int64
}

// NewClient creates a Qichacha API client.
func NewClient(apiKey, secretKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:    apiKey,
		secretKey: secretKey,
		baseURL:   defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		nowMillis: func() int64 { return time.Now().UnixMilli() },
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// sign produces the request signature: MD5(upper hex) over the
// key-sorted concatenation of "key value" pairs plus the secret.
func (c *httpClient) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(params[k])
	}
	sb.WriteString(c.secretKey)

	return strings.ToUpper(fmt.Sprintf("%x", md5.Sum([]byte(sb.String()))))
}

type apiEnvelope struct {
	Status  string          `json:"Status"`
	Message string          `json:"Message"`
	Result  json.RawMessage `json:"Result"`
}

func (c *httpClient) call(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, error) {
	params["appKey"] = c.apiKey
	params["timestamp"] = strconv.FormatInt(c.nowMillis(), 10)
	params["sign"] = c.sign(params)

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "qichacha: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "qichacha: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "qichacha: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Message: string(body)}
	}

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrap(err, "qichacha: unmarshal envelope")
	}
	if env.Status != "200" {
		status, convErr := strconv.Atoi(env.Status)
		if convErr != nil {
			status = http.StatusBadGateway
		}
		return nil, &APIError{Status: status, Message: env.Message}
	}
	return env.Result, nil
}

func (c *httpClient) SearchCompany(ctx context.Context, name string) (*Company, error) {
	result, err := c.call(ctx, "/api/search/search", map[string]string{
		"keyword":   name,
		"pageIndex": "1",
		"pageSize":  "10",
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		List       []Company `json:"List"`
		TotalCount int       `json:"TotalCount"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, eris.Wrap(err, "qichacha: unmarshal search result")
	}
	if len(payload.List) == 0 {
		return nil, ErrCompanyNotFound
	}
	return &payload.List[0], nil
}

func (c *httpClient) CompanyRisks(ctx context.Context, keyNo string) ([]RiskRecord, error) {
	result, err := c.call(ctx, "/api/company/getRisk", map[string]string{"keyNo": keyNo})
	if err != nil {
		return nil, err
	}

	var payload struct {
		RiskList []RiskRecord `json:"RiskList"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, eris.Wrap(err, "qichacha: unmarshal risk result")
	}
	return payload.RiskList, nil
}

func (c *httpClient) ComprehensiveCheck(ctx context.Context, name string) (*CheckResult, error) {
	company, err := c.SearchCompany(ctx, name)
	if err != nil {
		return nil, err
	}

	// Risk lookup is best-effort: scoring proceeds without it.
	risks, err := c.CompanyRisks(ctx, company.KeyNo)
	if err != nil {
		risks = nil
	}

	score := ReliabilityScore(*company, risks)
	return &CheckResult{
		Company:          *company,
		Risks:            risks,
		ReliabilityScore: score,
		RiskLevel:        riskLevel(score),
	}, nil
}

// ReliabilityScore derives a 1..10 score from the company record and risk
// list: status, registered capital, company age, and risk count.
func ReliabilityScore(company Company, risks []RiskRecord) int {
	score := 5.0

	status := strings.ToLower(company.Status)
	switch {
	case strings.Contains(status, "active") || strings.Contains(status, "正常"):
		score += 2
	case strings.Contains(status, "cancelled") || strings.Contains(status, "吊销"):
		score -= 3
	}

	if capital := parseCapital(company.RegCapital); capital > 1000 {
		score++
	} else if capital > 100 {
		score += 0.5
	}

	if t, err := time.Parse("2006-01-02", company.EstablishTime); err == nil {
		if time.Since(t) > 3*365*24*time.Hour {
			score++
		}
	}

	switch n := len(risks); {
	case n == 0:
		score++
	case n <= 2:
		score += 0.5
	default:
		score -= math.Min(float64(n-2), 3)
	}

	return int(math.Max(1, math.Min(10, score)))
}

func riskLevel(score int) string {
	switch {
	case score >= 7:
		return "low"
	case score >= 4:
		return "medium"
	default:
		return "high"
	}
}

// parseCapital extracts a numeric value from capital strings like "3000万元".
func parseCapital(s string) float64 {
	s = strings.NewReplacer("万元", "", "万", "", ",", "", " ", "").Replace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
