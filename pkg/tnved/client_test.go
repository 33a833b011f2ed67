package tnved

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   string
		wantCodes []string
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body: `{
				"success": true,
				"results": [
					{"probability": 0.91, "code": "8539500000", "description": "LED lamps"},
					{"probability": 0.42, "code": "9405402000", "description": "Searchlights", "is_old": true}
				]
			}`,
			wantCodes: []string{"8539500000", "9405402000"},
		},
		{
			name:    "rejected",
			status:  http.StatusOK,
			body:    `{"success": false, "error_message": "query too short"}`,
			wantErr: "search rejected: query too short",
		},
		{
			name:    "rate_limit",
			status:  http.StatusTooManyRequests,
			body:    `{"error": "rate limit exceeded"}`,
			wantErr: "unexpected status 429",
		},
		{
			name:    "malformed_response",
			status:  http.StatusOK,
			body:    `{invalid json`,
			wantErr: "unmarshal search response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/api/v1/search", r.URL.Path)
				assert.Equal(t, "LED bulbs", r.URL.Query().Get("q"))
				assert.Equal(t, "5", r.URL.Query().Get("limit"))
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient("test-key", WithBaseURL(srv.URL))
			results, err := client.Search(context.Background(), "LED bulbs", 5)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, results)
				return
			}

			require.NoError(t, err)
			require.Len(t, results, len(tt.wantCodes))
			for i, code := range tt.wantCodes {
				assert.Equal(t, code, results[i].Code)
			}
			assert.InDelta(t, 0.91, results[0].Probability, 0.001)
			assert.True(t, results[1].IsOld)
		})
	}
}

func TestSearch_DefaultLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"success": true, "results": []}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), "bulbs", 0)
	require.NoError(t, err)
}

func TestSearch_KedenFallback(t *testing.T) {
	var primaryCalls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		primaryCalls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/search", r.URL.Path)
		assert.Equal(t, "LED bulbs", r.URL.Query().Get("query"))
		assert.Equal(t, "keden-key", r.Header.Get("X-API-Key"))
		_, _ = w.Write([]byte(`{"items": [{"score": 0.8, "code": "8539500000", "name": "LED lamps"}]}`))
	}))
	defer fallback.Close()

	client := NewClient("test-key",
		WithBaseURL(primary.URL),
		WithKeden("keden-key", fallback.URL),
	)
	results, err := client.Search(context.Background(), "LED bulbs", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "8539500000", results[0].Code)
	assert.Equal(t, "LED lamps", results[0].Description)
	assert.InDelta(t, 0.8, results[0].Probability, 0.001)
	assert.Equal(t, int32(1), primaryCalls.Load())
}

func TestSearch_NoKeyConfigured(t *testing.T) {
	t.Parallel()
	client := NewClient("")
	_, err := client.Search(context.Background(), "bulbs", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no API key configured")
}

func TestSearch_PrimaryErrorWithoutFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), "bulbs", 5)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.HTTPStatus())
	assert.Equal(t, "tnved", apiErr.Source)
}

func TestCodeInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/codes/8539500000", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"description": "LED lamps",
			"duty_rate": 5,
			"vat_rate": 20,
			"required_documents": ["EAC certificate of conformity"],
			"restrictions": []
		}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	info, err := client.CodeInfo(context.Background(), "8539500000")
	require.NoError(t, err)
	assert.Equal(t, "8539500000", info.Code)
	assert.Equal(t, "LED lamps", info.Description)
	assert.InDelta(t, 5, info.DutyRate, 0.001)
	assert.InDelta(t, 20, info.VATRate, 0.001)
	require.Len(t, info.RequiredDocuments, 1)
}

func TestCodeInfo_KedenFallback(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tnved/8539500000", r.URL.Path)
		_, _ = w.Write([]byte(`{"name": "LED lamps", "duty": 5, "vat": 20, "documents": ["declaration"]}`))
	}))
	defer fallback.Close()

	client := NewClient("test-key",
		WithBaseURL(primary.URL),
		WithKeden("keden-key", fallback.URL),
	)
	info, err := client.CodeInfo(context.Background(), "8539500000")
	require.NoError(t, err)
	assert.Equal(t, "LED lamps", info.Description)
	assert.InDelta(t, 5, info.DutyRate, 0.001)
	assert.Equal(t, []string{"declaration"}, info.RequiredDocuments)
}

func TestContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success": true, "results": []}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Search(ctx, "bulbs", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send request")
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	c := NewClient("my-key")
	hc := c.(*httpClient)
	assert.Equal(t, "my-key", hc.apiKey)
	assert.Equal(t, defaultBaseURL, hc.baseURL)
	assert.Equal(t, defaultKedenBaseURL, hc.kedenBaseURL)
	assert.NotNil(t, hc.http)
	assert.NotNil(t, hc.http.Transport)
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "short", truncate("short", 10))
	long := truncate(string(make([]byte, 300)), 256)
	assert.Contains(t, long, "300 bytes")
	assert.Less(t, len(long), 300)
}
