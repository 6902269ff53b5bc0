package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendAndParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fingate-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "celo", r.URL.Query().Get("ids"))
		if r.Method == http.MethodPost {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			var in map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "eth_call", in["method"])
		}
		_, _ = w.Write([]byte(`{"celo":{"usd":0.61}}`))
	}))
	defer srv.Close()

	c := NewClient(WithUserAgent("fingate-test"), WithTimeout(time.Second))
	query := map[string][]string{"ids": {"celo"}}

	var out map[string]map[string]float64
	require.NoError(t, c.SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL, QueryParams: query}, &out))
	assert.Equal(t, 0.61, out["celo"]["usd"])

	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method: MethodPost, URL: srv.URL, QueryParams: query,
		Body: map[string]string{"method": "eth_call"},
	}, nil)
	require.NoError(t, err)
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down\n"))
	}))
	defer srv.Close()

	err := NewClient().SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL + "?key=secret"}, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Equal(t, "slow down", se.Body)
	assert.Equal(t, 3*time.Second, se.RetryAfter)
}

func TestClient_ErrorsHideQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	var out map[string]any
	err := NewClient().SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL + "?apikey=secret"}, &out)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}
