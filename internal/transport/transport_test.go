package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) Config {
	return Config{
		BaseURL:      url,
		APIKey:       "test-key",
		UserAgent:    "weftline-go-test",
		Retries:      1,
		RetryWaitMin: 10 * time.Millisecond,
		RetryWaitMax: 20 * time.Millisecond,
	}
}

func TestPostSendsAuthAndHeaders(t *testing.T) {
	var gotAuth, gotAgent, gotEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		gotEncoding = r.Header.Get("Content-Encoding")
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	got, err := c.Post(context.Background(), "/v1/logs", []byte(`{"rows":[]}`))
	require.NoError(t, err)

	assert.Equal(t, `{"rows":[]}`, string(got))
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "weftline-go-test", gotAgent)
	assert.Empty(t, gotEncoding, "small bodies are not compressed")
}

func TestPostCompressesLargeBodies(t *testing.T) {
	var gotEncoding string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotBody = raw
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	payload := []byte(`{"rows":["` + strings.Repeat("a", 4096) + `"]}`)

	c := New(testConfig(srv.URL))
	_, err := c.Post(context.Background(), "/v1/logs", payload)
	require.NoError(t, err)
	require.Equal(t, "gzip", gotEncoding)

	zr, err := gzip.NewReader(bytes.NewReader(gotBody))
	require.NoError(t, err)
	unpacked, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, payload, unpacked)
}

func TestPostSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "try later")
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.Post(context.Background(), "/v1/logs", []byte(`{}`))
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "/v1/logs", apiErr.Path)
	assert.Contains(t, apiErr.Error(), "try later")
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"prompt-1","slug":"`+r.URL.Query().Get("slug")+`"}`)
	}))
	defer srv.Close()

	var out struct {
		ID   string `json:"id"`
		Slug string `json:"slug"`
	}
	c := New(testConfig(srv.URL))
	err := c.GetJSON(context.Background(), "/v1/prompts", map[string]string{"slug": "greet"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "prompt-1", out.ID)
	assert.Equal(t, "greet", out.Slug)
}

func TestPostJSONRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"project_name":"demo"}`, string(body))
		io.WriteString(w, `{"project_id":"proj-42"}`)
	}))
	defer srv.Close()

	in := map[string]string{"project_name": "demo"}
	var out struct {
		ProjectID string `json:"project_id"`
	}
	c := New(testConfig(srv.URL))
	require.NoError(t, c.PostJSON(context.Background(), "/v1/projects/register", in, &out))
	assert.Equal(t, "proj-42", out.ProjectID)
}

func TestCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(testConfig(srv.URL))
	_, err := c.Post(ctx, "/v1/logs", []byte(`{}`))
	assert.Error(t, err)

	var decoded map[string]any
	assert.Error(t, c.GetJSON(ctx, "/v1/prompts", nil, &decoded))
}

func TestGetJSONDecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json at all")
	}))
	defer srv.Close()

	var out map[string]any
	c := New(testConfig(srv.URL))
	err := c.GetJSON(context.Background(), "/v1/prompts", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}
