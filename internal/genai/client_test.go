package genai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"})
	return client, srv
}

func TestEmbed(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.True(t, strings.HasSuffix(r.URL.Path, ":embedContent"))

		json.NewEncoder(w).Encode(map[string]any{
			"embedding": map[string]any{"values": []float32{0.1, 0.2, 0.3}},
		})
	})
	defer srv.Close()

	vec, err := client.Embed(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestGenerateJSON(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		cfg := body["generationConfig"].(map[string]any)
		assert.Equal(t, "application/json", cfg["responseMimeType"])

		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": `{"ok": true}`}}}},
			},
		})
	})
	defer srv.Close()

	out, err := client.GenerateJSON(context.Background(), "prompt", 512)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, out)
}

func TestAPIErrorMapping(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "quota exceeded"},
		})
	})
	defer srv.Close()

	_, err := client.Embed(context.Background(), "text")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "quota exceeded", apiErr.Message)
	assert.True(t, IsTransient(err))
	assert.False(t, IsTokenLimit(err))
}

func TestIsTokenLimit(t *testing.T) {
	assert.True(t, IsTokenLimit(&APIError{
		StatusCode: http.StatusBadRequest,
		Message:    "input token count exceeds the maximum allowed",
	}))
	assert.False(t, IsTokenLimit(&APIError{
		StatusCode: http.StatusBadRequest,
		Message:    "malformed request",
	}))
	assert.False(t, IsTokenLimit(assert.AnError))
}

func TestIsTransient(t *testing.T) {
	for _, code := range []int{429, 500, 503, 504} {
		assert.True(t, IsTransient(&APIError{StatusCode: code}), "%d", code)
	}
	for _, code := range []int{400, 401, 403, 404} {
		assert.False(t, IsTransient(&APIError{StatusCode: code}), "%d", code)
	}
	assert.False(t, IsTransient(assert.AnError))
}
