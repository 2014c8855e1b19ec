// Package genai is a minimal REST client for the Gemini generative
// language API, covering the two calls the pipeline needs: embeddings and
// JSON-mode content generation.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	defaultEmbedModel = "text-embedding-005"
	defaultGenModel   = "gemini-2.5-flash"
)

// APIError carries the HTTP status of a failed model call so callers can
// decide between retrying, splitting and giving up.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("genai: status %d: %s", e.StatusCode, e.Message)
}

// IsTransient reports whether the error is a retriable API failure.
func IsTransient(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsTokenLimit reports whether the model rejected the input for exceeding
// its token limit.
func IsTokenLimit(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}

	return apiErr.StatusCode == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(apiErr.Message), "token")
}

type Client struct {
	baseURL    string
	apiKey     string
	embedModel string
	genModel   string
	httpc      *http.Client
}

type Config struct {
	BaseURL    string
	APIKey     string
	EmbedModel string
	GenModel   string
	Timeout    time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = defaultEmbedModel
	}
	if cfg.GenModel == "" {
		cfg.GenModel = defaultGenModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		embedModel: cfg.EmbedModel,
		genModel:   cfg.GenModel,
		httpc:      &http.Client{Timeout: cfg.Timeout},
	}
}

// Embed returns the dense vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body := map[string]any{
		"content": map[string]any{
			"parts": []map[string]string{{"text": text}},
		},
	}

	url := fmt.Sprintf("%s/models/%s:embedContent", c.baseURL, c.embedModel)
	payload, err := c.post(ctx, url, body)
	if err != nil {
		return nil, err
	}

	var out struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("genai: decoding embedding response: %w", err)
	}
	if len(out.Embedding.Values) == 0 {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "no embedding returned"}
	}

	return out.Embedding.Values, nil
}

// GenerateJSON sends a prompt in JSON mode and returns the raw response
// text. Callers parse and validate the JSON themselves; a model that
// produced garbage is their retry condition, not ours.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"temperature":      0.1,
			"maxOutputTokens":  maxTokens,
			"responseMimeType": "application/json",
		},
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.genModel)
	payload, err := c.post(ctx, url, body)
	if err != nil {
		return "", err
	}

	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("genai: decoding generate response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", &APIError{StatusCode: http.StatusOK, Message: "no candidates returned"}
	}

	return out.Candidates[0].Content.Parts[0].Text, nil
}

func (c *Client) post(ctx context.Context, url string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: apiMessage(payload)}
	}

	return payload, nil
}

func apiMessage(payload []byte) string {
	var out struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &out); err == nil && out.Error.Message != "" {
		return out.Error.Message
	}

	msg := string(payload)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
