package llm

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/emrgen/docsearch/internal/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGen struct {
	responses []any // string responses or errors, consumed in order
	calls     int
	prompts   []string
}

func (f *fakeGen) GenerateJSON(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if len(f.responses) == 0 {
		return "", &genai.APIError{StatusCode: http.StatusInternalServerError, Message: "no response queued"}
	}

	next := f.responses[0]
	f.responses = f.responses[1:]
	if err, ok := next.(error); ok {
		return "", err
	}
	return next.(string), nil
}

func newTestExtractor(gen *fakeGen) *Extractor {
	e := NewExtractor(gen)
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return e
}

func docText() string {
	return strings.Repeat("Kubernetes deployment strategies for production clusters. ", 10)
}

func TestExtractSuccess(t *testing.T) {
	gen := &fakeGen{responses: []any{
		`{"summary": "A guide to Kubernetes deployments.", "keywords": ["kubernetes", "deployment"]}`,
	}}

	result := newTestExtractor(gen).Extract(context.Background(), docText())

	assert.Equal(t, "A guide to Kubernetes deployments.", result.Summary)
	assert.Equal(t, []string{"kubernetes", "deployment"}, result.Keywords)
	assert.Equal(t, 1, gen.calls)
}

func TestExtractSkipsShortText(t *testing.T) {
	gen := &fakeGen{}

	result := newTestExtractor(gen).Extract(context.Background(), "too short")

	assert.Empty(t, result.Summary)
	assert.Empty(t, result.Keywords)
	assert.Zero(t, gen.calls)
}

func TestExtractTruncatesLongText(t *testing.T) {
	gen := &fakeGen{responses: []any{
		`{"summary": "ok", "keywords": ["a"]}`,
	}}

	long := strings.Repeat("x", 100000)
	newTestExtractor(gen).Extract(context.Background(), long)

	require.Len(t, gen.prompts, 1)
	assert.Less(t, len(gen.prompts[0]), 30000)
}

// Invalid JSON shares the retry loop with transient API errors.
func TestExtractRetriesOnInvalidJSON(t *testing.T) {
	gen := &fakeGen{responses: []any{
		`this is not json`,
		`{"wrong_field": true}`,
		`{"summary": "Recovered on third try.", "keywords": ["retry"]}`,
	}}

	result := newTestExtractor(gen).Extract(context.Background(), docText())

	assert.Equal(t, "Recovered on third try.", result.Summary)
	assert.Equal(t, 3, gen.calls)
}

func TestExtractRetriesOnTransientError(t *testing.T) {
	gen := &fakeGen{responses: []any{
		&genai.APIError{StatusCode: http.StatusTooManyRequests, Message: "rate limited"},
		&genai.APIError{StatusCode: http.StatusServiceUnavailable, Message: "unavailable"},
		`{"summary": "Recovered.", "keywords": ["ok"]}`,
	}}

	result := newTestExtractor(gen).Extract(context.Background(), docText())

	assert.Equal(t, "Recovered.", result.Summary)
	assert.Equal(t, 3, gen.calls)
}

// Exhausted retries degrade gracefully: ingestion proceeds without a
// summary, never with an error.
func TestExtractExhaustionIsSoft(t *testing.T) {
	gen := &fakeGen{responses: []any{
		`bad`, `bad`, `bad`, `bad`, `bad`,
	}}

	result := newTestExtractor(gen).Extract(context.Background(), docText())

	assert.Empty(t, result.Summary)
	assert.Empty(t, result.Keywords)
	assert.Equal(t, 5, gen.calls)
}

func TestExtractNonRetriableErrorFailsFast(t *testing.T) {
	gen := &fakeGen{responses: []any{
		&genai.APIError{StatusCode: http.StatusForbidden, Message: "permission denied"},
	}}

	result := newTestExtractor(gen).Extract(context.Background(), docText())

	assert.Empty(t, result.Summary)
	assert.Equal(t, 1, gen.calls)
}

func TestParseExtractionFiltersKeywords(t *testing.T) {
	extraction, err := parseExtraction(`{"summary": "s", "keywords": ["a", 7, "", "b"]}`)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, extraction.Keywords)
}

func TestParseExtractionTrimsKeywordOverflow(t *testing.T) {
	var words []string
	for i := 0; i < 30; i++ {
		words = append(words, `"k`+strings.Repeat("w", i+1)+`"`)
	}
	raw := `{"summary": "s", "keywords": [` + strings.Join(words, ",") + `]}`

	extraction, err := parseExtraction(raw)

	require.NoError(t, err)
	assert.Len(t, extraction.Keywords, 20)
}
