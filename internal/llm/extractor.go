// Package llm extracts a short summary and salient keywords from a
// document's full text. Extraction is best-effort: when the model stays
// unusable through all retries, ingestion continues with an empty result
// and hybrid search simply runs without the keyword boost.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/emrgen/docsearch/internal/genai"
	"github.com/sirupsen/logrus"
)

const (
	maxAttempts  = 5
	initialDelay = time.Second

	// minTextLength skips the call entirely for trivially short documents.
	minTextLength = 100
	// maxTextLength truncates the input; a prefix is enough for a 2-3
	// sentence summary and keeps the call cheap.
	maxTextLength = 25000

	maxKeywords     = 20
	maxOutputTokens = 512
)

const prompt = `Analyze this document and provide:

1. **Summary**: 2-3 concise sentences capturing the main topics and purpose
2. **Keywords**: 10-15 key technical terms, concepts, or topics (single words or short phrases)

Document text:
%s

Output format (valid JSON):
{
  "summary": "your 2-3 sentence summary here",
  "keywords": ["keyword1", "keyword2", "keyword3", ...]
}

Requirements:
- Summary must be 2-3 sentences maximum
- Keywords should be lowercase, single words or short phrases
- Keywords should be the most important technical terms, concepts, or topics
- Return valid JSON only, no additional text`

// Client is the JSON-mode generation call the extractor depends on.
type Client interface {
	GenerateJSON(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Extraction is the summary and keyword set for one document. Both fields
// are zero when extraction failed.
type Extraction struct {
	Summary  string
	Keywords []string
}

type Extractor struct {
	client Client
	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExtractor(client Client) *Extractor {
	return &Extractor{client: client, sleep: sleepCtx}
}

// Extract asks the model for a summary and keywords. Transient API errors
// and malformed JSON responses share one retry loop with exponential
// backoff. On exhaustion the empty extraction is returned with no error.
func (e *Extractor) Extract(ctx context.Context, text string) Extraction {
	if len(strings.TrimSpace(text)) < minTextLength {
		logrus.Debug("text too short for summarization, skipping llm call")
		return Extraction{Keywords: []string{}}
	}

	if len(text) > maxTextLength {
		text = text[:maxTextLength]
	}

	delay := initialDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, err := e.client.GenerateJSON(ctx, fmt.Sprintf(prompt, text), maxOutputTokens)
		if err == nil {
			extraction, parseErr := parseExtraction(raw)
			if parseErr == nil {
				logrus.Infof("extracted summary (%d chars) and %d keywords", len(extraction.Summary), len(extraction.Keywords))
				return extraction
			}
			err = parseErr
		} else if !genai.IsTransient(err) {
			logrus.Errorf("llm extraction failed with non-retriable error: %v", err)
			return Extraction{Keywords: []string{}}
		}

		logrus.Warnf("llm extraction attempt %d/%d failed: %v", attempt, maxAttempts, err)
		if attempt == maxAttempts {
			break
		}
		if err := e.sleep(ctx, delay); err != nil {
			return Extraction{Keywords: []string{}}
		}
		delay *= 2
	}

	logrus.Errorf("llm extraction failed after %d attempts", maxAttempts)
	return Extraction{Keywords: []string{}}
}

func parseExtraction(raw string) (Extraction, error) {
	var out struct {
		Summary  string `json:"summary"`
		Keywords []any  `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Extraction{}, fmt.Errorf("response is not valid json: %w", err)
	}
	if out.Summary == "" && len(out.Keywords) == 0 {
		return Extraction{}, fmt.Errorf("response is missing summary and keywords")
	}

	keywords := make([]string, 0, len(out.Keywords))
	for _, k := range out.Keywords {
		if s, ok := k.(string); ok && s != "" {
			keywords = append(keywords, s)
		}
	}
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}

	return Extraction{Summary: out.Summary, Keywords: keywords}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
