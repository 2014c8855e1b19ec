// Package extract converts uploaded bytes of a declared format into
// normalized UTF-8 text for chunking and indexing.
package extract

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrEmptyExtraction   = errors.New("extraction produced no text")
)

// passthroughExts decode as UTF-8 with no transformation. Code and log
// formats tokenize fine as-is.
var passthroughExts = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true,
	".log": true, ".csv": true, ".toml": true, ".ini": true,
	".yaml": true, ".yml": true,
	".py": true, ".js": true, ".java": true, ".go": true, ".css": true,
}

// SupportedExtensions returns the extraction allow-list.
func SupportedExtensions() []string {
	exts := []string{".pdf", ".html", ".htm", ".json", ".xml"}
	for ext := range passthroughExts {
		exts = append(exts, ext)
	}
	return exts
}

// Supported reports whether the extension is on the allow-list.
func Supported(ext string) bool {
	switch ext {
	case ".pdf", ".html", ".htm", ".json", ".xml":
		return true
	}
	return passthroughExts[ext]
}

// Extract converts content of the declared extension into text. JSON and
// XML are re-serialized as YAML, which tokenizes with far less punctuation
// noise. HTML is converted to Markdown. PDF extraction is text-only; a
// scanned PDF yields ErrEmptyExtraction.
func Extract(content []byte, ext string) (string, error) {
	ext = strings.ToLower(ext)

	var (
		text string
		err  error
	)
	switch {
	case ext == ".pdf":
		text, err = extractPDF(content)
	case ext == ".html" || ext == ".htm":
		text, err = extractHTML(content)
	case ext == ".json":
		text, err = jsonToYAML(content)
	case ext == ".xml":
		text, err = xmlToYAML(content)
	case passthroughExts[ext]:
		text, err = decodeText(content)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyExtraction
	}

	return text, nil
}

func decodeText(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return "", fmt.Errorf("%w: content is not valid UTF-8", ErrExtractionFailed)
	}

	return string(content), nil
}
