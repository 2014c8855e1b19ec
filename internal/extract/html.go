package extract

import (
	"fmt"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
)

// extractHTML converts a document to Markdown, dropping scripts and styles
// while keeping headings, lists and tables.
func extractHTML(content []byte) (string, error) {
	text, err := decodeText(content)
	if err != nil {
		return "", err
	}

	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.Table())

	markdown, err := converter.ConvertString(text)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	return markdown, nil
}
