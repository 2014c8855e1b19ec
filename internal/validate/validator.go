// Package validate gates uploads before any expensive processing happens.
// Bad input rejected once is cheaper than bad embeddings served forever.
//
// Three tiers, evaluated in order:
//  1. extension allow-list
//  2. magic bytes match the declared extension
//  3. extraction succeeds and yields non-empty text (run by the ingestion
//     pipeline via extract.Extract)
//
// Policy is per format: binary formats are strict (all tiers), structured
// formats must parse, plain text only has to be UTF-8.
package validate

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/emrgen/docsearch/internal/extract"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrSignatureMismatch = errors.New("file signature does not match extension")
	ErrFileTooLarge      = errors.New("file too large")
)

// MaxFileSize bounds uploads at 100MB.
const MaxFileSize = 100 * 1024 * 1024

// signatures are the magic bytes expected for binary formats. Text formats
// carry no signature and skip tier 2.
var signatures = map[string][][]byte{
	".pdf": {[]byte("%PDF")},
}

// Result describes an admitted file.
type Result struct {
	// Ext is the normalized lowercase extension including the dot.
	Ext string
	// ContentType is the MIME type recorded on the document row.
	ContentType string
}

// Validate runs tiers 1 and 2. Tier 3 (extraction) runs in the ingestion
// pipeline, which maps an empty result to its own error.
func Validate(filename string, content []byte) (*Result, error) {
	if len(content) > MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, len(content), MaxFileSize)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return nil, fmt.Errorf("%w: %q has no extension (supported: %s)",
			ErrUnsupportedFormat, filename, supportedList())
	}
	if !extract.Supported(ext) {
		return nil, fmt.Errorf("%w: %q (supported: %s)",
			ErrUnsupportedFormat, ext, supportedList())
	}

	if sigs, ok := signatures[ext]; ok {
		matched := false
		for _, sig := range sigs {
			if bytes.HasPrefix(content, sig) {
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("%w: %q does not start with the %s signature",
				ErrSignatureMismatch, filename, ext)
		}
	}

	return &Result{Ext: ext, ContentType: contentType(ext)}, nil
}

func contentType(ext string) string {
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	case ".xml":
		return "application/xml"
	case ".html", ".htm":
		return "text/html"
	default:
		return "text/plain"
	}
}

func supportedList() string {
	exts := extract.SupportedExtensions()
	sort.Strings(exts)
	return strings.Join(exts, ", ")
}
