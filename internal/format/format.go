// Package format classifies input locations and names the supported output kinds.
package format

import (
	"fmt"
	"path/filepath"
	"strings"
)

// InputKind is the detected kind of an input location.
type InputKind string

const (
	Markdown InputKind = "markdown"
	Pdf      InputKind = "pdf"
	Docx     InputKind = "docx"
	Text     InputKind = "text"
	URL      InputKind = "url"
	Unknown  InputKind = "unknown"
)

// OutputKind is the rendered artifact kind requested for a run.
type OutputKind string

const (
	OutputPdf    OutputKind = "pdf"
	OutputSlides OutputKind = "slides"
)

var extensionKinds = map[string]InputKind{
	".md":       Markdown,
	".markdown": Markdown,
	".pdf":      Pdf,
	".docx":     Docx,
	".txt":      Text,
}

// Detect classifies a path or URL. It never fails: anything it cannot
// place is Unknown.
func Detect(location string) InputKind {
	loc := strings.TrimSpace(location)
	lower := strings.ToLower(loc)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return URL
	}
	if kind, ok := extensionKinds[strings.ToLower(filepath.Ext(loc))]; ok {
		return kind
	}
	return Unknown
}

// IsSupported reports whether a filename has a recognized extension.
func IsSupported(filename string) bool {
	k := Detect(filename)
	return k != Unknown && k != URL
}

// ParseOutputKind maps a user-supplied string to an OutputKind.
func ParseOutputKind(s string) (OutputKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pdf":
		return OutputPdf, nil
	case "slides", "pptx", "deck":
		return OutputSlides, nil
	}
	return "", fmt.Errorf("unsupported output kind: %q", s)
}

// Extension returns the file extension an artifact of this kind must carry.
func (k OutputKind) Extension() string {
	switch k {
	case OutputSlides:
		return ".html"
	default:
		return ".pdf"
	}
}
