package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docforge/internal/doctree"
	"github.com/dgallion1/docforge/internal/format"
)

// Parser converts raw document bytes into a DocTree.
type Parser interface {
	Parse(r io.Reader, filename string) (*doctree.DocTree, error)
}

// Options tunes parser construction.
type Options struct {
	FallbackPdftotext bool
}

// ForKind returns the parser for an input kind. URLs resolve to the HTML
// parser; the Loader refines that by response content type.
func ForKind(kind format.InputKind, opts Options) (Parser, error) {
	switch kind {
	case format.Text:
		return &TextParser{}, nil
	case format.Markdown:
		return &MarkdownParser{}, nil
	case format.Pdf:
		return &PDFParser{FallbackPdftotext: opts.FallbackPdftotext}, nil
	case format.Docx:
		return &DOCXParser{}, nil
	case format.URL:
		return &HTMLParser{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, kind)
	}
}

// stem returns the base filename without its extension.
func stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
