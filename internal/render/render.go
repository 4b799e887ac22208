// Package render turns a merged document into a PDF or an HTML slide deck.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/dgallion1/docforge/internal/doctree"
	"github.com/dgallion1/docforge/internal/format"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	ErrEmptyDocument  = errors.New("document has no body")
	ErrHTMLConversion = errors.New("HTML conversion failed")
	ErrUnknownKind    = errors.New("unknown output kind")
)

const codeStyle = "github"

// Generator writes rendered artifacts into a single output directory.
type Generator struct {
	outputDir string
	md        goldmark.Markdown
	css       string
	pdf       PDFRenderer
	logger    *slog.Logger
}

// New creates a Generator. pdf may be nil when only slides are produced.
func New(outputDir string, pdf PDFRenderer, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			highlighting.NewHighlighting(
				highlighting.WithStyle(codeStyle),
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(true),
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithXHTML(),
		),
	)
	return &Generator{
		outputDir: outputDir,
		md:        md,
		css:       baseCSS + codeCSS(),
		pdf:       pdf,
		logger:    logger,
	}
}

// codeCSS returns the stylesheet for chroma's highlighting classes.
func codeCSS() string {
	var buf bytes.Buffer
	if err := chromahtml.New(chromahtml.WithClasses(true)).WriteCSS(&buf, styles.Get(codeStyle)); err != nil {
		return ""
	}
	return buf.String()
}

// Generate renders doc as kind and returns the path of the written file.
// The file is written under a temporary name and renamed into place, so a
// failed attempt never leaves a partial artifact at the returned path.
func (g *Generator) Generate(ctx context.Context, runID string, doc doctree.MergedDocument, kind format.OutputKind) (string, error) {
	if strings.TrimSpace(doc.Body) == "" {
		return "", ErrEmptyDocument
	}
	if kind != format.OutputPdf && kind != format.OutputSlides {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	fragment, err := g.toHTML(ctx, Markdown(doc))
	if err != nil {
		return "", err
	}

	var data []byte
	switch kind {
	case format.OutputSlides:
		deck, err := buildDeck(doc.Title, fragment, g.css)
		if err != nil {
			return "", err
		}
		data = []byte(deck)
	case format.OutputPdf:
		data, err = g.renderPDF(ctx, htmlPage(doc.Title, fragment, g.css))
		if err != nil {
			return "", err
		}
	}

	path := filepath.Join(g.outputDir, FileName(doc.Title, runID, kind))
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	g.logger.InfoContext(ctx, "output written", "path", path, "kind", string(kind), "bytes", len(data))
	return path, nil
}

func (g *Generator) renderPDF(ctx context.Context, page string) ([]byte, error) {
	if g.pdf == nil {
		return nil, fmt.Errorf("%w: no renderer configured", ErrPDFGeneration)
	}

	tmp, err := os.CreateTemp("", "docforge-page-*.html")
	if err != nil {
		return nil, fmt.Errorf("create temp page: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(page); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp page: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp page: %w", err)
	}

	data, err := g.pdf.RenderFromFile(ctx, tmp.Name())
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: renderer returned no bytes", ErrPDFGeneration)
	}
	return data, nil
}

// toHTML converts markdown to an HTML fragment. goldmark has no context
// support, so the conversion runs in a goroutine raced against ctx.
func (g *Generator) toHTML(ctx context.Context, src string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	type result struct {
		html string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		var buf bytes.Buffer
		if err := g.md.Convert([]byte(src), &buf); err != nil {
			done <- result{err: fmt.Errorf("%w: %v", ErrHTMLConversion, err)}
			return
		}
		done <- result{html: buf.String()}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.html, r.err
	}
}

// Markdown assembles the full document source: title, contents, body and
// a figure list for any visual markers.
func Markdown(doc doctree.MergedDocument) string {
	var sb strings.Builder
	sb.WriteString("# " + doc.Title + "\n\n")

	if len(doc.TableOfContents) > 0 {
		sb.WriteString("## Contents\n\n")
		for _, entry := range doc.TableOfContents {
			sb.WriteString("- " + escapeListNumber(entry) + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString(strings.TrimSpace(doc.Body))
	sb.WriteString("\n")

	if len(doc.VisualMarkers) > 0 {
		sb.WriteString("\n## Figures\n\n")
		for i, m := range doc.VisualMarkers {
			fmt.Fprintf(&sb, "- **Figure %d** (%s): %s\n", i+1, m.Kind, m.Caption)
		}
	}
	return sb.String()
}

// escapeListNumber keeps "1. Intro" inside a bullet from opening a nested
// ordered list.
func escapeListNumber(entry string) string {
	i := 0
	for i < len(entry) && entry[i] >= '0' && entry[i] <= '9' {
		i++
	}
	if i > 0 && i < len(entry) && (entry[i] == '.' || entry[i] == ')') {
		return entry[:i] + `\` + entry[i:]
	}
	return entry
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".partial"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize output: %w", err)
	}
	return nil
}
