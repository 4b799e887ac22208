package parser

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/dgallion1/docforge/internal/doctree"
	pdflib "github.com/ledongthuc/pdf"
)

// PDFParser handles PDF files. It tries the Go library first,
// then falls back to pdftotext if enabled.
type PDFParser struct {
	FallbackPdftotext bool
}

func (p *PDFParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	// pdftotext needs a path, so the document always lands on disk.
	tmp, err := os.CreateTemp("", "docforge-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	tree := &doctree.DocTree{
		Title: stem(filename),
		Meta:  map[string]string{"extractor": "ledongthuc/pdf"},
	}

	pages, title, err := extractPDFPages(tmpPath)
	if err != nil && p.FallbackPdftotext {
		var text string
		if text, err = extractPdftotext(tmpPath); err == nil {
			pages = strings.Split(text, "\f")
			tree.Meta["extractor"] = "pdftotext"
		}
	}
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	if title != "" {
		tree.Title = title
		tree.Meta["title"] = title
	}
	tree.Meta["pages"] = strconv.Itoa(len(pages))

	// Pages become untitled nodes; page labels would read as section headings.
	for i, page := range pages {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		tree.Children = append(tree.Children, &doctree.DocNode{
			Text: page,
			Page: i + 1,
		})
	}

	return tree, nil
}

// extractPDFPages returns the plain text of each page and the Info title.
func extractPDFPages(path string) ([]string, string, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	title := strings.TrimSpace(reader.Trailer().Key("Info").Key("Title").Text())

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, title, nil
}

func extractPdftotext(path string) (string, error) {
	cmd := exec.Command("pdftotext", "-layout", path, "-")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	return string(out), nil
}
