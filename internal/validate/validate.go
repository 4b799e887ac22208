// Package validate checks that a generated artifact exists and is well formed.
package validate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docforge/internal/format"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	ErrMissing   = errors.New("output file missing")
	ErrEmpty     = errors.New("output file is empty")
	ErrExtension = errors.New("output extension does not match kind")
	ErrCorrupt   = errors.New("output file is corrupt")
)

const slideClass = "slide"

var pdfMagic = []byte("%PDF-")

func init() {
	api.DisableConfigDir()
}

// Validator runs deterministic checks on rendered files.
type Validator struct {
	logger *slog.Logger

	// checkPDF verifies PDF structure; replaced in tests.
	checkPDF func(rs io.ReadSeeker) (pages int, err error)
}

func New(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger, checkPDF: pdfcpuCheck}
}

// Validate reports the first problem found with the file at path, or nil.
func (v *Validator) Validate(path string, kind format.OutputKind) error {
	if path == "" {
		return fmt.Errorf("%w: no path", ErrMissing)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return fmt.Errorf("stat output: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrMissing, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrEmpty, path)
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext != kind.Extension() {
		return fmt.Errorf("%w: %q for %s", ErrExtension, ext, kind)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read output: %w", err)
	}

	switch kind {
	case format.OutputSlides:
		return checkDeck(data)
	default:
		if !bytes.HasPrefix(data, pdfMagic) {
			return fmt.Errorf("%w: missing PDF header", ErrCorrupt)
		}
		pages, err := v.checkPDF(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if pages < 1 {
			return fmt.Errorf("%w: no pages", ErrCorrupt)
		}
		v.logger.Debug("pdf validated", "path", path, "pages", pages, "bytes", len(data))
		return nil
	}
}

func pdfcpuCheck(rs io.ReadSeeker) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.Validate(rs, conf); err != nil {
		return 0, err
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return api.PageCount(rs, conf)
}

// checkDeck requires at least one non-empty slide section.
func checkDeck(data []byte) error {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if countSlides(doc) == 0 {
		return fmt.Errorf("%w: deck has no slides", ErrCorrupt)
	}
	return nil
}

func countSlides(n *html.Node) int {
	count := 0
	if n.Type == html.ElementNode && n.DataAtom == atom.Section && hasClass(n, slideClass) && n.FirstChild != nil {
		count++
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		count += countSlides(c)
	}
	return count
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, f := range strings.Fields(a.Val) {
				if f == class {
					return true
				}
			}
		}
	}
	return false
}
