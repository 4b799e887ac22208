package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/dgallion1/docforge/internal/doctree"
	"github.com/dgallion1/docforge/internal/format"
)

var (
	ErrUnsupported = errors.New("unsupported input kind")
	ErrTooLarge    = errors.New("input exceeds size limit")
	ErrFetch       = errors.New("fetch failed")
)

const defaultMaxBytes = 50 << 20

// Loader resolves an input location into raw markdown content plus metadata.
type Loader struct {
	HTTPClient *http.Client
	MaxBytes   int64
	Options    Options
	Logger     *slog.Logger
}

// NewLoader creates a Loader with a bounded HTTP client.
func NewLoader(maxBytes int64, opts Options, logger *slog.Logger) *Loader {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		MaxBytes:   maxBytes,
		Options:    opts,
		Logger:     logger,
	}
}

// Load reads location as kind. Metadata always carries title, source and parser.
func (l *Loader) Load(ctx context.Context, location string, kind format.InputKind) (string, map[string]string, error) {
	var (
		tree   *doctree.DocTree
		parsed format.InputKind
		err    error
	)
	if kind == format.URL {
		tree, parsed, err = l.fetch(ctx, location)
	} else {
		tree, err = l.open(location, kind)
		parsed = kind
	}
	if err != nil {
		return "", nil, err
	}

	meta := make(map[string]string, len(tree.Meta)+3)
	for k, v := range tree.Meta {
		meta[k] = v
	}
	if meta["title"] == "" {
		meta["title"] = tree.Title
	}
	meta["source"] = location
	meta["parser"] = string(parsed)

	raw := doctree.Markdown(tree)
	l.Logger.InfoContext(ctx, "input parsed",
		"source", location, "parser", parsed, "chars", len(raw), "title", meta["title"])
	return raw, meta, nil
}

func (l *Loader) open(location string, kind format.InputKind) (*doctree.DocTree, error) {
	p, err := ForKind(kind, l.Options)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", location)
	}
	if info.Size() > l.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, info.Size(), l.MaxBytes)
	}

	return p.Parse(f, info.Name())
}

// fetch downloads a URL and parses it by response content type, defaulting to HTML.
func (l *Loader) fetch(ctx context.Context, location string) (*doctree.DocTree, format.InputKind, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", "docforge/1.0")

	resp, err := l.HTTPClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("%w: %s returned %d", ErrFetch, location, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.MaxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}
	if int64(len(body)) > l.MaxBytes {
		return nil, "", fmt.Errorf("%w: response from %s", ErrTooLarge, location)
	}

	kind := contentKind(resp.Header.Get("Content-Type"), location)
	p, err := ForKind(kind, l.Options)
	if err != nil {
		return nil, "", err
	}

	tree, err := p.Parse(bytes.NewReader(body), urlFilename(location))
	if err != nil {
		return nil, "", err
	}
	return tree, kind, nil
}

// contentKind picks a parser kind for a fetched document.
func contentKind(contentType, location string) format.InputKind {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "application/pdf":
		return format.Pdf
	case "text/markdown", "text/x-markdown":
		return format.Markdown
	case "text/plain":
		if k := format.Detect(urlFilename(location)); k == format.Markdown {
			return k
		}
		return format.Text
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return format.Docx
	}
	return format.URL
}

func urlFilename(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.Path == "" || u.Path == "/" {
		if err == nil && u.Host != "" {
			return u.Host
		}
		return "document"
	}
	return path.Base(u.Path)
}
