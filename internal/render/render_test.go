package render

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgallion1/docforge/internal/doctree"
	"github.com/dgallion1/docforge/internal/format"
)

type fakePDF struct {
	data    []byte
	err     error
	gotPage string
	calls   int
}

func (f *fakePDF) RenderFromFile(ctx context.Context, path string) ([]byte, error) {
	f.calls++
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f.gotPage = string(b)
	return f.data, f.err
}

func (f *fakePDF) Close() error { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleDoc() doctree.MergedDocument {
	return doctree.MergedDocument{
		Title:           "Release Guide",
		TableOfContents: []string{"1. Intro", "2. Usage"},
		Body:            "## 1. Intro\n\nHello there.\n\n## 2. Usage\n\nRun it:\n\n```go\nfmt.Println(\"hi\")\n```",
		VisualMarkers:   []doctree.VisualMarker{{Kind: "diagram", Caption: "Release flow", Placement: "after"}},
	}
}

func TestGenerate_Slides(t *testing.T) {
	dir := t.TempDir()
	g := New(dir, nil, quietLogger())

	path, err := g.Generate(context.Background(), "0192f3a1-aaaa-7bbb", sampleDoc(), format.OutputSlides)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := filepath.Join(dir, "release-guide-0192f3a1.html"); path != want {
		t.Errorf("expected path %s, got %s", want, path)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	deck := string(b)
	// Title, Contents, two sections and Figures.
	if n := strings.Count(deck, `<section class="slide"`); n != 5 {
		t.Errorf("expected 5 slides, got %d", n)
	}
	for _, want := range []string{"<title>Release Guide</title>", "<li>1. Intro</li>", `class="chroma"`, "Release flow"} {
		if !strings.Contains(deck, want) {
			t.Errorf("expected deck to contain %q", want)
		}
	}
	if _, err := os.Stat(path + ".partial"); !os.IsNotExist(err) {
		t.Error("partial file should not remain")
	}
}

func TestGenerate_PDF(t *testing.T) {
	dir := t.TempDir()
	fake := &fakePDF{data: []byte("%PDF-1.7 fake")}
	g := New(dir, fake, quietLogger())

	path, err := g.Generate(context.Background(), "run1", sampleDoc(), format.OutputPdf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Ext(path) != ".pdf" || filepath.Base(path) != "release-guide-run1.pdf" {
		t.Errorf("unexpected path %s", path)
	}
	b, _ := os.ReadFile(path)
	if string(b) != "%PDF-1.7 fake" {
		t.Errorf("expected renderer bytes to be written, got %q", b)
	}
	if !strings.Contains(fake.gotPage, "<h1") || !strings.Contains(fake.gotPage, ".chroma") {
		t.Error("expected a styled HTML page to be handed to the renderer")
	}
}

func TestGenerate_RendererFailure(t *testing.T) {
	dir := t.TempDir()
	g := New(dir, &fakePDF{err: ErrPageLoad}, quietLogger())

	_, err := g.Generate(context.Background(), "run1", sampleDoc(), format.OutputPdf)
	if !errors.Is(err, ErrPageLoad) {
		t.Fatalf("expected ErrPageLoad, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected no files after failure, got %d", len(entries))
	}
}

func TestGenerate_Errors(t *testing.T) {
	g := New(t.TempDir(), nil, quietLogger())
	ctx := context.Background()

	if _, err := g.Generate(ctx, "r", doctree.MergedDocument{Title: "T", Body: "  "}, format.OutputSlides); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("expected ErrEmptyDocument, got %v", err)
	}
	if _, err := g.Generate(ctx, "r", sampleDoc(), format.OutputKind("pptx")); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := g.Generate(ctx, "r", sampleDoc(), format.OutputPdf); !errors.Is(err, ErrPDFGeneration) {
		t.Errorf("expected ErrPDFGeneration without a renderer, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := g.Generate(cancelled, "r", sampleDoc(), format.OutputSlides); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMarkdown(t *testing.T) {
	md := Markdown(sampleDoc())
	for _, want := range []string{
		"# Release Guide\n",
		"## Contents\n\n- 1\\. Intro\n- 2\\. Usage\n",
		"## 1. Intro",
		"## Figures\n\n- **Figure 1** (diagram): Release flow\n",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("expected markdown to contain %q", want)
		}
	}

	bare := Markdown(doctree.MergedDocument{Title: "T", Body: "text"})
	if strings.Contains(bare, "Contents") || strings.Contains(bare, "Figures") {
		t.Errorf("expected no contents or figures, got %q", bare)
	}
}

func TestSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Release Guide", "release-guide"},
		{"  C# & Go: A Tour!  ", "c-go-a-tour"},
		{"Café Ünïcode", "cafe-unicode"},
		{"日本語", "document"},
		{"", "document"},
		{strings.Repeat("ab ", 40), strings.TrimRight(strings.Repeat("ab-", 20), "-")},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestFileName(t *testing.T) {
	if got := FileName("My Doc", "abcdef0123", format.OutputPdf); got != "my-doc-abcdef01.pdf" {
		t.Errorf("unexpected %q", got)
	}
	if got := FileName("My Doc", "", format.OutputSlides); got != "my-doc.html" {
		t.Errorf("unexpected %q", got)
	}
}
