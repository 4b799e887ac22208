package parser

import (
	"strings"
	"testing"
)

const guideHTML = `<html><head><title>Field Guide</title><meta name="description" content="How to start"></head>
<body>
<nav>Menu</nav>
<h1>Start</h1>
<p>Hello <b>there</b>.</p>
<ul><li>one</li><li>two</li></ul>
<h2>Code</h2>
<pre>x := 1</pre>
<script>track()</script>
</body></html>`

func TestHTMLParser(t *testing.T) {
	tree, err := (&HTMLParser{}).Parse(strings.NewReader(guideHTML), "page.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.Title != "Field Guide" || tree.Meta["title"] != "Field Guide" {
		t.Errorf("expected <title> to name the document, got %q / %v", tree.Title, tree.Meta)
	}
	if tree.Meta["description"] != "How to start" {
		t.Errorf("expected description meta, got %v", tree.Meta)
	}

	if len(tree.Children) != 1 {
		t.Fatalf("expected only the Start section (nav skipped), got %+v", tree.Children)
	}
	start := tree.Children[0]
	if start.Title != "Start" || !strings.HasPrefix(start.Text, "Hello there.") {
		t.Errorf("unexpected Start section %+v", start)
	}
	if !strings.Contains(start.Text, "- one\n- two") {
		t.Errorf("expected list items, got %q", start.Text)
	}
	if strings.Contains(start.Text, "Menu") || strings.Contains(start.Text, "track()") {
		t.Errorf("navigation and scripts must be dropped, got %q", start.Text)
	}

	if len(start.Children) != 1 || start.Children[0].Text != "```\nx := 1\n```" {
		t.Errorf("expected fenced code under Code, got %+v", start.Children)
	}
}

func TestHTMLParser_TitleFallsBackToStem(t *testing.T) {
	tree, err := (&HTMLParser{}).Parse(strings.NewReader("<p>bare</p>"), "notes.htm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.Title != "notes" {
		t.Errorf("expected stem title, got %q", tree.Title)
	}
	if len(tree.Children) != 1 || tree.Children[0].Text != "bare" {
		t.Errorf("unexpected tree %+v", tree.Children)
	}
}
