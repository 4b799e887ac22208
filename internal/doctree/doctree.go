package doctree

import (
	"strings"
)

// DocTree is the root of a parsed document.
type DocTree struct {
	Title    string            // Document title (from metadata or filename)
	Meta     map[string]string // Parser-level metadata (front matter, <title>, ...)
	Source   string            // Verbatim markdown body when the input already is markdown
	Children []*DocNode        // Top-level sections
}

// DocNode is a recursive section in the document tree.
type DocNode struct {
	Title    string     // Section heading (empty for leaf text)
	Text     string     // Text content of this node (may be empty for container nodes)
	Page     int        // Source page/line (0 if N/A)
	Children []*DocNode // Subsections
}

// Chunk is a bounded, ordered slice of raw content handed to the transformer.
type Chunk struct {
	Index         int    // 0-based position, defines merge order
	Text          string // Chunk text content
	ContextHeader string // Last heading/topic label seen before this chunk; empty for the first
}

// Position locates a chunk within its run and carries the run-wide hints a
// transformer needs to keep sections consistent.
type Position struct {
	Index       int
	Total       int
	Topic       string // Run topic, usually the source title
	ContentType string // "document", "transcript" or "slides"
}

// VisualMarker is a lightweight descriptor for a figure the renderer may place.
type VisualMarker struct {
	Kind      string `json:"kind"`
	Caption   string `json:"caption"`
	Placement string `json:"placement"`
}

// Section is the transformed output for exactly one chunk.
type Section struct {
	ChunkIndex    int            `json:"chunk_index"`
	Body          string         `json:"body"`
	VisualMarkers []VisualMarker `json:"visual_markers"`
}

// MergedDocument is the single coherent document assembled from all sections.
type MergedDocument struct {
	Title           string         `json:"title"`
	TableOfContents []string       `json:"table_of_contents"`
	Body            string         `json:"body"`
	VisualMarkers   []VisualMarker `json:"visual_markers"`
}

// Markdown returns the tree's markdown form. A verbatim Source wins; otherwise
// the tree is flattened and node titles become ATX headings
// whose level follows the nesting depth, so structure survives as boundary lines.
func Markdown(tree *DocTree) string {
	if tree == nil {
		return ""
	}
	if tree.Source != "" {
		return tree.Source
	}
	var sb strings.Builder
	var walk func(nodes []*DocNode, depth int)
	walk = func(nodes []*DocNode, depth int) {
		for _, n := range nodes {
			if n.Title != "" {
				writeBlock(&sb, strings.Repeat("#", min(depth, 6))+" "+n.Title)
			}
			if strings.TrimSpace(n.Text) != "" {
				writeBlock(&sb, n.Text)
			}
			walk(n.Children, depth+1)
		}
	}
	walk(tree.Children, 1)
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeBlock(sb *strings.Builder, s string) {
	if sb.Len() > 0 {
		sb.WriteString("\n\n")
	}
	sb.WriteString(s)
}
