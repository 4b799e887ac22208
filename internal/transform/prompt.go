package transform

import (
	"fmt"
	"strings"

	"github.com/dgallion1/docforge/internal/doctree"
)

const sectionSystemPrompt = `You rewrite one part of a larger source into a polished section of a long-form document. You see one part at a time; other parts are rewritten separately and joined in order afterwards.

Return a JSON object with exactly these fields:

- "body": the rewritten section as GitHub-flavored markdown (string)
- "visual_markers": figures that would help a reader, in reading order (array). Each item has:
  - "kind": one of "diagram", "chart", "table", "image", "mermaid", "architecture", "flowchart", "comparison", "concept_map", "mind_map"
  - "caption": one sentence describing the figure (max 200 chars)
  - "placement": "before", "after" or "inline" relative to the paragraph it belongs to

Rules:
- Keep every fact, number, name and code sample from the source part. Do not invent content.
- Start the body with one "##" heading naming the part's main topic, unless the part clearly continues the topic given as "Continues"; then start directly with the text.
- Use "###" and deeper for subsections. Never use "#".
- Do not number headings; numbering is applied later.
- Do not add a table of contents, a title, an introduction to the whole document, or a conclusion unless this is the last part.
- Return an empty array for "visual_markers" if no figure is useful.

Respond with ONLY the JSON object, no other text.`

var contentGuidance = map[string]string{
	"transcript": "The source is a spoken transcript. Remove filler words, timestamps and speaker chatter; turn the discussion into clear explanatory prose.",
	"slides":     "The source is extracted slide text. Expand terse bullet points into connected paragraphs while keeping any lists that are genuinely enumerations.",
	"document":   "The source is a written document. Improve structure and flow; keep the author's terminology.",
}

// buildSectionPrompt creates the user prompt for one chunk, including the
// run topic, the chunk's position and the heading it continues.
func buildSectionPrompt(chunk doctree.Chunk, pos doctree.Position) string {
	var sb strings.Builder
	if g, ok := contentGuidance[pos.ContentType]; ok {
		sb.WriteString(g)
	} else {
		sb.WriteString(contentGuidance["document"])
	}
	sb.WriteString("\n\n---\n")
	if pos.Topic != "" {
		fmt.Fprintf(&sb, "Topic: %q\n", pos.Topic)
	}
	fmt.Fprintf(&sb, "Part: %d of %d\n", pos.Index+1, pos.Total)
	if chunk.ContextHeader != "" {
		fmt.Fprintf(&sb, "Continues: %q\n", chunk.ContextHeader)
	}
	if pos.Index == pos.Total-1 && pos.Total > 1 {
		sb.WriteString("This is the last part.\n")
	}
	sb.WriteString("---\n")
	sb.WriteString(chunk.Text)
	return sb.String()
}

const titleSystemPrompt = `You name documents. Given the opening of a document, reply with a concise, specific title of at most 12 words. Reply with the title only: no quotes, no markdown, no trailing punctuation.`

func buildTitlePrompt(preview string) string {
	return "Document opening:\n---\n" + preview + "\n---\nTitle:"
}
