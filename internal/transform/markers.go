package transform

import (
	"regexp"
	"strings"

	"github.com/dgallion1/docforge/internal/doctree"
)

var validMarkerKinds = map[string]bool{
	"diagram":      true,
	"chart":        true,
	"table":        true,
	"image":        true,
	"mermaid":      true,
	"architecture": true,
	"flowchart":    true,
	"comparison":   true,
	"concept_map":  true,
	"mind_map":     true,
}

var validPlacements = map[string]bool{
	"before": true,
	"after":  true,
	"inline": true,
}

var injectionPattern = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`act\s+as\s+|pretend\s+|forget\s+(everything|all)|override|` +
		`new\s+instructions)`,
)

const maxCaptionLen = 300

// cleanMarkers normalizes model-supplied markers and drops the ones that
// cannot be rendered: unknown kinds, empty or oversized captions, and
// captions that read like instructions to a model.
func cleanMarkers(in []doctree.VisualMarker) []doctree.VisualMarker {
	out := make([]doctree.VisualMarker, 0, len(in))
	for _, m := range in {
		m.Kind = strings.ToLower(strings.TrimSpace(m.Kind))
		m.Kind = strings.ReplaceAll(m.Kind, "-", "_")
		m.Caption = strings.TrimSpace(m.Caption)
		m.Placement = strings.ToLower(strings.TrimSpace(m.Placement))

		if !validMarkerKinds[m.Kind] {
			continue
		}
		if len(m.Caption) < 3 || len(m.Caption) > maxCaptionLen {
			continue
		}
		if injectionPattern.MatchString(m.Caption) {
			continue
		}
		if !validPlacements[m.Placement] {
			m.Placement = "after"
		}
		out = append(out, m)
	}
	return out
}
