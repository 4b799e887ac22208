package render

import (
	"strings"
	"unicode"

	"github.com/dgallion1/docforge/internal/format"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugLen = 60

// FileName builds "<slug>-<run prefix><ext>" for an artifact.
func FileName(title, runID string, kind format.OutputKind) string {
	id := runID
	if len(id) > 8 {
		id = id[:8]
	}
	name := Slug(title)
	if id != "" {
		name += "-" + id
	}
	return name + kind.Extension()
}

// Slug folds a title to lower-case ASCII words joined by hyphens. Accents
// are stripped; anything left that is not a letter or digit separates words.
func Slug(title string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), title)
	if err != nil {
		folded = title
	}

	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if dash && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			dash = false
			sb.WriteRune(r)
			continue
		}
		dash = true
	}

	s := sb.String()
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	if s == "" {
		return "document"
	}
	return s
}
