// Package merge assembles transformed sections into one numbered document
// with a table of contents and a title.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docforge/internal/doctree"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	ErrEmpty = errors.New("no sections to merge")
	ErrOrder = errors.New("sections not contiguous by chunk index")
)

const (
	// PreviewChars is how much of the merged body the titler sees.
	PreviewChars = 3000

	UntitledDocument = "Untitled Document"

	// overlapWindow bounds how many boundary lines are compared for duplicates.
	overlapWindow = 10

	// minOverlapChars keeps short coincidental repeats (a lone "---") in place.
	minOverlapChars = 12
)

var (
	atxRe       = regexp.MustCompile(`^ {0,3}(#{1,6})[ \t]+(.+?)(?:[ \t]+#+)?[ \t]*$`)
	numberingRe = regexp.MustCompile(`^(?:\d+(?:\.\d+)*[.)]|\d+(?:\.\d+)+)[ \t]+`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// Titler names a document from a preview of its body.
type Titler interface {
	TitleFor(ctx context.Context, preview string) (string, error)
}

// Merger combines ordered sections. It holds no per-run state.
type Merger struct {
	titler Titler
	logger *slog.Logger
}

func New(titler Titler, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{titler: titler, logger: logger}
}

// Merge joins sections into one document and names it. topicHint seeds the
// fallback title when the titler fails.
func (m *Merger) Merge(ctx context.Context, sections []doctree.Section, topicHint string) (doctree.MergedDocument, error) {
	doc, err := m.Assemble(sections)
	if err != nil {
		return doc, err
	}
	doc.Title = m.title(ctx, doc, topicHint)
	return doc, nil
}

// Assemble joins sections into one untitled document. sections[i].ChunkIndex
// must equal i for every i; anything else is rejected with ErrOrder and never
// reordered.
func (m *Merger) Assemble(sections []doctree.Section) (doctree.MergedDocument, error) {
	if len(sections) == 0 {
		return doctree.MergedDocument{}, ErrEmpty
	}
	for i, s := range sections {
		if s.ChunkIndex != i {
			return doctree.MergedDocument{}, fmt.Errorf("%w: position %d holds chunk %d", ErrOrder, i, s.ChunkIndex)
		}
	}

	a := &assembler{}
	markers := make([]doctree.VisualMarker, 0)
	for _, s := range sections {
		a.add(s.Body)
		markers = append(markers, s.VisualMarkers...)
	}

	doc := doctree.MergedDocument{
		TableOfContents: a.toc,
		Body:            strings.Join(a.parts, "\n\n"),
		VisualMarkers:   markers,
	}
	if doc.TableOfContents == nil {
		doc.TableOfContents = []string{}
	}
	return doc, nil
}

func (m *Merger) title(ctx context.Context, doc doctree.MergedDocument, topicHint string) string {
	if m.titler != nil {
		title, err := m.titler.TitleFor(ctx, Preview(doc.Body))
		if err != nil {
			m.logger.WarnContext(ctx, "title generation failed, using fallback", "error", err)
		}
		if t := strings.TrimSpace(title); err == nil && t != "" {
			return t
		}
	}
	return FallbackTitle(topicHint, doc.TableOfContents)
}

// Preview returns the first PreviewChars characters of body.
func Preview(body string) string {
	if utf8.RuneCountInString(body) <= PreviewChars {
		return body
	}
	n := 0
	for i := range body {
		if n == PreviewChars {
			return body[:i]
		}
		n++
	}
	return body
}

// FallbackTitle derives a title without the model: the title-cased topic
// hint, else the first table of contents entry, else UntitledDocument.
func FallbackTitle(topicHint string, toc []string) string {
	hint := strings.NewReplacer("-", " ", "_", " ").Replace(topicHint)
	hint = strings.TrimSpace(spaceRe.ReplaceAllString(hint, " "))
	if hint != "" {
		return cases.Title(language.English).String(hint)
	}
	for _, entry := range toc {
		if t := strings.TrimSpace(numberingRe.ReplaceAllString(entry, "")); t != "" {
			return t
		}
	}
	return UntitledDocument
}

// assembler carries numbering and boundary state from one section to the next.
type assembler struct {
	parts []string
	toc   []string

	n, k     int      // current top-level number and first nested sub-number
	lastTop  string   // normalized text of the most recent top-level heading
	topLevel int      // source level that heading was written at
	tail     []string // normalized trailing non-blank lines of the previous part
}

type heading struct {
	line  int
	level int
	text  string
}

func (a *assembler) add(body string) {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	lines = a.dropOverlap(lines)
	headings := scanHeadings(lines)

	top := 0
	for _, h := range headings {
		if top == 0 || h.level < top {
			top = h.level
		}
	}
	// A part that opens with body text continues the open topic, so its
	// headings are measured against that topic's level.
	if a.topLevel > 0 && top > a.topLevel && (len(headings) == 0 || !leading(lines, headings[0].line)) {
		top = a.topLevel
	}

	seenTop, demoted := false, false
	for _, h := range headings {
		text := stripNumbering(h.text)
		switch {
		case h.level == top && !seenTop:
			seenTop = true
			if a.lastTop != "" && normalize(text) == a.lastTop && leading(lines, h.line) {
				lines[h.line] = ""
				continue
			}
			a.n++
			a.k = 0
			a.lastTop = normalize(text)
			a.topLevel = top
			entry := fmt.Sprintf("%d. %s", a.n, text)
			a.toc = append(a.toc, entry)
			lines[h.line] = "## " + entry
		case h.level == top:
			demoted = true
			lines[h.line] = a.subheading(3, text)
		default:
			level := h.level - top + 2
			if demoted {
				level++
			}
			lines[h.line] = a.subheading(min(level, 6), text)
		}
	}

	out := strings.TrimSpace(strings.Join(lines, "\n"))
	if out == "" {
		return
	}
	a.parts = append(a.parts, out)
	a.tail = lastNonBlank(strings.Split(out, "\n"), overlapWindow)
}

// subheading renders a nested heading; the first nested level is numbered n.k.
func (a *assembler) subheading(level int, text string) string {
	prefix := strings.Repeat("#", level) + " "
	if level != 3 || a.n == 0 {
		return prefix + text
	}
	a.k++
	return fmt.Sprintf("%s%d.%d %s", prefix, a.n, a.k, text)
}

// dropOverlap removes leading lines that repeat the previous part's last lines.
func (a *assembler) dropOverlap(lines []string) []string {
	if len(a.tail) == 0 {
		return lines
	}

	var idx []int // positions of the leading non-blank lines
	var head []string
	for i, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" {
			continue
		}
		if isFence(trimmed) {
			break
		}
		idx = append(idx, i)
		head = append(head, normalize(l))
		if len(head) == overlapWindow {
			break
		}
	}

	for k := min(len(head), len(a.tail)); k > 0; k-- {
		if slices.Equal(head[:k], a.tail[len(a.tail)-k:]) && weight(head[:k]) >= minOverlapChars {
			return lines[idx[k-1]+1:]
		}
	}
	return lines
}

func scanHeadings(lines []string) []heading {
	var out []heading
	inFence := false
	for i, l := range lines {
		if isFence(strings.TrimSpace(l)) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := atxRe.FindStringSubmatch(l); m != nil {
			out = append(out, heading{line: i, level: len(m[1]), text: strings.TrimSpace(m[2])})
		}
	}
	return out
}

func stripNumbering(s string) string {
	if t := strings.TrimSpace(numberingRe.ReplaceAllString(s, "")); t != "" {
		return t
	}
	return s
}

// normalize folds a line for comparison: no heading marks, no numbering,
// lower case, single spaces.
func normalize(s string) string {
	s = strings.TrimSpace(s)
	if m := atxRe.FindStringSubmatch(s); m != nil {
		s = m[2]
	}
	s = numberingRe.ReplaceAllString(s, "")
	return strings.ToLower(strings.TrimSpace(spaceRe.ReplaceAllString(s, " ")))
}

func leading(lines []string, line int) bool {
	for _, l := range lines[:line] {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}

func lastNonBlank(lines []string, n int) []string {
	var out []string
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			out = append(out, normalize(lines[i]))
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func isFence(trimmed string) bool {
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}

func weight(lines []string) int {
	n := 0
	for _, l := range lines {
		n += len(l)
	}
	return n
}
