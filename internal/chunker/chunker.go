package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docforge/internal/doctree"
)

// DefaultMaxChunkSize is the chunk ceiling in characters.
const DefaultMaxChunkSize = 12000

var (
	headingRe   = regexp.MustCompile(`^ {0,3}#{1,6}[ \t]+(.+?)(?:[ \t]+#+)?[ \t]*$`)
	timestampRe = regexp.MustCompile(`^[ \t]*(?:\[(\d{1,2}:\d{2}(?::\d{2})?)\]|(\d{1,2}:\d{2}(?::\d{2})?))(.*)$`)
	// A bare stamp needs " - " or ": " before its label; "10:30 sharp" is prose.
	separatorRe = regexp.MustCompile(`^(?:[ \t]+[-–—]|:)[ \t]+(\S.*)$`)
	underlineRe = regexp.MustCompile(`^[ \t]*(?:={3,}|-{3,})[ \t]*$`)
)

// unit is a boundary-delimited run of lines. label is the heading or topic
// text that opened it (empty for a preamble).
type unit struct {
	label string
	text  string
}

// Split partitions raw content into ordered chunks of at most maxChunkSize
// characters along heading and timestamp boundaries. Joining the chunk texts
// in index order reproduces raw exactly.
func Split(raw string, maxChunkSize int) []doctree.Chunk {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}

	s := &splitter{max: maxChunkSize}
	for _, u := range scanUnits(raw) {
		s.add(u)
	}
	s.flush()
	return s.chunks
}

type splitter struct {
	max    int
	chunks []doctree.Chunk

	cur       strings.Builder
	curLen    int
	curHeader string

	// seen is the last label consumed so far.
	seen string
}

func (s *splitter) add(u unit) {
	n := utf8.RuneCountInString(u.text)
	if s.curLen > 0 && s.curLen+n > s.max {
		s.flush()
	}
	if s.curLen == 0 {
		s.curHeader = s.seen
	}
	if u.label != "" {
		s.seen = u.label
	}

	if n <= s.max {
		s.cur.WriteString(u.text)
		s.curLen += n
		return
	}

	// Oversized unit; the buffer is empty at this point.
	rest := u.text
	for utf8.RuneCountInString(rest) > s.max {
		cut := cutPoint(rest, s.max)
		s.cur.WriteString(rest[:cut])
		s.curLen = utf8.RuneCountInString(rest[:cut])
		s.flush()
		s.curHeader = s.seen
		rest = rest[cut:]
	}
	s.cur.WriteString(rest)
	s.curLen = utf8.RuneCountInString(rest)
}

func (s *splitter) flush() {
	if s.curLen == 0 {
		return
	}
	header := s.curHeader
	if len(s.chunks) == 0 {
		header = ""
	}
	s.chunks = append(s.chunks, doctree.Chunk{
		Index:         len(s.chunks),
		Text:          s.cur.String(),
		ContextHeader: header,
	})
	s.cur.Reset()
	s.curLen = 0
	s.curHeader = ""
}

// scanUnits groups lines into boundary-delimited units. Headings inside
// fenced code blocks are not boundaries.
func scanUnits(raw string) []unit {
	var units []unit
	var cur strings.Builder
	label := ""
	inFence := false
	prevBlank := true

	lines := strings.SplitAfter(raw, "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}

		if !inFence {
			l, ok := boundaryLabel(line)
			if !ok && prevBlank {
				l, ok = underlinedHeading(lines, i)
			}
			if ok {
				if cur.Len() > 0 {
					units = append(units, unit{label: label, text: cur.String()})
					cur.Reset()
				}
				label = l
			}
		}
		cur.WriteString(line)
		prevBlank = trimmed == ""
	}
	if cur.Len() > 0 {
		units = append(units, unit{label: label, text: cur.String()})
	}
	return units
}

// boundaryLabel reports whether line opens a new topic and returns its label.
func boundaryLabel(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if m := headingRe.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	m := timestampRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	if m[1] != "" {
		return topicLabel(m[1], strings.TrimLeft(m[3], " \t-:–—")), true
	}
	rest := strings.TrimRight(m[3], " \t")
	if rest == "" {
		return m[2], true
	}
	if sm := separatorRe.FindStringSubmatch(rest); sm != nil {
		return topicLabel(m[2], sm[1]), true
	}
	return "", false
}

func topicLabel(stamp, label string) string {
	if label = strings.TrimSpace(label); label != "" {
		return label
	}
	return stamp
}

// underlinedHeading reports whether lines[i] is a one-line heading
// underlined with "===" or "---". The caller ensures the line before it is
// blank, so a rule following a paragraph line is never mistaken for one,
// and a lone "---" between blank lines stays a thematic break.
func underlinedHeading(lines []string, i int) (string, bool) {
	if i+1 >= len(lines) {
		return "", false
	}
	title := strings.TrimSpace(lines[i])
	if title == "" || underlineRe.MatchString(title) {
		return "", false
	}
	if !underlineRe.MatchString(strings.TrimRight(lines[i+1], "\r\n")) {
		return "", false
	}
	return title, true
}

// cutPoint returns a byte offset in text at which to force a split so that
// text[:cut] holds at most maxRunes characters. It prefers a sentence end,
// then a line end, then any whitespace; only a single word longer than the
// limit is cut mid-word.
func cutPoint(text string, maxRunes int) int {
	limit := byteOffset(text, maxRunes)
	window := text[:limit]
	half := limit / 2

	sentence, newline, space := -1, -1, -1
	for i := 0; i < len(window); i++ {
		c := window[i]
		if !isSpace(c) {
			continue
		}
		space = i + 1
		if c == '\n' {
			newline = i + 1
		}
		if i > 0 && (window[i-1] == '.' || window[i-1] == '!' || window[i-1] == '?') {
			sentence = i + 1
		}
	}

	switch {
	case sentence >= half:
		return sentence
	case newline >= half:
		return newline
	case space > 0:
		return space
	}
	return limit
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	i := 0
	for idx := range s {
		if i == n {
			return idx
		}
		i++
	}
	return len(s)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}
