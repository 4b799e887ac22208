package chunker

import (
	"regexp"
	"strings"

	"github.com/dgallion1/docforge/internal/format"
)

// Content types steer how a transformer rewrites chunks.
const (
	ContentDocument   = "document"
	ContentTranscript = "transcript"
	ContentSlides     = "slides"
)

// transcriptMarkers is the number of timestamp lines above which raw
// content is treated as a transcript.
const transcriptMarkers = 10

// stampLineRe matches a line holding nothing but a timestamp.
var stampLineRe = regexp.MustCompile(`^[ \t]*(?:\[\d{1,2}:\d{2}(?::\d{2})?\]|\d{1,2}:\d{2}(?::\d{2})?)[ \t]*$`)

// Classify guesses the content type of raw input. Text with many lines that
// hold only a timestamp is a transcript and PDF exports are treated as
// slides. Anything else is a document.
func Classify(raw string, kind format.InputKind) string {
	count := 0
	for _, line := range strings.Split(raw, "\n") {
		if stampLineRe.MatchString(strings.TrimRight(line, "\r")) {
			count++
			if count > transcriptMarkers {
				return ContentTranscript
			}
		}
	}
	if kind == format.Pdf {
		return ContentSlides
	}
	return ContentDocument
}
