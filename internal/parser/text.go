package parser

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/dgallion1/docforge/internal/doctree"
)

// setextRule matches a line made only of "=" or "-", as under a plain-text heading.
var setextRule = regexp.MustCompile(`^\s*(=+|-+)\s*$`)

// TextParser reads plain text. Paragraphs are separated by blank lines and a
// line underlined with "===" or "---" opens a section.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")

	b := &textBuilder{tree: &doctree.DocTree{Title: stem(filename)}}
	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], " \t")
		if level := underlineLevel(lines, i); level > 0 {
			b.flush()
			b.section(level, strings.TrimSpace(line), i+1)
			i++ // skip the rule
			continue
		}
		if strings.TrimSpace(line) == "" {
			b.flush()
			continue
		}
		if len(b.para) == 0 {
			b.paraLine = i + 1
		}
		b.para = append(b.para, line)
	}
	b.flush()

	b.tree.Meta = map[string]string{
		"paragraphs": strconv.Itoa(b.paragraphs),
		"sections":   strconv.Itoa(b.sections),
	}
	return b.tree, nil
}

// underlineLevel reports 1 for "===" and 2 for "---" when line i is a
// heading underlined by line i+1, else 0.
func underlineLevel(lines []string, i int) int {
	if i+1 >= len(lines) || strings.TrimSpace(lines[i]) == "" {
		return 0
	}
	rule := strings.TrimSpace(lines[i+1])
	if len(rule) < 3 || !setextRule.MatchString(rule) {
		return 0
	}
	// A heading is a single line; one that continues a paragraph is not.
	if i > 0 && strings.TrimSpace(lines[i-1]) != "" {
		return 0
	}
	if rule[0] == '=' {
		return 1
	}
	return 2
}

type textBuilder struct {
	tree       *doctree.DocTree
	top        *doctree.DocNode // last level-1 section
	current    *doctree.DocNode // section receiving paragraphs
	para       []string
	paraLine   int
	paragraphs int
	sections   int
	titled     bool
}

func (b *textBuilder) section(level int, title string, line int) {
	node := &doctree.DocNode{Title: title, Page: line}
	b.sections++
	switch {
	case level == 1:
		if !b.titled {
			b.tree.Title = title
			b.titled = true
		}
		b.tree.Children = append(b.tree.Children, node)
		b.top = node
	case b.top != nil:
		b.top.Children = append(b.top.Children, node)
	default:
		b.tree.Children = append(b.tree.Children, node)
	}
	b.current = node
}

func (b *textBuilder) flush() {
	if len(b.para) == 0 {
		return
	}
	node := &doctree.DocNode{Text: strings.Join(b.para, "\n"), Page: b.paraLine}
	if b.current != nil {
		b.current.Children = append(b.current.Children, node)
	} else {
		b.tree.Children = append(b.tree.Children, node)
	}
	b.para = b.para[:0]
	b.paragraphs++
}
