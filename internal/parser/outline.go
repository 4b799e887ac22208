package parser

import (
	"strings"

	"github.com/dgallion1/docforge/internal/doctree"
)

// outline nests text blocks under a heading stack. Headings pop the stack
// until a shallower parent is found.
type outline struct {
	root  *doctree.DocNode
	stack []outlineEntry
	text  strings.Builder
}

type outlineEntry struct {
	node  *doctree.DocNode
	level int
}

func newOutline() *outline {
	root := &doctree.DocNode{}
	return &outline{root: root, stack: []outlineEntry{{node: root}}}
}

func (o *outline) heading(level int, title string) {
	o.flush()
	node := &doctree.DocNode{Title: title}
	for len(o.stack) > 1 && o.stack[len(o.stack)-1].level >= level {
		o.stack = o.stack[:len(o.stack)-1]
	}
	parent := o.stack[len(o.stack)-1].node
	parent.Children = append(parent.Children, node)
	o.stack = append(o.stack, outlineEntry{node: node, level: level})
}

// block appends text to the current node, separated from earlier text by sep.
func (o *outline) block(text, sep string) {
	if text == "" {
		return
	}
	if o.text.Len() > 0 {
		o.text.WriteString(sep)
	}
	o.text.WriteString(text)
}

func (o *outline) paragraph(text string) {
	o.block(text, "\n\n")
}

func (o *outline) flush() {
	t := strings.TrimSpace(o.text.String())
	o.text.Reset()
	if t == "" {
		return
	}
	top := o.stack[len(o.stack)-1].node
	if top.Text != "" {
		top.Text += "\n\n" + t
	} else {
		top.Text = t
	}
}

// nodes returns the top-level nodes. Text outside any heading is kept as a
// leading untitled node.
func (o *outline) nodes() []*doctree.DocNode {
	o.flush()
	if o.root.Text == "" {
		return o.root.Children
	}
	return append([]*doctree.DocNode{{Text: o.root.Text}}, o.root.Children...)
}
