package render

import (
	"bytes"
	"fmt"
	stdhtml "html"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// SlideClass marks each slide element in a generated deck.
const SlideClass = "slide"

// buildDeck splits an HTML fragment into slides. Every h1 or h2 opens a new
// slide; content ahead of the first heading joins the opening slide.
func buildDeck(title, fragment, css string) (string, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return "", fmt.Errorf("%w: parse fragment: %v", ErrHTMLConversion, err)
	}

	var slides []*bytes.Buffer
	var cur *bytes.Buffer
	for _, n := range nodes {
		opens := n.Type == html.ElementNode && (n.DataAtom == atom.H1 || n.DataAtom == atom.H2)
		if cur == nil || (opens && cur.Len() > 0) {
			cur = &bytes.Buffer{}
			slides = append(slides, cur)
		}
		if err := html.Render(cur, n); err != nil {
			return "", fmt.Errorf("%w: render node: %v", ErrHTMLConversion, err)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n<style>\n%s%s</style>\n</head>\n<body class=\"deck\">\n",
		stdhtml.EscapeString(title), css, deckCSS)
	n := 0
	for _, s := range slides {
		content := strings.TrimSpace(s.String())
		if content == "" {
			continue
		}
		n++
		fmt.Fprintf(&sb, "<section class=\"%s\" id=\"slide-%d\">\n%s\n</section>\n", SlideClass, n, content)
	}
	sb.WriteString("</body>\n</html>\n")
	return sb.String(), nil
}

func htmlPage(title, fragment, css string) string {
	return fmt.Sprintf("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n<style>\n%s</style>\n</head>\n<body>\n%s\n</body>\n</html>\n",
		stdhtml.EscapeString(title), css, fragment)
}

const baseCSS = `body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; line-height: 1.55; color: #1f2328; max-width: 46em; margin: 0 auto; }
h1 { font-size: 2em; border-bottom: 1px solid #d0d7de; padding-bottom: .3em; }
h2 { font-size: 1.5em; margin-top: 1.6em; page-break-after: avoid; }
h3, h4, h5, h6 { page-break-after: avoid; }
pre { background: #f6f8fa; padding: .8em; overflow-x: auto; border-radius: 6px; page-break-inside: avoid; }
code { font-family: ui-monospace, SFMono-Regular, Menlo, monospace; font-size: .9em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #d0d7de; padding: .3em .7em; }
blockquote { color: #59636e; border-left: .25em solid #d0d7de; margin: 0; padding: 0 1em; }
`

const deckCSS = `body.deck { max-width: none; margin: 0; height: 100vh; overflow-y: scroll; scroll-snap-type: y mandatory; }
section.slide { box-sizing: border-box; min-height: 100vh; padding: 6vh 8vw; scroll-snap-align: start; border-bottom: 1px solid #d0d7de; }
section.slide h1 { font-size: 3em; border: none; margin-top: 25vh; }
section.slide h2 { margin-top: 0; }
`
