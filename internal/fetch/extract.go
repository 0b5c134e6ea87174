package fetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipped elements never contribute page text.
var skipped = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
}

var blocks = map[atom.Atom]bool{
	atom.P:          true,
	atom.Div:        true,
	atom.Section:    true,
	atom.Article:    true,
	atom.Main:       true,
	atom.Blockquote: true,
	atom.Pre:        true,
	atom.Ul:         true,
	atom.Ol:         true,
	atom.Dl:         true,
	atom.Dt:         true,
	atom.Dd:         true,
	atom.Table:      true,
	atom.Tr:         true,
	atom.Figure:     true,
	atom.Figcaption: true,
	atom.Details:    true,
	atom.Summary:    true,
	atom.Hr:         true,
}

// extractHTML returns the page title and its readable text. Headings
// come out as "#" lines and list items as "- " lines so recipes and
// articles keep their shape for the model.
func extractHTML(raw string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", cleanWhitespace(raw)
	}

	var w textWriter
	w.walk(contentRoot(doc))
	return pageTitle(doc), cleanWhitespace(w.String())
}

// contentRoot narrows extraction to <main>, or to the article when the
// page has exactly one. Index pages with many articles keep them all.
func contentRoot(doc *html.Node) *html.Node {
	if mains := findAll(doc, atom.Main); len(mains) > 0 {
		return mains[0]
	}
	if articles := findAll(doc, atom.Article); len(articles) == 1 {
		return articles[0]
	}
	return doc
}

// pageTitle prefers <title> and falls back to the og:title meta tag.
func pageTitle(doc *html.Node) string {
	for _, n := range findAll(doc, atom.Title) {
		if n.FirstChild != nil {
			if t := strings.TrimSpace(n.FirstChild.Data); t != "" {
				return t
			}
		}
	}
	for _, n := range findAll(doc, atom.Meta) {
		if attr(n, "property") == "og:title" {
			return strings.TrimSpace(attr(n, "content"))
		}
	}
	return ""
}

type textWriter struct {
	strings.Builder
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		if s := strings.TrimSpace(n.Data); s != "" {
			w.WriteString(s)
			w.WriteByte(' ')
		}
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
		if skipped[n.DataAtom] || hidden(n) {
			return
		}
	}

	block := n.Type == html.ElementNode && blocks[n.DataAtom]
	switch n.DataAtom {
	case atom.H1:
		w.WriteString("\n\n# ")
		block = true
	case atom.H2:
		w.WriteString("\n\n## ")
		block = true
	case atom.H3, atom.H4, atom.H5, atom.H6:
		w.WriteString("\n\n### ")
		block = true
	case atom.Li:
		w.WriteString("\n- ")
	default:
		if block {
			w.WriteString("\n\n")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if block || n.DataAtom == atom.Br {
		w.WriteByte('\n')
	}
}

func hidden(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key == "hidden" || (a.Key == "aria-hidden" && a.Val == "true") {
			return true
		}
	}
	return false
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// cleanWhitespace collapses runs of spaces within each line and keeps at
// most one blank line between paragraphs.
func cleanWhitespace(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
