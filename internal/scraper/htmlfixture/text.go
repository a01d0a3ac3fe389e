package htmlfixture

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"div": true, "dl": true, "dt": true, "dd": true, "footer": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "li": true, "main": true, "nav": true, "ol": true,
	"p": true, "section": true, "table": true, "tr": true, "ul": true,
}

var whitespace = regexp.MustCompile(`\s+`)

// innerText approximates the browser's rendered text: whitespace inside
// inline content collapses, block elements and <br> start new lines, and
// hidden subtrees are skipped.
func innerText(n *html.Node) string {
	var b strings.Builder
	writeText(n, &b)

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func writeText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(whitespace.ReplaceAllString(n.Data, " "))
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "template":
			return
		case "br":
			b.WriteByte('\n')
			return
		}
		if hiddenNode(n) {
			return
		}
	}

	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(c, b)
	}
	if block {
		b.WriteByte('\n')
	}
}

func hiddenNode(n *html.Node) bool {
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "style":
			if strings.Contains(strings.ReplaceAll(a.Val, " ", ""), "display:none") {
				return true
			}
		}
	}
	return false
}

// visible reports whether neither the node nor an ancestor is hidden.
func visible(s *goquery.Selection) bool {
	if s.Length() == 0 {
		return false
	}
	for n := s.Nodes[0]; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && hiddenNode(n) {
			return false
		}
	}
	return true
}
