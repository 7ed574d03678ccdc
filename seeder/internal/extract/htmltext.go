package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// selectContent picks the DOM subtree holding the article: semantic
// landmarks first, then the densest content node, then <body>.
func selectContent(doc *html.Node, minLen int) *html.Node {
	for _, tag := range []atom.Atom{atom.Main, atom.Article} {
		var best *html.Node
		bestLen := 0
		for _, n := range findAllByTag(doc, tag) {
			if isBoilerplate(n) {
				continue
			}
			if l := len(collectText(n)); l >= minLen && l > bestLen {
				best, bestLen = n, l
			}
		}
		if best != nil {
			return best
		}
	}

	body := findBody(doc)
	if body == nil {
		body = doc
	}
	if best := findDensestNode(body, minLen); best != nil {
		return best
	}
	if len(collectText(body)) >= minLen {
		return body
	}
	return nil
}

// prune removes scripts, forms and boilerplate regions below n.
func prune(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
			continue
		}
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Iframe, atom.Form, atom.Svg, atom.Button:
			n.RemoveChild(c)
			continue
		}
		if isBoilerplate(c) {
			n.RemoveChild(c)
			continue
		}
		prune(c)
	}
}

type nodeScore struct {
	node     *html.Node
	textLen  int
	density  float64
	linkDens float64
}

// findDensestNode walks the DOM and finds the node with highest content density.
func findDensestNode(root *html.Node, minLen int) *html.Node {
	var candidates []nodeScore

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type != html.ElementNode || isBoilerplate(n) {
			return
		}
		if isContentTag(n.DataAtom) {
			text := collectText(n)
			if len(text) >= minLen {
				markupLen := max(len(renderNode(n)), 1)
				candidates = append(candidates, nodeScore{
					node:     n,
					textLen:  len(text),
					density:  float64(len(text)) / float64(markupLen),
					linkDens: float64(len(collectLinkText(n))) / float64(len(text)),
				})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	var best *html.Node
	var bestScore float64
	for _, c := range candidates {
		if c.linkDens > 0.5 {
			continue
		}
		score := c.density * logScale(c.textLen) * (1 - c.linkDens)
		if score > bestScore {
			bestScore = score
			best = c.node
		}
	}
	return best
}

// logScale grows by one for every doubling of n above 100.
func logScale(n int) float64 {
	if n <= 0 {
		return 0
	}
	scale := 1.0
	for v := n; v > 100; v /= 2 {
		scale++
	}
	return scale
}

func collectText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

func collectLinkText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node, bool)
	f = func(n *html.Node, inLink bool) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			inLink = true
		}
		if n.Type == html.TextNode && inLink {
			sb.WriteString(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c, inLink)
		}
	}
	f(n, false)
	return sb.String()
}

func isContentTag(a atom.Atom) bool {
	switch a {
	case atom.Main, atom.Article, atom.Section, atom.Div, atom.P,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table,
		atom.Dl, atom.Figure, atom.Details, atom.Body:
		return true
	}
	return false
}

func isBoilerplate(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Nav, atom.Footer, atom.Header, atom.Aside:
		return true
	}
	for _, attr := range n.Attr {
		switch attr.Key {
		case "class", "id":
			lower := strings.ToLower(attr.Val)
			for _, pattern := range boilerplatePatterns {
				if strings.Contains(lower, pattern) {
					return true
				}
			}
		case "role":
			switch attr.Val {
			case "navigation", "banner", "contentinfo", "complementary":
				return true
			}
		case "aria-hidden":
			if attr.Val == "true" {
				return true
			}
		}
	}
	return false
}

var boilerplatePatterns = []string{
	"sidebar", "footer", "navbar", "menu", "breadcrumb",
	"cookie", "banner", "advert", "social", "share", "comment",
	"related", "widget", "popup", "modal", "newsletter",
}

func findBody(doc *html.Node) *html.Node {
	if nodes := findAllByTag(doc, atom.Body); len(nodes) > 0 {
		return nodes[0]
	}
	return nil
}

func findAllByTag(root *html.Node, tag atom.Atom) []*html.Node {
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == tag {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

func renderNode(n *html.Node) string {
	var buf bytes.Buffer
	html.Render(&buf, n)
	return buf.String()
}
