// Package extract turns fetched markup into readable text, a title and a list
// of outgoing links. Parsing is tolerant: malformed markup yields a best-effort
// result and never an error.
package extract

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var excessNewlines = regexp.MustCompile(`\n{3,}`)

var blockElements = map[atom.Atom]struct{}{
	atom.Address: {}, atom.Article: {}, atom.Aside: {}, atom.Blockquote: {},
	atom.Body: {}, atom.Br: {}, atom.Dd: {}, atom.Div: {}, atom.Dl: {},
	atom.Dt: {}, atom.Fieldset: {}, atom.Figcaption: {}, atom.Figure: {},
	atom.Footer: {}, atom.Form: {}, atom.H1: {}, atom.H2: {}, atom.H3: {},
	atom.H4: {}, atom.H5: {}, atom.H6: {}, atom.Head: {}, atom.Header: {},
	atom.Hr: {}, atom.Li: {}, atom.Main: {}, atom.Nav: {}, atom.Ol: {},
	atom.P: {}, atom.Pre: {}, atom.Section: {}, atom.Table: {}, atom.Td: {},
	atom.Th: {}, atom.Title: {}, atom.Tr: {}, atom.Ul: {},
}

func parse(markup string) *html.Node {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	return doc
}

// Text returns the readable text of markup together with its title.
func Text(markup string) (string, string) {
	doc := parse(markup)
	if doc == nil {
		return "", ""
	}
	return textOf(doc), titleOf(doc)
}

// Title returns the collapsed text of the first <title> element, or "".
func Title(markup string) string {
	doc := parse(markup)
	if doc == nil {
		return ""
	}
	return titleOf(doc)
}

func textOf(doc *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
				return
			}
		case html.CommentNode, html.DoctypeNode:
			return
		}
		_, block := blockElements[n.DataAtom]
		if block {
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			b.WriteByte('\n')
		}
	}
	walk(doc)
	return normalizeText(b.String())
}

func normalizeText(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	joined := strings.Join(lines, "\n")
	joined = excessNewlines.ReplaceAllString(joined, "\n\n")
	return strings.TrimSpace(joined)
}

func titleOf(doc *html.Node) string {
	title := findFirst(doc, atom.Title)
	if title == nil {
		return ""
	}
	var b strings.Builder
	for c := title.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

// Links resolves every anchor href in markup against baseURL and returns up to
// limit unique absolute http(s) URLs, fragments removed, in document order.
func Links(markup string, baseURL string, limit int) []string {
	links := []string{}
	if limit <= 0 {
		return links
	}
	doc := parse(markup)
	if doc == nil {
		return links
	}
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		base = &url.URL{}
	}
	seen := map[string]struct{}{}
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if link, ok := resolveLink(base, hrefOf(n)); ok {
				if _, dup := seen[link]; !dup {
					seen[link] = struct{}{}
					links = append(links, link)
					if len(links) >= limit {
						return false
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(doc)
	return links
}

func hrefOf(n *html.Node) string {
	for _, attr := range n.Attr {
		if attr.Namespace == "" && strings.EqualFold(attr.Key, "href") {
			return strings.TrimSpace(attr.Val)
		}
	}
	return ""
}

func resolveLink(base *url.URL, href string) (string, bool) {
	if href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	resolved.Fragment = ""
	resolved.RawFragment = ""
	switch strings.ToLower(resolved.Scheme) {
	case "http", "https":
	default:
		return "", false
	}
	if resolved.Host == "" {
		return "", false
	}
	return resolved.String(), true
}
