package websearch

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Elements whose text never belongs to the main content.
var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Header:   true,
	atom.Noscript: true,
	atom.Form:     true,
	atom.Iframe:   true,
	atom.Svg:      true,
}

// ExtractText returns the visible text of the page's main content with
// whitespace collapsed. The first <article> is preferred, then <main>,
// then <body>.
func ExtractText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	root := findElement(doc, atom.Article)
	if root == nil {
		root = findElement(doc, atom.Main)
	}
	if root == nil {
		root = findElement(doc, atom.Body)
	}
	if root == nil {
		root = doc
	}

	var sb strings.Builder
	collectText(root, &sb)
	return strings.Join(strings.Fields(sb.String()), " "), nil
}

func collectText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		if skippedElements[n.DataAtom] {
			return
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, sb)
	}
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, a); found != nil {
			return found
		}
	}
	return nil
}

// ParseResultLinks returns the target URLs of a DuckDuckGo HTML results
// page in page order. Redirect links are decoded to their destination.
func ParseResultLinks(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A && hasClass(n, "result__a") {
			if target := resultTarget(attr(n, "href")); target != "" {
				links = append(links, target)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return links, nil
}

// resultTarget unwraps "//duckduckgo.com/l/?uddg=<url>" redirects and
// passes absolute http(s) links through.
func resultTarget(href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" && strings.HasPrefix(u.Path, "/l") {
		return target
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return u.String()
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
