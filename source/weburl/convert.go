package weburl

import (
	"bytes"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// Elements that never carry story content.
var dropTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "nav": true, "header": true,
	"footer": true, "aside": true, "form": true, "iframe": true, "button": true,
}

// Converted is the Markdown rendering of an HTML page.
type Converted struct {
	Title    string
	Markdown string
}

// Converter turns HTML pages into Markdown.
type Converter struct {
	md *md.Converter
}

// NewConverter creates a converter with GitHub-flavored output (task lists
// keep their "- [ ]" markers, which the story parser recognises).
func NewConverter() *Converter {
	c := md.NewConverter("", true, nil)
	c.Use(plugin.GitHubFlavored())
	return &Converter{md: c}
}

// Convert extracts the page title and main content.
func (c *Converter) Convert(page []byte) (*Converted, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}

	title := textOf(find(doc, func(n *html.Node) bool { return n.Data == "title" }))

	root := find(doc, func(n *html.Node) bool {
		return n.Data == "main" || n.Data == "article" || attr(n, "role") == "main"
	})
	if root == nil {
		root = find(doc, func(n *html.Node) bool { return n.Data == "body" })
	}
	if root == nil {
		root = doc
	}
	prune(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, err
	}
	out, err := c.md.ConvertString(buf.String())
	if err != nil {
		return nil, err
	}

	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	out = strings.TrimSpace(blankRunRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))

	if title == "" {
		for _, l := range strings.Split(out, "\n") {
			if strings.HasPrefix(l, "# ") {
				title = strings.TrimSpace(l[2:])
				break
			}
		}
	}
	return &Converted{Title: title, Markdown: out}, nil
}

// find returns the first element in document order matching pred.
func find(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && pred(n) {
		return n
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if found := find(ch, pred); found != nil {
			return found
		}
	}
	return nil
}

func prune(n *html.Node) {
	for ch := n.FirstChild; ch != nil; {
		next := ch.NextSibling
		if ch.Type == html.ElementNode && dropTags[ch.Data] {
			n.RemoveChild(ch)
		} else {
			prune(ch)
		}
		ch = next
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
