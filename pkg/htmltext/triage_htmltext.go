// Package htmltext reduces HTML email bodies to plain text.
package htmltext

import (
	"strings"

	"golang.org/x/net/html"
)

var skipped = map[string]bool{
	"style": true, "script": true, "noscript": true, "head": true,
	"title": true, "meta": true, "link": true, "iframe": true,
}

var blocks = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "li": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true,
}

// ToText extracts the visible text of an HTML document, one line per block
// element with runs of spaces collapsed. Input that fails to parse is
// returned with whitespace collapsed.
func ToText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return collapse(src)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blocks[n.Data] {
			b.WriteByte('\n')
		}
	}
	walk(doc)

	return collapse(b.String())
}

func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
