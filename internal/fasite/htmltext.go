package fasite

import (
	"strings"

	"golang.org/x/net/html"
)

// blockTags start a fresh text segment on entry and exit.
var blockTags = map[string]bool{
	"p": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true,
	"blockquote": true, "pre": true,
}

// FlattenHTML reduces a submission description to plain-text segments. Line
// breaks and block elements split segments; everything else contributes its
// text content. Unparseable input comes back as a single raw segment.
func FlattenHTML(src string) []string {
	if strings.TrimSpace(src) == "" {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return []string{src}
	}
	var segs []string
	var cur strings.Builder
	flush := func() {
		if t := strings.TrimSpace(cur.String()); t != "" {
			segs = append(segs, t)
		}
		cur.Reset()
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			cur.WriteString(n.Data)
		case html.ElementNode:
			if n.Data == "br" || blockTags[n.Data] {
				flush()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			flush()
		}
	}
	walk(doc)
	flush()
	return segs
}
