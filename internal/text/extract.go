package text

import (
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Page is the readable content pulled out of one HTML document.
type Page struct {
	Title string
	Text  string
}

// Elements whose subtrees carry no readable text.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"iframe":   true,
	"svg":      true,
	"object":   true,
}

// Elements that imply a line break around their content.
var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"br": true, "dd": true, "div": true, "dl": true, "dt": true,
	"fieldset": true, "figcaption": true, "figure": true, "footer": true,
	"form": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "header": true, "hr": true, "li": true,
	"main": true, "nav": true, "ol": true, "p": true, "pre": true,
	"section": true, "table": true, "td": true, "th": true, "tr": true,
	"ul": true,
}

// Extract parses an HTML document and returns its title plus the
// visible text. Block element boundaries become newlines and
// whitespace runs are collapsed by Normalize. The parser is
// error-tolerant, so err is non-nil only when the reader itself fails.
func Extract(r io.Reader) (Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Page{}, err
	}

	var b strings.Builder
	var title string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if skippedElements[n.Data] {
				return
			}
			if n.Data == "title" {
				if title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
			if blockElements[n.Data] {
				b.WriteByte('\n')
			}
		case html.TextNode:
			b.WriteString(n.Data)
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && blockElements[n.Data] {
			b.WriteByte('\n')
		}
	}
	walk(doc)

	return Page{Title: title, Text: Normalize(b.String())}, nil
}

var spaceRun = regexp.MustCompile(`[ \t\r\f\v\x{00a0}]+`)

var newlineRun = regexp.MustCompile(`\n{2,}`)

// Normalize collapses horizontal whitespace runs to single spaces and
// blank-line runs to single newlines, trimming the ends.
func Normalize(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, " \n", "\n")
	s = strings.ReplaceAll(s, "\n ", "\n")
	s = newlineRun.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}
