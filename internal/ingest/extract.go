package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var whitespace = regexp.MustCompile(`\s+`)

// Page is the readable content of one HTML document.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Extract strips boilerplate elements and returns the page's title and
// body text with whitespace collapsed.
func Extract(url, raw string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find("script, style, noscript, nav, footer, header, aside, form, iframe").Remove()
	body := doc.Find("main").First()
	if body.Length() == 0 {
		body = doc.Find("body")
	}
	text := strings.TrimSpace(whitespace.ReplaceAllString(visibleText(body), " "))

	return &Page{URL: url, Title: title, Text: text}, nil
}

// visibleText joins text nodes with spaces; Selection.Text would glue
// adjacent block elements together.
func visibleText(sel *goquery.Selection) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

// Chunk splits text into chunks of at most size bytes on word boundaries.
// Consecutive chunks share the last overlap words.
func Chunk(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 || size <= 0 {
		return nil
	}

	var chunks []string
	var cur []string
	curLen := 0
	for _, w := range words {
		if curLen+len(w)+1 > size && len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, " "))
			keep := max(0, min(overlap, len(cur)-1))
			cur = append([]string(nil), cur[len(cur)-keep:]...)
			curLen = 0
			for _, c := range cur {
				curLen += len(c) + 1
			}
		}
		cur = append(cur, w)
		curLen += len(w) + 1
	}
	if len(cur) > 0 {
		chunks = append(chunks, strings.Join(cur, " "))
	}
	return chunks
}
