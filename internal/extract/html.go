package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// noiseSelectors are removed before the page text is handed to the model.
const noiseSelectors = "script, style, noscript, svg, iframe, link, meta"

// contentSelectors are tried in order; the first match becomes the input.
var contentSelectors = []string{".mw-parser-output", "main", "article", "body"}

// LooksLikeHTML reports whether s appears to be an HTML document or fragment.
func LooksLikeHTML(s string) bool {
	head := strings.ToLower(strings.TrimSpace(s))
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.HasPrefix(head, "<!doctype html") ||
		strings.HasPrefix(head, "<html") ||
		strings.Contains(head, "<body") ||
		strings.Contains(head, "<div")
}

// ReduceHTML strips markup noise and keeps the main content subtree as HTML.
// Input that cannot be parsed is returned unchanged.
func ReduceHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find(noiseSelectors).Remove()

	for _, sel := range contentSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		out, err := goquery.OuterHtml(node)
		if err != nil {
			continue
		}
		return collapseSpace(out)
	}
	out, err := doc.Html()
	if err != nil {
		return html
	}
	return collapseSpace(out)
}

// Truncate cuts s to at most maxBytes without splitting a UTF-8 sequence.
// A non-positive maxBytes disables truncation.
func Truncate(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func collapseSpace(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
