package normalize

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	whitespaceRun  = regexp.MustCompile(`[\s\x{00a0}\x{3000}]+`)
	horizontalRun  = regexp.MustCompile(`[ \t\f\v\x{00a0}\x{3000}]+`)
	controlChars   = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x9f]`)
	tagPattern     = regexp.MustCompile(`<[^>]+>`)
	locationSuffix = regexp.MustCompile(`(?:\s*[·•]|\s+-\s+|-\p{Han}).*$`)
)

const blockElements = "p, div, li, tr, h1, h2, h3, h4, h5, h6, section, article"

// CleanText strips control characters and collapses whitespace into single spaces.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = controlChars.ReplaceAllString(s, "")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// CleanDescription turns an HTML or plain-text fragment into paragraphs separated
// by single newlines.
func CleanDescription(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	text := stripHTML(s)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = controlChars.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(horizontalRun.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// CleanLocation drops district suffixes such as "上海·浦东新区" or "北京-朝阳区".
func CleanLocation(s string) string {
	return CleanText(locationSuffix.ReplaceAllString(CleanText(s), ""))
}

func stripHTML(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return tagPattern.ReplaceAllString(s, "\n")
	}
	doc.Find("script, style, noscript").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(blockElements).Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})
	return doc.Find("body").Text()
}
