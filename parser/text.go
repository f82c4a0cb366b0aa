package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/unicode/norm"
)

var whitespaceRe = regexp.MustCompile(`[\s\x{00a0}\x{200b}]+`)

// NormalizeText composes accents to NFC and collapses runs of whitespace.
func NormalizeText(s string) string {
	s = norm.NFC.String(s)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// DecodeHTML returns body as UTF-8 text. Bodies that are already valid UTF-8
// are returned untouched; anything else is decoded using the declared or
// sniffed charset.
func DecodeHTML(body []byte, contentType string) string {
	if utf8.Valid(body) {
		return string(body)
	}
	enc, _, _ := charset.DetermineEncoding(body, contentType)
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return strings.ToValidUTF8(string(body), "")
	}
	return string(decoded)
}

var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"br": true, "dd": true, "div": true, "dl": true, "dt": true,
	"fieldset": true, "figcaption": true, "figure": true, "footer": true,
	"form": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "header": true, "hr": true, "li": true,
	"main": true, "nav": true, "ol": true, "p": true, "pre": true,
	"section": true, "table": true, "tbody": true, "thead": true,
	"tfoot": true, "tr": true, "ul": true,
}

// cells stay on their row's line, separated by a space
var inlineSeparated = map[string]bool{
	"td": true,
	"th": true,
}

// blockLines flattens nodes into normalized text lines, breaking at block
// elements so that "label: value" rows can be matched one per line.
func blockLines(nodes ...*html.Node) []string {
	var (
		lines   []string
		current strings.Builder
	)
	flush := func() {
		if line := NormalizeText(current.String()); line != "" {
			lines = append(lines, line)
		}
		current.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			current.WriteString(n.Data)
			return
		case html.ElementNode:
			if skippedElements[n.Data] {
				return
			}
		case html.CommentNode:
			return
		}

		isBlock := n.Type == html.ElementNode && blockElements[n.Data]
		isCell := n.Type == html.ElementNode && inlineSeparated[n.Data]
		if isBlock {
			flush()
		}
		if isCell {
			current.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if isCell {
			current.WriteByte(' ')
		}
		if isBlock {
			flush()
		}
	}

	for _, n := range nodes {
		walk(n)
	}
	flush()
	return lines
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}

func containsDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// mentionsPrice reports whether text belongs to the regional price block.
func mentionsPrice(texts ...string) bool {
	for _, t := range texts {
		upper := strings.ToUpper(t)
		if strings.Contains(upper, "VNĐ") || strings.Contains(upper, "MIỀN") {
			return true
		}
	}
	return false
}
