package sms

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// MaxSegmentLength is the longest body Twilio accepts in one message.
const MaxSegmentLength = 1600

// PlainText renders the HTML-flavoured reply markup as plain text for text
// messaging. Block elements become paragraph breaks and markdown bold markers
// are dropped.
func PlainText(markup string) string {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return strings.TrimSpace(markup)
	}
	var b strings.Builder
	writeText(doc, &b)

	text := strings.ReplaceAll(b.String(), "**", "")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return collapseBlankLines(strings.Join(lines, "\n"))
}

func writeText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "button":
			return
		case "br":
			b.WriteString("\n")
		case "p", "div", "h1", "h2", "h3", "h4", "li":
			b.WriteString("\n")
		}
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(c, b)
	}
	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "div", "h1", "h2", "h3", "h4", "li":
			b.WriteString("\n")
		}
	}
}

func collapseBlankLines(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// Segments splits text into bodies no longer than limit runes, preferring
// paragraph and then line boundaries.
func Segments(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var segments []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			segments = append(segments, s)
		}
		cur.Reset()
	}
	for _, para := range strings.Split(text, "\n\n") {
		for _, piece := range splitLong(para, limit) {
			sep := ""
			if cur.Len() > 0 {
				sep = "\n\n"
			}
			if utf8.RuneCountInString(cur.String())+len(sep)+utf8.RuneCountInString(piece) > limit {
				flush()
				sep = ""
			}
			cur.WriteString(sep)
			cur.WriteString(piece)
		}
	}
	flush()
	return segments
}

// splitLong breaks a paragraph longer than limit at line breaks, then at
// spaces, then anywhere.
func splitLong(para string, limit int) []string {
	if utf8.RuneCountInString(para) <= limit {
		return []string{para}
	}
	var out []string
	rest := []rune(para)
	for len(rest) > limit {
		cut := limit
		window := string(rest[:limit])
		if i := strings.LastIndex(window, "\n"); i > 0 {
			cut = utf8.RuneCountInString(window[:i])
		} else if i := strings.LastIndex(window, " "); i > 0 {
			cut = utf8.RuneCountInString(window[:i])
		}
		out = append(out, strings.TrimSpace(string(rest[:cut])))
		rest = []rune(strings.TrimLeft(string(rest[cut:]), " \n"))
	}
	if len(rest) > 0 {
		out = append(out, string(rest))
	}
	return out
}
