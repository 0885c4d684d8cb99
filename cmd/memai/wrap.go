package main

import "strings"

const wrapWidth = 80

// wrapText wraps text to the given width at word boundaries, preserving
// intentional blank lines between paragraphs. Words longer than the width
// are left intact.
func wrapText(text string, width int, indent string) string {
	if text == "" {
		return ""
	}
	if width <= 0 {
		width = wrapWidth
	}

	paragraphs := strings.Split(text, "\n")
	out := make([]string, 0, len(paragraphs))
	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			out = append(out, "")
			continue
		}
		out = append(out, wrapParagraph(para, width, indent))
	}
	return strings.Join(out, "\n")
}

func wrapParagraph(para string, width int, indent string) string {
	words := strings.Fields(para)

	var b strings.Builder
	lineLen := 0
	for _, word := range words {
		switch {
		case lineLen == 0:
			b.WriteString(indent)
			b.WriteString(word)
			lineLen = len(indent) + len(word)
		case lineLen+1+len(word) > width:
			b.WriteByte('\n')
			b.WriteString(indent)
			b.WriteString(word)
			lineLen = len(indent) + len(word)
		default:
			b.WriteByte(' ')
			b.WriteString(word)
			lineLen += 1 + len(word)
		}
	}
	return b.String()
}
