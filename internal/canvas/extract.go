// Package canvas pulls large HTML or code payloads out of assistant replies and stores
// them for the side-panel preview.
package canvas

import (
	"fmt"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/dram/internal/types"
)

var (
	htmlFence = regexp.MustCompile("(?is)```[ \\t]*html[ \\t]*\\n(.*?)```")
	bareHTML  = regexp.MustCompile(`(?is)(?:<!doctype\s+html[^>]*>\s*)?<html[\s>].*?</html>`)
	anyFence  = regexp.MustCompile("(?s)```[ \\t]*([^\\s`]*)[^\\n]*\\n(.*?)```")
	titleTag  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

// Block is one extracted payload and the byte range it occupied in the reply.
type Block struct {
	Type     types.CanvasType
	Language string
	Content  string
	Start    int
	End      int
}

// Extract finds the payload to move to the canvas. Priority: a fenced html block, a bare
// <html> document, then the longest fenced block of any language.
func Extract(text string) (Block, bool) {
	if m := htmlFence.FindStringSubmatchIndex(text); m != nil {
		return Block{
			Type:     types.CanvasHTML,
			Language: "html",
			Content:  strings.TrimSpace(text[m[2]:m[3]]),
			Start:    m[0],
			End:      m[1],
		}, true
	}

	if m := bareHTML.FindStringIndex(text); m != nil {
		return Block{
			Type:     types.CanvasHTML,
			Language: "html",
			Content:  strings.TrimSpace(text[m[0]:m[1]]),
			Start:    m[0],
			End:      m[1],
		}, true
	}

	var best []int
	for _, m := range anyFence.FindAllStringSubmatchIndex(text, -1) {
		if best == nil || m[5]-m[4] > best[5]-best[4] {
			best = m
		}
	}
	if best == nil {
		return Block{}, false
	}
	lang := strings.ToLower(text[best[2]:best[3]])
	b := Block{
		Type:     types.CanvasCode,
		Language: lang,
		Content:  strings.TrimRight(text[best[4]:best[5]], "\n"),
		Start:    best[0],
		End:      best[1],
	}
	if lang == "html" {
		b.Type = types.CanvasHTML
	}
	return b, true
}

// Stub is the short transcript line that replaces an extracted block.
func Stub(b Block) string {
	if b.Type == types.CanvasHTML {
		if title := Title(b.Content); title != "" {
			return fmt.Sprintf("[HTML preview %q opened in canvas]", title)
		}
		return "[HTML preview opened in canvas]"
	}
	lines := strings.Count(b.Content, "\n") + 1
	lang := b.Language
	if lang == "" {
		lang = "code"
	}
	return fmt.Sprintf("[%s snippet, %d lines, opened in canvas]", lang, lines)
}

// Replace returns text with b swapped for its stub.
func Replace(text string, b Block) string {
	if b.Start < 0 || b.End > len(text) || b.Start > b.End {
		return text
	}
	return strings.TrimSpace(text[:b.Start] + Stub(b) + text[b.End:])
}

// Title names an HTML document: its <title>, else its first heading.
func Title(html string) string {
	if m := titleTag.FindStringSubmatch(html); m != nil {
		if t := strings.Join(strings.Fields(m[1]), " "); t != "" {
			return t
		}
	}
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(md, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	return ""
}
