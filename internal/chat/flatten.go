package chat

import "strings"

// FlattenContent reduces the content shapes the backend sends to one string: a plain
// string, a list of blocks carrying text or content, or an object nesting either under
// delta, message, text or content. Anything else flattens to "".
func FlattenContent(v any) string {
	return flatten(v, 0)
}

// maxDepth bounds recursion on hostile payloads.
const maxDepth = 8

func flatten(v any, depth int) string {
	if depth > maxDepth {
		return ""
	}
	switch c := v.(type) {
	case string:
		return c
	case []any:
		var b strings.Builder
		for _, block := range c {
			if obj, ok := block.(map[string]any); ok && isThinkingBlock(obj) {
				continue
			}
			b.WriteString(blockText(block, depth+1))
		}
		return b.String()
	case map[string]any:
		for _, key := range []string{"delta", "message", "text", "content"} {
			if inner, ok := c[key]; ok && inner != nil {
				if s := flatten(inner, depth+1); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func blockText(block any, depth int) string {
	switch b := block.(type) {
	case string:
		return b
	case map[string]any:
		if s, ok := b["text"].(string); ok {
			return s
		}
		if inner, ok := b["content"]; ok {
			return flatten(inner, depth)
		}
	}
	return ""
}

// ThinkingContent collects the text of thinking blocks in a content list.
func ThinkingContent(v any) string {
	var blocks []any
	switch c := v.(type) {
	case []any:
		blocks = c
	case map[string]any:
		inner, _ := c["content"].([]any)
		blocks = inner
	}
	var b strings.Builder
	for _, block := range blocks {
		obj, ok := block.(map[string]any)
		if !ok || !isThinkingBlock(obj) {
			continue
		}
		for _, key := range []string{"thinking", "text"} {
			if s, ok := obj[key].(string); ok {
				b.WriteString(s)
				break
			}
		}
	}
	return b.String()
}

func isThinkingBlock(obj map[string]any) bool {
	t, _ := obj["type"].(string)
	return t == "thinking" || t == "reasoning"
}

// mergeChunk appends chunk to existing. A chunk that repeats the whole existing text as
// its prefix is a resend, so only its new suffix is added.
func mergeChunk(existing, chunk string) (merged, added string) {
	if existing == "" {
		return chunk, chunk
	}
	if strings.HasPrefix(chunk, existing) {
		return chunk, chunk[len(existing):]
	}
	return existing + chunk, chunk
}
