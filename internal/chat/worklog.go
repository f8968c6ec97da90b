package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// commandPreviewLimit is where tool command previews are cut.
const commandPreviewLimit = 140

var phases = map[string]bool{
	"start":     true,
	"plan":      true,
	"search":    true,
	"retrieve":  true,
	"draft":     true,
	"fallback":  true,
	"error":     true,
	"end":       true,
	"tool_call": true,
}

func isPhase(s string) bool {
	return phases[s]
}

// appendWorklog adds line to the run's worklog unless it repeats the previous entry.
// The log keeps only its last limit bytes, cut at a rune boundary.
func appendWorklog(r *run, line string, limit int) bool {
	line = strings.TrimSpace(line)
	if line == "" || line == r.lastEntry {
		return false
	}
	r.lastEntry = line
	if r.worklog != "" {
		r.worklog += "\n"
	}
	r.worklog += line
	r.worklog = trimFront(r.worklog, limit)
	return true
}

func trimFront(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := len(s) - limit
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

// phaseLine renders a lifecycle phase as a worklog line.
func phaseLine(phase string, data map[string]any) string {
	detail := stringField(data, "text", "detail", "message", "query", "url", "source", "title")
	switch phase {
	case "start":
		return "Run started"
	case "plan":
		return withDetail("Planning", detail)
	case "search":
		return withDetail("Searching", stringField(data, "query", "text", "detail"))
	case "retrieve":
		return withDetail("Reading", stringField(data, "url", "source", "title", "text", "detail"))
	case "draft":
		return withDetail("Drafting", detail)
	case "fallback":
		return withDetail("Falling back to", fallbackModel(data))
	case "error":
		return withDetail("Error", stringField(data, "error", "errorMessage", "message"))
	case "end":
		return "Run finished"
	case "tool_call":
		return toolLine(data)
	}
	return ""
}

func withDetail(label, detail string) string {
	if detail == "" {
		return label
	}
	if strings.HasSuffix(label, " to") {
		return label + " " + detail
	}
	return label + ": " + detail
}

// toolLine renders `[tool:<name>] <status>` with an optional command preview below.
func toolLine(data map[string]any) string {
	name := stringField(data, "name", "tool", "toolName")
	if name == "" {
		name = "unknown"
	}
	status := stringField(data, "status", "phase", "state")
	if status == "" {
		status = "call"
	}
	line := fmt.Sprintf("[tool:%s] %s", name, status)
	if cmd := toolCommand(data); cmd != "" {
		line += "\n" + preview(cmd, commandPreviewLimit)
	}
	return line
}

func toolCommand(data map[string]any) string {
	if cmd := stringField(data, "command", "cmd"); cmd != "" {
		return cmd
	}
	for _, key := range []string{"args", "input", "arguments", "params"} {
		if cmd := stringField(objectField(data, key), "command", "cmd", "query", "url", "path"); cmd != "" {
			return cmd
		}
	}
	return ""
}

// preview collapses whitespace and ellipsizes text longer than limit runes.
func preview(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "…"
}

func fallbackModel(data map[string]any) string {
	return stringField(data, "model", "toModel", "to", "fallbackModel", "nextModel")
}
