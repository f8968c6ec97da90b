package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/user/dram/internal/ratelimit"
	"github.com/user/dram/internal/state"
)

var (
	colorText   = lipgloss.Color("#FFFCF0")
	colorDim    = lipgloss.Color("#575653")
	colorAccent = lipgloss.Color("#3AA99F")
	colorGreen  = lipgloss.Color("#879A39")
	colorOrange = lipgloss.Color("#DA702C")
	colorRed    = lipgloss.Color("#D14D41")
	colorBlue   = lipgloss.Color("#4385BE")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorText).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	dimStyle    = lipgloss.NewStyle().Foreground(colorDim)
	costStyle   = lipgloss.NewStyle().Foreground(colorGreen)
	tokenStyle  = lipgloss.NewStyle().Foreground(colorBlue)
	warnStyle   = lipgloss.NewStyle().Foreground(colorOrange)
	errStyle    = lipgloss.NewStyle().Foreground(colorRed)
	activeStyle = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
)

func renderTitle(title string) string {
	return titleStyle.Render(title)
}

// formatTokens renders a token count with thousands separators.
func formatTokens(n int) string {
	return humanize.Comma(int64(n))
}

// formatCost renders a USD amount. Sub-cent costs keep enough digits to stay non-zero.
func formatCost(cost float64) string {
	if cost > 0 && cost < 0.01 {
		return "$" + humanize.FtoaWithDigits(cost, 6)
	}
	return "$" + humanize.CommafWithDigits(cost, 2)
}

// statusBadge describes a model's availability in one short cell.
func statusBadge(st ratelimit.Status, now time.Time) string {
	switch {
	case st.Cooldown > 0:
		badge := fmt.Sprintf("cooldown %ds", st.Cooldown)
		if r := ratelimit.FormatResetSummary(st.ResetAt, now); r != nil {
			badge += ", " + r.Relative
		}
		return errStyle.Render(badge)
	case st.Limit <= 0:
		badge := "exhausted"
		if r := ratelimit.FormatResetSummary(st.ResetAt, now); r != nil {
			badge += ", " + r.Relative + " (" + r.Absolute + ")"
		}
		return errStyle.Render(badge)
	case st.Limit < 25:
		return warnStyle.Render(fmt.Sprintf("%d%% left", st.Limit))
	default:
		return fmt.Sprintf("%d%% left", st.Limit)
	}
}

// renderRouting lists the primary, then the fallback chain in order, then any other
// known model, marking the active one.
func renderRouting(rs state.RoutingState, now time.Time) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Routing"))
	b.WriteString("  ")
	b.WriteString(dimStyle.Render("mode " + string(rs.Mode)))
	if rs.Mode == state.RoutingManual && rs.ManualTarget != "" {
		b.WriteString(dimStyle.Render(", pinned to " + rs.ManualTarget))
	}
	b.WriteString("\n")

	if rs.Primary.ID == "" && len(rs.Entries) == 0 {
		b.WriteString(dimStyle.Render("  no models known yet"))
		b.WriteString("\n")
		return b.String()
	}

	row := func(role string, e state.ModelEntry) {
		marker := "  "
		id := e.ID
		if e.ID != "" && e.ID == rs.CurrentActiveModelID {
			marker = activeStyle.Render("▶ ")
			id = activeStyle.Render(id)
		}
		fmt.Fprintf(&b, "%s%-9s %s  %s\n", marker, role, id, statusBadge(e.Status, now))
	}

	if rs.Primary.ID != "" {
		row("primary", rs.Primary)
	}
	seen := map[string]bool{rs.Primary.ID: true}
	for i, id := range rs.FallbackChain {
		if e, ok := rs.Entry(id); ok && !seen[e.ID] {
			seen[e.ID] = true
			row(fmt.Sprintf("fallback%d", i+1), e)
		}
	}
	if rs.LegacyFallback != "" {
		if e, ok := rs.Entry(rs.LegacyFallback); ok && !seen[e.ID] {
			seen[e.ID] = true
			row("legacy", e)
		}
	}
	for _, id := range rs.EntryIDs() {
		if !seen[id] {
			row("other", rs.Entries[id])
		}
	}
	return b.String()
}

// renderSessions summarizes each session's transcript and spend.
func renderSessions(v state.View) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Sessions"))
	b.WriteString("\n")
	for _, s := range v.Sessions {
		marker := "  "
		if s.ID == v.CurrentSessionID {
			marker = activeStyle.Render("▶ ")
		}
		fmt.Fprintf(&b, "%s%s  %s messages  %s in / %s out  %s  started %s\n",
			marker,
			s.Name,
			humanize.Comma(int64(len(s.Messages))),
			tokenStyle.Render(formatTokens(s.SessionInputTokens)),
			tokenStyle.Render(formatTokens(s.SessionOutputTokens)),
			costStyle.Render(formatCost(s.SessionCost)),
			humanize.Time(s.SessionStartedAt),
		)
		models := make([]string, 0, len(s.LocalModelUsage))
		for m := range s.LocalModelUsage {
			models = append(models, m)
		}
		sort.Strings(models)
		for _, m := range models {
			u := s.LocalModelUsage[m]
			fmt.Fprintf(&b, "    %s  %s  %s requests\n",
				dimStyle.Render(u.Provider),
				m,
				humanize.Comma(int64(u.Requests)),
			)
		}
	}
	return b.String()
}

// renderTranscript prints the current session's messages, one block per message.
func renderTranscript(s state.Session) string {
	var b strings.Builder
	for _, m := range s.Messages {
		b.WriteString(headerStyle.Render(string(m.Role)))
		if m.Streaming {
			b.WriteString(dimStyle.Render(" (streaming)"))
		}
		b.WriteString("\n")
		b.WriteString(m.Display())
		b.WriteString("\n\n")
	}
	return b.String()
}
