package watch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hookledger/internal/events"
)

// ProviderState counts outcomes seen on the stream for one provider since
// the TUI started.
type ProviderState struct {
	Name      string
	Received  int
	Completed int
	Failed    int
	Skipped   int
	Rejected  int
	Demoted   int
}

func updateProviderState(providers map[string]*ProviderState, e events.Event) {
	d := parseDelivery(e)
	if d.Provider == "" {
		return
	}
	p, ok := providers[d.Provider]
	if !ok {
		p = &ProviderState{Name: d.Provider}
		providers[d.Provider] = p
	}

	switch e.Type {
	case events.TypeRegistered:
		p.Received++
	case events.TypeSkipped:
		p.Received++
		p.Skipped++
	case events.TypeRejected:
		p.Received++
		p.Rejected++
	case events.TypeCompleted:
		p.Completed++
	case events.TypeFailed:
		p.Failed++
	case events.TypeDemoted:
		p.Demoted++
	}
}

func sortedProviders(providers map[string]*ProviderState) []*ProviderState {
	out := make([]*ProviderState, 0, len(providers))
	for _, p := range providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func renderProviders(providers map[string]*ProviderState, selected int, theme Theme, width int) string {
	innerWidth := width - 4

	if len(providers) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("PROVIDERS"),
			theme.Dim.Render("  No deliveries yet"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	lines := []string{theme.Dim.Render(fmt.Sprintf("  %-10s %8s %8s %8s %8s %8s %8s",
		"", "recv", "ok", "failed", "skipped", "rejected", "demoted"))}
	for i, p := range sortedProviders(providers) {
		cursor := "  "
		if i == selected {
			cursor = theme.Highlight.Render("▸ ")
		}
		lines = append(lines, fmt.Sprintf("%s%-10s %8d %s %s %8d %s %s",
			cursor, p.Name, p.Received,
			theme.StatusOK.Render(fmt.Sprintf("%8d", p.Completed)),
			countStyle(theme, p.Failed).Render(fmt.Sprintf("%8d", p.Failed)),
			p.Skipped,
			countStyle(theme, p.Rejected).Render(fmt.Sprintf("%8d", p.Rejected)),
			countStyle(theme, p.Demoted).Render(fmt.Sprintf("%8d", p.Demoted)),
		))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("PROVIDERS"),
		strings.Join(lines, "\n"),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func countStyle(theme Theme, n int) lipgloss.Style {
	if n > 0 {
		return theme.StatusFailed
	}
	return theme.Dim
}
