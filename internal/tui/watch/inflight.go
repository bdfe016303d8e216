package watch

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hookledger/internal/events"
)

// InFlight is a delivery that has been registered but not yet finalized.
type InFlight struct {
	Provider  string
	EventID   string
	EventType string
	Attempt   int
	Since     time.Time
}

// updateInFlight adds registered deliveries and removes finalized or
// demoted ones.
func updateInFlight(inflight map[string]*InFlight, e events.Event) {
	d := parseDelivery(e)
	if d.EventID == "" {
		return
	}
	switch e.Type {
	case events.TypeRegistered:
		inflight[d.key()] = &InFlight{
			Provider:  d.Provider,
			EventID:   d.EventID,
			EventType: d.EventType,
			Attempt:   d.Attempts,
			Since:     e.At,
		}
	case events.TypeCompleted, events.TypeFailed, events.TypeDemoted:
		delete(inflight, d.key())
	}
}

func newInFlightTable() table.Model {
	columns := []table.Column{
		{Title: "Provider", Width: 10},
		{Title: "Event ID", Width: 32},
		{Title: "Type", Width: 24},
		{Title: "Attempt", Width: 7},
		{Title: "Age", Width: 8},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(6),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func inFlightRows(inflight map[string]*InFlight, now time.Time) []table.Row {
	items := make([]*InFlight, 0, len(inflight))
	for _, f := range inflight {
		items = append(items, f)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Since.Before(items[j].Since) })

	rows := make([]table.Row, 0, len(items))
	for _, f := range items {
		rows = append(rows, table.Row{
			f.Provider,
			f.EventID,
			f.EventType,
			fmt.Sprintf("%d", f.Attempt),
			formatDuration(now.Sub(f.Since)),
		})
	}
	return rows
}

func renderInFlight(t table.Model, count int, theme Theme, width int) string {
	innerWidth := width - 4
	title := theme.Title.Render(fmt.Sprintf("IN FLIGHT (%d)", count))
	if count == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			title,
			theme.Dim.Render("  Nothing processing"),
		))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, title, t.View()))
}
