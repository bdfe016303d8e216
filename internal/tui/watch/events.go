package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hookledger/internal/events"
)

// delivery is the subset of event data the TUI cares about. Ledger events
// carry provider and event_id at the top level; audit entries carry them as
// resource_id and metadata.
type delivery struct {
	Provider  string
	EventID   string
	EventType string
	Attempts  int
	Decision  string
	Error     string
}

func parseDelivery(e events.Event) delivery {
	var raw struct {
		Provider   string         `json:"provider"`
		EventID    string         `json:"event_id"`
		EventType  string         `json:"event_type"`
		Attempts   int            `json:"attempts"`
		Decision   string         `json:"decision"`
		ResourceID string         `json:"resource_id"`
		Metadata   map[string]any `json:"metadata"`
	}
	_ = json.Unmarshal(e.Data, &raw)

	d := delivery{
		Provider:  raw.Provider,
		EventID:   raw.EventID,
		EventType: raw.EventType,
		Attempts:  raw.Attempts,
		Decision:  raw.Decision,
	}
	if d.EventID == "" {
		d.EventID = raw.ResourceID
	}
	if raw.Metadata != nil {
		if d.Provider == "" {
			d.Provider, _ = raw.Metadata["provider"].(string)
		}
		if d.EventType == "" {
			d.EventType, _ = raw.Metadata["event_type"].(string)
		}
		if n, ok := raw.Metadata["attempt"].(float64); ok && d.Attempts == 0 {
			d.Attempts = int(n)
		}
		d.Error, _ = raw.Metadata["error"].(string)
	}
	return d
}

func (d delivery) key() string {
	return d.Provider + "/" + d.EventID
}

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for deliveries..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	_, action, _ := strings.Cut(e.Type, ".")
	typeName := theme.StatusStyle(action).Render(fmt.Sprintf("%-20s", e.Type))

	return fmt.Sprintf("%s %s %s", ts, typeName, describe(e))
}

func describe(e events.Event) string {
	d := parseDelivery(e)
	if d.EventID == "" {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	parts := []string{d.key()}
	if d.EventType != "" {
		parts = append(parts, d.EventType)
	}
	if d.Attempts > 0 {
		parts = append(parts, fmt.Sprintf("#%d", d.Attempts))
	}
	if d.Error != "" {
		msg := d.Error
		if len(msg) > 40 {
			msg = msg[:40] + "..."
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, " ")
}
