// Package tui holds terminal rendering shared by the hookledger CLI. The
// live dashboard lives in the watch subpackage.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mattjoyce/hookledger/internal/audit"
	"github.com/mattjoyce/hookledger/internal/ledger"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Padding(0, 1)
	cellStyle      = lipgloss.NewStyle().Padding(0, 1)
	completedStyle = cellStyle.Foreground(lipgloss.Color("#00FF00"))
	runningStyle   = cellStyle.Foreground(lipgloss.Color("#FFFF00"))
	failedStyle    = cellStyle.Foreground(lipgloss.Color("#FF0000"))
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Width(16)
	borderColor    = lipgloss.Color("#874BFD")
)

const timeLayout = "2006-01-02 15:04:05"

func statusStyle(s ledger.Status) lipgloss.Style {
	switch s {
	case ledger.StatusCompleted:
		return completedStyle
	case ledger.StatusProcessing, ledger.StatusPending:
		return runningStyle
	case ledger.StatusFailed:
		return failedStyle
	}
	return cellStyle
}

// EventsTable renders ledger rows as a bordered table, newest first as
// given.
func EventsTable(rows []*ledger.Event) string {
	if len(rows) == 0 {
		return "No events.\n"
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
		Headers("PROVIDER", "EVENT ID", "TYPE", "STATUS", "ATTEMPTS", "LAST ATTEMPT").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 3 && row >= 0 && row < len(rows) {
				return statusStyle(rows[row].Status)
			}
			return cellStyle
		})

	for _, e := range rows {
		t.Row(
			string(e.Provider),
			e.EventID,
			e.EventType,
			string(e.Status),
			fmt.Sprintf("%d", e.Attempts),
			e.LastAttemptAt.Local().Format(timeLayout),
		)
	}
	return t.Render() + "\n"
}

// EventDetail renders one ledger row and its audit trail.
func EventDetail(e *ledger.Event, trail []audit.Entry) string {
	var b strings.Builder
	field := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	field("provider", string(e.Provider))
	field("event id", e.EventID)
	field("event type", e.EventType)
	field("status", statusStyle(e.Status).UnsetPadding().Render(string(e.Status)))
	field("attempts", fmt.Sprintf("%d", e.Attempts))
	field("payload", fmt.Sprintf("%d bytes, blake3 %s", len(e.Payload), e.PayloadDigest))
	field("created", formatTime(e.CreatedAt))
	field("last attempt", formatTime(e.LastAttemptAt))
	if e.CompletedAt != nil {
		field("completed", formatTime(*e.CompletedAt))
	}
	if e.ErrorMessage != nil {
		field("error", failedStyle.UnsetPadding().Render(*e.ErrorMessage))
	}

	if len(trail) == 0 {
		return b.String()
	}
	b.WriteString("\n")

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
		Headers("AT", "ACTOR", "ACTION", "ATTEMPT", "DETAIL").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, a := range trail {
		t.Row(formatTime(a.CreatedAt), a.Actor, a.Action, metaString(a.Metadata, "attempt"), metaString(a.Metadata, "error"))
	}
	b.WriteString(t.Render())
	b.WriteString("\n")
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func metaString(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
