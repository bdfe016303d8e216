package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hookledger/internal/events"
)

const eventLogSize = 50

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	client Client

	width  int
	height int

	health    HealthState
	providers map[string]*ProviderState
	inflight  map[string]*InFlight
	eventLog  []events.Event
	lastID    int64

	ticker Ticker
	pulse  Pulse
	table  table.Model

	theme            Theme
	selectedProvider int

	hubEvents chan events.Event

	lastError string
}

// New creates a watch model for the ops API at apiURL.
func New(apiURL, apiKey string) *Model {
	return &Model{
		client:    Client{BaseURL: apiURL, APIKey: apiKey},
		providers: make(map[string]*ProviderState),
		inflight:  make(map[string]*InFlight),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		table:     newInFlightTable(),
		theme:     NewDefaultTheme(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.client.streamEvents(0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.client.fetchHealth,
		m.client.fetchStats,
		tick(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "left", "h":
			if m.selectedProvider > 0 {
				m.selectedProvider--
			}
		case "right", "l":
			if m.selectedProvider < len(m.providers)-1 {
				m.selectedProvider++
			}
		default:
			var cmd tea.Cmd
			m.table, cmd = m.table.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		now := time.Time(msg)
		m.ticker.Tick()
		m.pulse.Decay(now)
		m.table.SetRows(inFlightRows(m.inflight, now))
		return m, tick()

	case eventMsg:
		e := events.Event(msg)
		m = m.applyEvent(e)
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Ledger = msg.Ledger
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return m.client.fetchHealth() })

	case statsMsg:
		m.health.Stats = msg
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return m.client.fetchStats() })

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "stream disconnected, reconnecting..."
		lastID := msg.lastID
		if m.lastID > lastID {
			lastID = m.lastID
		}
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{lastID: lastID} })

	case reconnectMsg:
		return m, m.client.streamEvents(msg.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return m.client.fetchHealth() })
	}

	return m, nil
}

// applyEvent folds one stream event into the model state. Events at or
// below lastID are replays already seen before a reconnect.
func (m Model) applyEvent(e events.Event) Model {
	if e.ID != 0 && e.ID <= m.lastID {
		return m
	}
	if e.ID > m.lastID {
		m.lastID = e.ID
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > eventLogSize {
		m.eventLog = m.eventLog[:eventLogSize]
	}

	m.pulse.OnEvent(e.At)
	updateProviderState(m.providers, e)
	updateInFlight(m.inflight, e)
	m.table.SetRows(inFlightRows(m.inflight, time.Now()))

	m.health.Connected = true
	m.lastError = ""
	return m
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to hookledger..."
	}

	parts := []string{
		renderHeader(m.health, m.ticker, m.pulse, m.theme, m.width),
		renderProviders(m.providers, m.selectedProvider, m.theme, m.width),
		renderInFlight(m.table, len(m.inflight), m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [←/→] Providers • [↑/↓] In flight"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
