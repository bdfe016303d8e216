package watch

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hookledger/internal/audit"
	"github.com/mattjoyce/hookledger/internal/events"
)

func mustEvent(t *testing.T, id int64, typ string, data any) events.Event {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return events.Event{ID: id, Type: typ, At: time.Now(), Data: b}
}

func registered(t *testing.T, id int64, provider, eventID string) events.Event {
	return mustEvent(t, id, events.TypeRegistered, map[string]any{
		"provider": provider, "event_id": eventID, "event_type": "payment.succeeded", "attempts": 1,
	})
}

func completed(t *testing.T, id int64, provider, eventID string) events.Event {
	return mustEvent(t, id, events.TypeCompleted, audit.Entry{
		Actor:      audit.ActorWebhook,
		Action:     audit.ActionCompleted,
		ResourceID: eventID,
		Metadata:   map[string]any{"provider": provider, "attempt": 1},
	})
}

func TestApplyEventTracksLifecycle(t *testing.T) {
	m := *New("http://localhost:8081", "")

	m = m.applyEvent(registered(t, 1, "payments", "evt_1"))
	require.Contains(t, m.inflight, "payments/evt_1")
	assert.Equal(t, 1, m.providers["payments"].Received)

	m = m.applyEvent(completed(t, 2, "payments", "evt_1"))
	assert.NotContains(t, m.inflight, "payments/evt_1")
	assert.Equal(t, 1, m.providers["payments"].Completed)
	assert.Len(t, m.eventLog, 2)
	assert.Equal(t, int64(2), m.lastID)
}

func TestApplyEventIgnoresReplays(t *testing.T) {
	m := *New("http://localhost:8081", "")
	e := registered(t, 5, "sms", "SM1:delivered")

	m = m.applyEvent(e)
	m = m.applyEvent(e)

	assert.Equal(t, 1, m.providers["sms"].Received)
	assert.Len(t, m.eventLog, 1)
}

func TestApplyEventCountsOutcomes(t *testing.T) {
	m := *New("http://localhost:8081", "")
	data := map[string]any{"provider": "identity", "event_id": "evt_9", "attempts": 1}

	m = m.applyEvent(mustEvent(t, 1, events.TypeSkipped, data))
	m = m.applyEvent(mustEvent(t, 2, events.TypeRejected, data))
	m = m.applyEvent(mustEvent(t, 3, events.TypeDemoted, data))

	p := m.providers["identity"]
	assert.Equal(t, 2, p.Received)
	assert.Equal(t, 1, p.Skipped)
	assert.Equal(t, 1, p.Rejected)
	assert.Equal(t, 1, p.Demoted)
}

func TestEventLogIsBounded(t *testing.T) {
	m := *New("http://localhost:8081", "")
	for i := 1; i <= eventLogSize+10; i++ {
		m = m.applyEvent(registered(t, int64(i), "other", "evt"))
	}
	assert.Len(t, m.eventLog, eventLogSize)
	assert.Equal(t, int64(eventLogSize+10), m.eventLog[0].ID)
}

func TestParseDeliveryFromAuditEntry(t *testing.T) {
	e := mustEvent(t, 1, events.TypeFailed, audit.Entry{
		ResourceID: "evt_2",
		Metadata:   map[string]any{"provider": "payments", "event_type": "charge.failed", "attempt": 3, "error": "boom"},
	})
	d := parseDelivery(e)
	assert.Equal(t, "payments", d.Provider)
	assert.Equal(t, "evt_2", d.EventID)
	assert.Equal(t, "charge.failed", d.EventType)
	assert.Equal(t, 3, d.Attempts)
	assert.Equal(t, "boom", d.Error)
	assert.Contains(t, describe(e), "payments/evt_2")
}

func TestReadSSE(t *testing.T) {
	stream := "id: 3\nevent: ledger.registered\ndata: {\"provider\":\"payments\"}\n\n" +
		": keepalive\n\n" +
		"id: 4\nevent: audit.completed\ndata: {}\n\n"
	ch := make(chan events.Event, 4)

	last := readSSE(bufio.NewScanner(strings.NewReader(stream)), 0, ch)
	close(ch)

	var got []events.Event
	for e := range ch {
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, events.TypeRegistered, got[0].Type)
	assert.Equal(t, events.TypeCompleted, got[1].Type)
	assert.Equal(t, int64(4), last)
}

func TestClientFetchSendsBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/healthz":
			_, _ = w.Write([]byte(`{"status":"ok","uptime_seconds":42,"ledger":"ok"}`))
		case "/stats":
			_, _ = w.Write([]byte(`{"pending":1,"processing":2,"completed":3,"failed":4,"total":10}`))
		}
	}))
	defer srv.Close()

	c := Client{BaseURL: srv.URL, APIKey: "secret"}
	h, ok := c.fetchHealth().(healthMsg)
	require.True(t, ok)
	assert.Equal(t, int64(42), h.UptimeSeconds)

	s, ok := c.fetchStats().(statsMsg)
	require.True(t, ok)
	assert.Equal(t, 10, s.Total)

	_, isErr := Client{BaseURL: srv.URL}.fetchHealth().(errMsg)
	assert.True(t, isErr)
}

func TestViewRenders(t *testing.T) {
	m := *New("http://localhost:8081", "")
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = updated.(Model)
	m = m.applyEvent(registered(t, 1, "payments", "evt_1"))

	view := m.View()
	assert.Contains(t, view, "HOOKLEDGER WATCH")
	assert.Contains(t, view, "PROVIDERS")
	assert.Contains(t, view, "IN FLIGHT (1)")
	assert.Contains(t, view, "payments/evt_1")
}
