package api

import (
	"encoding/json"
	"time"

	"github.com/mattjoyce/hookledger/internal/audit"
	"github.com/mattjoyce/hookledger/internal/ledger"
)

// EventSummary is one ledger row without its payload.
type EventSummary struct {
	ID            string     `json:"id"`
	Provider      string     `json:"provider"`
	EventID       string     `json:"event_id"`
	EventType     string     `json:"event_type"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	PayloadDigest string     `json:"payload_digest"`
	PayloadBytes  int        `json:"payload_bytes"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
}

// EventDetail is returned by GET /events/{provider}/{eventID}. Payload is
// inlined when it is JSON; other bodies are returned as text in Body.
type EventDetail struct {
	EventSummary
	Payload json.RawMessage `json:"payload,omitempty"`
	Body    string          `json:"body,omitempty"`
	Audit   []audit.Entry   `json:"audit"`
}

// EventListResponse is returned by GET /events.
type EventListResponse struct {
	Events []EventSummary `json:"events"`
	Count  int            `json:"count"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	ledger.Stats
	Total int `json:"total"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Ledger        string `json:"ledger"`
	Subscribers   int    `json:"stream_subscribers"`
}

// Summarize converts a ledger row to its wire form without the payload.
func Summarize(ev *ledger.Event) EventSummary {
	return EventSummary{
		ID:            ev.ID,
		Provider:      string(ev.Provider),
		EventID:       ev.EventID,
		EventType:     ev.EventType,
		Status:        string(ev.Status),
		Attempts:      ev.Attempts,
		PayloadDigest: ev.PayloadDigest,
		PayloadBytes:  len(ev.Payload),
		CreatedAt:     ev.CreatedAt,
		LastAttemptAt: ev.LastAttemptAt,
		CompletedAt:   ev.CompletedAt,
		ErrorMessage:  ev.ErrorMessage,
	}
}

// Detail converts a ledger row and its audit trail to the wire form. JSON
// payloads are embedded as-is; anything else is returned as text.
func Detail(ev *ledger.Event, trail []audit.Entry) EventDetail {
	detail := EventDetail{EventSummary: Summarize(ev), Audit: trail}
	if json.Valid(ev.Payload) {
		detail.Payload = json.RawMessage(ev.Payload)
	} else {
		detail.Body = string(ev.Payload)
	}
	if detail.Audit == nil {
		detail.Audit = []audit.Entry{}
	}
	return detail
}
