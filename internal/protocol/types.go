package protocol

import (
	"encoding/json"
	"time"
)

// Version is the only envelope version handlers are spoken to with.
const Version = 1

// Request is the envelope written to a handler command's stdin.
type Request struct {
	Protocol  int    `json:"protocol"`
	Provider  string `json:"provider"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Attempt   int    `json:"attempt"`
	Retry     bool   `json:"retry"`
	// Payload carries JSON bodies verbatim; Body carries anything else
	// (form-encoded sms callbacks) as text.
	Payload    json.RawMessage `json:"payload,omitempty"`
	Body       string          `json:"body,omitempty"`
	DeadlineAt time.Time       `json:"deadline_at,omitempty"`
}

// NewRequest builds a Request, placing payload in Payload when it is valid
// JSON and in Body otherwise.
func NewRequest(provider, eventID, eventType string, attempt int, retry bool, payload []byte) *Request {
	req := &Request{
		Protocol:  Version,
		Provider:  provider,
		EventID:   eventID,
		EventType: eventType,
		Attempt:   attempt,
		Retry:     retry,
	}
	if json.Valid(payload) {
		req.Payload = json.RawMessage(payload)
	} else {
		req.Body = string(payload)
	}
	return req
}

// Response is the optional envelope a handler prints on stdout. A handler
// that exits 0 without output is treated as {"status":"ok"}.
type Response struct {
	Status string         `json:"status"` // ok | error
	Error  string         `json:"error,omitempty"`
	Result map[string]any `json:"result,omitempty"`
	Logs   []LogEntry     `json:"logs,omitempty"`
}

// LogEntry represents a log message from a handler.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}

func (r *Response) OK() bool {
	return r.Status == "ok"
}
