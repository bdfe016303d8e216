package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Provider identifies the family of system that sent a webhook.
type Provider string

const (
	ProviderPayments Provider = "payments"
	ProviderIdentity Provider = "identity"
	ProviderSMS      Provider = "sms"
	ProviderOther    Provider = "other"
)

// Providers returns every known provider, in a stable order.
func Providers() []Provider {
	return []Provider{ProviderPayments, ProviderIdentity, ProviderSMS, ProviderOther}
}

// ParseProvider converts a config or URL value to a Provider.
func ParseProvider(s string) (Provider, error) {
	for _, p := range Providers() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus converts a query or flag value to a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Key is the idempotency key of a delivery.
type Key struct {
	Provider Provider
	EventID  string
}

func (k Key) String() string {
	return string(k.Provider) + "/" + k.EventID
}

func (k Key) validate() error {
	if k.Provider == "" {
		return fmt.Errorf("provider is empty")
	}
	if k.EventID == "" {
		return fmt.Errorf("provider event id is empty")
	}
	return nil
}

// Event is one ledger row.
type Event struct {
	ID            string
	Provider      Provider
	EventID       string
	EventType     string
	Payload       []byte
	PayloadDigest string
	Status        Status
	Attempts      int
	CreatedAt     time.Time
	LastAttemptAt time.Time
	CompletedAt   *time.Time
	ErrorMessage  *string
}

func (e *Event) Key() Key {
	return Key{Provider: e.Provider, EventID: e.EventID}
}

// UnknownEventType is stored for deliveries that carry no event type. The
// type is informational and plays no part in the idempotency key.
const UnknownEventType = "unknown"

// ClaimRequest describes an inbound delivery that wants to run its handler.
// An empty EventType is stored as UnknownEventType.
type ClaimRequest struct {
	Key       Key
	EventType string
	Payload   []byte
}

// ClaimOutcome is what the store did with a ClaimRequest.
type ClaimOutcome int

const (
	// ClaimInserted means no row existed; a new one was created in processing.
	ClaimInserted ClaimOutcome = iota + 1
	// ClaimReclaimed means a pending or failed row moved back to processing.
	ClaimReclaimed
	// ClaimCompleted means the row is already completed; nothing changed.
	ClaimCompleted
	// ClaimInFlight means another attempt holds the row in processing.
	ClaimInFlight
)

func (o ClaimOutcome) String() string {
	switch o {
	case ClaimInserted:
		return "inserted"
	case ClaimReclaimed:
		return "reclaimed"
	case ClaimCompleted:
		return "completed"
	case ClaimInFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// ClaimResult carries the row as it stands after the claim.
type ClaimResult struct {
	Outcome ClaimOutcome
	Event   *Event
	// DigestMismatch is set when a redelivery carries a payload whose digest
	// differs from the one stored on first delivery.
	DigestMismatch bool
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Provider Provider
	Status   Status
	Limit    int
}

// Stats counts rows per status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

func (s Stats) Total() int {
	return s.Pending + s.Processing + s.Completed + s.Failed
}

var (
	ErrEventNotFound = errors.New("webhook event not found")
	// ErrStaleAttempt is returned when finalizing an attempt that no longer
	// owns the row (it was reclaimed or demoted in the meantime).
	ErrStaleAttempt = errors.New("webhook event attempt is no longer current")
)
