// Package audit records the terminal lifecycle transitions of webhook
// events for operators. Writes are fire-and-forget from the ledger's point
// of view: a failed audit write never changes ledger state.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/hookledger/internal/events"
)

const (
	ActorWebhook  = "webhook"
	ActorRecovery = "recovery"

	ActionCompleted = "completed"
	ActionFailed    = "failed"
)

// Entry is one audit record.
type Entry struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	ResourceID string         `json:"resource_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Sink accepts audit entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

var entryNamespace = uuid.MustParse("6f1d2c7e-9a43-4c59-8f0b-1b7e3f2d4a10")

// EntryID derives a stable id for the transition of one attempt, so a
// retried write of the same transition is stored once.
func EntryID(actor, action, provider, eventID string, attempt int) string {
	name := strings.Join([]string{actor, action, provider, eventID, strconv.Itoa(attempt)}, "\x00")
	return uuid.NewSHA1(entryNamespace, []byte(name)).String()
}

// HubSink publishes entries as audit.<action> events.
type HubSink struct {
	Publisher events.Publisher
}

func (s HubSink) Record(_ context.Context, e Entry) error {
	if s.Publisher == nil {
		return nil
	}
	s.Publisher.Publish("audit."+e.Action, e)
	return nil
}

// Multi fans an entry out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emitter writes to a Sink and logs, rather than returns, failures.
type Emitter struct {
	sink   Sink
	logger *slog.Logger
}

func NewEmitter(sink Sink, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{sink: sink, logger: logger}
}

func (em *Emitter) Emit(ctx context.Context, e Entry) {
	if em == nil || em.sink == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := em.sink.Record(ctx, e); err != nil {
		em.logger.Error("audit write failed",
			"audit_id", e.ID,
			"action", e.Action,
			"resource_id", e.ResourceID,
			"error", err,
		)
	}
}
