// Package idempotency decides, per delivery, whether the domain handler may
// run. It owns the decision only; the state transitions themselves are
// single atomic statements in the ledger store.
package idempotency

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/hookledger/internal/ledger"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/hookledger/internal/idempotency Store

// Store is the subset of the ledger the registrar and processor depend on.
type Store interface {
	Claim(ctx context.Context, req ledger.ClaimRequest) (*ledger.ClaimResult, error)
	Get(ctx context.Context, key ledger.Key) (*ledger.Event, error)
	Complete(ctx context.Context, key ledger.Key, attempt int) error
	Fail(ctx context.Context, key ledger.Key, attempt int, message string) error
}

// Decision is the registrar's verdict on a delivery.
type Decision int

const (
	// ProceedFresh: first delivery of this key; handler must run.
	ProceedFresh Decision = iota + 1
	// ProceedRetry: a pending or failed row was reclaimed; handler must run.
	ProceedRetry
	// AlreadyProcessed: the key is completed; skip all side effects.
	AlreadyProcessed
	// RejectConcurrent: another attempt holds the key in processing.
	RejectConcurrent
)

func (d Decision) String() string {
	switch d {
	case ProceedFresh:
		return "proceed_fresh"
	case ProceedRetry:
		return "proceed_retry"
	case AlreadyProcessed:
		return "already_processed"
	case RejectConcurrent:
		return "reject_concurrent"
	default:
		return "unknown"
	}
}

// Proceed reports whether the handler should be invoked.
func (d Decision) Proceed() bool {
	return d == ProceedFresh || d == ProceedRetry
}

// Registration is one verified delivery.
type Registration struct {
	Provider  ledger.Provider
	EventID   string
	EventType string
	Payload   []byte
}

func (r Registration) Key() ledger.Key {
	return ledger.Key{Provider: r.Provider, EventID: r.EventID}
}

// Outcome is a Decision plus the ledger row it was made against.
type Outcome struct {
	Decision Decision
	Event    *ledger.Event
}

// Attempt returns the attempt number a proceeding caller must finalize with.
func (o Outcome) Attempt() int {
	if o.Event == nil {
		return 0
	}
	return o.Event.Attempts
}

// StoreFailure wraps any error raised by the store while registering.
type StoreFailure struct {
	Op  string
	Err error
}

func (e *StoreFailure) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *StoreFailure) Unwrap() error {
	return e.Err
}

// Registrar maps ledger claim outcomes to decisions.
type Registrar struct {
	store  Store
	logger *slog.Logger
}

func NewRegistrar(store Store, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{store: store, logger: logger}
}

// Register claims the delivery's key. A non-nil error is always a
// *StoreFailure.
func (r *Registrar) Register(ctx context.Context, reg Registration) (Outcome, error) {
	res, err := r.store.Claim(ctx, ledger.ClaimRequest{
		Key:       reg.Key(),
		EventType: reg.EventType,
		Payload:   reg.Payload,
	})
	if err != nil {
		return Outcome{}, &StoreFailure{Op: "claim", Err: err}
	}

	out := Outcome{Event: res.Event}
	switch res.Outcome {
	case ledger.ClaimInserted:
		out.Decision = ProceedFresh
	case ledger.ClaimReclaimed:
		out.Decision = ProceedRetry
	case ledger.ClaimCompleted:
		out.Decision = AlreadyProcessed
	case ledger.ClaimInFlight:
		out.Decision = RejectConcurrent
	default:
		return Outcome{}, &StoreFailure{Op: "claim", Err: fmt.Errorf("unexpected claim outcome %s", res.Outcome)}
	}

	if res.DigestMismatch {
		r.logger.Warn("redelivery payload differs from stored payload",
			"provider", reg.Provider,
			"event_id", reg.EventID,
			"decision", out.Decision.String(),
		)
	}
	r.logger.Debug("registered delivery",
		"provider", reg.Provider,
		"event_id", reg.EventID,
		"event_type", reg.EventType,
		"decision", out.Decision.String(),
		"attempts", out.Attempt(),
	)
	return out, nil
}
