// Package processor wraps a domain handler so that it runs at most once per
// (provider, event id) to completion: register, invoke, finalize, audit.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mattjoyce/hookledger/internal/audit"
	"github.com/mattjoyce/hookledger/internal/events"
	"github.com/mattjoyce/hookledger/internal/idempotency"
	"github.com/mattjoyce/hookledger/internal/ledger"
)

const (
	tracerName             = "github.com/mattjoyce/hookledger/processor"
	defaultFinalizeTimeout = 10 * time.Second
)

// Delivery is a verified webhook ready for processing.
type Delivery struct {
	Provider  ledger.Provider
	EventID   string
	EventType string
	Payload   []byte
}

func (d Delivery) Key() ledger.Key {
	return ledger.Key{Provider: d.Provider, EventID: d.EventID}
}

// Attempt is passed to the handler on each invocation.
type Attempt struct {
	Delivery
	Number int
	Retry  bool
}

// Handler performs the domain side effect for one attempt.
type Handler[T any] func(ctx context.Context, a Attempt) (T, error)

// Result is the outcome of ProcessIdempotent. Value is only set when the
// handler ran and succeeded.
type Result[T any] struct {
	Value    T
	Skipped  bool
	Attempts int
}

type Options struct {
	Audit  audit.Sink
	Events events.Publisher
	Logger *slog.Logger
	// HandlerTimeout bounds each handler invocation. Zero means no bound
	// beyond the caller's context.
	HandlerTimeout time.Duration
	// FinalizeTimeout bounds the completed/failed write, which runs detached
	// from the caller's cancellation.
	FinalizeTimeout time.Duration
}

// Processor holds the collaborators shared by every delivery. It keeps no
// per-event state between calls.
type Processor struct {
	store           idempotency.Store
	registrar       *idempotency.Registrar
	audit           *audit.Emitter
	events          events.Publisher
	tracer          trace.Tracer
	logger          *slog.Logger
	handlerTimeout  time.Duration
	finalizeTimeout time.Duration
}

func New(store idempotency.Store, opts Options) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	finalize := opts.FinalizeTimeout
	if finalize <= 0 {
		finalize = defaultFinalizeTimeout
	}
	return &Processor{
		store:           store,
		registrar:       idempotency.NewRegistrar(store, logger),
		audit:           audit.NewEmitter(opts.Audit, logger),
		events:          opts.Events,
		tracer:          otel.Tracer(tracerName),
		logger:          logger,
		handlerTimeout:  opts.HandlerTimeout,
		finalizeTimeout: finalize,
	}
}

// ProcessIdempotent registers d and invokes handler zero or one times.
//
//   - Completed duplicate: Result.Skipped, nil error, handler not called.
//   - In-flight duplicate: ErrConcurrentInFlight, handler not called.
//   - Handler error or panic: row marked failed, *HandlerError.
//   - Ledger error: *StoreError. If completion fails after the handler
//     succeeded the row stays processing until recovery demotes it.
func ProcessIdempotent[T any](ctx context.Context, p *Processor, d Delivery, handler Handler[T]) (Result[T], error) {
	var res Result[T]

	ctx, span := p.tracer.Start(ctx, "hookledger.process",
		trace.WithAttributes(
			attribute.String("hookledger.provider", string(d.Provider)),
			attribute.String("hookledger.event_id", d.EventID),
			attribute.String("hookledger.event_type", d.EventType),
		),
	)
	defer span.End()

	logger := p.logger.With("provider", d.Provider, "event_id", d.EventID, "event_type", d.EventType)

	out, err := p.registrar.Register(ctx, idempotency.Registration{
		Provider:  d.Provider,
		EventID:   d.EventID,
		EventType: d.EventType,
		Payload:   d.Payload,
	})
	if err != nil {
		logger.Error("registration failed", "error", err)
		return res, p.endSpan(span, &StoreError{Op: "register", Err: err})
	}
	res.Attempts = out.Attempt()
	span.SetAttributes(
		attribute.String("hookledger.decision", out.Decision.String()),
		attribute.Int("hookledger.attempt", res.Attempts),
	)

	switch out.Decision {
	case idempotency.AlreadyProcessed:
		logger.Info("duplicate delivery skipped", "attempts", res.Attempts)
		p.publish(events.TypeSkipped, d, res.Attempts, nil)
		res.Skipped = true
		return res, nil
	case idempotency.RejectConcurrent:
		logger.Warn("delivery rejected, event in flight", "attempts", res.Attempts)
		p.publish(events.TypeRejected, d, res.Attempts, nil)
		return res, p.endSpan(span, ErrConcurrentInFlight)
	}

	p.publish(events.TypeRegistered, d, res.Attempts, map[string]any{"decision": out.Decision.String()})

	attempt := Attempt{Delivery: d, Number: res.Attempts, Retry: out.Decision == idempotency.ProceedRetry}
	value, handlerErr := invoke(ctx, logger, p.handlerTimeout, handler, attempt)

	// Finalize even if the caller has gone away.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.finalizeTimeout)
	defer cancel()

	key := d.Key()
	if handlerErr != nil {
		msg := handlerErr.Error()
		if err := p.store.Fail(fctx, key, attempt.Number, msg); err != nil {
			logger.Error("failed to mark event failed", "attempt", attempt.Number, "error", err)
			return res, p.endSpan(span, &StoreError{Op: "fail", Err: err})
		}
		logger.Warn("handler failed", "attempt", attempt.Number, "error", msg)
		p.record(fctx, audit.ActionFailed, d, attempt.Number, map[string]any{"error": msg})
		return res, p.endSpan(span, &HandlerError{Key: key, Attempt: attempt.Number, Err: handlerErr})
	}

	if err := p.store.Complete(fctx, key, attempt.Number); err != nil {
		logger.Error("handler succeeded but completion was not recorded; event left processing",
			"attempt", attempt.Number, "error", err)
		return res, p.endSpan(span, &StoreError{Op: "complete", Err: err})
	}
	logger.Info("event completed", "attempt", attempt.Number)
	p.record(fctx, audit.ActionCompleted, d, attempt.Number, nil)

	res.Value = value
	return res, nil
}

// invoke runs handler, converting a panic into an error.
func invoke[T any](ctx context.Context, logger *slog.Logger, timeout time.Duration, handler Handler[T], a Attempt) (value T, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", "attempt", a.Number, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, a)
}

func (p *Processor) record(ctx context.Context, action string, d Delivery, attempt int, extra map[string]any) {
	meta := map[string]any{
		"provider":   string(d.Provider),
		"event_type": d.EventType,
		"attempt":    attempt,
	}
	for k, v := range extra {
		meta[k] = v
	}
	p.audit.Emit(ctx, audit.Entry{
		ID:         audit.EntryID(audit.ActorWebhook, action, string(d.Provider), d.EventID, attempt),
		Actor:      audit.ActorWebhook,
		Action:     action,
		ResourceID: d.EventID,
		Metadata:   meta,
	})
}

func (p *Processor) publish(eventType string, d Delivery, attempts int, extra map[string]any) {
	if p.events == nil {
		return
	}
	data := map[string]any{
		"provider":   string(d.Provider),
		"event_id":   d.EventID,
		"event_type": d.EventType,
		"attempts":   attempts,
	}
	for k, v := range extra {
		data[k] = v
	}
	p.events.Publish(eventType, data)
}

func (p *Processor) endSpan(span trace.Span, err error) error {
	span.SetAttributes(attribute.String("hookledger.outcome", Kind(err)))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
