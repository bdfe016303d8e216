// Package recovery demotes ledger rows stuck in processing, so a crashed or
// abandoned attempt becomes retryable without operator action.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/mattjoyce/hookledger/internal/audit"
	"github.com/mattjoyce/hookledger/internal/events"
)

// StaleMessage is written to error_message of demoted rows.
const StaleMessage = "abandoned in processing; demoted by recovery sweep"

type Options struct {
	// StaleAfter is how long a row may stay processing. Zero disables the
	// sweeper.
	StaleAfter time.Duration
	Interval   time.Duration
	// Jitter adds up to this much random delay to each interval so replicas
	// sharing a database do not sweep in lockstep.
	Jitter time.Duration
}

// Sweeper periodically demotes stale processing rows to failed.
type Sweeper struct {
	ledger LedgerService
	audit  *audit.Emitter
	events events.Publisher
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(l LedgerService, sink audit.Sink, pub events.Publisher, opts Options, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	logger = logger.With("component", "recovery")
	return &Sweeper{
		ledger: l,
		audit:  audit.NewEmitter(sink, logger),
		events: pub,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		stopCh: make(chan struct{}),
	}
}

func (s *Sweeper) Enabled() bool {
	return s.opts.StaleAfter > 0
}

// Start runs one sweep immediately and then starts the ticker loop. It is a
// no-op when the sweeper is disabled.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.Enabled() {
		s.logger.Info("Recovery sweeper disabled")
		return nil
	}
	s.logger.Info("Starting recovery sweeper", "stale_after", s.opts.StaleAfter, "interval", s.opts.Interval)

	if _, err := s.Sweep(ctx); err != nil {
		return fmt.Errorf("startup recovery sweep failed: %w", err)
	}

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop waits for the loop to exit. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		timer := time.NewTimer(jitteredInterval(s.opts.Interval, s.opts.Jitter))
		select {
		case <-timer.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("recovery sweep failed", "error", err)
			}
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// Sweep demotes every row that has been processing longer than StaleAfter
// and returns how many were demoted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.opts.StaleAfter)
	demoted, err := s.ledger.DemoteStale(ctx, cutoff, StaleMessage)
	if err != nil {
		return 0, fmt.Errorf("demote stale events: %w", err)
	}

	for _, ev := range demoted {
		s.logger.Warn("Demoted stale event",
			"provider", ev.Provider,
			"event_id", ev.EventID,
			"attempts", ev.Attempts,
			"last_attempt_at", ev.LastAttemptAt,
		)
		s.audit.Emit(ctx, audit.Entry{
			ID:         audit.EntryID(audit.ActorRecovery, audit.ActionFailed, string(ev.Provider), ev.EventID, ev.Attempts),
			Actor:      audit.ActorRecovery,
			Action:     audit.ActionFailed,
			ResourceID: ev.EventID,
			Metadata: map[string]any{
				"provider":   string(ev.Provider),
				"event_type": ev.EventType,
				"attempt":    ev.Attempts,
				"reason":     "stale",
			},
		})
		if s.events != nil {
			s.events.Publish(events.TypeDemoted, map[string]any{
				"provider": string(ev.Provider),
				"event_id": ev.EventID,
				"attempts": ev.Attempts,
			})
		}
	}
	if len(demoted) > 0 {
		s.logger.Info("Recovery sweep complete", "demoted", len(demoted))
	}
	return len(demoted), nil
}

func jitteredInterval(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(jitter)+1))
}
