package recovery

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hookledger/internal/audit"
	"github.com/mattjoyce/hookledger/internal/events"
	"github.com/mattjoyce/hookledger/internal/ledger"
	"github.com/mattjoyce/hookledger/internal/recovery/mocks"
	"github.com/mattjoyce/hookledger/internal/storage"
)

func newTestSlogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestSweepDemotesAndAudits(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	hub := events.NewHub(16)
	logger, logBuf := newTestSlogger()
	s := New(mockLedger, audit.HubSink{Publisher: hub}, hub, Options{StaleAfter: 10 * time.Minute}, logger)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("nothing stale", func(t *testing.T) {
		mockLedger.EXPECT().DemoteStale(ctx, now.Add(-10*time.Minute), StaleMessage).Return(nil, nil)
		n, err := s.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Empty(t, hub.SnapshotSince(0))
	})

	t.Run("stale rows demoted", func(t *testing.T) {
		logBuf.Reset()
		stale := []*ledger.Event{
			{Provider: ledger.ProviderPayments, EventID: "evt_1", EventType: "payment.succeeded", Attempts: 1},
			{Provider: ledger.ProviderSMS, EventID: "SM2", EventType: "delivered", Attempts: 3},
		}
		mockLedger.EXPECT().DemoteStale(ctx, gomock.Any(), StaleMessage).Return(stale, nil)

		n, err := s.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Contains(t, logBuf.String(), "Demoted stale event")

		var types []string
		for _, ev := range hub.SnapshotSince(0) {
			types = append(types, ev.Type)
		}
		assert.Equal(t, []string{
			events.TypeFailed, events.TypeDemoted,
			events.TypeFailed, events.TypeDemoted,
		}, types)
	})

	t.Run("ledger error", func(t *testing.T) {
		mockLedger.EXPECT().DemoteStale(ctx, gomock.Any(), StaleMessage).Return(nil, errors.New("db error"))
		_, err := s.Sweep(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "demote stale events: db error")
	})
}

func TestDisabledSweeperDoesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No DemoteStale expectation: any call fails the test.
	s := New(mocks.NewMockLedgerService(ctrl), nil, nil, Options{}, nil)
	assert.False(t, s.Enabled())
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

func TestStartFailsWhenStartupSweepFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	mockLedger.EXPECT().DemoteStale(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("no such table"))

	s := New(mockLedger, nil, nil, Options{StaleAfter: time.Minute}, nil)
	err := s.Start(context.Background())
	assert.ErrorContains(t, err, "startup recovery sweep failed")
}

func TestLoopSweepsUntilStopped(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	swept := make(chan struct{}, 16)
	mockLedger.EXPECT().DemoteStale(gomock.Any(), gomock.Any(), StaleMessage).DoAndReturn(
		func(context.Context, time.Time, string) ([]*ledger.Event, error) {
			select {
			case swept <- struct{}{}:
			default:
			}
			return nil, nil
		}).MinTimes(2)

	s := New(mockLedger, nil, nil, Options{StaleAfter: time.Minute, Interval: 10 * time.Millisecond}, nil)
	require.NoError(t, s.Start(context.Background()))

	for range 2 {
		select {
		case <-swept:
		case <-time.After(5 * time.Second):
			t.Fatal("sweeper did not run")
		}
	}
	s.Stop()
	s.Stop()
}

func TestSweepAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := ledger.NewSQLStore(db, storage.DialectSQLite)
	sink := audit.NewSQLSink(db, storage.DialectSQLite)

	startedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return startedAt }
	key := ledger.Key{Provider: ledger.ProviderPayments, EventID: "evt_stuck"}
	_, err = store.Claim(ctx, ledger.ClaimRequest{Key: key, EventType: "payment.succeeded", Payload: []byte(`{}`)})
	require.NoError(t, err)

	s := New(store, sink, nil, Options{StaleAfter: 5 * time.Minute}, nil)

	s.now = func() time.Time { return startedAt.Add(4 * time.Minute) }
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "row is not stale yet")

	s.now = func() time.Time { return startedAt.Add(6 * time.Minute) }
	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ev, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, ev.Status)
	require.NotNil(t, ev.ErrorMessage)
	assert.Equal(t, StaleMessage, *ev.ErrorMessage)

	entries, err := sink.List(ctx, "evt_stuck", "payments", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActorRecovery, entries[0].Actor)
	assert.Equal(t, "stale", entries[0].Metadata["reason"])

	// The demoted row is retryable.
	res, err := store.Claim(ctx, ledger.ClaimRequest{Key: key, EventType: "payment.succeeded", Payload: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, ledger.ClaimReclaimed, res.Outcome)
	assert.Equal(t, 2, res.Event.Attempts)
}

func TestJitteredInterval(t *testing.T) {
	assert.Equal(t, time.Minute, jitteredInterval(time.Minute, 0))
	for range 100 {
		d := jitteredInterval(time.Minute, 10*time.Second)
		assert.GreaterOrEqual(t, d, time.Minute)
		assert.LessOrEqual(t, d, time.Minute+10*time.Second)
	}
}
