package idempotency

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hookledger/internal/idempotency/mocks"
	"github.com/mattjoyce/hookledger/internal/ledger"
	"github.com/mattjoyce/hookledger/internal/storage"
)

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

var testReg = Registration{
	Provider:  ledger.ProviderPayments,
	EventID:   "evt_123",
	EventType: "payment.succeeded",
	Payload:   []byte(`{"id":"evt_123"}`),
}

func TestRegisterMapsClaimOutcomes(t *testing.T) {
	tests := []struct {
		outcome ledger.ClaimOutcome
		want    Decision
		proceed bool
	}{
		{ledger.ClaimInserted, ProceedFresh, true},
		{ledger.ClaimReclaimed, ProceedRetry, true},
		{ledger.ClaimCompleted, AlreadyProcessed, false},
		{ledger.ClaimInFlight, RejectConcurrent, false},
	}

	for _, tt := range tests {
		t.Run(tt.outcome.String(), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			store := mocks.NewMockStore(ctrl)
			logger, _ := newTestLogger()
			r := NewRegistrar(store, logger)

			ev := &ledger.Event{Provider: testReg.Provider, EventID: testReg.EventID, Attempts: 2}
			store.EXPECT().Claim(gomock.Any(), ledger.ClaimRequest{
				Key:       testReg.Key(),
				EventType: testReg.EventType,
				Payload:   testReg.Payload,
			}).Return(&ledger.ClaimResult{Outcome: tt.outcome, Event: ev}, nil)

			out, err := r.Register(context.Background(), testReg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Decision)
			assert.Equal(t, tt.proceed, out.Decision.Proceed())
			assert.Equal(t, 2, out.Attempt())
		})
	}
}

func TestRegisterWrapsStoreErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	r := NewRegistrar(store, nil)
	dbErr := errors.New("database is locked")
	store.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(nil, dbErr)

	_, err := r.Register(context.Background(), testReg)
	require.Error(t, err)

	var sf *StoreFailure
	require.True(t, errors.As(err, &sf))
	assert.Equal(t, "claim", sf.Op)
	assert.ErrorIs(t, err, dbErr)
}

func TestRegisterRejectsUnknownOutcome(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	r := NewRegistrar(store, nil)
	store.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(&ledger.ClaimResult{Event: &ledger.Event{}}, nil)

	_, err := r.Register(context.Background(), testReg)
	var sf *StoreFailure
	assert.True(t, errors.As(err, &sf))
}

func TestRegisterLogsDigestMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	logger, buf := newTestLogger()
	r := NewRegistrar(store, logger)
	store.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(&ledger.ClaimResult{
		Outcome:        ledger.ClaimCompleted,
		Event:          &ledger.Event{Attempts: 1, Status: ledger.StatusCompleted},
		DigestMismatch: true,
	}, nil)

	out, err := r.Register(context.Background(), testReg)
	require.NoError(t, err)
	assert.Equal(t, AlreadyProcessed, out.Decision)
	assert.Contains(t, buf.String(), "redelivery payload differs from stored payload")
	assert.NotContains(t, buf.String(), string(testReg.Payload), "payloads must not be logged")
}

func TestRegisterAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := ledger.NewSQLStore(db, storage.DialectSQLite)
	r := NewRegistrar(store, nil)

	out, err := r.Register(ctx, testReg)
	require.NoError(t, err)
	assert.Equal(t, ProceedFresh, out.Decision)
	assert.Equal(t, 1, out.Attempt())

	out, err = r.Register(ctx, testReg)
	require.NoError(t, err)
	assert.Equal(t, RejectConcurrent, out.Decision)

	require.NoError(t, store.Fail(ctx, testReg.Key(), 1, "network timeout"))
	out, err = r.Register(ctx, testReg)
	require.NoError(t, err)
	assert.Equal(t, ProceedRetry, out.Decision)
	assert.Equal(t, 2, out.Attempt())

	require.NoError(t, store.Complete(ctx, testReg.Key(), 2))
	out, err = r.Register(ctx, testReg)
	require.NoError(t, err)
	assert.Equal(t, AlreadyProcessed, out.Decision)
	assert.Equal(t, 2, out.Attempt())
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "proceed_fresh", ProceedFresh.String())
	assert.Equal(t, "reject_concurrent", RejectConcurrent.String())
	assert.Equal(t, "unknown", Decision(0).String())
}
