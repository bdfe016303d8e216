package recovery

import (
	"context"
	"time"

	"github.com/mattjoyce/hookledger/internal/ledger"
)

//go:generate mockgen -destination=mocks/mock_ledger.go -package=mocks github.com/mattjoyce/hookledger/internal/recovery LedgerService

// LedgerService defines the ledger operations used by the sweeper.
type LedgerService interface {
	DemoteStale(ctx context.Context, cutoff time.Time, message string) ([]*ledger.Event, error)
}
