package processor

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mattjoyce/hookledger/internal/ledger"
)

var (
	// ErrSignatureInvalid: payload and signature do not match, or the header
	// is malformed. Never retried by this service.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrConcurrentInFlight: another attempt currently holds the event.
	ErrConcurrentInFlight = errors.New("webhook event is already being processed")
)

// HandlerError is returned when the domain handler failed. The ledger row
// has been marked failed and a redelivery may retry it.
type HandlerError struct {
	Key     ledger.Key
	Attempt int
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler failed for %s (attempt %d): %v", e.Key, e.Attempt, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// StoreError is returned when a ledger read or write failed. The row is left
// as it was before the failed statement.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ledger %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Error kinds, as reported by Kind.
const (
	KindOK                 = "ok"
	KindSignatureInvalid   = "signature_invalid"
	KindConcurrentInFlight = "concurrent_in_flight"
	KindHandlerFailure     = "handler_failure"
	KindStoreFailure       = "store_failure"
	KindInternal           = "internal"
)

// Kind names the taxonomy bucket of err for logs and responses.
func Kind(err error) string {
	var (
		handlerErr *HandlerError
		storeErr   *StoreError
	)
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrSignatureInvalid):
		return KindSignatureInvalid
	case errors.Is(err, ErrConcurrentInFlight):
		return KindConcurrentInFlight
	case errors.As(err, &handlerErr):
		return KindHandlerFailure
	case errors.As(err, &storeErr):
		return KindStoreFailure
	default:
		return KindInternal
	}
}

// StatusCode maps err to the HTTP status returned to the sending provider.
// A nil error, including a skipped duplicate, is 200.
func StatusCode(err error) int {
	switch Kind(err) {
	case KindOK:
		return http.StatusOK
	case KindSignatureInvalid:
		return http.StatusBadRequest
	case KindConcurrentInFlight:
		return http.StatusConflict
	case KindStoreFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
