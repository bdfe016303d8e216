package ledger

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/hookledger/internal/storage"
)

const maxErrorMessageBytes = 4 * 1024

const eventColumns = `id, provider, provider_event_id, event_type, payload, payload_digest, status, attempts,
  created_at, last_attempt_at, completed_at, error_message`

// SQLStore is the ledger backed by database/sql. All mutual exclusion comes
// from the unique index on (provider, provider_event_id) and single-statement
// conditional updates; no in-process locks are held.
type SQLStore struct {
	db      *sql.DB
	dialect storage.Dialect
	// Now is the clock used for timestamps. Tests override it.
	Now func() time.Time
}

func NewSQLStore(db *sql.DB, dialect storage.Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Digest returns the hex BLAKE3 digest stored alongside each payload.
func Digest(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Claim atomically inserts a new processing row, or moves an existing
// pending/failed row back to processing with attempts+1. When neither
// happens the row is read back in the same transaction to report whether it
// is completed or held by another attempt.
func (s *SQLStore) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	if err := req.Key.validate(); err != nil {
		return nil, err
	}
	eventType := req.EventType
	if eventType == "" {
		eventType = UnknownEventType
	}

	id := uuid.NewString()
	now := storage.FormatTime(s.now())
	digest := Digest(req.Payload)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, s.dialect.Rebind(`
INSERT INTO webhook_events(
  id, provider, provider_event_id, event_type, payload, payload_digest, status, attempts,
  created_at, last_attempt_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
ON CONFLICT(provider, provider_event_id) DO UPDATE SET
  status = excluded.status,
  attempts = webhook_events.attempts + 1,
  last_attempt_at = excluded.last_attempt_at,
  error_message = NULL
WHERE webhook_events.status IN (?, ?)
RETURNING `+eventColumns+`;
`), id, req.Key.Provider, req.Key.EventID, eventType, req.Payload, digest, StatusProcessing,
		now, now, StatusPending, StatusFailed)

	res := &ClaimResult{}
	ev, err := scanEvent(row)
	switch {
	case err == nil:
		res.Event = ev
		if ev.ID == id {
			res.Outcome = ClaimInserted
		} else {
			res.Outcome = ClaimReclaimed
		}
	case errors.Is(err, sql.ErrNoRows):
		ev, err = s.get(ctx, tx, req.Key)
		if err != nil {
			return nil, fmt.Errorf("read back conflicting event: %w", err)
		}
		res.Event = ev
		switch ev.Status {
		case StatusCompleted:
			res.Outcome = ClaimCompleted
		case StatusProcessing:
			res.Outcome = ClaimInFlight
		default:
			return nil, fmt.Errorf("claim %s: row in status %q was not reclaimed", req.Key, ev.Status)
		}
	default:
		return nil, fmt.Errorf("claim webhook event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	res.DigestMismatch = res.Outcome != ClaimInserted && res.Event.PayloadDigest != digest
	return res, nil
}

// Get reads a row by its idempotency key.
func (s *SQLStore) Get(ctx context.Context, key Key) (*Event, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	return s.get(ctx, s.db, key)
}

// Complete finalizes attempt as completed. It fails with ErrStaleAttempt if
// the row is no longer in processing for that attempt.
func (s *SQLStore) Complete(ctx context.Context, key Key, attempt int) error {
	if err := key.validate(); err != nil {
		return err
	}
	now := storage.FormatTime(s.now())
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
UPDATE webhook_events
SET status = ?, completed_at = ?, error_message = NULL
WHERE provider = ? AND provider_event_id = ? AND status = ? AND attempts = ?;
`), StatusCompleted, now, key.Provider, key.EventID, StatusProcessing, attempt)
	if err != nil {
		return fmt.Errorf("mark webhook event completed: %w", err)
	}
	return s.checkFinalized(ctx, res, key)
}

// Fail finalizes attempt as failed and records message.
func (s *SQLStore) Fail(ctx context.Context, key Key, attempt int, message string) error {
	if err := key.validate(); err != nil {
		return err
	}
	message = truncateMessage(message, maxErrorMessageBytes)
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
UPDATE webhook_events
SET status = ?, error_message = ?
WHERE provider = ? AND provider_event_id = ? AND status = ? AND attempts = ?;
`), StatusFailed, message, key.Provider, key.EventID, StatusProcessing, attempt)
	if err != nil {
		return fmt.Errorf("mark webhook event failed: %w", err)
	}
	return s.checkFinalized(ctx, res, key)
}

// truncateMessage caps message at limit bytes without splitting a rune and
// replaces invalid UTF-8, which postgres TEXT columns reject.
func truncateMessage(message string, limit int) string {
	message = strings.ToValidUTF8(message, "\uFFFD")
	if len(message) <= limit {
		return message
	}
	n := limit
	for n > 0 && !utf8.RuneStart(message[n]) {
		n--
	}
	return message[:n]
}

func (s *SQLStore) checkFinalized(ctx context.Context, res sql.Result, key Key) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.get(ctx, s.db, key); err != nil {
		return err
	}
	return ErrStaleAttempt
}

// DemoteStale moves processing rows whose last attempt started before
// cutoff to failed and returns them.
func (s *SQLStore) DemoteStale(ctx context.Context, cutoff time.Time, message string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
UPDATE webhook_events
SET status = ?, error_message = ?
WHERE status = ? AND last_attempt_at < ?
RETURNING `+eventColumns+`;
`), StatusFailed, message, StatusProcessing, storage.FormatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("demote stale webhook events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// List returns rows ordered by most recent attempt first.
func (s *SQLStore) List(ctx context.Context, f ListFilter) ([]*Event, error) {
	var (
		where []string
		args  []any
	)
	if f.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, f.Provider)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	q := "SELECT " + eventColumns + " FROM webhook_events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY last_attempt_at DESC, id ASC LIMIT ?;"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Stats counts rows per status.
func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM webhook_events GROUP BY status;")
	if err != nil {
		return Stats{}, fmt.Errorf("count webhook events: %w", err)
	}
	defer rows.Close()

	var st Stats
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, fmt.Errorf("scan status count: %w", err)
		}
		switch Status(status) {
		case StatusPending:
			st.Pending = n
		case StatusProcessing:
			st.Processing = n
		case StatusCompleted:
			st.Completed = n
		case StatusFailed:
			st.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate status counts: %w", err)
	}
	return st, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) get(ctx context.Context, q querier, key Key) (*Event, error) {
	row := q.QueryRowContext(ctx, s.dialect.Rebind(
		"SELECT "+eventColumns+" FROM webhook_events WHERE provider = ? AND provider_event_id = ?;"),
		key.Provider, key.EventID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read webhook event: %w", err)
	}
	return ev, nil
}

func (s *SQLStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*Event, error) {
	var (
		ev            Event
		provider      string
		status        string
		createdAtS    string
		lastAttemptS  string
		completedAtS  sql.NullString
		errorMessageS sql.NullString
	)
	if err := row.Scan(
		&ev.ID, &provider, &ev.EventID, &ev.EventType, &ev.Payload, &ev.PayloadDigest, &status, &ev.Attempts,
		&createdAtS, &lastAttemptS, &completedAtS, &errorMessageS,
	); err != nil {
		return nil, err
	}

	ev.Provider = Provider(provider)
	ev.Status = Status(status)
	if t, err := storage.ParseTime(createdAtS); err == nil {
		ev.CreatedAt = t
	}
	if t, err := storage.ParseTime(lastAttemptS); err == nil {
		ev.LastAttemptAt = t
	}
	if completedAtS.Valid {
		if t, err := storage.ParseTime(completedAtS.String); err == nil {
			ev.CompletedAt = &t
		}
	}
	if errorMessageS.Valid {
		ev.ErrorMessage = &errorMessageS.String
	}
	return &ev, nil
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var out []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook events: %w", err)
	}
	return out, nil
}
