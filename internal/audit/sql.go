package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/hookledger/internal/storage"
)

const defaultListLimit = 50

// SQLSink appends entries to the audit_log table. Rows are never updated or
// deleted.
type SQLSink struct {
	db      *sql.DB
	dialect storage.Dialect
}

func NewSQLSink(db *sql.DB, dialect storage.Dialect) *SQLSink {
	return &SQLSink{db: db, dialect: dialect}
}

func (s *SQLSink) Record(ctx context.Context, e Entry) error {
	if e.Action == "" || e.ResourceID == "" {
		return fmt.Errorf("audit entry needs action and resource id")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		meta = b
	}

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
INSERT INTO audit_log(id, actor, action, resource_id, metadata, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`), e.ID, e.Actor, e.Action, e.ResourceID, string(meta), storage.FormatTime(e.CreatedAt))
	if storage.IsUniqueViolation(err) {
		// Same transition already recorded.
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// List returns entries for resourceID, oldest first. When provider is set,
// only entries whose metadata carries that provider are returned.
func (s *SQLSink) List(ctx context.Context, resourceID, provider string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	// Provider lives in the metadata JSON; the limit applies after filtering.
	query := `
SELECT id, actor, action, resource_id, metadata, created_at
FROM audit_log
WHERE resource_id = ?
ORDER BY created_at ASC, id ASC`
	args := []any{resourceID}
	if provider == "" {
		query += "\nLIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query+";"), args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			meta      string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.ResourceID, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode audit metadata for %s: %w", e.ID, err)
		}
		if e.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse audit created_at: %w", err)
		}
		if provider != "" && e.Metadata["provider"] != provider {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return out, nil
}
