package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog is one row of audit_logs. ActorID and At default to the context
// actor and the current time.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditPort persists audit records.
type AuditPort interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditLogger writes audit records to Postgres.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record stores log. Services call it after commit and only log failures.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return nil
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return fmt.Errorf("%w: audit record needs action, entity and entity id", ErrValidation)
	}
	if log.ActorID == 0 {
		log.ActorID = ActorID(ctx)
	}
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	meta := []byte("{}")
	if len(log.Meta) > 0 {
		encoded, err := json.Marshal(log.Meta)
		if err != nil {
			return fmt.Errorf("audit: encode meta: %w", err)
		}
		meta = encoded
	}
	if _, err := l.pool.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		log.ActorID, log.Action, log.Entity, log.EntityID, meta, log.At); err != nil {
		return fmt.Errorf("audit: insert %s %s/%s: %w", log.Action, log.Entity, log.EntityID, err)
	}
	return nil
}
