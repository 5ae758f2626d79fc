// Package audit records state-changing operations. Emission is best-effort:
// a degraded sink logs its own failures and never fails the primary action.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/flowvault/flowvault/internal/platform/database"
	"github.com/flowvault/flowvault/internal/platform/logger"
)

// Entry captures one state transition
type Entry struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	OldValue   interface{}
	NewValue   interface{}
}

// Sink records audit entries
type Sink interface {
	Record(ctx context.Context, entry Entry)
}

// PostgresSink writes audit entries to the audit_log table
type PostgresSink struct {
	db  *database.DB
	log logger.Logger
}

// NewPostgresSink creates a postgres-backed audit sink
func NewPostgresSink(db *database.DB, log logger.Logger) *PostgresSink {
	return &PostgresSink{db: db, log: log}
}

// Record writes one entry. Failures are logged, never returned.
func (s *PostgresSink) Record(ctx context.Context, entry Entry) {
	oldJSON, err := marshalValue(entry.OldValue)
	if err != nil {
		s.log.Error("failed to serialize audit old value", "action", entry.Action, "error", err)
		return
	}
	newJSON, err := marshalValue(entry.NewValue)
	if err != nil {
		s.log.Error("failed to serialize audit new value", "action", entry.Action, "error", err)
		return
	}

	query := `
		INSERT INTO audit_log (
			id, actor_id, action, entity_type, entity_id,
			old_value, new_value, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.db.ExecContext(ctx, query,
		uuid.New().String(),
		entry.ActorID,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		oldJSON,
		newJSON,
		time.Now(),
	)
	if err != nil {
		s.log.Error("failed to record audit entry",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"error", err,
		)
	}
}

func marshalValue(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
