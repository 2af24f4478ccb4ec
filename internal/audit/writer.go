// Package audit appends immutable mutation records. Entries are written one
// per mutation inside the applier's per-action transaction and are never
// updated or deleted; rollback appends new entries instead.
package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"draftline/internal/domain"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append writes one audit entry inside tx. The entry id and timestamp are
// assigned here when unset.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec domain.AuditRecord) (domain.AuditRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp == 0 {
		now := w.Now
		if now == nil {
			now = time.Now
		}
		rec.Timestamp = now().UTC().UnixMilli()
	}
	if rec.Actor == "" {
		rec.Actor = domain.ActorUser
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_logs(id,entity_type,entity_id,action,before_json,after_json,actor,reason,ts,project_id,task_id,draft_id,rollback_of)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.EntityType, rec.EntityID, rec.Action,
		nullableRaw(rec.Before), nullableRaw(rec.After),
		rec.Actor, nullable(rec.Reason), rec.Timestamp,
		nullable(rec.ProjectID), nullable(rec.TaskID), nullable(rec.DraftID), nullable(rec.RollbackOf))
	return rec, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableRaw(v []byte) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}
