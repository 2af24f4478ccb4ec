package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"draftline/internal/domain"
)

const auditColumns = `id,entity_type,entity_id,action,before_json,after_json,actor,COALESCE(reason,''),ts,COALESCE(project_id,''),COALESCE(task_id,''),COALESCE(draft_id,''),COALESCE(rollback_of,'')`

func (r Repo) GetAuditLog(ctx context.Context, id string) (domain.AuditRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id=?`, id)
	rec, err := scanAudit(row)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	return rec, err
}

type AuditFilters struct {
	ProjectID  string
	TaskID     string
	Actor      string
	Action     string
	EntityType string
	Search     string
	Since      int64
	Until      int64
	Limit      int
}

// ListAuditLogs returns entries newest first.
func (r Repo) ListAuditLogs(ctx context.Context, f AuditFilters) ([]domain.AuditRecord, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.Actor != "" {
		clauses = append(clauses, "actor=?")
		args = append(args, f.Actor)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, f.EntityType)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		clauses = append(clauses, "(COALESCE(before_json,'') LIKE ? OR COALESCE(after_json,'') LIKE ? OR COALESCE(reason,'') LIKE ? OR entity_id LIKE ?)")
		args = append(args, like, like, like, like)
	}
	if f.Since > 0 {
		clauses = append(clauses, "ts>=?")
		args = append(args, f.Since)
	}
	if f.Until > 0 {
		clauses = append(clauses, "ts<=?")
		args = append(args, f.Until)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + auditColumns + ` FROM audit_logs ` + where + ` ORDER BY ts DESC, rowid DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditRecord
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func scanAudit(s rowScanner) (domain.AuditRecord, error) {
	var rec domain.AuditRecord
	var before, after sql.NullString
	err := s.Scan(&rec.ID, &rec.EntityType, &rec.EntityID, &rec.Action, &before, &after,
		&rec.Actor, &rec.Reason, &rec.Timestamp, &rec.ProjectID, &rec.TaskID, &rec.DraftID, &rec.RollbackOf)
	if err != nil {
		return rec, err
	}
	rec.Before = rawJSON(before)
	rec.After = rawJSON(after)
	return rec, nil
}

// rawJSON keeps snapshot blobs as-is; malformed content degrades to null
// rather than erroring.
func rawJSON(v sql.NullString) json.RawMessage {
	if !v.Valid || v.String == "" {
		return nil
	}
	if !json.Valid([]byte(v.String)) {
		return nil
	}
	return json.RawMessage(v.String)
}
