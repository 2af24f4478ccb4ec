package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"draftline/internal/domain"
)

const draftColumns = `id,COALESCE(project_id,''),status,actions_json,created_at,created_by,COALESCE(reason,'')`

func (r Repo) InsertDraft(ctx context.Context, d domain.Draft) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO drafts(id,project_id,status,actions_json,created_at,created_by,reason) VALUES (?,?,?,?,?,?,?)`,
		d.ID, nullable(d.ProjectID), d.Status, encodeActions(d.Actions), d.CreatedAt, d.CreatedBy, nullable(d.Reason))
	return err
}

func (r Repo) GetDraft(ctx context.Context, id string) (domain.Draft, error) {
	var d domain.Draft
	var actions string
	err := r.DB.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id=?`, id).
		Scan(&d.ID, &d.ProjectID, &d.Status, &actions, &d.CreatedAt, &d.CreatedBy, &d.Reason)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.Actions = decodeActions(actions)
	return d, nil
}

type DraftFilters struct {
	ProjectID string
	Status    string
	Limit     int
}

func (r Repo) ListDrafts(ctx context.Context, f DraftFilters) ([]domain.Draft, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + draftColumns + ` FROM drafts ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Draft
	for rows.Next() {
		var d domain.Draft
		var actions string
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Status, &actions, &d.CreatedAt, &d.CreatedBy, &d.Reason); err != nil {
			return nil, err
		}
		d.Actions = decodeActions(actions)
		res = append(res, d)
	}
	return res, rows.Err()
}

// UpdateDraftActions overwrites a draft's planned actions in place, leaving
// identity and status untouched.
func (r Repo) UpdateDraftActions(ctx context.Context, id string, actions []domain.DraftAction) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE drafts SET actions_json=? WHERE id=?`, encodeActions(actions), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateDraftStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE drafts SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeActions(actions []domain.DraftAction) string {
	if actions == nil {
		actions = []domain.DraftAction{}
	}
	b, err := json.Marshal(actions)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// decodeActions degrades to an empty list on malformed JSON.
func decodeActions(raw string) []domain.DraftAction {
	if raw == "" {
		return []domain.DraftAction{}
	}
	var out []domain.DraftAction
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return []domain.DraftAction{}
	}
	return out
}
