package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"draftline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const projectColumns = `id,name,COALESCE(description,''),COALESCE(icon,''),created_at,updated_at`
const taskColumns = `id,project_id,title,COALESCE(description,''),status,priority,COALESCE(wbs,''),created_at,start_date,due_date,completion,COALESCE(assignee,''),is_milestone,predecessors_json,updated_at`

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,description,icon,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), nullable(p.Icon), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET name=?, description=?, icon=?, updated_at=? WHERE id=?`,
		p.Name, nullable(p.Description), nullable(p.Icon), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.Icon, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Icon, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SingleProject returns the only project in the store, for CLI scoping.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, errors.New("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,project_id,title,description,status,priority,wbs,created_at,start_date,due_date,completion,assignee,is_milestone,predecessors_json,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Title, nullable(t.Description), t.Status, t.Priority, nullable(t.WBS),
		t.CreatedAt, nullableInt64Ptr(t.StartDate), nullableInt64Ptr(t.DueDate), t.Completion,
		nullable(t.Assignee), boolToInt(t.IsMilestone), encodeStringSlice(t.Predecessors), t.UpdatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET project_id=?, title=?, description=?, status=?, priority=?, wbs=?, start_date=?, due_date=?, completion=?, assignee=?, is_milestone=?, predecessors_json=?, updated_at=? WHERE id=?`,
		t.ProjectID, t.Title, nullable(t.Description), t.Status, t.Priority, nullable(t.WBS),
		nullableInt64Ptr(t.StartDate), nullableInt64Ptr(t.DueDate), t.Completion,
		nullable(t.Assignee), boolToInt(t.IsMilestone), encodeStringSlice(t.Predecessors), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProjectTasks removes all tasks of a project. The cascade is
// procedural; the storage layer has no FK cascade.
func (r Repo) DeleteProjectTasks(ctx context.Context, tx *sql.Tx, projectID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE project_id=?`, projectID)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTaskRow(row)
}

type TaskFilters struct {
	ProjectID string
	Status    string
	Assignee  string
	Limit     int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
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
	if f.Assignee != "" {
		clauses = append(clauses, "assignee=?")
		args = append(args, f.Assignee)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(s rowScanner) (domain.Task, error) {
	var t domain.Task
	var startDate, dueDate sql.NullInt64
	var preds sql.NullString
	var milestone int
	err := s.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.WBS,
		&t.CreatedAt, &startDate, &dueDate, &t.Completion, &t.Assignee, &milestone, &preds, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if startDate.Valid {
		v := startDate.Int64
		t.StartDate = &v
	}
	if dueDate.Valid {
		v := dueDate.Int64
		t.DueDate = &v
	}
	t.IsMilestone = milestone != 0
	t.Predecessors = decodeStringSlice(preds.String)
	t.Completion = domain.ClampCompletion(t.Completion)
	return t, nil
}

func scanTaskRow(row *sql.Row) (domain.Task, error) {
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// encodeStringSlice stores a string slice as a JSON blob, empty slice included
// so the column round-trips without loss.
func encodeStringSlice(in []string) string {
	if in == nil {
		in = []string{}
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// decodeStringSlice falls back to an empty list on malformed JSON.
func decodeStringSlice(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
