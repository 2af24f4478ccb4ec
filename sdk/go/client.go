package draftlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Draftline HTTP API client. Entities are read-only over
// the API; all writes go through drafts.
type Client struct {
	BaseURL     string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project mirrors the API project model.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// Task mirrors the API task model.
type Task struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"projectId"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Status       string   `json:"status"`
	Priority     string   `json:"priority"`
	WBS          string   `json:"wbs,omitempty"`
	StartDate    *int64   `json:"startDate,omitempty"`
	DueDate      *int64   `json:"dueDate,omitempty"`
	Completion   int      `json:"completion"`
	Assignee     string   `json:"assignee,omitempty"`
	IsMilestone  bool     `json:"isMilestone"`
	Predecessors []string `json:"predecessors"`
	CreatedAt    int64    `json:"createdAt"`
	UpdatedAt    int64    `json:"updatedAt"`
}

// DraftAction is one proposed change inside a draft. Project and Task carry
// the patch fields for creates and updates; Before, After, and Warnings are
// filled by the server during planning.
type DraftAction struct {
	ID         string          `json:"id,omitempty"`
	EntityType string          `json:"entityType"`
	Action     string          `json:"action"`
	EntityID   string          `json:"entityId,omitempty"`
	Project    map[string]any  `json:"project,omitempty"`
	Task       map[string]any  `json:"task,omitempty"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Warnings   []string        `json:"warnings,omitempty"`
}

// Draft mirrors the API draft model.
type Draft struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"projectId,omitempty"`
	Status    string        `json:"status"`
	Actions   []DraftAction `json:"actions"`
	CreatedAt int64         `json:"createdAt"`
	CreatedBy string        `json:"createdBy"`
	Reason    string        `json:"reason,omitempty"`
}

// AuditRecord mirrors the API audit log model.
type AuditRecord struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Action     string          `json:"action"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Actor      string          `json:"actor"`
	Reason     string          `json:"reason,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	ProjectID  string          `json:"projectId,omitempty"`
	TaskID     string          `json:"taskId,omitempty"`
	DraftID    string          `json:"draftId,omitempty"`
	RollbackOf string          `json:"rollbackOf,omitempty"`
}

// Plan is the outcome of a dry-run planning call.
type Plan struct {
	Actions  []DraftAction `json:"actions"`
	Warnings []string      `json:"warnings"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PlanActions simulates actions without creating a draft.
func (c *Client) PlanActions(ctx context.Context, actions []DraftAction) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodPost, "v0/drafts/plan", map[string]any{"actions": actions}, &resp)
	return resp, err
}

// CreateDraft plans actions and stores them as a pending draft.
func (c *Client) CreateDraft(ctx context.Context, actions []DraftAction, reason string) (Draft, error) {
	body := map[string]any{"actions": actions}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Draft
	err := c.do(ctx, http.MethodPost, "v0/drafts", body, &resp)
	return resp, err
}

// GetDraft fetches one draft.
func (c *Client) GetDraft(ctx context.Context, id string) (Draft, error) {
	var resp Draft
	err := c.do(ctx, http.MethodGet, "v0/drafts/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListDrafts lists drafts, optionally filtered by status.
func (c *Client) ListDrafts(ctx context.Context, status string) ([]Draft, error) {
	endpoint := "v0/drafts"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Draft
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ApplyDraft commits a pending draft.
func (c *Client) ApplyDraft(ctx context.Context, id string) (Draft, error) {
	var resp Draft
	err := c.do(ctx, http.MethodPost, "v0/drafts/"+url.PathEscape(id)+"/apply", nil, &resp)
	return resp, err
}

// DiscardDraft marks a pending draft discarded.
func (c *Client) DiscardDraft(ctx context.Context, id string) (Draft, error) {
	var resp Draft
	err := c.do(ctx, http.MethodPost, "v0/drafts/"+url.PathEscape(id)+"/discard", nil, &resp)
	return resp, err
}

// RefreshDraft re-plans a pending draft against current server state.
func (c *Client) RefreshDraft(ctx context.Context, id string) (Draft, error) {
	var resp Draft
	err := c.do(ctx, http.MethodPost, "v0/drafts/"+url.PathEscape(id)+"/refresh", nil, &resp)
	return resp, err
}

// ListProjects lists projects.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "v0/projects", nil, &resp)
	return resp, err
}

// ListTasks lists tasks, optionally scoped to a project.
func (c *Client) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	endpoint := "v0/tasks"
	if projectID != "" {
		endpoint += "?project_id=" + url.QueryEscape(projectID)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListAuditLogs lists audit entries newest first, optionally filtered by a
// free-text search.
func (c *Client) ListAuditLogs(ctx context.Context, search string, limit int) ([]AuditRecord, error) {
	endpoint := "v0/audit"
	params := url.Values{}
	if search != "" {
		params.Set("search", search)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []AuditRecord
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Rollback reverses the change recorded by an audit entry.
func (c *Client) Rollback(ctx context.Context, auditID, reason string) (AuditRecord, error) {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	var resp AuditRecord
	err := c.do(ctx, http.MethodPost, "v0/audit/"+url.PathEscape(auditID)+"/rollback", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	} else if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
