package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"draftline/internal/db"
	"draftline/internal/domain"
	"draftline/internal/engine"
	"draftline/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, nil)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}

func TestDraftLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/drafts", map[string]any{
		"reason": "bootstrap",
		"actions": []map[string]any{
			{
				"entityType": "project",
				"action":     "create",
				"project":    map[string]any{"id": "p1", "name": "Alpha"},
			},
			{
				"entityType": "task",
				"action":     "create",
				"task":       map[string]any{"id": "t1", "projectId": "p1", "title": "Ship"},
			},
		},
	}, nil)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create draft status %d: %s", createRes.StatusCode, string(data))
	}
	var d domain.Draft
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("unmarshal draft: %v", err)
	}
	if d.Status != domain.DraftPending || len(d.Actions) != 2 {
		t.Fatalf("draft = %+v", d)
	}

	applyRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/drafts/"+d.ID+"/apply", nil, nil)
	if applyRes.StatusCode != http.StatusOK {
		t.Fatalf("apply status %d: %s", applyRes.StatusCode, string(data))
	}
	var applied domain.Draft
	if err := json.Unmarshal(data, &applied); err != nil {
		t.Fatalf("unmarshal applied draft: %v", err)
	}
	if applied.Status != domain.DraftApplied {
		t.Fatalf("status = %s", applied.Status)
	}

	taskRes, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/t1", nil, nil)
	if taskRes.StatusCode != http.StatusOK {
		t.Fatalf("get task status %d: %s", taskRes.StatusCode, string(data))
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if task.Title != "Ship" || task.ProjectID != "p1" {
		t.Fatalf("task = %+v", task)
	}

	auditRes, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/audit?project_id=p1", nil, nil)
	if auditRes.StatusCode != http.StatusOK {
		t.Fatalf("audit status %d: %s", auditRes.StatusCode, string(data))
	}
	var logs []domain.AuditRecord
	if err := json.Unmarshal(data, &logs); err != nil {
		t.Fatalf("unmarshal audit: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(logs))
	}
}

func TestUnknownEntityReturns404(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/ghost", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
}

func TestExplicitConstraintViolationReturns422(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	day := int64(24 * 60 * 60 * 1000)
	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/drafts", map[string]any{
		"actions": []map[string]any{
			{"entityType": "project", "action": "create", "project": map[string]any{"id": "p1", "name": "Alpha"}},
			{"entityType": "task", "action": "create", "task": map[string]any{
				"id": "a", "projectId": "p1", "title": "Pred", "startDate": 0, "dueDate": 5 * day,
			}},
			{"entityType": "task", "action": "create", "task": map[string]any{
				"id": "b", "projectId": "p1", "title": "Next", "startDate": 6 * day, "dueDate": 8 * day,
				"predecessors": []string{"a"},
			}},
		},
	}, nil)
	var d domain.Draft
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("unmarshal draft: %v", err)
	}
	if applyRes, applyData := doJSON(t, client, http.MethodPost, srv.URL+"/v0/drafts/"+d.ID+"/apply", nil, nil); applyRes.StatusCode != http.StatusOK {
		t.Fatalf("apply status %d: %s", applyRes.StatusCode, string(applyData))
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/drafts", map[string]any{
		"actions": []map[string]any{
			{"entityType": "task", "action": "update", "entityId": "b", "task": map[string]any{
				"startDate": 2 * day,
			}},
		},
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "constraint_violation" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
	if envelope.Error.Details["predecessor"] != "a" {
		t.Fatalf("details = %v", envelope.Error.Details)
	}
}

func TestStaleDraftReturns409(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	setup, err := srv.Engine.CreateDraft(ctx, []domain.DraftAction{
		{
			EntityType: domain.EntityProject,
			Action:     domain.ActionCreate,
			Project:    &domain.ProjectPatch{ID: strPtr("p1"), Name: strPtr("Alpha")},
		},
		{
			EntityType: domain.EntityTask,
			Action:     domain.ActionCreate,
			Task:       &domain.TaskPatch{ID: strPtr("t1"), ProjectID: strPtr("p1"), Title: strPtr("Doomed")},
		},
	}, "", "", "p1")
	if err != nil {
		t.Fatalf("create setup draft: %v", err)
	}
	if _, err := srv.Engine.ApplyDraft(ctx, setup.ID, ""); err != nil {
		t.Fatalf("apply setup draft: %v", err)
	}

	update, err := srv.Engine.CreateDraft(ctx, []domain.DraftAction{{
		EntityType: domain.EntityTask,
		Action:     domain.ActionUpdate,
		EntityID:   "t1",
		Task:       &domain.TaskPatch{Title: strPtr("Renamed")},
	}}, "", "", "p1")
	if err != nil {
		t.Fatalf("create update draft: %v", err)
	}

	remove, err := srv.Engine.CreateDraft(ctx, []domain.DraftAction{{
		EntityType: domain.EntityTask,
		Action:     domain.ActionDelete,
		EntityID:   "t1",
	}}, "", "", "p1")
	if err != nil {
		t.Fatalf("create delete draft: %v", err)
	}
	if _, err := srv.Engine.ApplyDraft(ctx, remove.ID, ""); err != nil {
		t.Fatalf("apply delete draft: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/drafts/"+update.ID+"/apply", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "stale_draft" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
}

func TestJWTAuthRequiredWhenConfigured(t *testing.T) {
	secret := "test-secret"
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: secret})
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", res.StatusCode)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "agent",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{
		"Authorization": "Bearer " + signed,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d: %s", res.StatusCode, string(data))
	}

	// Health stays open.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", res.StatusCode)
	}
}

func strPtr(s string) *string { return &s }
