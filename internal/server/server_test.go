package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/migrate"
	"taskdesk/internal/service"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	svc := service.New(conn, cfg)
	svc.HashCost = bcrypt.MinCost
	if _, err := svc.BootstrapAdmin(context.Background()); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	handler, err := New(Config{
		Service:      svc,
		BasePath:     "/api",
		Auth:         AuthConfig{JWTSecret: testSecret, Issuer: "taskdesk", TokenTTL: time.Hour},
		Registration: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
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
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, token string) (*http.Response, []byte) {
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
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
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

func (s *testServer) register(t *testing.T, username, department string) SessionResponse {
	t.Helper()
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/api/auth/register", map[string]any{
		"username":   username,
		"password":   "pw-" + username,
		"department": department,
	}, "")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: %d %s", username, res.StatusCode, string(data))
	}
	var sess SessionResponse
	if err := json.Unmarshal(data, &sess); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	return sess
}

func (s *testServer) login(t *testing.T, username, password string) SessionResponse {
	t.Helper()
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/api/auth/login", map[string]any{
		"username": username,
		"password": password,
	}, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login %s: %d %s", username, res.StatusCode, string(data))
	}
	var sess SessionResponse
	_ = json.Unmarshal(data, &sess)
	return sess
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestHealthIsPublicAndAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}
	var health HealthResponse
	if err := json.Unmarshal(data, &health); err != nil || health.SchemaVersion < 1 {
		t.Fatalf("health should report the schema version: %s", string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/tasks", nil, "")
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/tasks", nil, "not-a-jwt")
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("expected 401 invalid_credentials, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/login", map[string]any{
		"username": "admin",
		"password": "wrong",
	}, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected failed login, got %d %s", res.StatusCode, string(data))
	}
}

func TestTaskFlowAcrossDepartments(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	bob := srv.register(t, "bob", "OP")
	eve := srv.register(t, "eve", "QA")
	if bob.Account.Role != domain.RoleUser {
		t.Fatalf("registered accounts are users, got %s", bob.Account.Role)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/me", nil, bob.Token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var me domain.Account
	_ = json.Unmarshal(data, &me)
	if me.ID != bob.Account.ID || me.Department != "OP" {
		t.Fatalf("unexpected me %+v", me)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/tasks", map[string]any{
		"title":    "Quarterly plan",
		"progress": 10,
	}, bob.Token)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if task.OwnerID != bob.Account.ID || task.Department != "OP" || task.OwnerName != "bob" {
		t.Fatalf("unexpected task %+v", task)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/tasks/"+task.ID, map[string]any{"progress": 60}, eve.Token)
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("expected forbidden, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/tasks/"+task.ID, map[string]any{"progress": 150}, bob.Token)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "validation_failed" {
		t.Fatalf("expected validation_failed, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/tasks/"+task.ID, map[string]any{"progress": 60}, bob.Token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update: %d %s", res.StatusCode, string(data))
	}
	var updated domain.Task
	_ = json.Unmarshal(data, &updated)
	if updated.Progress != 60 || updated.Title != "Quarterly plan" {
		t.Fatalf("partial update lost fields: %+v", updated)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/tasks", nil, eve.Token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
	var list TaskListResponse
	_ = json.Unmarshal(data, &list)
	if len(list.Items) != 0 {
		t.Fatalf("eve must not see OP tasks, got %d", len(list.Items))
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/api/tasks/"+task.ID, nil, bob.Token)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/api/tasks/"+task.ID, nil, bob.Token)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d %s", res.StatusCode, string(data))
	}
}

func TestAdminUserManagement(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	admin := srv.login(t, "admin", "admin123")
	bob := srv.register(t, "bob", "OP")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/auth/register", map[string]any{
		"username":   "bob",
		"password":   "again",
		"department": "OP",
	}, "")
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected duplicate conflict, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/users/"+bob.Account.ID, map[string]any{"role": "admin"}, bob.Token)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("self promotion must be forbidden, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/api/users/"+bob.Account.ID, map[string]any{"role": "manager"}, admin.Token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("promote: %d %s", res.StatusCode, string(data))
	}

	// Role changes apply to the next request without a new token.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/me", nil, bob.Token)
	var me domain.Account
	_ = json.Unmarshal(data, &me)
	if res.StatusCode != http.StatusOK || me.Role != domain.RoleManager {
		t.Fatalf("expected manager role on reload, got %d %+v", res.StatusCode, me)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/users", map[string]any{
		"username":   "carol",
		"password":   "pw",
		"department": "QA",
		"role":       "manager",
	}, admin.Token)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("admin create: %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/api/users", map[string]any{
		"username":   "dave",
		"password":   "pw",
		"department": "QA",
	}, bob.Token)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("manager create must be forbidden, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/api/users/"+admin.Account.ID, nil, admin.Token)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("admin self-delete must be forbidden, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/api/users/"+bob.Account.ID, nil, admin.Token)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete bob: %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/me", nil, bob.Token)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("deleted account token must stop working, got %d %s", res.StatusCode, string(data))
	}
}

func TestOpenAPIIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/openapi.json", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi: %d %s", res.StatusCode, string(data))
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("openapi json: %v", err)
	}
	if _, ok := doc["paths"]; !ok {
		t.Fatalf("openapi document has no paths")
	}
}

func TestOpenAPIConcurrentFirstRequests(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	const n = 8
	bodies := make(chan []byte, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			res, err := srv.Client().Get(srv.URL + "/api/openapi.json")
			if err != nil {
				errs <- err
				return
			}
			defer res.Body.Close()
			data, err := io.ReadAll(res.Body)
			if err != nil {
				errs <- err
				return
			}
			bodies <- data
		}()
	}
	var first []byte
	for i := 0; i < n; i++ {
		select {
		case err := <-errs:
			t.Fatalf("openapi request: %v", err)
		case data := <-bodies:
			if first == nil {
				first = data
			} else if !bytes.Equal(first, data) {
				t.Fatalf("openapi documents differ between concurrent requests")
			}
		}
	}
	if len(first) == 0 {
		t.Fatalf("empty openapi document")
	}
}

func TestAuditLogIsAdminOnly(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	admin := srv.login(t, "admin", "admin123")
	bob := srv.register(t, "bob", "OP")

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/api/events", nil, bob.Token)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("users must not read the audit log, got %d", res.StatusCode)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/events?entity_kind=account&entity_id="+bob.Account.ID, nil, admin.Token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var list struct {
		Items []struct {
			Type     string `json:"type"`
			EntityID string `json:"entity_id"`
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].Type != "account.registered" || list.Items[0].EntityID != bob.Account.ID {
		t.Fatalf("unexpected events %+v", list.Items)
	}
}
