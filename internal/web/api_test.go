package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rojlabs/roj/internal/config"
	"github.com/rojlabs/roj/internal/hive"
	"github.com/rojlabs/roj/internal/memstore"
	"github.com/rojlabs/roj/internal/registry"
	"github.com/rojlabs/roj/internal/swarm"
	"github.com/rojlabs/roj/internal/vault"
)

type stubCoordinator struct {
	state        swarm.State
	submitted    []string
	submitErr    error
	maintenance  bool
	registered   []hive.AgentType
	unregistered []uuid.UUID
}

func (c *stubCoordinator) State() swarm.State          { return c.state }
func (c *stubCoordinator) Metrics() swarm.Metrics      { return swarm.Metrics{State: c.state} }
func (c *stubCoordinator) ActiveTasks() []hive.Task    { return nil }
func (c *stubCoordinator) Decisions() []hive.Decision  { return nil }

func (c *stubCoordinator) Submit(taskType string, priority hive.TaskPriority, payload json.RawMessage, deadline time.Time, caps []hive.Capability, preferred hive.AgentType) (uuid.UUID, error) {
	if c.submitErr != nil {
		return uuid.Nil, c.submitErr
	}
	c.submitted = append(c.submitted, taskType)
	return uuid.New(), nil
}

func (c *stubCoordinator) RegisterAgent(t hive.AgentType, caps []hive.Capability, endpoint string) (uuid.UUID, error) {
	c.registered = append(c.registered, t)
	return uuid.New(), nil
}

func (c *stubCoordinator) UnregisterAgent(id uuid.UUID) {
	c.unregistered = append(c.unregistered, id)
}

func (c *stubCoordinator) EnterMaintenance() error {
	c.maintenance = true
	c.state = swarm.StateMaintenance
	return nil
}

func (c *stubCoordinator) LeaveMaintenance() error {
	c.maintenance = false
	c.state = swarm.StateActive
	return nil
}

func newTestServer(t *testing.T, auth string) (*Server, *stubCoordinator, *http.ServeMux) {
	t.Helper()

	store, err := memstore.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "web.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	coord := &stubCoordinator{state: swarm.StateActive}
	keeper := vault.NewKeeper(vault.New("test-passphrase"), store)
	srv := NewServer(coord, registry.New(hive.DefaultRoles()), store, nil, keeper, config.WebConfig{Auth: auth}, "test")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", srv.handleLogin)
	mux.HandleFunc("POST /api/logout", srv.handleLogout)
	mux.HandleFunc("GET /api/auth/check", srv.handleAuthCheck)
	srv.registerAPI(mux)

	return srv, coord, mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestStatusAndState(t *testing.T) {
	_, _, mux := newTestServer(t, "")

	rec := doJSON(t, mux, "GET", "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	status := decode[map[string]any](t, rec)
	if status["state"] != "active" {
		t.Errorf("state = %v", status["state"])
	}
	if status["version"] != "test" {
		t.Errorf("version = %v", status["version"])
	}

	rec = doJSON(t, mux, "GET", "/api/state", nil)
	state := decode[map[string]string](t, rec)
	if state["state"] != "active" {
		t.Errorf("state = %q", state["state"])
	}
}

func TestSubmitTask(t *testing.T) {
	_, coord, mux := newTestServer(t, "")

	rec := doJSON(t, mux, "POST", "/api/tasks", map[string]any{
		"type":     "market_analysis",
		"priority": "high",
		"payload":  map[string]string{"pair": "SOL/USDC"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit = %d: %s", rec.Code, rec.Body.String())
	}
	reply := decode[map[string]string](t, rec)
	if _, err := uuid.Parse(reply["task_id"]); err != nil {
		t.Errorf("task_id %q: %v", reply["task_id"], err)
	}
	if len(coord.submitted) != 1 || coord.submitted[0] != "market_analysis" {
		t.Errorf("submitted = %v", coord.submitted)
	}
}

func TestRegisterAgent(t *testing.T) {
	_, coord, mux := newTestServer(t, "")

	rec := doJSON(t, mux, "POST", "/api/agents", map[string]any{
		"type":         "quant",
		"capabilities": []string{"MathematicalModeling"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register = %d: %s", rec.Code, rec.Body.String())
	}
	reply := decode[map[string]string](t, rec)
	id, err := uuid.Parse(reply["agent_id"])
	if err != nil {
		t.Fatalf("agent_id %q: %v", reply["agent_id"], err)
	}
	if len(coord.registered) != 1 || coord.registered[0] != hive.Quant {
		t.Errorf("registered = %v", coord.registered)
	}

	rec = doJSON(t, mux, "POST", "/api/agents", map[string]any{"type": "janitor"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown type = %d", rec.Code)
	}

	rec = doJSON(t, mux, "DELETE", "/api/agents/"+id.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unregister = %d", rec.Code)
	}
	if len(coord.unregistered) != 1 || coord.unregistered[0] != id {
		t.Errorf("unregistered = %v", coord.unregistered)
	}
}

func TestSubmitTaskValidation(t *testing.T) {
	_, _, mux := newTestServer(t, "")

	rec := doJSON(t, mux, "POST", "/api/tasks", map[string]any{"priority": "high"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing type = %d", rec.Code)
	}
}

func TestSubmitTaskCoordinatorError(t *testing.T) {
	_, coord, mux := newTestServer(t, "")
	coord.submitErr = errors.New("task queue full")

	rec := doJSON(t, mux, "POST", "/api/tasks", map[string]any{
		"type":    "market_analysis",
		"payload": map[string]string{"pair": "SOL/USDC"},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("full queue = %d", rec.Code)
	}
}

func TestTaskResultNotFound(t *testing.T) {
	_, _, mux := newTestServer(t, "")

	rec := doJSON(t, mux, "GET", "/api/tasks/"+uuid.NewString()+"/result", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing result = %d", rec.Code)
	}

	rec = doJSON(t, mux, "GET", "/api/tasks/not-a-uuid/result", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d", rec.Code)
	}
}

func TestMemorySearch(t *testing.T) {
	srv, _, mux := newTestServer(t, "")

	taskID := uuid.New()
	err := srv.store.Store(context.Background(), taskID, hive.TaskResult{
		TaskID:    taskID,
		AgentID:   uuid.New(),
		Success:   true,
		Output:    json.RawMessage(`{"verdict":"buy"}`),
		Embedding: []float32{1, 0, 0},
	})
	if err != nil {
		t.Fatalf("store result: %v", err)
	}

	rec := doJSON(t, mux, "POST", "/api/memory/search", map[string]any{
		"vector":    []float32{1, 0, 0},
		"threshold": 0.5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("search = %d: %s", rec.Code, rec.Body.String())
	}
	reply := decode[struct {
		Count   int `json:"count"`
		Entries []struct {
			TaskID string `json:"task_id"`
		} `json:"entries"`
	}](t, rec)
	if reply.Count != 1 || len(reply.Entries) != 1 {
		t.Fatalf("count = %d, entries = %d", reply.Count, len(reply.Entries))
	}
	if reply.Entries[0].TaskID != taskID.String() {
		t.Errorf("task_id = %s, want %s", reply.Entries[0].TaskID, taskID)
	}

	rec = doJSON(t, mux, "POST", "/api/memory/search", map[string]any{"threshold": 0.5})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing vector = %d", rec.Code)
	}
}

func TestScheduleLifecycle(t *testing.T) {
	_, _, mux := newTestServer(t, "")

	rec := doJSON(t, mux, "POST", "/api/schedules", map[string]string{
		"name":      "hourly scan",
		"schedule":  "0 * * * *",
		"task_type": "market_analysis",
		"priority":  "medium",
		"payload":   `{"scope":"all"}`,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[memstore.ScheduledSubmission](t, rec)
	if created.ID == "" || created.NextRunAt == nil {
		t.Fatalf("created = %+v", created)
	}

	rec = doJSON(t, mux, "GET", "/api/schedules", nil)
	list := decode[map[string]json.RawMessage](t, rec)
	var count int
	if err := json.Unmarshal(list["count"], &count); err != nil || count != 1 {
		t.Errorf("count = %s", list["count"])
	}

	rec = doJSON(t, mux, "POST", "/api/schedules/"+created.ID+"/pause", nil)
	paused := decode[memstore.ScheduledSubmission](t, rec)
	if paused.Status != "paused" {
		t.Errorf("status = %q", paused.Status)
	}

	rec = doJSON(t, mux, "POST", "/api/schedules/"+created.ID+"/resume", nil)
	resumed := decode[memstore.ScheduledSubmission](t, rec)
	if resumed.Status != "active" || resumed.NextRunAt == nil {
		t.Errorf("resumed = %+v", resumed)
	}

	rec = doJSON(t, mux, "PUT", "/api/schedules/"+created.ID, map[string]string{"priority": "critical"})
	updated := decode[memstore.ScheduledSubmission](t, rec)
	if updated.Priority != hive.PriorityCritical {
		t.Errorf("priority = %v", updated.Priority)
	}

	rec = doJSON(t, mux, "DELETE", "/api/schedules/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete = %d", rec.Code)
	}

	rec = doJSON(t, mux, "DELETE", "/api/schedules/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete = %d", rec.Code)
	}
}

func TestScheduleRejectsBadCron(t *testing.T) {
	_, _, mux := newTestServer(t, "")

	rec := doJSON(t, mux, "POST", "/api/schedules", map[string]string{
		"name":      "broken",
		"schedule":  "not a cron",
		"task_type": "market_analysis",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad cron = %d", rec.Code)
	}
}

func TestSecretEndpoints(t *testing.T) {
	_, _, mux := newTestServer(t, "")

	rec := doJSON(t, mux, "POST", "/api/secrets", map[string]string{
		"name":  "exchange-api-key",
		"value": "s3cret",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, "GET", "/api/secrets", nil)
	list := decode[map[string]json.RawMessage](t, rec)
	var names []string
	if err := json.Unmarshal(list["secrets"], &names); err != nil || len(names) != 1 || names[0] != "exchange-api-key" {
		t.Errorf("secrets = %s", list["secrets"])
	}

	rec = doJSON(t, mux, "DELETE", "/api/secrets/exchange-api-key", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete = %d", rec.Code)
	}
}

func TestMaintenanceEndpoints(t *testing.T) {
	_, coord, mux := newTestServer(t, "")

	rec := doJSON(t, mux, "POST", "/api/maintenance/enter", nil)
	if rec.Code != http.StatusOK || !coord.maintenance {
		t.Fatalf("enter = %d, maintenance = %v", rec.Code, coord.maintenance)
	}

	rec = doJSON(t, mux, "POST", "/api/maintenance/leave", nil)
	if rec.Code != http.StatusOK || coord.maintenance {
		t.Fatalf("leave = %d, maintenance = %v", rec.Code, coord.maintenance)
	}
}

func TestWorkersWithoutLauncher(t *testing.T) {
	_, _, mux := newTestServer(t, "")

	rec := doJSON(t, mux, "GET", "/api/workers", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("workers = %d", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _, mux := newTestServer(t, "hunter2")
	handler := srv.withMiddleware(mux)

	// Unauthenticated request is rejected.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/state", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d", rec.Code)
	}

	// Basic auth password works without a session.
	req := httptest.NewRequest("GET", "/api/state", nil)
	req.SetBasicAuth("", "hunter2")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("basic auth = %d", rec.Code)
	}

	// Login issues a session cookie that authenticates later requests.
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(map[string]string{"password": "hunter2"})
	loginReq := httptest.NewRequest("POST", "/api/login", &buf)
	loginRec := httptest.NewRecorder()
	handler.ServeHTTP(loginRec, loginReq)
	if loginRec.Code != http.StatusOK {
		t.Fatalf("login = %d", loginRec.Code)
	}
	cookies := loginRec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("no session cookie issued")
	}

	req = httptest.NewRequest("GET", "/api/state", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("session auth = %d", rec.Code)
	}

	// Wrong password is rejected.
	buf.Reset()
	json.NewEncoder(&buf).Encode(map[string]string{"password": "wrong"})
	loginRec = httptest.NewRecorder()
	handler.ServeHTTP(loginRec, httptest.NewRequest("POST", "/api/login", &buf))
	if loginRec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password = %d", loginRec.Code)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	srv, _, mux := newTestServer(t, "hunter2")
	handler := srv.withMiddleware(mux)

	token, err := srv.createSession()
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	logoutReq := httptest.NewRequest("POST", "/api/logout", nil)
	logoutReq.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	handler.ServeHTTP(httptest.NewRecorder(), logoutReq)

	req := httptest.NewRequest("GET", "/api/state", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("after logout = %d", rec.Code)
	}
}
