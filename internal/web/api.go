package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rojlabs/roj/internal/hive"
	"github.com/rojlabs/roj/internal/launcher"
	"github.com/rojlabs/roj/internal/memstore"
	"github.com/rojlabs/roj/internal/scheduler"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("POST /api/agents", s.handleRegisterAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", s.handleUnregisterAgent)

	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks", s.handleSubmitTask)
	mux.HandleFunc("GET /api/tasks/{id}/result", s.handleTaskResult)

	mux.HandleFunc("POST /api/memory/search", s.handleMemorySearch)

	mux.HandleFunc("GET /api/decisions", s.handleListDecisions)
	mux.HandleFunc("GET /api/decisions/history", s.handleDecisionHistory)

	mux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", s.handleUpdateSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/pause", s.handlePauseSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/resume", s.handleResumeSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteSchedule)

	mux.HandleFunc("GET /api/secrets", s.handleListSecrets)
	mux.HandleFunc("POST /api/secrets", s.handlePutSecret)
	mux.HandleFunc("DELETE /api/secrets/{name}", s.handleDeleteSecret)

	mux.HandleFunc("GET /api/workers", s.handleListWorkers)
	mux.HandleFunc("POST /api/workers", s.handleStartWorker)
	mux.HandleFunc("POST /api/workers/build", s.handleBuildImage)
	mux.HandleFunc("DELETE /api/workers/{name}", s.handleStopWorker)

	mux.HandleFunc("POST /api/maintenance/enter", s.handleEnterMaintenance)
	mux.HandleFunc("POST /api/maintenance/leave", s.handleLeaveMaintenance)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	m := s.coord.Metrics()
	jsonResponse(w, map[string]any{
		"state":      m.State,
		"version":    s.version,
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"agents":     m.Agents,
		"tasks":      map[string]int{"active": m.ActiveTasks, "queued": m.QueuedTasks},
		"ws_clients": s.hub.clientCount(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]string{"state": string(s.coord.State())})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.coord.Metrics())
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.registry.Snapshot()
	jsonResponse(w, map[string]any{"agents": agents, "count": len(agents)})
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type         string   `json:"type"`
		Capabilities []string `json:"capabilities,omitempty"`
		Endpoint     string   `json:"endpoint,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	t := hive.AgentType(body.Type)
	if !t.Valid() {
		jsonError(w, "unknown agent type", http.StatusBadRequest)
		return
	}
	caps := make([]hive.Capability, 0, len(body.Capabilities))
	for _, c := range body.Capabilities {
		caps = append(caps, hive.Capability(c))
	}

	id, err := s.coord.RegisterAgent(t, caps, body.Endpoint)
	if err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	jsonResponse(w, map[string]string{"agent_id": id.String()})
}

func (s *Server) handleUnregisterAgent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		jsonError(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	s.coord.UnregisterAgent(id)
	jsonResponse(w, map[string]string{"status": "unregistered"})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.coord.ActiveTasks()
	jsonResponse(w, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type         string          `json:"type"`
		Priority     string          `json:"priority"`
		Payload      json.RawMessage `json:"payload"`
		Deadline     *time.Time      `json:"deadline,omitempty"`
		Capabilities []string        `json:"capabilities,omitempty"`
		Preferred    string          `json:"preferred,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Type == "" {
		jsonError(w, "type is required", http.StatusBadRequest)
		return
	}

	var deadline time.Time
	if body.Deadline != nil {
		deadline = *body.Deadline
	}
	caps := make([]hive.Capability, 0, len(body.Capabilities))
	for _, c := range body.Capabilities {
		caps = append(caps, hive.Capability(c))
	}

	id, err := s.coord.Submit(body.Type, hive.ParsePriority(body.Priority), body.Payload, deadline, caps, hive.AgentType(body.Preferred))
	if err != nil {
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	jsonResponse(w, map[string]string{"task_id": id.String()})
}

func (s *Server) handleTaskResult(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		jsonError(w, "invalid task id", http.StatusBadRequest)
		return
	}

	result, err := s.store.GetResult(r.Context(), id)
	if err != nil {
		jsonError(w, "result lookup failed", http.StatusInternalServerError)
		return
	}
	if result == nil {
		jsonError(w, "no result for task", http.StatusNotFound)
		return
	}
	jsonResponse(w, result)
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Vector    []float32 `json:"vector"`
		Limit     int       `json:"limit,omitempty"`
		Threshold float64   `json:"threshold,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(body.Vector) == 0 {
		jsonError(w, "vector is required", http.StatusBadRequest)
		return
	}

	entries, err := s.store.RetrieveSimilar(r.Context(), body.Vector, body.Limit, body.Threshold)
	if err != nil {
		jsonError(w, "similarity search failed", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	decisions := s.coord.Decisions()
	jsonResponse(w, map[string]any{"decisions": decisions, "count": len(decisions)})
}

func (s *Server) handleDecisionHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	decisions, err := s.store.ListDecisions(r.Context(), limit)
	if err != nil {
		jsonError(w, "history lookup failed", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]any{"decisions": decisions, "count": len(decisions)})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.ListSubmissions()
	if err != nil {
		jsonError(w, "schedule lookup failed", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]any{"schedules": subs, "count": len(subs)})
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name         string `json:"name"`
		Schedule     string `json:"schedule"`
		TaskType     string `json:"task_type"`
		Priority     string `json:"priority"`
		Payload      string `json:"payload"`
		Capabilities string `json:"capabilities,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Schedule == "" || body.TaskType == "" {
		jsonError(w, "name, schedule and task_type are required", http.StatusBadRequest)
		return
	}

	normalized, err := scheduler.NormalizeSchedule(body.Schedule)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub := &memstore.ScheduledSubmission{
		ID:           uuid.NewString(),
		Name:         body.Name,
		Schedule:     normalized,
		TaskType:     body.TaskType,
		Priority:     hive.ParsePriority(body.Priority),
		Payload:      body.Payload,
		Capabilities: body.Capabilities,
		Status:       "active",
		NextRunAt:    scheduler.CalculateNextRun(normalized),
		CreatedAt:    time.Now(),
	}
	if err := s.store.SaveSubmission(sub); err != nil {
		jsonError(w, "schedule save failed", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, sub)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.lookupSchedule(w, r)
	if !ok {
		return
	}

	var body struct {
		Name         *string `json:"name,omitempty"`
		Schedule     *string `json:"schedule,omitempty"`
		TaskType     *string `json:"task_type,omitempty"`
		Priority     *string `json:"priority,omitempty"`
		Payload      *string `json:"payload,omitempty"`
		Capabilities *string `json:"capabilities,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.Name != nil {
		sub.Name = *body.Name
	}
	if body.Schedule != nil {
		normalized, err := scheduler.NormalizeSchedule(*body.Schedule)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		sub.Schedule = normalized
		sub.NextRunAt = scheduler.CalculateNextRun(normalized)
	}
	if body.TaskType != nil {
		sub.TaskType = *body.TaskType
	}
	if body.Priority != nil {
		sub.Priority = hive.ParsePriority(*body.Priority)
	}
	if body.Payload != nil {
		sub.Payload = *body.Payload
	}
	if body.Capabilities != nil {
		sub.Capabilities = *body.Capabilities
	}

	if err := s.store.SaveSubmission(sub); err != nil {
		jsonError(w, "schedule save failed", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, sub)
}

func (s *Server) handlePauseSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleStatus(w, r, "paused")
}

func (s *Server) handleResumeSchedule(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.lookupSchedule(w, r)
	if !ok {
		return
	}

	// Recompute the next run so a long pause does not fire a backlog.
	sub.Status = "active"
	sub.NextRunAt = scheduler.CalculateNextRun(sub.Schedule)
	if err := s.store.SaveSubmission(sub); err != nil {
		jsonError(w, "schedule save failed", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, sub)
}

func (s *Server) setScheduleStatus(w http.ResponseWriter, r *http.Request, status string) {
	sub, ok := s.lookupSchedule(w, r)
	if !ok {
		return
	}
	if err := s.store.UpdateSubmissionStatus(sub.ID, status); err != nil {
		jsonError(w, "schedule update failed", http.StatusInternalServerError)
		return
	}
	sub.Status = status
	jsonResponse(w, sub)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.lookupSchedule(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteSubmission(sub.ID); err != nil {
		jsonError(w, "schedule delete failed", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) lookupSchedule(w http.ResponseWriter, r *http.Request) (*memstore.ScheduledSubmission, bool) {
	sub, err := s.store.GetSubmission(r.PathValue("id"))
	if err != nil {
		jsonError(w, "schedule lookup failed", http.StatusInternalServerError)
		return nil, false
	}
	if sub == nil {
		jsonError(w, "schedule not found", http.StatusNotFound)
		return nil, false
	}
	return sub, true
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	if s.keeper == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}
	names, err := s.keeper.List()
	if err != nil {
		jsonError(w, "secret lookup failed", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]any{"secrets": names, "count": len(names)})
}

func (s *Server) handlePutSecret(w http.ResponseWriter, r *http.Request) {
	if s.keeper == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Value == "" {
		jsonError(w, "name and value are required", http.StatusBadRequest)
		return
	}

	if err := s.keeper.Put(body.Name, []byte(body.Value)); err != nil {
		jsonError(w, "secret save failed", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"name": body.Name})
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	if s.keeper == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.keeper.Delete(r.PathValue("name")); err != nil {
		jsonError(w, "secret delete failed", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	if s.launcher == nil {
		jsonError(w, "launcher not configured", http.StatusServiceUnavailable)
		return
	}
	workers := s.launcher.ListRunning()
	jsonResponse(w, map[string]any{"workers": workers, "count": len(workers)})
}

func (s *Server) handleStartWorker(w http.ResponseWriter, r *http.Request) {
	if s.launcher == nil {
		jsonError(w, "launcher not configured", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Name         string            `json:"name"`
		Type         string            `json:"type"`
		Capabilities []string          `json:"capabilities,omitempty"`
		Image        string            `json:"image,omitempty"`
		Env          map[string]string `json:"env,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Type == "" {
		jsonError(w, "name and type are required", http.StatusBadRequest)
		return
	}

	caps := make([]hive.Capability, 0, len(body.Capabilities))
	for _, c := range body.Capabilities {
		caps = append(caps, hive.Capability(c))
	}

	info, err := s.launcher.StartWorker(r.Context(), launcher.WorkerOpts{
		Name:         body.Name,
		Type:         hive.AgentType(body.Type),
		Capabilities: caps,
		Image:        body.Image,
		Env:          body.Env,
	})
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, info)
}

func (s *Server) handleBuildImage(w http.ResponseWriter, r *http.Request) {
	if s.launcher == nil {
		jsonError(w, "launcher not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.launcher.BuildImage(r.Context()); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "built"})
}

func (s *Server) handleStopWorker(w http.ResponseWriter, r *http.Request) {
	if s.launcher == nil {
		jsonError(w, "launcher not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.launcher.StopWorker(r.Context(), r.PathValue("name")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "stopped"})
}

func (s *Server) handleEnterMaintenance(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.EnterMaintenance(); err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	jsonResponse(w, map[string]string{"state": string(s.coord.State())})
}

func (s *Server) handleLeaveMaintenance(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.LeaveMaintenance(); err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	jsonResponse(w, map[string]string{"state": string(s.coord.State())})
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
