package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/modelq/modelq/internal/dashboard"
	"github.com/modelq/modelq/internal/dispatch"
	"github.com/modelq/modelq/internal/httputil"
	"github.com/modelq/modelq/internal/pool"
	"github.com/modelq/modelq/internal/report"
	"github.com/modelq/modelq/internal/repository"
	"github.com/modelq/modelq/internal/store"
	"github.com/modelq/modelq/internal/task"
)

const (
	maxTokensLimit = 32768
	maxTemperature = 2.0

	defaultStatsHours  = 24
	defaultRecentLimit = 20
)

type API struct {
	dispatcher *dispatch.Dispatcher
	reporter   *report.Reporter
	store      store.Store
	history    repository.TaskHistory
	mux        *http.ServeMux
}

type CreateTaskRequest struct {
	Description string         `json:"description"`
	Priority    *task.Priority `json:"priority"`
	MaxTokens   *int           `json:"max_tokens"`
	Temperature *float64       `json:"temperature"`
}

type CreateTaskResponse struct {
	Task           *task.Task          `json:"task"`
	Specialization task.Specialization `json:"specialization"`
}

type PoolsResponse struct {
	Pools  map[task.Specialization]pool.Status `json:"pools"`
	Totals report.Totals                       `json:"totals"`
}

// NewAPI wires the HTTP surface. history may be nil when no Postgres DSN is
// configured; the history endpoints then report as unconfigured.
func NewAPI(d *dispatch.Dispatcher, r *report.Reporter, s store.Store, h repository.TaskHistory) *API {
	api := &API{
		dispatcher: d,
		reporter:   r,
		store:      s,
		history:    h,
		mux:        http.NewServeMux(),
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("/api/tasks", a.handleTasks)
	a.mux.HandleFunc("/api/tasks/", a.handleTaskByID)
	a.mux.HandleFunc("/api/pools", a.handlePools)
	a.mux.HandleFunc("/api/history/stats", a.handleHistoryStats)
	a.mux.HandleFunc("/api/history/recent", a.handleHistoryRecent)

	dash := dashboard.NewDashboard(a.store)
	a.mux.HandleFunc("/api/dashboard/stats", dash.GetStats)
	a.mux.HandleFunc("/api/dashboard/history", dash.GetRecentTasks)
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createTask(w, r)
	case http.MethodGet:
		a.listTasks(w, r)
	default:
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteJSONError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Printf("failed to close request body: %v", err)
		}
	}()

	var req CreateTaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Description) == "" {
		httputil.WriteJSONError(w, "Task description is required", http.StatusBadRequest)
		return
	}

	var priority task.Priority
	if req.Priority != nil {
		if !task.ValidPriority(*req.Priority) {
			httputil.WriteJSONError(w, "Invalid priority", http.StatusBadRequest)
			return
		}
		priority = *req.Priority
	}

	t := task.New(req.Description, priority)
	if req.MaxTokens != nil {
		if *req.MaxTokens < 1 || *req.MaxTokens > maxTokensLimit {
			httputil.WriteJSONError(w, "Invalid max_tokens", http.StatusBadRequest)
			return
		}
		t.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		if *req.Temperature < 0 || *req.Temperature > maxTemperature {
			httputil.WriteJSONError(w, "Invalid temperature", http.StatusBadRequest)
			return
		}
		t.Temperature = *req.Temperature
	}

	// A worker may start mutating the task the moment Dispatch hands it to
	// a pool, so the response is built from a copy taken before handoff.
	accepted := *t

	spec, err := a.dispatcher.Dispatch(t)
	if err != nil {
		if errors.Is(err, dispatch.ErrOverloaded) {
			httputil.WriteJSONError(w, "All candidate pools are at capacity, retry later", http.StatusServiceUnavailable)
			return
		}
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	accepted.Specialization = spec

	httputil.WriteJSON(w, http.StatusCreated, CreateTaskResponse{
		Task:           &accepted,
		Specialization: spec,
	})
}

func (a *API) listTasks(w http.ResponseWriter, _ *http.Request) {
	tasks, err := a.store.AllTasks()
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, tasks)
}

func (a *API) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	if taskID == "" {
		httputil.WriteJSONError(w, "Task ID is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getTask(w, taskID)
	case http.MethodDelete:
		a.cancelTask(w, taskID)
	default:
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) getTask(w http.ResponseWriter, taskID string) {
	t, err := a.store.GetTask(taskID)
	if errors.Is(err, store.ErrNotFound) {
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, t)
}

func (a *API) cancelTask(w http.ResponseWriter, taskID string) {
	if err := a.dispatcher.Cancel(taskID); err != nil {
		// Distinguish "never existed" from "exists but already picked up
		// or finished", which is no longer cancellable.
		if _, lookupErr := a.store.GetTask(taskID); lookupErr == nil {
			httputil.WriteJSONError(w, "Task is no longer cancellable", http.StatusConflict)
			return
		}
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"task_id": taskID,
		"status":  "cancelled",
	})
}

func (a *API) handlePools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, PoolsResponse{
		Pools:  a.reporter.Snapshot(),
		Totals: a.reporter.Totals(),
	})
}

func (a *API) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.history == nil {
		httputil.WriteJSONError(w, "Task history is not configured", http.StatusNotFound)
		return
	}

	hours := positiveQueryInt(r, "hours", defaultStatsHours)
	stats, err := a.history.GetTaskStats(r.Context(), hours)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (a *API) handleHistoryRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.history == nil {
		httputil.WriteJSONError(w, "Task history is not configured", http.StatusNotFound)
		return
	}

	limit := positiveQueryInt(r, "limit", defaultRecentLimit)
	tasks, err := a.history.GetRecentTasks(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, tasks)
}

func positiveQueryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
