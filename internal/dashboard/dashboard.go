// Package dashboard implements the web-based monitoring interface for pool
// throughput and task status.
package dashboard

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/modelq/modelq/internal/httputil"
	"github.com/modelq/modelq/internal/store"
	"github.com/modelq/modelq/internal/task"
)

type Dashboard struct {
	store store.Store
}

type Stats struct {
	TotalTasks            int            `json:"total_tasks"`
	PendingTasks          int            `json:"pending_tasks"`
	InProgressTasks       int            `json:"in_progress_tasks"`
	CompletedTasks        int            `json:"completed_tasks"`
	FailedTasks           int            `json:"failed_tasks"`
	CancelledTasks        int            `json:"cancelled_tasks"`
	TasksBySpecialization map[string]int `json:"tasks_by_specialization"`
	TotalTokensUsed       int            `json:"total_tokens_used"`
	AverageWaitTime       string         `json:"average_wait_time"`
	LastUpdated           time.Time      `json:"last_updated"`
}

type TaskHistory struct {
	TaskID         string      `json:"task_id"`
	Specialization string      `json:"specialization"`
	Status         task.Status `json:"status"`
	Model          string      `json:"model,omitempty"`
	TokensUsed     int         `json:"tokens_used"`
	CreatedAt      time.Time   `json:"created_at"`
	CompletedAt    *time.Time  `json:"completed_at"`
	Duration       string      `json:"duration"`
}

func NewDashboard(s store.Store) *Dashboard {
	return &Dashboard{store: s}
}

func (d *Dashboard) GetStats(w http.ResponseWriter, r *http.Request) {
	tasks, err := d.store.AllTasks()
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	stats := Stats{
		TotalTasks:            len(tasks),
		TasksBySpecialization: make(map[string]int),
		LastUpdated:           time.Now(),
	}

	var totalWaitTime time.Duration
	waitCount := 0

	for _, tk := range tasks {
		switch tk.Status {
		case task.StatusPending:
			stats.PendingTasks++
		case task.StatusInProgress:
			stats.InProgressTasks++
		case task.StatusCompleted:
			stats.CompletedTasks++
		case task.StatusFailed:
			stats.FailedTasks++
		case task.StatusCancelled:
			stats.CancelledTasks++
		}

		stats.TasksBySpecialization[string(tk.Specialization)]++
		stats.TotalTokensUsed += tk.TokensUsed

		if tk.StartedAt != nil {
			waitTime := tk.StartedAt.Sub(tk.CreatedAt)
			totalWaitTime += waitTime
			waitCount++
		}
	}

	if waitCount > 0 {
		avgWait := totalWaitTime / time.Duration(waitCount)
		stats.AverageWaitTime = avgWait.Round(time.Millisecond).String()
	} else {
		stats.AverageWaitTime = "N/A"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		httputil.WriteJSONError(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

func (d *Dashboard) GetRecentTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := d.store.AllTasks()
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	history := []TaskHistory{}

	for _, tk := range tasks {
		if tk.CompletedAt == nil {
			continue
		}
		if tk.CompletedAt.Before(cutoff) {
			continue
		}

		var duration string
		if tk.StartedAt != nil {
			duration = tk.CompletedAt.Sub(*tk.StartedAt).Round(time.Millisecond).String()
		}

		var model string
		if tk.Result != nil {
			model = tk.Result.Model
		}

		history = append(history, TaskHistory{
			TaskID:         tk.ID,
			Specialization: string(tk.Specialization),
			Status:         tk.Status,
			Model:          model,
			TokensUsed:     tk.TokensUsed,
			CreatedAt:      tk.CreatedAt,
			CompletedAt:    tk.CompletedAt,
			Duration:       duration,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(history); err != nil {
		httputil.WriteJSONError(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}
