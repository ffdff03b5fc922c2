// Package repository provides PostgreSQL persistence for task history.
// Unlike the Redis record store, history is append-only and feeds the
// aggregate stats endpoints.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/modelq/modelq/internal/task"
)

type TaskHistory interface {
	SaveTask(t *task.Task) error
	GetTaskStats(ctx context.Context, hours int) ([]TaskStats, error)
	GetRecentTasks(ctx context.Context, limit int) ([]RecentTask, error)
	Close() error
}

type PostgresTaskHistory struct {
	db *sql.DB
}

type TaskStats struct {
	Specialization string  `json:"specialization"`
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	Failed         int     `json:"failed"`
	Cancelled      int     `json:"cancelled"`
	AvgElapsedMs   float64 `json:"avg_elapsed_ms"`
	TotalTokens    int     `json:"total_tokens"`
	AvgRetries     float64 `json:"avg_retries"`
}

type RecentTask struct {
	TaskID         string     `json:"task_id"`
	Description    string     `json:"description"`
	Specialization string     `json:"specialization"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ElapsedMs      *int64     `json:"elapsed_ms,omitempty"`
	Retries        int        `json:"retries"`
	Error          string     `json:"error,omitempty"`
}

func NewPostgresTaskHistory(connectionString string) (*PostgresTaskHistory, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresTaskHistory{db: db}, nil
}

// SaveTask upserts the task's current state. It satisfies pool.Recorder, so
// a pool can write history directly on every transition.
func (r *PostgresTaskHistory) SaveTask(t *task.Task) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO task_history (
			task_id, description, specialization, priority, status,
			retries, error, tokens_used, elapsed_ms,
			created_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (task_id) DO UPDATE SET
			specialization = EXCLUDED.specialization,
			status = EXCLUDED.status,
			retries = EXCLUDED.retries,
			error = EXCLUDED.error,
			tokens_used = EXCLUDED.tokens_used,
			elapsed_ms = EXCLUDED.elapsed_ms,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		t.ID,
		t.Description,
		string(t.Specialization),
		string(t.Priority),
		string(t.Status),
		t.Retries,
		t.Error,
		t.TokensUsed,
		t.ElapsedMs,
		t.CreatedAt,
		t.StartedAt,
		t.CompletedAt,
	)

	return err
}

func (r *PostgresTaskHistory) GetTaskStats(ctx context.Context, hours int) ([]TaskStats, error) {
	query := `
		SELECT
			specialization,
			COUNT(*) as total,
			COUNT(*) FILTER (WHERE status = 'completed') as completed,
			COUNT(*) FILTER (WHERE status = 'failed') as failed,
			COUNT(*) FILTER (WHERE status = 'cancelled') as cancelled,
			COALESCE(AVG(elapsed_ms) FILTER (WHERE elapsed_ms > 0), 0) as avg_elapsed_ms,
			COALESCE(SUM(tokens_used), 0) as total_tokens,
			COALESCE(AVG(retries), 0) as avg_retries
		FROM task_history
		WHERE created_at > NOW() - ($1 || ' hours')::interval
		GROUP BY specialization
		ORDER BY total DESC
	`

	rows, err := r.db.QueryContext(ctx, query, hours)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer closeRows(rows)

	var stats []TaskStats
	for rows.Next() {
		var s TaskStats
		if err := rows.Scan(&s.Specialization, &s.Total, &s.Completed, &s.Failed, &s.Cancelled, &s.AvgElapsedMs, &s.TotalTokens, &s.AvgRetries); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

func (r *PostgresTaskHistory) GetRecentTasks(ctx context.Context, limit int) ([]RecentTask, error) {
	query := `
		SELECT task_id, description, specialization, status,
			created_at, completed_at, elapsed_ms, retries, error
		FROM task_history
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer closeRows(rows)

	var tasks []RecentTask
	for rows.Next() {
		var rt RecentTask
		var elapsed sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&rt.TaskID, &rt.Description, &rt.Specialization, &rt.Status, &rt.CreatedAt, &rt.CompletedAt, &elapsed, &rt.Retries, &errMsg); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		if elapsed.Valid {
			rt.ElapsedMs = &elapsed.Int64
		}
		rt.Error = errMsg.String
		tasks = append(tasks, rt)
	}

	return tasks, rows.Err()
}

func (r *PostgresTaskHistory) Close() error {
	return r.db.Close()
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		log.Printf("failed to close rows: %v", err)
	}
}
