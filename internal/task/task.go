// Package task defines the core task domain model shared by the dispatcher,
// worker pools and persistence layers. It contains task metadata, status,
// priority and specialization definitions, and serialization helpers.
package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type (
	Status         string
	Priority       string
	Specialization string
)

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

const (
	PriorityCritical   Priority = "critical"
	PriorityHigh       Priority = "high"
	PriorityNormal     Priority = "normal"
	PriorityLow        Priority = "low"
	PriorityBackground Priority = "background"
)

const (
	SpecCoding    Specialization = "coding"
	SpecAnalysis  Specialization = "analysis"
	SpecCreative  Specialization = "creative"
	SpecReasoning Specialization = "reasoning"
	SpecGeneral   Specialization = "general"
)

// Specializations lists every pool specialization in declaration order.
// The dispatcher relies on this order for deterministic tie-breaking.
func Specializations() []Specialization {
	return []Specialization{SpecCoding, SpecAnalysis, SpecCreative, SpecReasoning, SpecGeneral}
}

// Result holds the completion output attached to a task once a worker
// finishes it. Owned by the task after attachment.
type Result struct {
	Content    string `json:"content"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
	LatencyMs  int64  `json:"latency_ms"`
}

type Task struct {
	ID             string         `json:"id"`
	Description    string         `json:"description"`
	Priority       Priority       `json:"priority"`
	Specialization Specialization `json:"specialization,omitempty"`
	Status         Status         `json:"status"`
	MaxTokens      int            `json:"max_tokens"`
	Temperature    float64        `json:"temperature"`
	Retries        int            `json:"retries"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Result         *Result        `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	TokensUsed     int            `json:"tokens_used"`
	ElapsedMs      int64          `json:"elapsed_ms"`
}

const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7
)

func New(description string, priority Priority) *Task {
	if priority == "" {
		priority = PriorityNormal
	}
	return &Task{
		ID:          uuid.New().String(),
		Description: description,
		Priority:    priority,
		Status:      StatusPending,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		CreatedAt:   time.Now(),
	}
}

// Terminal reports whether no further status transitions may occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func ValidPriority(p Priority) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow, PriorityBackground:
		return true
	}
	return false
}

func (t *Task) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func FromJSON(data string) (*Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, err
	}

	return &t, nil
}
