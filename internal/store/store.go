// Package store persists task records in Redis so the HTTP API and
// dashboard can read task state without reaching into live pool internals.
// Records are written on every task state transition and are the source of
// truth for task lookups after the owning pool has moved on.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/modelq/modelq/internal/task"
)

const tasksKey = "modelq:tasks"

var ErrNotFound = errors.New("task not found")

// Store is the task record store consumed by the HTTP layer. Both the
// Redis-backed TaskStore and the in-process MemoryStore satisfy it.
type Store interface {
	SaveTask(t *task.Task) error
	GetTask(taskID string) (*task.Task, error)
	AllTasks() ([]*task.Task, error)
	Close() error
}

type TaskStore struct {
	client *redis.Client
	ctx    context.Context
}

func NewTaskStore(redisAddr string) (*TaskStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &TaskStore{
		client: client,
		ctx:    ctx,
	}, nil
}

func (s *TaskStore) SaveTask(t *task.Task) error {
	taskJSON, err := t.ToJSON()
	if err != nil {
		return err
	}

	return s.client.HSet(s.ctx, tasksKey, t.ID, taskJSON).Err()
}

func (s *TaskStore) GetTask(taskID string) (*task.Task, error) {
	taskJSON, err := s.client.HGet(s.ctx, tasksKey, taskID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return task.FromJSON(taskJSON)
}

func (s *TaskStore) AllTasks() ([]*task.Task, error) {
	taskMap, err := s.client.HGetAll(s.ctx, tasksKey).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, 0, len(taskMap))
	for _, taskJSON := range taskMap {
		t, err := task.FromJSON(taskJSON)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}

	return tasks, nil
}

func (s *TaskStore) Close() error {
	return s.client.Close()
}

// MemoryStore is an in-process fallback used when no Redis address is
// configured. It keeps the API functional in single-binary deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]string)}
}

func (s *MemoryStore) SaveTask(t *task.Task) error {
	taskJSON, err := t.ToJSON()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.tasks[t.ID] = taskJSON
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetTask(taskID string) (*task.Task, error) {
	s.mu.RLock()
	taskJSON, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	return task.FromJSON(taskJSON)
}

func (s *MemoryStore) AllTasks() ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*task.Task, 0, len(s.tasks))
	for _, taskJSON := range s.tasks {
		t, err := task.FromJSON(taskJSON)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}

	return tasks, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
