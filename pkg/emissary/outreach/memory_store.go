// memory_store.go implements Store in memory. Used by tests and the local
// chat REPL; behavior matches the SQLite store row for row.
package outreach

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	targets map[string]*Target
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[string]*Task),
		targets: make(map[string]*Target),
	}
}

// CreateTask inserts a task.
func (s *MemoryStore) CreateTask(ctx context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return &StoreError{Code: ErrCodeConflict, Message: "task " + task.ID + " already exists"}
	}
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

// GetTask returns a task by id.
func (s *MemoryStore) GetTask(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, notFound("task", id)
	}
	cp := *task
	return &cp, nil
}

// UpdateTask overwrites a task row.
func (s *MemoryStore) UpdateTask(ctx context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return notFound("task", task.ID)
	}
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

// DeleteTask removes a task row.
func (s *MemoryStore) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return notFound("task", id)
	}
	delete(s.tasks, id)
	return nil
}

// ListTasks returns tasks matching the filter, newest first.
func (s *MemoryStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Task
	for _, task := range s.tasks {
		if filter.OwnerUserID != "" && task.OwnerUserID != filter.OwnerUserID {
			continue
		}
		if filter.Kind != "" && task.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		cp := *task
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CreateTarget inserts a target.
func (s *MemoryStore) CreateTarget(ctx context.Context, target *Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[target.ID]; ok {
		return &StoreError{Code: ErrCodeConflict, Message: "target " + target.ID + " already exists"}
	}
	cp := cloneTarget(target)
	s.targets[target.ID] = cp
	return nil
}

// GetTarget returns a target by id.
func (s *MemoryStore) GetTarget(ctx context.Context, id string) (*Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.targets[id]
	if !ok {
		return nil, notFound("target", id)
	}
	return cloneTarget(target), nil
}

// UpdateTarget overwrites a target row.
func (s *MemoryStore) UpdateTarget(ctx context.Context, target *Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[target.ID]; !ok {
		return notFound("target", target.ID)
	}
	s.targets[target.ID] = cloneTarget(target)
	return nil
}

// DeleteTarget removes a target row.
func (s *MemoryStore) DeleteTarget(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[id]; !ok {
		return notFound("target", id)
	}
	delete(s.targets, id)
	return nil
}

// ListTargets returns targets matching the filter, oldest first.
func (s *MemoryStore) ListTargets(ctx context.Context, filter TargetFilter) ([]*Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Target
	for _, target := range s.targets {
		if filter.TaskID != "" && target.TaskID != filter.TaskID {
			continue
		}
		if filter.OwnerUserID != "" && target.OwnerUserID != filter.OwnerUserID {
			continue
		}
		if filter.ConversationID != "" && target.ConversationID != filter.ConversationID {
			continue
		}
		if filter.Status != "" && target.Status != filter.Status {
			continue
		}
		if !filter.UpdatedBefore.IsZero() && !target.UpdatedAt.Before(filter.UpdatedBefore) {
			continue
		}
		out = append(out, cloneTarget(target))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// cloneTarget deep-copies a target so callers cannot mutate stored rows.
func cloneTarget(t *Target) *Target {
	cp := *t
	cp.Meta.Errors = append([]ErrorEntry(nil), t.Meta.Errors...)
	cp.Meta.Responses = append([]ResponseEntry(nil), t.Meta.Responses...)
	if t.Meta.RemindedAt != nil {
		at := *t.Meta.RemindedAt
		cp.Meta.RemindedAt = &at
	}
	if t.LastResponseAt != nil {
		at := *t.LastResponseAt
		cp.LastResponseAt = &at
	}
	return &cp
}
