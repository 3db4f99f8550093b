// store.go defines the persistence port for tasks and targets. Two
// implementations exist: an in-memory store for tests and local development,
// and a SQLite store for real deployments.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StoreErrorCode classifies persistence failures.
type StoreErrorCode string

const (
	// ErrCodeNotFound means the requested row does not exist.
	ErrCodeNotFound StoreErrorCode = "not_found"

	// ErrCodeConflict means a write collided with existing state.
	ErrCodeConflict StoreErrorCode = "conflict"

	// ErrCodeIO means the backing store failed.
	ErrCodeIO StoreErrorCode = "io"
)

// StoreError is a typed persistence error.
type StoreError struct {
	Code    StoreErrorCode
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a not_found store error.
func IsNotFound(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == ErrCodeNotFound
}

// notFound builds a not_found StoreError.
func notFound(what, id string) *StoreError {
	return &StoreError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q", what, id)}
}

// TargetFilter selects targets in List queries. Zero values mean "any".
type TargetFilter struct {
	TaskID         string
	OwnerUserID    string
	ConversationID string
	Status         TargetStatus

	// UpdatedBefore selects targets whose UpdatedAt is strictly older.
	UpdatedBefore time.Time

	// Limit caps the result set; 0 means unlimited. Results are ordered by
	// UpdatedAt ascending (oldest first).
	Limit int
}

// TaskFilter selects tasks in List queries. Zero values mean "any".
type TaskFilter struct {
	OwnerUserID string
	Kind        TaskKind
	Status      TaskStatus
	Limit       int
}

// Store is the persistence port for tasks and targets.
type Store interface {
	// CreateTask inserts a task. Fails with conflict if the id exists.
	CreateTask(ctx context.Context, task *Task) error

	// GetTask returns a task by id.
	GetTask(ctx context.Context, id string) (*Task, error)

	// UpdateTask overwrites a task row by id.
	UpdateTask(ctx context.Context, task *Task) error

	// DeleteTask removes a task row. Targets are not touched.
	DeleteTask(ctx context.Context, id string) error

	// ListTasks returns tasks matching the filter, newest first.
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)

	// CreateTarget inserts a target.
	CreateTarget(ctx context.Context, target *Target) error

	// GetTarget returns a target by id.
	GetTarget(ctx context.Context, id string) (*Target, error)

	// UpdateTarget overwrites a target row by id.
	UpdateTarget(ctx context.Context, target *Target) error

	// DeleteTarget removes a target row.
	DeleteTarget(ctx context.Context, id string) error

	// ListTargets returns targets matching the filter, oldest first.
	ListTargets(ctx context.Context, filter TargetFilter) ([]*Target, error)

	// Close releases store resources.
	Close() error
}
