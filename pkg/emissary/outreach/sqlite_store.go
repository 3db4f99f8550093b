// sqlite_store.go implements Store on SQLite. Timestamps are stored as
// RFC3339 strings and the target meta as a JSON column, so the schema stays
// stable while TargetMeta evolves.
package outreach

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists tasks and targets in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                TEXT PRIMARY KEY,
	owner_user_id     TEXT NOT NULL,
	assistant_user_id TEXT NOT NULL,
	kind              TEXT NOT NULL,
	status            TEXT NOT NULL,
	title             TEXT NOT NULL,
	prompt            TEXT NOT NULL,
	payload           TEXT,
	result            TEXT,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	completed_at      TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_owner  ON tasks(owner_user_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS targets (
	id                       TEXT PRIMARY KEY,
	task_id                  TEXT NOT NULL,
	owner_user_id            TEXT NOT NULL,
	target_user_id           TEXT NOT NULL,
	conversation_id          TEXT NOT NULL,
	status                   TEXT NOT NULL,
	last_message_id          TEXT,
	last_response_message_id TEXT,
	last_response_at         TEXT,
	meta                     TEXT NOT NULL,
	created_at               TEXT NOT NULL,
	updated_at               TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_targets_task         ON targets(task_id);
CREATE INDEX IF NOT EXISTS idx_targets_owner        ON targets(owner_user_id);
CREATE INDEX IF NOT EXISTS idx_targets_conversation ON targets(conversation_id);
CREATE INDEX IF NOT EXISTS idx_targets_status       ON targets(status, updated_at);
`

// OpenSQLiteStore opens or creates the task database at path, bootstrapping
// the schema. WAL mode keeps the sweeper and the agent loop from blocking
// each other.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateTask inserts a task.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *Task) error {
	payload, result, err := marshalOpaque(task)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks
			(id, owner_user_id, assistant_user_id, kind, status, title, prompt,
			 payload, result, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.OwnerUserID, task.AssistantUserID, string(task.Kind),
		string(task.Status), task.Title, task.Prompt, payload, result,
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt),
		formatTimePtr(task.CompletedAt),
	)
	if err != nil {
		return &StoreError{Code: ErrCodeIO, Message: "insert task " + task.ID, Err: err}
	}
	return nil
}

// GetTask returns a task by id.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, assistant_user_id, kind, status, title, prompt,
		       payload, result, created_at, updated_at, completed_at
		FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, notFound("task", id)
	}
	if err != nil {
		return nil, &StoreError{Code: ErrCodeIO, Message: "get task " + id, Err: err}
	}
	return task, nil
}

// UpdateTask overwrites a task row by id.
func (s *SQLiteStore) UpdateTask(ctx context.Context, task *Task) error {
	payload, result, err := marshalOpaque(task)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET owner_user_id=?, assistant_user_id=?, kind=?, status=?,
			title=?, prompt=?, payload=?, result=?, created_at=?, updated_at=?,
			completed_at=?
		WHERE id=?`,
		task.OwnerUserID, task.AssistantUserID, string(task.Kind),
		string(task.Status), task.Title, task.Prompt, payload, result,
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt),
		formatTimePtr(task.CompletedAt), task.ID,
	)
	if err != nil {
		return &StoreError{Code: ErrCodeIO, Message: "update task " + task.ID, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("task", task.ID)
	}
	return nil
}

// DeleteTask removes a task row.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return &StoreError{Code: ErrCodeIO, Message: "delete task " + id, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("task", id)
	}
	return nil
}

// ListTasks returns tasks matching the filter, newest first.
func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	query := `
		SELECT id, owner_user_id, assistant_user_id, kind, status, title, prompt,
		       payload, result, created_at, updated_at, completed_at
		FROM tasks WHERE 1=1`
	var args []any
	if filter.OwnerUserID != "" {
		query += " AND owner_user_id = ?"
		args = append(args, filter.OwnerUserID)
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Code: ErrCodeIO, Message: "list tasks", Err: err}
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, &StoreError{Code: ErrCodeIO, Message: "scan task", Err: err}
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// CreateTarget inserts a target.
func (s *SQLiteStore) CreateTarget(ctx context.Context, target *Target) error {
	meta, err := json.Marshal(target.Meta)
	if err != nil {
		return &StoreError{Code: ErrCodeIO, Message: "marshal target meta", Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO targets
			(id, task_id, owner_user_id, target_user_id, conversation_id, status,
			 last_message_id, last_response_message_id, last_response_at, meta,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		target.ID, target.TaskID, target.OwnerUserID, target.TargetUserID,
		target.ConversationID, string(target.Status), target.LastMessageID,
		target.LastResponseMessageID, formatTimePtr(target.LastResponseAt),
		string(meta), formatTime(target.CreatedAt), formatTime(target.UpdatedAt),
	)
	if err != nil {
		return &StoreError{Code: ErrCodeIO, Message: "insert target " + target.ID, Err: err}
	}
	return nil
}

// GetTarget returns a target by id.
func (s *SQLiteStore) GetTarget(ctx context.Context, id string) (*Target, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, owner_user_id, target_user_id, conversation_id, status,
		       last_message_id, last_response_message_id, last_response_at, meta,
		       created_at, updated_at
		FROM targets WHERE id = ?`, id)
	target, err := scanTarget(row)
	if err == sql.ErrNoRows {
		return nil, notFound("target", id)
	}
	if err != nil {
		return nil, &StoreError{Code: ErrCodeIO, Message: "get target " + id, Err: err}
	}
	return target, nil
}

// UpdateTarget overwrites a target row by id.
func (s *SQLiteStore) UpdateTarget(ctx context.Context, target *Target) error {
	meta, err := json.Marshal(target.Meta)
	if err != nil {
		return &StoreError{Code: ErrCodeIO, Message: "marshal target meta", Err: err}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE targets SET task_id=?, owner_user_id=?, target_user_id=?,
			conversation_id=?, status=?, last_message_id=?,
			last_response_message_id=?, last_response_at=?, meta=?,
			created_at=?, updated_at=?
		WHERE id=?`,
		target.TaskID, target.OwnerUserID, target.TargetUserID,
		target.ConversationID, string(target.Status), target.LastMessageID,
		target.LastResponseMessageID, formatTimePtr(target.LastResponseAt),
		string(meta), formatTime(target.CreatedAt), formatTime(target.UpdatedAt),
		target.ID,
	)
	if err != nil {
		return &StoreError{Code: ErrCodeIO, Message: "update target " + target.ID, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("target", target.ID)
	}
	return nil
}

// DeleteTarget removes a target row.
func (s *SQLiteStore) DeleteTarget(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM targets WHERE id = ?", id)
	if err != nil {
		return &StoreError{Code: ErrCodeIO, Message: "delete target " + id, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("target", id)
	}
	return nil
}

// ListTargets returns targets matching the filter, oldest first.
func (s *SQLiteStore) ListTargets(ctx context.Context, filter TargetFilter) ([]*Target, error) {
	query := `
		SELECT id, task_id, owner_user_id, target_user_id, conversation_id, status,
		       last_message_id, last_response_message_id, last_response_at, meta,
		       created_at, updated_at
		FROM targets WHERE 1=1`
	var args []any
	if filter.TaskID != "" {
		query += " AND task_id = ?"
		args = append(args, filter.TaskID)
	}
	if filter.OwnerUserID != "" {
		query += " AND owner_user_id = ?"
		args = append(args, filter.OwnerUserID)
	}
	if filter.ConversationID != "" {
		query += " AND conversation_id = ?"
		args = append(args, filter.ConversationID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if !filter.UpdatedBefore.IsZero() {
		query += " AND updated_at < ?"
		args = append(args, formatTime(filter.UpdatedBefore))
	}
	query += " ORDER BY updated_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Code: ErrCodeIO, Message: "list targets", Err: err}
	}
	defer rows.Close()

	var out []*Target
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, &StoreError{Code: ErrCodeIO, Message: "scan target", Err: err}
		}
		out = append(out, target)
	}
	return out, rows.Err()
}

// ---------- Row mapping ----------

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t                 Task
		kind, status      string
		payload, result   sql.NullString
		created, updated  string
		completed         sql.NullString
	)
	if err := row.Scan(&t.ID, &t.OwnerUserID, &t.AssistantUserID, &kind, &status,
		&t.Title, &t.Prompt, &payload, &result, &created, &updated, &completed); err != nil {
		return nil, err
	}
	t.Kind = TaskKind(kind)
	t.Status = TaskStatus(status)
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &t.Payload); err != nil {
			return nil, fmt.Errorf("decode task payload: %w", err)
		}
	}
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &t.Result); err != nil {
			return nil, fmt.Errorf("decode task result: %w", err)
		}
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	t.CompletedAt = parseTimePtr(completed)
	return &t, nil
}

func scanTarget(row rowScanner) (*Target, error) {
	var (
		t                Target
		status, meta     string
		lastMsg, respMsg sql.NullString
		respAt           sql.NullString
		created, updated string
	)
	if err := row.Scan(&t.ID, &t.TaskID, &t.OwnerUserID, &t.TargetUserID,
		&t.ConversationID, &status, &lastMsg, &respMsg, &respAt, &meta,
		&created, &updated); err != nil {
		return nil, err
	}
	t.Status = TargetStatus(status)
	t.LastMessageID = lastMsg.String
	t.LastResponseMessageID = respMsg.String
	t.LastResponseAt = parseTimePtr(respAt)
	if err := json.Unmarshal([]byte(meta), &t.Meta); err != nil {
		return nil, fmt.Errorf("decode target meta: %w", err)
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}

func marshalOpaque(task *Task) (payload, result sql.NullString, err error) {
	if task.Payload != nil {
		b, merr := json.Marshal(task.Payload)
		if merr != nil {
			return payload, result, &StoreError{Code: ErrCodeIO, Message: "marshal task payload", Err: merr}
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}
	if task.Result != nil {
		b, merr := json.Marshal(task.Result)
		if merr != nil {
			return payload, result, &StoreError{Code: ErrCodeIO, Message: "marshal task result", Err: merr}
		}
		result = sql.NullString{String: string(b), Valid: true}
	}
	return payload, result, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
