package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Task priorities and statuses accepted by the task tools.
var (
	TaskPriorities = []string{"LOW", "MEDIUM", "HIGH", "URGENT"}
	TaskStatuses   = []string{"PENDING", "IN_PROGRESS", "COMPLETED", "FAILED", "CANCELLED"}
)

// Task is a follow-up item the assistant records for the advisor.
type Task struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Priority    string
	Status      string
	Result      string
	Error       string
	ToolCalls   string // serialized tool-call plan, optional
	Context     string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// ValidTaskPriority reports whether p is an accepted priority value.
func ValidTaskPriority(p string) bool {
	for _, v := range TaskPriorities {
		if v == p {
			return true
		}
	}
	return false
}

// ValidTaskStatus reports whether s is an accepted status value.
func ValidTaskStatus(s string) bool {
	for _, v := range TaskStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// CreateTask persists a new task. Empty priority defaults to MEDIUM, status
// always starts as PENDING.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if t.Priority == "" {
		t.Priority = "MEDIUM"
	}
	if !ValidTaskPriority(t.Priority) {
		return fmt.Errorf("invalid priority %q (use %s)", t.Priority, strings.Join(TaskPriorities, ", "))
	}
	t.Status = "PENDING"
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, title, description, priority, status, tool_calls, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Title, t.Description, t.Priority, t.Status,
		t.ToolCalls, t.Context, t.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

// UpdateTask applies a partial update; empty fields are left unchanged.
// Moving a task to COMPLETED stamps its completion time.
func (s *Store) UpdateTask(ctx context.Context, id, status, result, errMsg string) error {
	if status != "" && !ValidTaskStatus(status) {
		return fmt.Errorf("invalid status %q (use %s)", status, strings.Join(TaskStatuses, ", "))
	}

	sets := []string{}
	args := []interface{}{}
	if status != "" {
		sets = append(sets, "status = ?")
		args = append(args, status)
		if status == "COMPLETED" {
			sets = append(sets, "completed_at = ?")
			args = append(args, time.Now().UTC().Format(time.RFC3339))
		}
	}
	if result != "" {
		sets = append(sets, "result = ?")
		args = append(args, result)
	}
	if errMsg != "" {
		sets = append(sets, "error = ?")
		args = append(args, errMsg)
	}
	if len(sets) == 0 {
		return fmt.Errorf("nothing to update for task %s", id)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE tasks SET %s WHERE id = ?`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

// Task loads a single task by id.
func (s *Store) Task(ctx context.Context, id string) (*Task, error) {
	var t Task
	var createdAt string
	var completedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, description, priority, status, result, error, tool_calls, context, created_at, completed_at
		FROM tasks WHERE id = ?`, id).
		Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Priority, &t.Status,
			&t.Result, &t.Error, &t.ToolCalls, &t.Context, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", id, err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if completedAt.Valid {
		ts, err := time.Parse(time.RFC3339, completedAt.String)
		if err == nil {
			t.CompletedAt = &ts
		}
	}
	return &t, nil
}
