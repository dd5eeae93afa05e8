package state

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jaakkos/deskwork/internal/domain"
)

// AddTask inserts a new task. A missing ID is generated; status defaults
// to pending and priority to medium.
func (s *Store) AddTask(t *domain.Task) error {
	if t.Title == "" {
		return domain.Errorf(domain.KindInvalidInput, "state.add_task", "title is required")
	}
	if t.ID == "" {
		t.ID = newID()
	}
	if t.Status == "" {
		t.Status = domain.TaskPending
	}
	if !validTaskStatus(t.Status) {
		return domain.Errorf(domain.KindInvalidInput, "state.add_task", "unknown status %q", t.Status)
	}
	if !t.Priority.Valid() {
		t.Priority = domain.PriorityMedium
	}
	ts := now()
	_, err := s.db.Exec(`INSERT INTO tasks (id, title, description, owner, status, priority, due_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, t.Owner, t.Status, string(t.Priority), t.DueDate, ts, ts)
	if err != nil {
		return fmt.Errorf("add task: %w", err)
	}
	return nil
}

// GetTask fetches one task by id.
func (s *Store) GetTask(id string) (*domain.Task, error) {
	row := s.db.QueryRow(`SELECT id, title, description, owner, status, priority, due_date, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.KindNotFound, "state.get_task", "task %s not found", id)
	}
	return t, err
}

// GetTasks returns tasks newest-first, optionally filtered by exact
// status.
func (s *Store) GetTasks(status string) ([]domain.Task, error) {
	query := `SELECT id, title, description, owner, status, priority, due_date, created_at, updated_at
		FROM tasks`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus sets the task's status and bumps updated_at. The store
// allows any transition; the status DAG is the application's concern.
func (s *Store) UpdateTaskStatus(id, status string) error {
	if !validTaskStatus(status) {
		return domain.Errorf(domain.KindInvalidInput, "state.update_task_status", "unknown status %q", status)
	}
	res, err := s.db.Exec(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, status, now(), id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Errorf(domain.KindNotFound, "state.update_task_status", "task %s not found", id)
	}
	return nil
}

// ClaimTask atomically transitions a pending task to in_progress with the
// given owner. Returns NotFound when the task is gone or no longer
// pending (another agent claimed it first).
func (s *Store) ClaimTask(id, owner string) error {
	res, err := s.db.Exec(`UPDATE tasks SET status = ?, owner = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.TaskInProgress, owner, now(), id, domain.TaskPending)
	if err != nil {
		return fmt.Errorf("claim task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Errorf(domain.KindNotFound, "state.claim_task", "task %s not pending", id)
	}
	return nil
}

// NextPendingTask returns the highest-priority, oldest pending task, or
// nil when none exist.
func (s *Store) NextPendingTask() (*domain.Task, error) {
	row := s.db.QueryRow(`SELECT id, title, description, owner, status, priority, due_date, created_at, updated_at
		FROM tasks WHERE status = ?
		ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 WHEN 'low' THEN 2 ELSE 3 END, created_at ASC
		LIMIT 1`, domain.TaskPending)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func validTaskStatus(status string) bool {
	switch status {
	case domain.TaskPending, domain.TaskInProgress, domain.TaskCompleted, domain.TaskBlocked:
		return true
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var priority, createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Owner, &t.Status, &priority, &t.DueDate, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Priority = domain.Priority(priority)
	var err error
	if t.CreatedAt, err = parseTime(createdAt, "task created_at"); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt, "task updated_at"); err != nil {
		return nil, err
	}
	return &t, nil
}

// newID returns a fresh opaque entity id.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
