package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const taskColumns = `id, type, payload_json, status, retry_count, created_at, started_at, completed_at, result, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var createdAt string
	var startedAt, completedAt, result, errMsg sql.NullString
	if err := row.Scan(&t.ID, &t.Type, &t.PayloadJSON, &t.Status, &t.RetryCount,
		&createdAt, &startedAt, &completedAt, &result, &errMsg); err != nil {
		return Task{}, err
	}

	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return Task{}, fmt.Errorf("parsing created_at for task %d: %w", t.ID, err)
	}
	if t.StartedAt, err = parseNullTime(startedAt); err != nil {
		return Task{}, fmt.Errorf("parsing started_at for task %d: %w", t.ID, err)
	}
	if t.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return Task{}, fmt.Errorf("parsing completed_at for task %d: %w", t.ID, err)
	}
	t.Result = result.String
	t.Error = errMsg.String
	return t, nil
}

// EnqueueTask appends a pending task and returns its id.
func (s *Store) EnqueueTask(taskType, payloadJSON string) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO tasks (type, payload_json, status, retry_count, created_at)
		VALUES (?, ?, 'pending', 0, ?)`,
		taskType, payloadJSON, s.timestamp(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// NextPendingTask returns the oldest pending task by (created_at, id), or nil
// when none is pending. The task status is left untouched.
func (s *Store) NextPendingTask() (*Task, error) {
	row := s.db.QueryRow(`SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT 1`)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next pending task: %w", err)
	}
	return &t, nil
}

func (s *Store) GetTask(id int64) (Task, error) {
	t, err := scanTask(s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	return t, err
}

// ListTasks returns tasks newest first. An empty status lists every task.
func (s *Store) ListTasks(status TaskStatus, limit int) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	return s.queryTasks(query, args...)
}

// StaleProcessingTasks returns tasks that entered processing before cutoff.
func (s *Store) StaleProcessingTasks(cutoff time.Time) ([]Task, error) {
	return s.queryTasks(`SELECT `+taskColumns+` FROM tasks
		WHERE status = 'processing' AND started_at < ?
		ORDER BY id ASC`, formatTime(cutoff))
}

func (s *Store) queryTasks(query string, args ...any) ([]Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkTaskProcessing moves a pending task to processing. Calling it on a task
// that is already processing is a no-op.
func (s *Store) MarkTaskProcessing(id int64) error {
	res, err := s.db.Exec(`UPDATE tasks SET status = 'processing', started_at = ?
		WHERE id = ? AND status = 'pending'`, s.timestamp(), id)
	if err != nil {
		return err
	}
	return s.checkTransition(res, id, TaskProcessing)
}

// MarkTaskCompleted records the result and clears any error left over from an
// earlier attempt. Calling it on a completed task is a no-op.
func (s *Store) MarkTaskCompleted(id int64, result string) error {
	res, err := s.db.Exec(`UPDATE tasks
		SET status = 'completed', result = ?, error = NULL, completed_at = ?
		WHERE id = ? AND status = 'processing'`, result, s.timestamp(), id)
	if err != nil {
		return err
	}
	return s.checkTransition(res, id, TaskCompleted)
}

// MarkTaskFailed records the error, increments retry_count (capped at
// MaxTaskRetries) and returns the new retry_count. Calling it on a task that is
// already failed returns the current count without incrementing.
func (s *Store) MarkTaskFailed(id int64, errMsg string) (int, error) {
	var retries int
	err := s.db.QueryRow(`UPDATE tasks
		SET status = 'failed', error = ?, result = NULL, completed_at = ?,
			retry_count = MIN(retry_count + 1, ?)
		WHERE id = ? AND status = 'processing'
		RETURNING retry_count`, errMsg, s.timestamp(), MaxTaskRetries, id).Scan(&retries)
	if err == nil {
		return retries, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	t, err := s.GetTask(id)
	if err != nil {
		return 0, err
	}
	if t.Status != TaskFailed {
		return 0, fmt.Errorf("task %d is %s: %w", id, t.Status, ErrInvalidTransition)
	}
	return t.RetryCount, nil
}

// RequeueTask resets a failed task with retries left back to pending, keeping
// retry_count. It reports whether the task was requeued.
func (s *Store) RequeueTask(id int64) (bool, error) {
	res, err := s.db.Exec(`UPDATE tasks SET status = 'pending'
		WHERE id = ? AND status = 'failed' AND retry_count < ?`, id, MaxTaskRetries)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetTask(id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) checkTransition(res sql.Result, id int64, want TaskStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	t, err := s.GetTask(id)
	if err != nil {
		return err
	}
	if t.Status == want {
		return nil
	}
	return fmt.Errorf("task %d is %s, cannot become %s: %w", id, t.Status, want, ErrInvalidTransition)
}
