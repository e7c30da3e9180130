package memstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rojlabs/roj/internal/hive"
)

// ScheduledSubmission is a recurring task definition. Schedule is a JSON
// document with a kind of "cron", "interval" or "once"; plain cron
// expressions are accepted on creation and wrapped by the scheduler.
type ScheduledSubmission struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Schedule     string             `json:"schedule"`
	TaskType     string             `json:"task_type"`
	Priority     hive.TaskPriority  `json:"priority"`
	Payload      string             `json:"payload"`
	Capabilities string             `json:"capabilities,omitempty"`
	Status       string             `json:"status"`
	NextRunAt    *time.Time         `json:"next_run_at,omitempty"`
	LastRunAt    *time.Time         `json:"last_run_at,omitempty"`
	LastStatus   string             `json:"last_status,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

func scanSubmission(scanner interface {
	Scan(dest ...any) error
}) (*ScheduledSubmission, error) {
	sub := &ScheduledSubmission{}
	var caps, lastStatus, lastError sql.NullString
	err := scanner.Scan(&sub.ID, &sub.Name, &sub.Schedule, &sub.TaskType, &sub.Priority,
		&sub.Payload, &caps, &sub.Status, &sub.NextRunAt, &sub.LastRunAt,
		&lastStatus, &lastError, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	sub.Capabilities = caps.String
	sub.LastStatus = lastStatus.String
	sub.LastError = lastError.String
	return sub, nil
}

func (s *Store) SaveSubmission(sub *ScheduledSubmission) error {
	_, err := s.db.Exec(`
		INSERT INTO scheduled_submissions (id, name, schedule, task_type, priority, payload, capabilities, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			task_type = excluded.task_type,
			priority = excluded.priority,
			payload = excluded.payload,
			capabilities = excluded.capabilities,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		sub.ID, sub.Name, sub.Schedule, sub.TaskType, sub.Priority,
		sub.Payload, sub.Capabilities, sub.Status, sub.NextRunAt)
	if err != nil {
		return fmt.Errorf("save submission: %w", err)
	}
	return nil
}

func (s *Store) GetSubmission(id string) (*ScheduledSubmission, error) {
	row := s.db.QueryRow(`
		SELECT id, name, schedule, task_type, priority, payload, capabilities, status,
		       next_run_at, last_run_at, last_status, last_error, created_at
		FROM scheduled_submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

func (s *Store) ListSubmissions() ([]ScheduledSubmission, error) {
	rows, err := s.db.Query(`
		SELECT id, name, schedule, task_type, priority, payload, capabilities, status,
		       next_run_at, last_run_at, last_status, last_error, created_at
		FROM scheduled_submissions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var subs []ScheduledSubmission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *Store) GetDueSubmissions(now time.Time) ([]ScheduledSubmission, error) {
	rows, err := s.db.Query(`
		SELECT id, name, schedule, task_type, priority, payload, capabilities, status,
		       next_run_at, last_run_at, last_status, last_error, created_at
		FROM scheduled_submissions
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("get due submissions: %w", err)
	}
	defer rows.Close()

	var subs []ScheduledSubmission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *Store) UpdateSubmissionRun(id string, lastStatus string, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE scheduled_submissions
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`, lastStatus, lastError, nextRunAt, id)
	return err
}

func (s *Store) UpdateSubmissionStatus(id string, status string) error {
	_, err := s.db.Exec(`UPDATE scheduled_submissions SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *Store) DeleteSubmission(id string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_submissions WHERE id = ?`, id)
	return err
}
