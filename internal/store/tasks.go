package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Task struct {
	ID          string          `json:"id"`
	SwarmID     string          `json:"swarm_id"`
	Description string          `json:"description,omitempty"`
	Priority    string          `json:"priority,omitempty"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*Task, error) {
	t := &Task{}
	var description, priority, result *string
	err := scanner.Scan(&t.ID, &t.SwarmID, &description, &priority, &t.Status, &result, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if description != nil {
		t.Description = *description
	}
	if priority != nil {
		t.Priority = *priority
	}
	if result != nil {
		t.Result = json.RawMessage(*result)
	}
	return t, nil
}

const taskColumns = `id, swarm_id, description, priority, status, result, created_at`

// InsertTask persists a task a swarm orchestrated. Status defaults to
// pending when the payload carries none.
func (s *Store) InsertTask(swarmID string, task json.RawMessage) error {
	var t Task
	if err := json.Unmarshal(task, &t); err != nil {
		return fmt.Errorf("decode task: %w", err)
	}
	if t.Status == "" {
		t.Status = "pending"
	}

	var result any
	if t.Result != nil {
		result = string(t.Result)
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, swarm_id, description, priority, status, result)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			priority = excluded.priority,
			status = excluded.status,
			result = excluded.result`,
		t.ID, swarmID, t.Description, t.Priority, t.Status, result)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) UpdateTaskStatus(taskID, status string, result json.RawMessage) error {
	var res any
	if result != nil {
		res = string(result)
	}
	_, err := s.db.Exec(`UPDATE tasks SET status = ?, result = ? WHERE id = ?`, status, res, taskID)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *Store) ListTasks(swarmID string) ([]Task, error) {
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE swarm_id = ? ORDER BY created_at`, swarmID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}
