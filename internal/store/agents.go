package store

import (
	"encoding/json"
	"fmt"
	"time"
)

type Agent struct {
	ID           string    `json:"id"`
	SwarmID      string    `json:"swarm_id"`
	Type         string    `json:"type"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Status       string    `json:"status,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// InsertAgent persists the agent payload a swarm declared. The payload is
// the wire-format agent record; unknown fields are ignored.
func (s *Store) InsertAgent(swarmID string, agent json.RawMessage) error {
	var a Agent
	if err := json.Unmarshal(agent, &a); err != nil {
		return fmt.Errorf("decode agent: %w", err)
	}

	caps, _ := json.Marshal(a.Capabilities)
	_, err := s.db.Exec(`
		INSERT INTO agents (id, swarm_id, type, capabilities, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			swarm_id = excluded.swarm_id,
			type = excluded.type,
			capabilities = excluded.capabilities,
			status = excluded.status`,
		a.ID, swarmID, a.Type, string(caps), a.Status)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *Store) ListAgents(swarmID string) ([]Agent, error) {
	rows, err := s.db.Query(`
		SELECT id, swarm_id, type, capabilities, status, created_at
		FROM agents WHERE swarm_id = ? ORDER BY created_at`, swarmID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var a Agent
		var caps, status *string
		if err := rows.Scan(&a.ID, &a.SwarmID, &a.Type, &caps, &status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		if caps != nil && *caps != "" {
			_ = json.Unmarshal([]byte(*caps), &a.Capabilities)
		}
		if status != nil {
			a.Status = *status
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *Store) CountAgents(swarmID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM agents WHERE swarm_id = ?`, swarmID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return n, nil
}
