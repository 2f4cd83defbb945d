package store

import (
	"database/sql"
	"fmt"
	"time"
)

type SwarmStatus struct {
	SwarmID   string    `json:"swarm_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertStatus records the live status of a swarm connection. Last write
// wins, matching the registry's replacement policy.
func (s *Store) UpsertStatus(swarmID, status string) error {
	_, err := s.db.Exec(`
		INSERT INTO swarm_status (swarm_id, status, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(swarm_id) DO UPDATE SET
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP`,
		swarmID, status)
	if err != nil {
		return fmt.Errorf("upsert swarm status: %w", err)
	}
	return nil
}

func (s *Store) GetSwarmStatus(swarmID string) (*SwarmStatus, error) {
	st := &SwarmStatus{}
	err := s.db.QueryRow(`SELECT swarm_id, status, updated_at FROM swarm_status WHERE swarm_id = ?`, swarmID).
		Scan(&st.SwarmID, &st.Status, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get swarm status: %w", err)
	}
	return st, nil
}

func (s *Store) ListSwarmStatuses() ([]SwarmStatus, error) {
	rows, err := s.db.Query(`SELECT swarm_id, status, updated_at FROM swarm_status ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list swarm statuses: %w", err)
	}
	defer rows.Close()

	var statuses []SwarmStatus
	for rows.Next() {
		var st SwarmStatus
		if err := rows.Scan(&st.SwarmID, &st.Status, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan swarm status: %w", err)
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}
