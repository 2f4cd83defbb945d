package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// UpsertMemory stores the latest shared-memory snapshot for a swarm.
// Only the newest snapshot is kept.
func (s *Store) UpsertMemory(swarmID string, snapshot json.RawMessage) error {
	_, err := s.db.Exec(`
		INSERT INTO memory_snapshots (swarm_id, snapshot, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(swarm_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			updated_at = CURRENT_TIMESTAMP`,
		swarmID, string(snapshot))
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

func (s *Store) GetMemory(swarmID string) (json.RawMessage, error) {
	var snapshot string
	err := s.db.QueryRow(`SELECT snapshot FROM memory_snapshots WHERE swarm_id = ?`, swarmID).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return json.RawMessage(snapshot), nil
}
