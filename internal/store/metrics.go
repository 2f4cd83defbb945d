package store

import (
	"encoding/json"
	"fmt"
	"time"
)

type MetricsRecord struct {
	ID        int64           `json:"id"`
	SwarmID   string          `json:"swarm_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s *Store) InsertMetrics(swarmID string, metrics json.RawMessage) error {
	_, err := s.db.Exec(`
		INSERT INTO metrics (swarm_id, payload)
		VALUES (?, ?)`,
		swarmID, string(metrics))
	if err != nil {
		return fmt.Errorf("insert metrics: %w", err)
	}
	return nil
}

func (s *Store) ListMetrics(swarmID string, limit int) ([]MetricsRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, swarm_id, payload, created_at
		FROM metrics
		WHERE swarm_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, swarmID, limit)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	var records []MetricsRecord
	for rows.Next() {
		var m MetricsRecord
		var payload string
		if err := rows.Scan(&m.ID, &m.SwarmID, &payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan metrics: %w", err)
		}
		m.Payload = json.RawMessage(payload)
		records = append(records, m)
	}
	return records, rows.Err()
}
