package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is an audit record of a delivered broker message. The router
// mirrors every delivered payload here independently of delivery success.
type Message struct {
	ID        int64           `json:"id"`
	SwarmID   string          `json:"swarm_id"`
	Body      json.RawMessage `json:"body"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s *Store) InsertMessage(swarmID string, message []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (swarm_id, body)
		VALUES (?, ?)`,
		swarmID, string(message))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) GetRecentMessages(swarmID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, swarm_id, body, created_at
		FROM messages
		WHERE swarm_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, swarmID, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var body string
		if err := rows.Scan(&m.ID, &m.SwarmID, &body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Body = json.RawMessage(body)
		messages = append(messages, m)
	}

	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, rows.Err()
}

func (s *Store) CountMessages(swarmID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE swarm_id = ?`, swarmID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
