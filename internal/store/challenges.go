package store

import (
	"encoding/json"
	"fmt"
)

func (s *Store) InsertChallengeEntry(challengeID, swarmID string, payload json.RawMessage) error {
	_, err := s.db.Exec(`
		INSERT INTO challenge_entries (challenge_id, swarm_id, payload)
		VALUES (?, ?, ?)`,
		challengeID, swarmID, string(payload))
	if err != nil {
		return fmt.Errorf("insert challenge entry: %w", err)
	}
	return nil
}

// QueryChallengeEntries returns the raw submitted entries for a challenge,
// oldest first. The relay attaches them to the judge_request it synthesizes.
func (s *Store) QueryChallengeEntries(challengeID string) ([]json.RawMessage, error) {
	rows, err := s.db.Query(`
		SELECT payload FROM challenge_entries
		WHERE challenge_id = ?
		ORDER BY submitted_at`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("query challenge entries: %w", err)
	}
	defer rows.Close()

	var entries []json.RawMessage
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan challenge entry: %w", err)
		}
		entries = append(entries, json.RawMessage(payload))
	}
	return entries, rows.Err()
}
