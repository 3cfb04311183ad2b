package storage

import (
	"errors"
	"fmt"
	"time"
)

// SetSeenEventRetention overrides how long seen event IDs are kept.
func (s *Store) SetSeenEventRetention(retention time.Duration) {
	if retention > 0 {
		s.seenEventRetention = retention
	}
}

// InsertSeenID records an event ID used for redelivery detection.
func (s *Store) InsertSeenID(eventID string, receivedAt int64) error {
	if eventID == "" {
		return errors.New("event_id is required")
	}
	if receivedAt == 0 {
		receivedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO seen_event_ids (event_id, received_at)
		VALUES (?, ?)
		ON CONFLICT(event_id) DO UPDATE SET received_at = excluded.received_at`,
		eventID,
		receivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert seen event ID %q: %w", eventID, err)
	}

	return nil
}

// MarkSeen records eventID and reports whether it was new.
func (s *Store) MarkSeen(eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event_id is required")
	}

	res, err := s.db.Exec(
		`INSERT INTO seen_event_ids (event_id, received_at)
		VALUES (?, ?)
		ON CONFLICT(event_id) DO NOTHING`,
		eventID,
		nowUnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("mark event ID %q seen: %w", eventID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("read rows affected for seen event %q: %w", eventID, err)
	}
	return rowsAffected == 1, nil
}

// HasSeenID returns true if an event ID has already been seen.
func (s *Store) HasSeenID(eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event_id is required")
	}

	var exists int
	if err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM seen_event_ids WHERE event_id = ?)`,
		eventID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check seen event ID %q: %w", eventID, err)
	}

	return exists == 1, nil
}

// PruneOldEntries removes seen_event_ids rows older than cutoff timestamp.
func (s *Store) PruneOldEntries(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(`DELETE FROM seen_event_ids WHERE received_at < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune seen event IDs: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for seen ID prune: %w", err)
	}

	return rowsAffected, nil
}
