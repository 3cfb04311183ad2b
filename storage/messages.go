package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// SaveMessage inserts a new message row.
func (s *Store) SaveMessage(message Message) error {
	if message.MessageID == "" {
		return errors.New("message_id is required")
	}
	if message.ConversationID == "" {
		return errors.New("conversation_id is required")
	}
	if message.SenderID == "" {
		return errors.New("sender_id is required")
	}
	if message.Kind == "" {
		message.Kind = "text"
	}
	if err := validateMessageKind(message.Kind); err != nil {
		return err
	}
	if message.Timestamp == 0 {
		message.Timestamp = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (
			message_id,
			conversation_id,
			sender_id,
			kind,
			payload,
			outbound,
			timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		message.MessageID,
		message.ConversationID,
		message.SenderID,
		message.Kind,
		message.Payload,
		boolToInt(message.Outbound),
		message.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert message %q: %w", message.MessageID, err)
	}

	return nil
}

// ListMessages returns the messages of one conversation ordered by timestamp.
func (s *Store) ListMessages(conversationID string, limit, offset int) ([]Message, error) {
	if conversationID == "" {
		return nil, errors.New("conversation_id is required")
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(
		`SELECT
			message_id,
			conversation_id,
			sender_id,
			kind,
			payload,
			outbound,
			timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, rowid ASC
		LIMIT ? OFFSET ?`,
		conversationID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages for conversation %q: %w", conversationID, err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

// GetMessageByID fetches a single message row.
func (s *Store) GetMessageByID(messageID string) (*Message, error) {
	row := s.db.QueryRow(
		`SELECT
			message_id,
			conversation_id,
			sender_id,
			kind,
			payload,
			outbound,
			timestamp
		FROM messages
		WHERE message_id = ?`,
		messageID,
	)

	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %q: %w", messageID, err)
	}

	return message, nil
}

// PruneMessages removes messages older than cutoff timestamp.
func (s *Store) PruneMessages(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(`DELETE FROM messages WHERE timestamp < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for message prune: %w", err)
	}
	return rowsAffected, nil
}

func scanMessage(row scanner) (*Message, error) {
	var (
		message  Message
		outbound int
	)
	if err := row.Scan(
		&message.MessageID,
		&message.ConversationID,
		&message.SenderID,
		&message.Kind,
		&message.Payload,
		&outbound,
		&message.Timestamp,
	); err != nil {
		return nil, err
	}
	message.Outbound = outbound == 1
	return &message, nil
}
