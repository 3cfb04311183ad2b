package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// SaveConversation inserts a conversation, or reopens it when the ID was seen
// before, and records its participants.
func (s *Store) SaveConversation(conversation Conversation) error {
	if conversation.ConversationID == "" {
		return errors.New("conversation_id is required")
	}
	if conversation.OwnerID == "" {
		return errors.New("owner_id is required")
	}
	if conversation.Network == "" {
		conversation.Network = "standard"
	}
	if err := validateNetwork(conversation.Network); err != nil {
		return err
	}
	if conversation.CreatedAt == 0 {
		conversation.CreatedAt = nowUnixMilli()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save conversation %q: %w", conversation.ConversationID, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(
		`INSERT INTO conversations (conversation_id, owner_id, network, created_at, closed_at)
		VALUES (?, ?, ?, ?, NULL)
		ON CONFLICT(conversation_id) DO UPDATE SET
			owner_id = excluded.owner_id,
			network = excluded.network,
			closed_at = NULL`,
		conversation.ConversationID,
		conversation.OwnerID,
		conversation.Network,
		conversation.CreatedAt,
	); err != nil {
		return fmt.Errorf("upsert conversation %q: %w", conversation.ConversationID, err)
	}

	for _, participant := range conversation.Participants {
		if err := insertParticipant(tx, conversation.ConversationID, participant, conversation.CreatedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save conversation %q: %w", conversation.ConversationID, err)
	}
	return nil
}

// AddParticipant records a remote party joining a conversation.
func (s *Store) AddParticipant(conversationID, participantID string) error {
	if conversationID == "" {
		return errors.New("conversation_id is required")
	}
	return insertParticipant(s.db, conversationID, participantID, nowUnixMilli())
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertParticipant(db execer, conversationID, participantID string, joinedAt int64) error {
	if participantID == "" {
		return errors.New("participant_id is required")
	}
	if _, err := db.Exec(
		`INSERT INTO conversation_participants (conversation_id, participant_id, joined_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id, participant_id) DO NOTHING`,
		conversationID,
		participantID,
		joinedAt,
	); err != nil {
		return fmt.Errorf("insert participant %q into %q: %w", participantID, conversationID, err)
	}
	return nil
}

// MarkConversationClosed stamps closed_at on a conversation.
func (s *Store) MarkConversationClosed(conversationID string, closedAt int64) error {
	if conversationID == "" {
		return errors.New("conversation_id is required")
	}
	if closedAt == 0 {
		closedAt = nowUnixMilli()
	}

	res, err := s.db.Exec(
		`UPDATE conversations SET closed_at = ? WHERE conversation_id = ?`,
		closedAt,
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("mark conversation %q closed: %w", conversationID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for conversation close %q: %w", conversationID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConversation fetches one conversation with its participants.
func (s *Store) GetConversation(conversationID string) (*Conversation, error) {
	row := s.db.QueryRow(
		`SELECT conversation_id, owner_id, network, created_at, closed_at
		FROM conversations
		WHERE conversation_id = ?`,
		conversationID,
	)
	conversation, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation %q: %w", conversationID, err)
	}

	participants, err := s.listParticipants(conversationID)
	if err != nil {
		return nil, err
	}
	conversation.Participants = participants
	return conversation, nil
}

// ListConversations returns conversations ordered by creation time. Closed
// conversations are included only when includeClosed is set.
func (s *Store) ListConversations(includeClosed bool) ([]Conversation, error) {
	query := `SELECT conversation_id, owner_id, network, created_at, closed_at
		FROM conversations`
	if !includeClosed {
		query += ` WHERE closed_at IS NULL`
	}
	query += ` ORDER BY created_at ASC, conversation_id ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]Conversation, 0)
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		conversations = append(conversations, *conversation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	rows.Close()

	for i := range conversations {
		participants, err := s.listParticipants(conversations[i].ConversationID)
		if err != nil {
			return nil, err
		}
		conversations[i].Participants = participants
	}
	return conversations, nil
}

func (s *Store) listParticipants(conversationID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT participant_id
		FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY joined_at ASC, participant_id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants of %q: %w", conversationID, err)
	}
	defer rows.Close()

	participants := make([]string, 0)
	for rows.Next() {
		var participant string
		if err := rows.Scan(&participant); err != nil {
			return nil, fmt.Errorf("scan participant row: %w", err)
		}
		participants = append(participants, participant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participant rows: %w", err)
	}
	return participants, nil
}

func scanConversation(row scanner) (*Conversation, error) {
	var (
		conversation Conversation
		closedAt     sql.NullInt64
	)
	if err := row.Scan(
		&conversation.ConversationID,
		&conversation.OwnerID,
		&conversation.Network,
		&conversation.CreatedAt,
		&closedAt,
	); err != nil {
		return nil, err
	}
	conversation.ClosedAt = int64Ptr(closedAt)
	return &conversation, nil
}
