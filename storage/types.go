package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatroute/models"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

// Conversation is the SQLite representation of a conversation.
type Conversation struct {
	ConversationID string
	OwnerID        string
	Network        string
	CreatedAt      int64
	ClosedAt       *int64
	Participants   []string
}

// Message is the SQLite representation of one message exchange.
type Message struct {
	MessageID      string
	ConversationID string
	SenderID       string
	Kind           string
	Payload        string
	Outbound       bool
	Timestamp      int64
}

type scanner interface {
	Scan(dest ...any) error
}

func validateNetwork(network string) error {
	switch models.NetworkType(network) {
	case models.NetworkStandard, models.NetworkGateway:
		return nil
	default:
		return fmt.Errorf("invalid network %q", network)
	}
}

func validateMessageKind(kind string) error {
	switch models.MessageKind(kind) {
	case models.MessageText, models.MessageNudge, models.MessageEmoticon:
		return nil
	default:
		return fmt.Errorf("invalid message kind %q", kind)
	}
}

func validateTransferState(state models.TransferState) error {
	if !state.Valid() {
		return fmt.Errorf("invalid transfer state %q", state)
	}
	return nil
}

func validateDataType(dataType models.DataType) error {
	switch dataType {
	case models.DataFile, models.DataActivity:
		return nil
	default:
		return fmt.Errorf("invalid data type %q", dataType)
	}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
