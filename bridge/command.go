package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// EventBindingKey matches every engine event routed to this client.
	EventBindingKey = "engine.event.#"
	// EventRoutingPrefix prefixes the routing key of engine events.
	EventRoutingPrefix = "engine.event."
	// CommandRoutingPrefix prefixes the routing key of client commands.
	CommandRoutingPrefix = "engine.command."
)

// CommandOp names one outbound engine operation.
type CommandOp string

const (
	OpSendText             CommandOp = "send_text"
	OpSendNudge            CommandOp = "send_nudge"
	OpAcceptTransfer       CommandOp = "accept_transfer"
	OpRejectTransfer       CommandOp = "reject_transfer"
	OpCloseTransferSession CommandOp = "close_transfer_session"
)

// Command is the JSON body published for each outbound engine call.
type Command struct {
	Op             CommandOp `json:"op"`
	AccountID      string    `json:"account_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	InvitationID   string    `json:"invitation_id,omitempty"`
	Text           string    `json:"text,omitempty"`
	IssuedAt       int64     `json:"issued_at"`
}

// RoutingKey returns the topic the command is published on.
func (c Command) RoutingKey() string {
	return CommandRoutingPrefix + string(c.Op)
}

// Validate checks that the command carries the IDs its operation needs.
func (c Command) Validate() error {
	switch c.Op {
	case OpSendText:
		if c.ConversationID == "" {
			return errors.New("send_text requires conversation_id")
		}
		if c.Text == "" {
			return errors.New("send_text requires text")
		}
	case OpSendNudge:
		if c.ConversationID == "" {
			return errors.New("send_nudge requires conversation_id")
		}
	case OpAcceptTransfer, OpRejectTransfer, OpCloseTransferSession:
		if c.InvitationID == "" {
			return fmt.Errorf("%s requires invitation_id", c.Op)
		}
	default:
		return fmt.Errorf("unknown command op %q", c.Op)
	}
	return nil
}

func encodeCommand(c Command) ([]byte, error) {
	if c.IssuedAt == 0 {
		c.IssuedAt = time.Now().UnixMilli()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal %s command: %w", c.Op, err)
	}
	return body, nil
}
