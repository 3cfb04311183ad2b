package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends engine commands to the broker. It implements the engine
// control surface the client calls.
type Publisher struct {
	exchange  string
	accountID string
	logger    *slog.Logger
	open      func(ctx context.Context) (publishChannel, error)
}

// NewPublisher returns a publisher that sends commands through session.
func NewPublisher(session *Session, accountID string, logger *slog.Logger) (*Publisher, error) {
	if session == nil {
		return nil, errors.New("broker session is required")
	}
	return newPublisher(session.Exchange(), accountID, logger, session.Channel), nil
}

func newPublisher(exchange, accountID string, logger *slog.Logger, open func(context.Context) (publishChannel, error)) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		exchange:  exchange,
		accountID: accountID,
		logger:    logger.With("component", "publisher"),
		open:      open,
	}
}

// SendText asks the engine to deliver text in a conversation.
func (p *Publisher) SendText(ctx context.Context, conversationID, text string) error {
	return p.Publish(ctx, Command{Op: OpSendText, ConversationID: conversationID, Text: text})
}

// SendNudge asks the engine to nudge the remote side of a conversation.
func (p *Publisher) SendNudge(ctx context.Context, conversationID string) error {
	return p.Publish(ctx, Command{Op: OpSendNudge, ConversationID: conversationID})
}

// AcceptTransfer tells the engine to start receiving an offered file.
func (p *Publisher) AcceptTransfer(ctx context.Context, invitationID string) error {
	return p.Publish(ctx, Command{Op: OpAcceptTransfer, InvitationID: invitationID})
}

// RejectTransfer declines an offered file, or aborts one already accepted.
func (p *Publisher) RejectTransfer(ctx context.Context, invitationID string) error {
	return p.Publish(ctx, Command{Op: OpRejectTransfer, InvitationID: invitationID})
}

// CloseTransferSession releases the engine's session for a finished or
// abandoned invitation.
func (p *Publisher) CloseTransferSession(ctx context.Context, invitationID string) error {
	return p.Publish(ctx, Command{Op: OpCloseTransferSession, InvitationID: invitationID})
}

// Publish sends one command as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, cmd Command) error {
	if cmd.AccountID == "" {
		cmd.AccountID = p.accountID
	}
	body, err := encodeCommand(cmd)
	if err != nil {
		return err
	}

	ch, err := p.open(ctx)
	if err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}
	defer ch.Close()

	correlationID := cmd.InvitationID
	if correlationID == "" {
		correlationID = cmd.ConversationID
	}
	err = ch.PublishWithContext(ctx, p.exchange, cmd.RoutingKey(), false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: correlationID,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", cmd.Op, err)
	}
	p.logger.Debug("published", "key", cmd.RoutingKey(), "exchange", p.exchange)
	return nil
}
