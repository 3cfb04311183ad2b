package client

import (
	"context"
	"errors"
	"fmt"

	"chatroute/conversation"
	"chatroute/models"
	"chatroute/transfer"
)

// Run handles events until ctx is cancelled or events is closed. Several
// goroutines may run it against the same client.
func (c *Client) Run(ctx context.Context, events <-chan models.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			_ = c.Handle(ctx, event)
		}
	}
}

// HandleEnvelope decodes a JSON event envelope and handles it. Envelopes
// whose event ID was already handled are dropped.
func (c *Client) HandleEnvelope(ctx context.Context, raw []byte) error {
	eventID, event, err := models.DecodeEvent(raw)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrMalformedEvent, eventID, err)
	}
	if eventID != "" && c.options.Journal != nil {
		fresh, err := c.options.Journal.MarkSeen(eventID)
		if err != nil {
			c.logger.Warn("dedupe lookup failed", "event_id", eventID, "error", err)
		} else if !fresh {
			c.logger.Debug("dropping redelivered event", "event_id", eventID, "kind", event.Kind())
			return nil
		}
	}
	return c.Handle(ctx, event)
}

// Handle applies one engine event. Failures are reported according to their
// kind and returned; they never stop the client.
func (c *Client) Handle(ctx context.Context, event models.Event) error {
	switch e := event.(type) {
	case models.MessageEvent:
		_, err := c.router.Route(e.SenderID, e.ConversationID, e)
		if errors.Is(err, conversation.ErrFeatureDisabled) {
			return nil
		}
		return err
	case models.InvitationEvent:
		_, err := c.coordinator.Offer(ctx, e)
		if err != nil {
			c.logger.Warn("invitation dropped", "invitation_id", e.InvitationID, "error", err)
			c.reportError(err)
		}
		return err
	case models.TransferStartedEvent:
		return c.onTransfer(e.InvitationID, "start", func(inv *transfer.Invitation) error {
			return c.coordinator.Start(ctx, inv)
		})
	case models.TransferDataEvent:
		return c.onTransfer(e.InvitationID, "data", func(inv *transfer.Invitation) error {
			return c.coordinator.Write(ctx, inv, e.Offset, e.Data)
		})
	case models.TransferProgressEvent:
		return c.onTransfer(e.InvitationID, "progress", func(inv *transfer.Invitation) error {
			return c.coordinator.OnProgress(ctx, inv, e.Transferred, e.Total)
		})
	case models.TransferFinishedEvent:
		return c.onTransfer(e.InvitationID, "finish", func(inv *transfer.Invitation) error {
			return c.coordinator.OnFinished(ctx, inv)
		})
	case models.TransferAbortedEvent:
		return c.onTransfer(e.InvitationID, "abort", func(inv *transfer.Invitation) error {
			return c.coordinator.OnAborted(ctx, inv, e.Reason)
		})
	case models.PresenceEvent:
		if e.Contact.ID == "" {
			return errors.New("presence event without contact id")
		}
		c.presence.Update(e.Contact)
		return nil
	case models.ParticipantJoinedEvent:
		conv, ok := c.registry.Get(e.ConversationID)
		if !ok {
			err := fmt.Errorf("%w: %w: %q", conversation.ErrRoutingFailure, conversation.ErrUnknownConversation, e.ConversationID)
			c.logger.Warn("participant joined unknown conversation", "conversation_id", e.ConversationID, "participant_id", e.ParticipantID)
			c.reportError(err)
			return err
		}
		conv.AddParticipant(e.ParticipantID)
		return nil
	case nil:
		return models.ErrEmptyEvent
	default:
		return fmt.Errorf("%w: %T", models.ErrUnknownEventKind, event)
	}
}

// onTransfer applies an engine transfer event. Events for invitations never
// offered are dropped; events for closed invitations and illegal transitions
// are reported.
func (c *Client) onTransfer(id, op string, apply func(*transfer.Invitation) error) error {
	inv, err := c.coordinator.Lookup(id)
	if errors.Is(err, transfer.ErrUnknownInvitation) {
		c.logger.Debug("dropping transfer event", "invitation_id", id, "op", op)
		return err
	}
	if err == nil {
		err = apply(inv)
	}
	if errors.Is(err, transfer.ErrInvalidTransition) {
		c.logger.Warn("engine event rejected", "invitation_id", id, "op", op, "error", err)
		c.reportError(err)
	}
	return err
}
