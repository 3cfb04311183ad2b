package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatroute/conversation"
	"chatroute/models"
	"chatroute/transfer"
)

// OpenConversation returns the direct conversation with remote, creating it
// when needed.
func (c *Client) OpenConversation(remote string, network models.NetworkType) (*conversation.Conversation, error) {
	remote = strings.TrimSpace(remote)
	if remote == "" {
		return nil, errors.New("remote participant is required")
	}
	if network == "" {
		if contact, ok := c.presence.Get(remote); ok {
			network = contact.Network
		}
	}
	conv, _, err := c.registry.GetOrCreate(conversation.Identity{
		ID:      conversation.DirectID(c.options.AccountID, remote),
		Owner:   c.options.AccountID,
		Remote:  []string{remote},
		Network: network,
	})
	if err != nil {
		return nil, fmt.Errorf("open conversation with %q: %w", remote, err)
	}
	return conv, nil
}

// CloseConversation tears down a conversation. Closing an unknown ID is a no-op.
func (c *Client) CloseConversation(conversationID string) bool {
	return c.registry.Remove(conversationID)
}

// SendText sends a text message. When the remote side cannot be reached the
// view receives a status notice and the conversation stays usable.
func (c *Client) SendText(ctx context.Context, conversationID, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("message text is required")
	}
	return c.send(ctx, conversationID, models.MessageText, text, func(ctx context.Context) error {
		return c.options.Engine.SendText(ctx, conversationID, text)
	})
}

// SendNudge sends a nudge.
func (c *Client) SendNudge(ctx context.Context, conversationID string) error {
	return c.send(ctx, conversationID, models.MessageNudge, "", func(ctx context.Context) error {
		return c.options.Engine.SendNudge(ctx, conversationID)
	})
}

func (c *Client) send(ctx context.Context, conversationID string, kind models.MessageKind, payload string, deliver func(context.Context) error) error {
	conv, ok := c.registry.Get(conversationID)
	if !ok {
		return fmt.Errorf("%w: %q", conversation.ErrUnknownConversation, conversationID)
	}

	if c.allRemoteOffline(conv) {
		return c.unavailable(conv, fmt.Errorf("%w: every participant is offline", ErrRemoteUnavailable))
	}
	if err := deliver(ctx); err != nil {
		return c.unavailable(conv, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err))
	}

	if _, err := conv.RecordOutbound(kind, payload); err != nil {
		return fmt.Errorf("record outbound %s in %q: %w", kind, conversationID, err)
	}
	return nil
}

// allRemoteOffline reports true only when every participant has a known
// presence and none of them is online.
func (c *Client) allRemoteOffline(conv *conversation.Conversation) bool {
	remote := conv.Remote()
	if len(remote) == 0 {
		return false
	}
	for _, id := range remote {
		contact, ok := c.presence.Get(id)
		if !ok || contact.Online() {
			return false
		}
	}
	return true
}

func (c *Client) unavailable(conv *conversation.Conversation, err error) error {
	c.logger.Info("remote unavailable", "conversation_id", conv.ID(), "error", err)
	c.notice(models.NoticeWarning, conv.ID(), "message not delivered: %v", err)
	return err
}

// AcceptTransfer accepts an offered invitation.
func (c *Client) AcceptTransfer(ctx context.Context, invitationID string) error {
	inv, err := c.coordinator.Lookup(invitationID)
	if err != nil {
		return err
	}
	if inv.Network == models.NetworkGateway {
		return fmt.Errorf("%w: transfers with gateway members", ErrFeatureDisabled)
	}
	return c.coordinator.Accept(ctx, inv)
}

// RejectTransfer rejects an offered invitation.
func (c *Client) RejectTransfer(ctx context.Context, invitationID string) error {
	return c.withTransfer(invitationID, func(inv *transfer.Invitation) error {
		return c.coordinator.Reject(ctx, inv)
	})
}

// CancelTransfer aborts an accepted or running transfer.
func (c *Client) CancelTransfer(ctx context.Context, invitationID string) error {
	return c.withTransfer(invitationID, func(inv *transfer.Invitation) error {
		return c.coordinator.Cancel(ctx, inv)
	})
}

// CloseTransfer dismisses a finished or aborted transfer. Closing an
// invitation that is already closed or was never offered is a no-op.
func (c *Client) CloseTransfer(ctx context.Context, invitationID string) error {
	inv, err := c.coordinator.Lookup(invitationID)
	if err != nil {
		return nil
	}
	return c.coordinator.Close(ctx, inv)
}

func (c *Client) withTransfer(invitationID string, apply func(*transfer.Invitation) error) error {
	inv, err := c.coordinator.Lookup(invitationID)
	if err != nil {
		return err
	}
	return apply(inv)
}
