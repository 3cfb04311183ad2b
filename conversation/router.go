package conversation

import (
	"errors"
	"fmt"
	"log/slog"

	"chatroute/models"
)

// Router maps inbound message events to conversations.
type Router struct {
	owner    string
	registry *Registry
	report   func(error)
	logger   *slog.Logger
}

// NewRouter creates a router for the local account owner. report receives
// per-event routing failures; it may be nil.
func NewRouter(owner string, registry *Registry, report func(error), logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if report == nil {
		report = func(error) {}
	}
	return &Router{
		owner:    owner,
		registry: registry,
		report:   report,
		logger:   logger.With("component", "router"),
	}
}

// Route forwards event to the conversation identified by conversationID,
// creating it when absent. An empty conversationID addresses the direct
// conversation with senderID. On a routing failure the event is dropped,
// the failure is reported and returned.
func (r *Router) Route(senderID, conversationID string, event models.MessageEvent) (*Conversation, error) {
	if senderID == "" {
		return nil, r.fail(fmt.Errorf("%w: message without sender", ErrRoutingFailure))
	}
	if event.MessageKind == "" {
		event.MessageKind = models.MessageText
	}
	if !event.MessageKind.Valid() {
		return nil, r.fail(fmt.Errorf("%w: unsupported message kind %q", ErrRoutingFailure, event.MessageKind))
	}
	if conversationID == "" {
		conversationID = DirectID(r.owner, senderID)
	}
	event.SenderID = senderID
	event.ConversationID = conversationID

	identity := Identity{
		ID:      conversationID,
		Owner:   r.owner,
		Remote:  []string{senderID},
		Network: event.Network,
	}

	// A conversation closed between lookup and delivery is replaced once.
	for attempt := 0; attempt < 2; attempt++ {
		conv, _, err := r.registry.GetOrCreate(identity)
		if err != nil {
			return nil, r.fail(fmt.Errorf("%w: conversation %q: %w", ErrRoutingFailure, conversationID, err))
		}

		conv.AddParticipant(senderID)
		_, err = conv.Deliver(event)
		switch {
		case err == nil:
			return conv, nil
		case errors.Is(err, ErrClosed):
			r.logger.Debug("conversation closed during delivery, retrying", "conversation_id", conversationID)
			r.registry.evict(conv)
			continue
		case errors.Is(err, ErrFeatureDisabled):
			r.logger.Debug("dropping message unsupported by network",
				"conversation_id", conversationID,
				"kind", event.MessageKind,
				"network", conv.Network())
			return conv, err
		default:
			return nil, r.fail(fmt.Errorf("%w: conversation %q: %w", ErrRoutingFailure, conversationID, err))
		}
	}

	return nil, r.fail(fmt.Errorf("%w: conversation %q closed during delivery", ErrRoutingFailure, conversationID))
}

func (r *Router) fail(err error) error {
	r.logger.Warn("routing failure", "error", err)
	r.report(err)
	return err
}
