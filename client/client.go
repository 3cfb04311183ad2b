package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chatroute/conversation"
	"chatroute/discovery"
	"chatroute/dispatch"
	"chatroute/models"
	"chatroute/storage"
	"chatroute/transfer"
)

var (
	// ErrRemoteUnavailable indicates the remote party cannot be reached right now.
	ErrRemoteUnavailable = errors.New("client: remote unavailable")
	// ErrFeatureDisabled indicates the conversation's network does not allow the operation.
	ErrFeatureDisabled = errors.New("client: feature disabled")
	// ErrMalformedEvent indicates an envelope that cannot be decoded.
	ErrMalformedEvent = errors.New("client: malformed event")
)

// Engine is the outbound control surface of the messaging engine.
type Engine interface {
	SendText(ctx context.Context, conversationID, text string) error
	SendNudge(ctx context.Context, conversationID string) error
	transfer.Engine
}

// Journal persists conversations, messages and transfers.
type Journal interface {
	transfer.Journal
	SaveConversation(conversation storage.Conversation) error
	AddParticipant(conversationID, participantID string) error
	MarkConversationClosed(conversationID string, closedAt int64) error
	SaveMessage(message storage.Message) error
	MarkSeen(eventID string) (bool, error)
}

// Options configures a Client.
type Options struct {
	AccountID string
	Engine    Engine
	Poster    dispatch.Poster

	// Journal is optional; nil keeps everything in memory.
	Journal Journal
	// Presence is created when nil.
	Presence *discovery.Tracker

	FilesDir           string
	AutoAcceptMaxBytes int64
	HistoryLimit       int

	// Decide overrides the auto-accept policy for new invitations.
	Decide func(*transfer.Invitation) transfer.Decision
	// Open overrides how transfer resources are opened.
	Open transfer.Opener

	Logger *slog.Logger
}

// Client routes engine events into conversations and transfers and exposes
// the outbound operations the view calls.
type Client struct {
	options  Options
	logger   *slog.Logger
	presence *discovery.Tracker

	registry    *conversation.Registry
	router      *conversation.Router
	coordinator *transfer.Coordinator

	errors chan error
}

// New wires a client from its collaborators.
func New(options Options) (*Client, error) {
	if options.AccountID == "" {
		return nil, errors.New("account id is required")
	}
	if options.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if options.Poster == nil {
		return nil, errors.New("poster is required")
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Presence == nil {
		options.Presence = discovery.NewTracker(options.Logger)
	}

	c := &Client{
		options:  options,
		logger:   options.Logger.With("component", "client"),
		presence: options.Presence,
		errors:   make(chan error, 64),
	}

	c.registry = conversation.NewRegistry(c.newConversation, conversation.RegistryOptions{
		Logger:    options.Logger,
		OnCreated: c.conversationCreated,
		OnRemoved: c.conversationRemoved,
	})
	c.router = conversation.NewRouter(options.AccountID, c.registry, c.reportError, options.Logger)

	decide := options.Decide
	if decide == nil {
		decide = c.autoAccept
	}
	var journal transfer.Journal
	if options.Journal != nil {
		journal = options.Journal
	}
	c.coordinator = transfer.NewCoordinator(transfer.Options{
		Engine:   options.Engine,
		Poster:   options.Poster,
		Journal:  journal,
		Open:     options.Open,
		FilesDir: options.FilesDir,
		Decide:   decide,
		Report:   c.reportError,
		Logger:   options.Logger,
	})

	return c, nil
}

// Errors returns asynchronous failures reported while handling events.
func (c *Client) Errors() <-chan error {
	return c.errors
}

// Presence returns the contact tracker the client watches.
func (c *Client) Presence() *discovery.Tracker {
	return c.presence
}

// Conversations returns a snapshot of the open conversations.
func (c *Client) Conversations() []*conversation.Conversation {
	return c.registry.All()
}

// Conversation returns an open conversation by ID.
func (c *Client) Conversation(id string) (*conversation.Conversation, bool) {
	return c.registry.Get(id)
}

// Transfers returns a snapshot of the registered invitations.
func (c *Client) Transfers() []*transfer.Invitation {
	return c.coordinator.All()
}

// Transfer returns a registered invitation by ID.
func (c *Client) Transfer(id string) (*transfer.Invitation, error) {
	return c.coordinator.Lookup(id)
}

// Stop rejects or cancels outstanding transfers and closes every conversation.
func (c *Client) Stop(ctx context.Context) {
	c.coordinator.Shutdown(ctx)
	c.registry.CloseAll()
}

func (c *Client) newConversation(identity conversation.Identity) (*conversation.Conversation, error) {
	return conversation.New(identity, conversation.Options{
		Poster:        c.options.Poster,
		Presence:      c.presence,
		HistoryLimit:  c.options.HistoryLimit,
		Logger:        c.options.Logger,
		OnMessage:     c.journalMessage,
		OnParticipant: c.journalParticipant,
	}), nil
}

func (c *Client) conversationCreated(conv *conversation.Conversation) {
	if c.options.Journal != nil {
		err := c.options.Journal.SaveConversation(storage.Conversation{
			ConversationID: conv.ID(),
			OwnerID:        conv.Owner(),
			Network:        string(conv.Network()),
			CreatedAt:      conv.CreatedAt().UnixMilli(),
			Participants:   conv.Remote(),
		})
		if err != nil {
			c.logger.Warn("journal conversation failed", "conversation_id", conv.ID(), "error", err)
		}
	}
	c.options.Poster.Post(models.ConversationCreated{
		ConversationID: conv.ID(),
		Owner:          conv.Owner(),
		Remote:         conv.Remote(),
		Network:        conv.Network(),
	})
}

func (c *Client) conversationRemoved(conv *conversation.Conversation) {
	if c.options.Journal == nil {
		return
	}
	if err := c.options.Journal.MarkConversationClosed(conv.ID(), 0); err != nil {
		c.logger.Warn("journal conversation close failed", "conversation_id", conv.ID(), "error", err)
	}
}

func (c *Client) journalMessage(conv *conversation.Conversation, message models.MessageRendered) {
	if c.options.Journal == nil {
		return
	}
	err := c.options.Journal.SaveMessage(storage.Message{
		MessageID:      message.MessageID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		Kind:           string(message.MessageKind),
		Payload:        message.Payload,
		Outbound:       message.Outbound,
		Timestamp:      message.Timestamp,
	})
	if err != nil {
		c.logger.Warn("journal message failed", "conversation_id", conv.ID(), "message_id", message.MessageID, "error", err)
	}
}

func (c *Client) journalParticipant(conv *conversation.Conversation, participantID string) {
	if c.options.Journal == nil {
		return
	}
	if err := c.options.Journal.AddParticipant(conv.ID(), participantID); err != nil {
		c.logger.Warn("journal participant failed", "conversation_id", conv.ID(), "participant_id", participantID, "error", err)
	}
}

// autoAccept accepts small files from online contacts and defers the rest.
func (c *Client) autoAccept(inv *transfer.Invitation) transfer.Decision {
	limit := c.options.AutoAcceptMaxBytes
	if limit <= 0 || inv.DataType != models.DataFile {
		return transfer.DecisionDefer
	}
	if inv.Size <= 0 || inv.Size > limit {
		return transfer.DecisionDefer
	}
	if !c.presence.Available(inv.RemoteParty) {
		return transfer.DecisionDefer
	}
	return transfer.DecisionAccept
}

func (c *Client) reportError(err error) {
	if err == nil {
		return
	}
	select {
	case c.errors <- err:
	default:
	}
	c.options.Poster.Post(models.StatusNotice{
		Level: models.NoticeError,
		Text:  err.Error(),
	})
}

func (c *Client) notice(level models.NoticeLevel, conversationID, format string, args ...any) {
	c.options.Poster.Post(models.StatusNotice{
		Level:          level,
		ConversationID: conversationID,
		Text:           fmt.Sprintf(format, args...),
	})
}
