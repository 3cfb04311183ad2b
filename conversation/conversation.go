package conversation

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatroute/dispatch"
	"chatroute/models"
)

const defaultHistoryLimit = 200

var (
	// ErrRoutingFailure indicates an inbound event could not be matched to a conversation.
	ErrRoutingFailure = errors.New("conversation: routing failure")
	// ErrClosed indicates the conversation was torn down.
	ErrClosed = errors.New("conversation: closed")
	// ErrUnknownConversation indicates no live conversation has the requested ID.
	ErrUnknownConversation = errors.New("conversation: unknown conversation")
	// ErrFeatureDisabled indicates the conversation's network does not support the payload.
	ErrFeatureDisabled = errors.New("conversation: feature disabled for network")
)

// Presence is the source of remote contact state a conversation watches.
type Presence interface {
	Get(id string) (models.Contact, bool)
	Subscribe(contactID string, fn func(models.Contact)) func()
}

// Options configures a conversation's collaborators.
type Options struct {
	Poster       dispatch.Poster
	Presence     Presence
	HistoryLimit int
	Logger       *slog.Logger

	// OnMessage runs after a message is accepted, before the view is notified.
	OnMessage func(*Conversation, models.MessageRendered)
	// OnParticipant runs when a party joins after creation.
	OnParticipant func(*Conversation, string)
}

// Conversation is one logical messaging session.
type Conversation struct {
	id        string
	owner     string
	network   models.NetworkType
	createdAt time.Time
	options   Options
	logger    *slog.Logger

	// order serializes accepting and posting so the view sees notifications
	// in history order, with ConversationClosed last.
	order sync.Mutex

	mu          sync.Mutex
	remote      []string
	contacts    map[string]models.Contact
	history     []models.MessageRendered
	unsubscribe []func()
	closed      bool
}

// New creates a conversation and subscribes to the presence of each remote
// participant.
func New(identity Identity, options Options) *Conversation {
	if options.HistoryLimit <= 0 {
		options.HistoryLimit = defaultHistoryLimit
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	network := identity.Network
	if network == "" {
		network = models.NetworkStandard
	}

	c := &Conversation{
		id:        identity.ID,
		owner:     identity.Owner,
		network:   network,
		createdAt: time.Now(),
		options:   options,
		logger:    options.Logger.With("component", "conversation", "conversation_id", identity.ID),
		contacts:  make(map[string]models.Contact),
	}
	for _, remote := range identity.Remote {
		c.addParticipant(remote)
	}
	return c
}

// ID returns the conversation identity key.
func (c *Conversation) ID() string { return c.id }

// Owner returns the local account that owns the conversation.
func (c *Conversation) Owner() string { return c.owner }

// Network returns the remote side's network type.
func (c *Conversation) Network() models.NetworkType { return c.network }

// CreatedAt returns when the conversation was created.
func (c *Conversation) CreatedAt() time.Time { return c.createdAt }

// Identity returns the current identity, including participants that joined later.
func (c *Conversation) Identity() Identity {
	return Identity{
		ID:      c.id,
		Owner:   c.owner,
		Remote:  c.Remote(),
		Network: c.network,
	}
}

// Features returns what the conversation may carry.
func (c *Conversation) Features() Features {
	return Identity{Network: c.network}.Features()
}

// Remote returns the remote participants.
func (c *Conversation) Remote() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.remote)
}

// HasParticipant reports whether id takes part in the conversation.
func (c *Conversation) HasParticipant(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Contains(c.remote, id)
}

// AddParticipant adds a remote party and starts watching its presence.
// It reports false when the party was already present or the conversation is closed.
func (c *Conversation) AddParticipant(id string) bool {
	if !c.addParticipant(id) {
		return false
	}
	if c.options.OnParticipant != nil {
		c.options.OnParticipant(c, id)
	}
	c.logger.Debug("participant joined", "participant_id", id)
	return true
}

func (c *Conversation) addParticipant(id string) bool {
	if id == "" || id == c.owner {
		return false
	}

	c.mu.Lock()
	if c.closed || slices.Contains(c.remote, id) {
		c.mu.Unlock()
		return false
	}
	c.remote = append(c.remote, id)
	if c.options.Presence != nil {
		if contact, ok := c.options.Presence.Get(id); ok {
			c.contacts[id] = contact
		}
	}
	c.mu.Unlock()

	if c.options.Presence != nil {
		unsubscribe := c.options.Presence.Subscribe(id, c.onPresence)
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			unsubscribe()
			return false
		}
		c.unsubscribe = append(c.unsubscribe, unsubscribe)
		c.mu.Unlock()
	}
	return true
}

// Contact returns the last presence snapshot seen for a participant.
func (c *Conversation) Contact(id string) (models.Contact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	contact, ok := c.contacts[id]
	return contact, ok
}

// AnyRemoteOnline reports whether at least one participant is known to be online.
func (c *Conversation) AnyRemoteOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.remote {
		if contact, ok := c.contacts[id]; ok && contact.Online() {
			return true
		}
	}
	return false
}

// History returns the retained message exchanges, oldest first.
func (c *Conversation) History() []models.MessageRendered {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}

// Deliver accepts an inbound message and forwards it to the view.
func (c *Conversation) Deliver(event models.MessageEvent) (models.MessageRendered, error) {
	if event.MessageKind == models.MessageEmoticon && !c.Features().CustomEmoticons {
		return models.MessageRendered{}, ErrFeatureDisabled
	}
	return c.record(event.SenderID, event.MessageKind, event.Payload, false, event.Timestamp)
}

// RecordOutbound appends a message sent by the owner.
func (c *Conversation) RecordOutbound(kind models.MessageKind, payload string) (models.MessageRendered, error) {
	return c.record(c.owner, kind, payload, true, 0)
}

func (c *Conversation) record(senderID string, kind models.MessageKind, payload string, outbound bool, timestamp int64) (models.MessageRendered, error) {
	if kind == "" {
		kind = models.MessageText
	}
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}
	message := models.MessageRendered{
		ConversationID: c.id,
		MessageID:      uuid.NewString(),
		SenderID:       senderID,
		MessageKind:    kind,
		Payload:        payload,
		Outbound:       outbound,
		Timestamp:      timestamp,
	}

	c.order.Lock()
	defer c.order.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.MessageRendered{}, ErrClosed
	}
	c.history = append(c.history, message)
	if overflow := len(c.history) - c.options.HistoryLimit; overflow > 0 {
		c.history = slices.Delete(c.history, 0, overflow)
	}
	c.mu.Unlock()

	if c.options.OnMessage != nil {
		c.options.OnMessage(c, message)
	}
	c.post(message)
	return message, nil
}

// Closed reports whether Close has run.
func (c *Conversation) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close tears the conversation down. Presence subscriptions are released
// before Close returns. It reports whether this call did the teardown.
func (c *Conversation) Close() bool {
	c.order.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.order.Unlock()
		return false
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	// Released before unsubscribing: a presence callback in flight holds the
	// tracker's subscription lock while it waits for order.
	c.order.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	c.post(models.ConversationClosed{ConversationID: c.id})
	c.logger.Debug("conversation closed")
	return true
}

func (c *Conversation) onPresence(contact models.Contact) {
	c.order.Lock()
	defer c.order.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.contacts[contact.ID] = contact
	c.mu.Unlock()

	c.post(models.PresenceChanged{ConversationID: c.id, Contact: contact})
}

func (c *Conversation) post(n models.Notification) {
	if c.options.Poster != nil {
		c.options.Poster.Post(n)
	}
}
