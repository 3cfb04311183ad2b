package discovery

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatroute/models"
)

// Tracker holds the last known presence of every contact and notifies
// per-contact subscribers when it changes.
type Tracker struct {
	logger *slog.Logger

	mu       sync.RWMutex
	contacts map[string]models.Contact
	subs     map[string]map[string]*subscription // contactID -> subID -> subscription
}

type subscription struct {
	mu     sync.Mutex
	active bool
	fn     func(models.Contact)
}

// NewTracker creates an empty presence tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:   logger.With("component", "presence"),
		contacts: make(map[string]models.Contact),
		subs:     make(map[string]map[string]*subscription),
	}
}

// Update records c and notifies its subscribers if anything changed.
func (t *Tracker) Update(c models.Contact) {
	if c.ID == "" {
		return
	}
	if c.Status == "" {
		c.Status = models.PresenceOffline
	}
	if c.LastSeen.IsZero() {
		c.LastSeen = time.Now()
	}

	t.mu.Lock()
	previous, existed := t.contacts[c.ID]
	if existed {
		if c.DisplayName == "" {
			c.DisplayName = previous.DisplayName
		}
		if c.Network == "" {
			c.Network = previous.Network
		}
	}
	t.contacts[c.ID] = c
	changed := !existed ||
		previous.Status != c.Status ||
		previous.DisplayName != c.DisplayName ||
		previous.Network != c.Network
	var targets []*subscription
	if changed {
		for _, sub := range t.subs[c.ID] {
			targets = append(targets, sub)
		}
	}
	t.mu.Unlock()

	if changed {
		t.logger.Debug("presence changed", "contact", c.ID, "status", c.Status)
	}
	for _, sub := range targets {
		sub.deliver(c)
	}
}

// Get returns the last known presence of id.
func (t *Tracker) Get(id string) (models.Contact, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.contacts[id]
	return c, ok
}

// Available reports whether id is known and not offline.
func (t *Tracker) Available(id string) bool {
	c, ok := t.Get(id)
	return ok && c.Online()
}

// List returns all known contacts sorted by ID.
func (t *Tracker) List() []models.Contact {
	t.mu.RLock()
	out := make([]models.Contact, 0, len(t.contacts))
	for _, c := range t.contacts {
		out = append(out, c)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscribe registers fn for presence changes of contactID. The returned
// function unsubscribes; once it returns, fn is not running and will not be
// called again. fn must not call the unsubscribe function itself.
func (t *Tracker) Subscribe(contactID string, fn func(models.Contact)) func() {
	subID := uuid.NewString()
	sub := &subscription{active: true, fn: fn}

	t.mu.Lock()
	if _, ok := t.subs[contactID]; !ok {
		t.subs[contactID] = make(map[string]*subscription)
	}
	t.subs[contactID][subID] = sub
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			if subs, ok := t.subs[contactID]; ok {
				delete(subs, subID)
				if len(subs) == 0 {
					delete(t.subs, contactID)
				}
			}
			t.mu.Unlock()

			sub.mu.Lock()
			sub.active = false
			sub.mu.Unlock()
		})
	}
}

// SubscriberCount returns the number of live subscriptions for contactID.
func (t *Tracker) SubscriberCount(contactID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs[contactID])
}

// Follow applies presence updates until updates closes or ctx is done.
func (t *Tracker) Follow(ctx context.Context, updates <-chan models.Contact) {
	for {
		select {
		case <-ctx.Done():
			return
		case contact, ok := <-updates:
			if !ok {
				return
			}
			t.Update(contact)
		}
	}
}

func (s *subscription) deliver(c models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.fn(c)
}
