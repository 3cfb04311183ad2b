package conversation

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Factory builds the conversation for an identity that has none yet.
type Factory func(Identity) (*Conversation, error)

// RegistryOptions configures registry hooks.
type RegistryOptions struct {
	Logger *slog.Logger

	// OnCreated runs once per new conversation, before any caller can see it.
	OnCreated func(*Conversation)
	// OnRemoved runs after a removed conversation is closed.
	OnRemoved func(*Conversation)
}

// Registry owns the live conversations, keyed by identity ID.
type Registry struct {
	factory Factory
	options RegistryOptions
	logger  *slog.Logger

	mu            sync.Mutex
	conversations map[string]*Conversation
	pending       map[string]*creation
}

// creation is the per-identity gate for a conversation being built.
type creation struct {
	done chan struct{}
	conv *Conversation
	err  error
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory, options RegistryOptions) *Registry {
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Registry{
		factory:       factory,
		options:       options,
		logger:        options.Logger.With("component", "registry"),
		conversations: make(map[string]*Conversation),
		pending:       make(map[string]*creation),
	}
}

// GetOrCreate returns the conversation for id, building it when absent.
// Concurrent calls for the same ID share one build; calls for other IDs
// are not held up by it. The boolean reports whether this call created it.
func (r *Registry) GetOrCreate(id Identity) (*Conversation, bool, error) {
	if id.ID == "" {
		return nil, false, errors.New("conversation id is required")
	}

	r.mu.Lock()
	if conv, ok := r.conversations[id.ID]; ok {
		r.mu.Unlock()
		return conv, false, nil
	}
	if pending, ok := r.pending[id.ID]; ok {
		r.mu.Unlock()
		<-pending.done
		return pending.conv, false, pending.err
	}
	pending := &creation{done: make(chan struct{})}
	r.pending[id.ID] = pending
	r.mu.Unlock()

	conv, err := r.build(id)
	if err == nil && r.options.OnCreated != nil {
		r.options.OnCreated(conv)
	}

	r.mu.Lock()
	delete(r.pending, id.ID)
	if err == nil {
		r.conversations[id.ID] = conv
	}
	r.mu.Unlock()

	pending.conv, pending.err = conv, err
	close(pending.done)

	if err != nil {
		return nil, false, err
	}
	r.logger.Debug("conversation created", "conversation_id", id.ID, "remote", id.Remote)
	return conv, true, nil
}

func (r *Registry) build(id Identity) (conv *Conversation, err error) {
	if r.factory == nil {
		return nil, errors.New("no conversation factory configured")
	}
	defer func() {
		if rec := recover(); rec != nil {
			conv, err = nil, fmt.Errorf("conversation factory panicked: %v", rec)
		}
	}()

	conv, err = r.factory(id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, errors.New("conversation factory returned nil")
	}
	return conv, nil
}

// Get returns the live conversation with the given ID.
func (r *Registry) Get(id string) (*Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	return conv, ok
}

// Remove unregisters and closes the conversation. Removing an unknown ID is
// a no-op; the result reports whether anything was removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	conv, ok := r.conversations[id]
	if ok {
		delete(r.conversations, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.finish(conv)
	return true
}

// evict unregisters conv only if it is still the instance registered under its ID.
func (r *Registry) evict(conv *Conversation) bool {
	r.mu.Lock()
	current, ok := r.conversations[conv.ID()]
	if ok && current == conv {
		delete(r.conversations, conv.ID())
	}
	r.mu.Unlock()

	if !ok || current != conv {
		return false
	}
	r.finish(conv)
	return true
}

func (r *Registry) finish(conv *Conversation) {
	conv.Close()
	if r.options.OnRemoved != nil {
		r.options.OnRemoved(conv)
	}
}

// All returns a snapshot of the live conversations ordered by ID.
func (r *Registry) All() []*Conversation {
	r.mu.Lock()
	out := make([]*Conversation, 0, len(r.conversations))
	for _, conv := range r.conversations {
		out = append(out, conv)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conversations)
}

// CloseAll removes every live conversation.
func (r *Registry) CloseAll() {
	for _, conv := range r.All() {
		r.Remove(conv.ID())
	}
}
