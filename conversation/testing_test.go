package conversation

import (
	"sync"

	"chatroute/models"
)

type recordingPoster struct {
	mu    sync.Mutex
	posts []models.Notification
}

func (p *recordingPoster) Post(n models.Notification) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, n)
	return true
}

func (p *recordingPoster) kinds() []models.NotificationKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.NotificationKind, 0, len(p.posts))
	for _, n := range p.posts {
		out = append(out, n.NotificationKind())
	}
	return out
}

type fakePresence struct {
	mu       sync.Mutex
	contacts map[string]models.Contact
	subs     map[string][]*fakeSub
}

type fakeSub struct {
	fn     func(models.Contact)
	active bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{
		contacts: make(map[string]models.Contact),
		subs:     make(map[string][]*fakeSub),
	}
}

func (p *fakePresence) Get(id string) (models.Contact, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.contacts[id]
	return c, ok
}

func (p *fakePresence) Subscribe(id string, fn func(models.Contact)) func() {
	sub := &fakeSub{fn: fn, active: true}
	p.mu.Lock()
	p.subs[id] = append(p.subs[id], sub)
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		sub.active = false
		p.mu.Unlock()
	}
}

func (p *fakePresence) set(c models.Contact) {
	p.mu.Lock()
	p.contacts[c.ID] = c
	var targets []*fakeSub
	for _, sub := range p.subs[c.ID] {
		if sub.active {
			targets = append(targets, sub)
		}
	}
	p.mu.Unlock()
	for _, sub := range targets {
		sub.fn(c)
	}
}

func (p *fakePresence) active(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, sub := range p.subs[id] {
		if sub.active {
			n++
		}
	}
	return n
}
