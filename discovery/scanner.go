package discovery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"chatroute/models"
)

var errScannerStopped = errors.New("scanner is stopped")

// Scanner browses the LAN for announced accounts and turns what it sees into
// presence updates: a contact is online while it keeps answering and goes
// offline after MissedScans scans in a row without it.
type Scanner struct {
	cfg    Config
	browse browseFunc

	// scanMu keeps one browse in flight and guards closing updates.
	scanMu sync.Mutex

	mu   sync.RWMutex
	seen map[string]sighting

	updates chan models.Contact

	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type sighting struct {
	contact models.Contact
	missed  int
}

// NewScanner creates a scanner with config defaults applied.
func NewScanner(config Config) (*Scanner, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForScan(); err != nil {
		return nil, err
	}

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	return &Scanner{
		cfg:     cfg,
		browse:  browse,
		seen:    make(map[string]sighting),
		updates: make(chan models.Contact, 128),
	}, nil
}

// Start begins background scanning.
func (s *Scanner) Start() {
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop ends scanning and closes Updates.
func (s *Scanner) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()

		s.scanMu.Lock()
		close(s.updates)
		s.scanMu.Unlock()
	})
}

// Updates delivers a contact every time its presence changes.
func (s *Scanner) Updates() <-chan models.Contact {
	return s.updates
}

// Refresh scans immediately and returns once the scan is applied.
func (s *Scanner) Refresh(ctx context.Context) error {
	if s.ctx == nil {
		return errors.New("scanner is not started")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return s.scan(ctx)
}

// Contacts returns the contacts currently online, ordered by name.
func (s *Scanner) Contacts() []models.Contact {
	s.mu.RLock()
	out := make([]models.Contact, 0, len(s.seen))
	for _, sg := range s.seen {
		if sg.contact.Online() {
			out = append(out, sg.contact)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.Contact) int {
		return cmp.Or(cmp.Compare(a.DisplayName, b.DisplayName), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func (s *Scanner) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		// A failed browse leaves the known contacts untouched.
		_ = s.scan(s.ctx)
		select {
		case <-ticker.C:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scanner) scan(ctx context.Context) error {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if s.ctx.Err() != nil {
		return errScannerStopped
	}

	found, err := s.browseOnce(ctx)
	if err != nil {
		return err
	}
	if s.ctx.Err() != nil {
		return errScannerStopped
	}

	for _, contact := range s.merge(found, time.Now()) {
		select {
		case s.updates <- contact:
		case <-s.ctx.Done():
			return errScannerStopped
		}
	}
	return nil
}

// browseOnce collects the accounts answering within one scan window.
func (s *Scanner) browseOnce(ctx context.Context) (map[string]models.Contact, error) {
	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	result := make(chan map[string]models.Contact, 1)
	go func(in <-chan *zeroconf.ServiceEntry) {
		found := make(map[string]models.Contact)
		for {
			select {
			case <-scanCtx.Done():
				result <- found
				return
			case entry, ok := <-in:
				if !ok {
					in = nil
					continue
				}
				if contact, ok := contactFromEntry(entry, s.cfg.SelfAccountID); ok {
					found[contact.ID] = contact
				}
			}
		}
	}(entries)

	err := s.browse(scanCtx, s.cfg.Service, s.cfg.Domain, entries)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		cancel()
		<-result
		return nil, fmt.Errorf("browse %s: %w", s.cfg.Service, err)
	}

	<-scanCtx.Done()
	found := <-result
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return found, nil
}

// merge folds one scan into the known contacts and returns those whose
// presence changed, ordered by ID.
func (s *Scanner) merge(found map[string]models.Contact, now time.Time) []models.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []models.Contact
	for id, contact := range found {
		contact.Status = models.PresenceOnline
		contact.LastSeen = now
		previous, known := s.seen[id]
		s.seen[id] = sighting{contact: contact}
		if !known ||
			!previous.contact.Online() ||
			previous.contact.DisplayName != contact.DisplayName ||
			previous.contact.Network != contact.Network {
			changed = append(changed, contact)
		}
	}

	for id, sg := range s.seen {
		if _, ok := found[id]; ok || !sg.contact.Online() {
			continue
		}
		sg.missed++
		if sg.missed >= s.cfg.MissedScans {
			sg.contact.Status = models.PresenceOffline
			changed = append(changed, sg.contact)
		}
		s.seen[id] = sg
	}

	slices.SortFunc(changed, func(a, b models.Contact) int { return cmp.Compare(a.ID, b.ID) })
	return changed
}

func contactFromEntry(entry *zeroconf.ServiceEntry, selfAccountID string) (models.Contact, bool) {
	if entry == nil {
		return models.Contact{}, false
	}
	txt := parseTXT(entry.Text)

	accountID := txt["account_id"]
	if accountID == "" || accountID == selfAccountID {
		return models.Contact{}, false
	}

	network := models.NetworkStandard
	if models.NetworkType(txt["network"]) == models.NetworkGateway {
		network = models.NetworkGateway
	}

	name := cmp.Or(
		strings.TrimSpace(entry.Instance),
		strings.TrimSuffix(strings.TrimSpace(entry.HostName), "."),
		accountID,
	)
	return models.Contact{ID: accountID, DisplayName: name, Network: network}, true
}

func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, record := range records {
		key, value, ok := strings.Cut(record, "=")
		if key = strings.TrimSpace(key); !ok || key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}
