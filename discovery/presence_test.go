package discovery

import (
	"sync"
	"sync/atomic"
	"testing"

	"chatroute/models"
)

func TestTrackerNotifiesSubscribersOnlyOnChange(t *testing.T) {
	tracker := NewTracker(nil)

	var calls int32
	unsubscribe := tracker.Subscribe("bob", func(c models.Contact) {
		atomic.AddInt32(&calls, 1)
	})
	defer unsubscribe()

	tracker.Update(models.Contact{ID: "bob", DisplayName: "Bob", Status: models.PresenceOnline})
	tracker.Update(models.Contact{ID: "bob", Status: models.PresenceOnline})
	tracker.Update(models.Contact{ID: "bob", Status: models.PresenceAway})

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 notifications, got %d", got)
	}
	contact, _ := tracker.Get("bob")
	if contact.DisplayName != "Bob" {
		t.Fatalf("expected display name to be retained, got %q", contact.DisplayName)
	}
}

func TestTrackerUnsubscribeStopsDelivery(t *testing.T) {
	tracker := NewTracker(nil)

	var calls int32
	unsubscribe := tracker.Subscribe("bob", func(models.Contact) {
		atomic.AddInt32(&calls, 1)
	})
	if tracker.SubscriberCount("bob") != 1 {
		t.Fatalf("expected one subscriber")
	}

	unsubscribe()
	unsubscribe()
	tracker.Update(models.Contact{ID: "bob", Status: models.PresenceOnline})

	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected no delivery after unsubscribe")
	}
	if tracker.SubscriberCount("bob") != 0 {
		t.Fatalf("expected subscriber to be removed")
	}
}

func TestTrackerConcurrentUpdatesAndUnsubscribe(t *testing.T) {
	tracker := NewTracker(nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		unsubscribe := tracker.Subscribe("bob", func(models.Contact) {})
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsubscribe()
		}()
		go func(i int) {
			defer wg.Done()
			status := models.PresenceOnline
			if i%2 == 0 {
				status = models.PresenceOffline
			}
			tracker.Update(models.Contact{ID: "bob", Status: status})
		}(i)
	}
	wg.Wait()

	if tracker.SubscriberCount("bob") != 0 {
		t.Fatalf("expected all subscriptions to be released")
	}
}
