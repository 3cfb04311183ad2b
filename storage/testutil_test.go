package storage

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustSaveConversation(t *testing.T, store *Store, conversationID string, participants ...string) {
	t.Helper()

	err := store.SaveConversation(Conversation{
		ConversationID: conversationID,
		OwnerID:        "alice",
		Network:        "standard",
		Participants:   participants,
	})
	if err != nil {
		t.Fatalf("save conversation %q: %v", conversationID, err)
	}
}
