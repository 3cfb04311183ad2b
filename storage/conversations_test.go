package storage

import (
	"errors"
	"reflect"
	"testing"
)

func TestSaveConversationAndParticipants(t *testing.T) {
	store := newTestStore(t)
	mustSaveConversation(t, store, "c1", "bob")

	if err := store.AddParticipant("c1", "carol"); err != nil {
		t.Fatalf("AddParticipant failed: %v", err)
	}
	if err := store.AddParticipant("c1", "carol"); err != nil {
		t.Fatalf("duplicate AddParticipant failed: %v", err)
	}

	conversation, err := store.GetConversation("c1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conversation.OwnerID != "alice" || conversation.Network != "standard" {
		t.Fatalf("unexpected conversation: %+v", conversation)
	}
	if !reflect.DeepEqual(conversation.Participants, []string{"bob", "carol"}) {
		t.Fatalf("unexpected participants: %v", conversation.Participants)
	}
	if conversation.ClosedAt != nil {
		t.Fatalf("expected open conversation")
	}
}

func TestMarkConversationClosedAndReopen(t *testing.T) {
	store := newTestStore(t)
	mustSaveConversation(t, store, "c1", "bob")
	mustSaveConversation(t, store, "c2", "carol")

	if err := store.MarkConversationClosed("c1", 0); err != nil {
		t.Fatalf("MarkConversationClosed failed: %v", err)
	}
	if err := store.MarkConversationClosed("missing", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	open, err := store.ListConversations(false)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(open) != 1 || open[0].ConversationID != "c2" {
		t.Fatalf("expected only c2 open, got %+v", open)
	}

	all, err := store.ListConversations(true)
	if err != nil {
		t.Fatalf("ListConversations(all) failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(all))
	}

	mustSaveConversation(t, store, "c1")
	reopened, err := store.GetConversation("c1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if reopened.ClosedAt != nil {
		t.Fatalf("expected saved conversation to be reopened")
	}
	if !reflect.DeepEqual(reopened.Participants, []string{"bob"}) {
		t.Fatalf("expected participants to be kept, got %v", reopened.Participants)
	}
}

func TestSaveConversationValidation(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveConversation(Conversation{OwnerID: "alice"}); err == nil {
		t.Fatalf("expected missing conversation ID to fail")
	}
	if err := store.SaveConversation(Conversation{ConversationID: "c1", OwnerID: "alice", Network: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected invalid network to fail")
	}
	if _, err := store.GetConversation("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
