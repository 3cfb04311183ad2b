package conversation

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatroute/models"
)

func TestConversation_DeliverPostsAndKeepsHistory(t *testing.T) {
	poster := &recordingPoster{}
	var journaled []models.MessageRendered
	conv := New(Identity{ID: "c1", Owner: "alice", Remote: []string{"bob"}}, Options{
		Poster:       poster,
		HistoryLimit: 2,
		OnMessage: func(_ *Conversation, m models.MessageRendered) {
			journaled = append(journaled, m)
		},
	})

	for _, text := range []string{"one", "two", "three"} {
		_, err := conv.Deliver(models.MessageEvent{SenderID: "bob", MessageKind: models.MessageText, Payload: text})
		require.NoError(t, err)
	}

	history := conv.History()
	require.Len(t, history, 2)
	assert.Equal(t, "two", history[0].Payload)
	assert.Equal(t, "three", history[1].Payload)
	assert.Len(t, journaled, 3)
	assert.Equal(t, []models.NotificationKind{
		models.NotifyMessageRendered,
		models.NotifyMessageRendered,
		models.NotifyMessageRendered,
	}, poster.kinds())
}

func TestConversation_ConcurrentDeliverAndCloseKeepOrder(t *testing.T) {
	poster := &recordingPoster{}
	conv := New(Identity{ID: "c1", Owner: "alice", Remote: []string{"bob"}}, Options{
		Poster:       poster,
		HistoryLimit: 1000,
	})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 20 {
				_, _ = conv.Deliver(models.MessageEvent{SenderID: "bob", Payload: fmt.Sprintf("%d-%d", i, j)})
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		conv.Close()
	}()
	wg.Wait()

	poster.mu.Lock()
	posts := append([]models.Notification(nil), poster.posts...)
	poster.mu.Unlock()

	require.NotEmpty(t, posts)
	closedAt := -1
	var rendered []string
	for i, n := range posts {
		switch n := n.(type) {
		case models.ConversationClosed:
			closedAt = i
		case models.MessageRendered:
			assert.Equal(t, -1, closedAt, "message rendered after close")
			rendered = append(rendered, n.MessageID)
		}
	}
	assert.Equal(t, len(posts)-1, closedAt)

	var history []string
	for _, m := range conv.History() {
		history = append(history, m.MessageID)
	}
	assert.Equal(t, history, rendered)
}

func TestConversation_GatewayDropsCustomEmoticons(t *testing.T) {
	conv := New(Identity{ID: "c1", Owner: "alice", Remote: []string{"bob"}, Network: models.NetworkGateway}, Options{})

	_, err := conv.Deliver(models.MessageEvent{SenderID: "bob", MessageKind: models.MessageEmoticon, Payload: ":wave:"})
	assert.ErrorIs(t, err, ErrFeatureDisabled)

	_, err = conv.Deliver(models.MessageEvent{SenderID: "bob", MessageKind: models.MessageNudge})
	assert.NoError(t, err)
	assert.False(t, conv.Features().FileTransfer)
}

func TestConversation_CloseUnsubscribesPresenceSynchronously(t *testing.T) {
	presence := newFakePresence()
	poster := &recordingPoster{}
	conv := New(Identity{ID: "c1", Owner: "alice", Remote: []string{"bob"}}, Options{
		Poster:   poster,
		Presence: presence,
	})
	require.True(t, conv.AddParticipant("carol"))
	assert.False(t, conv.AddParticipant("carol"))
	assert.Equal(t, 1, presence.active("bob"))
	assert.Equal(t, 1, presence.active("carol"))

	presence.set(models.Contact{ID: "bob", Status: models.PresenceOnline})
	assert.True(t, conv.AnyRemoteOnline())

	require.True(t, conv.Close())
	assert.False(t, conv.Close())
	assert.Equal(t, 0, presence.active("bob"))
	assert.Equal(t, 0, presence.active("carol"))

	_, err := conv.Deliver(models.MessageEvent{SenderID: "bob", Payload: "late"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, []models.NotificationKind{
		models.NotifyPresenceChanged,
		models.NotifyConversationClosed,
	}, poster.kinds())
}

func TestDirectIDIsOrderAndCaseInsensitive(t *testing.T) {
	assert.Equal(t, DirectID("Alice@example.com", "bob@example.com"), DirectID("bob@example.com", "alice@example.com"))
	assert.NotEqual(t, DirectID("alice", "bob"), DirectID("alice", "carol"))
}
