package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatroute/conversation"
	"chatroute/models"
	"chatroute/storage"
	"chatroute/transfer"
)

type fakeEngine struct {
	mu      sync.Mutex
	sent    []string
	calls   []string
	sendErr error
}

func (e *fakeEngine) SendText(_ context.Context, conversationID, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sendErr != nil {
		return e.sendErr
	}
	e.sent = append(e.sent, conversationID+":"+text)
	return nil
}

func (e *fakeEngine) SendNudge(_ context.Context, conversationID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sendErr != nil {
		return e.sendErr
	}
	e.sent = append(e.sent, conversationID+":nudge")
	return nil
}

func (e *fakeEngine) transferCall(op, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, op+":"+id)
	return nil
}

func (e *fakeEngine) AcceptTransfer(_ context.Context, id string) error {
	return e.transferCall("accept", id)
}

func (e *fakeEngine) RejectTransfer(_ context.Context, id string) error {
	return e.transferCall("reject", id)
}

func (e *fakeEngine) CloseTransferSession(_ context.Context, id string) error {
	return e.transferCall("close", id)
}

func (e *fakeEngine) transferCalls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

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

func (p *recordingPoster) notices() []models.StatusNotice {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.StatusNotice
	for _, n := range p.posts {
		if notice, ok := n.(models.StatusNotice); ok {
			out = append(out, notice)
		}
	}
	return out
}

func (p *recordingPoster) count(kind models.NotificationKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, post := range p.posts {
		if post.NotificationKind() == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	client *Client
	engine *fakeEngine
	poster *recordingPoster
	store  *storage.Store
	files  string
}

func newFixture(t *testing.T, configure func(*Options)) *fixture {
	t.Helper()

	store, _, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		engine: &fakeEngine{},
		poster: &recordingPoster{},
		store:  store,
		files:  t.TempDir(),
	}
	options := Options{
		AccountID: "alice",
		Engine:    f.engine,
		Poster:    f.poster,
		Journal:   store,
		FilesDir:  f.files,
	}
	if configure != nil {
		configure(&options)
	}
	f.client, err = New(options)
	require.NoError(t, err)
	t.Cleanup(func() { f.client.Stop(context.Background()) })
	return f
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Engine: &fakeEngine{}, Poster: &recordingPoster{}})
	assert.Error(t, err)
	_, err = New(Options{AccountID: "alice", Poster: &recordingPoster{}})
	assert.Error(t, err)
	_, err = New(Options{AccountID: "alice", Engine: &fakeEngine{}})
	assert.Error(t, err)
}

func TestHandleMessageCreatesAndJournalsConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	require.NoError(t, f.client.Handle(ctx, models.MessageEvent{ConversationID: "C1", SenderID: "bob", Payload: "hi"}))
	require.NoError(t, f.client.Handle(ctx, models.MessageEvent{ConversationID: "C1", SenderID: "bob", Payload: "again"}))

	convs := f.client.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, 1, f.poster.count(models.NotifyConversationCreated))
	assert.Equal(t, 2, f.poster.count(models.NotifyMessageRendered))

	saved, err := f.store.GetConversation("C1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, saved.Participants)
	messages, err := f.store.ListMessages("C1", 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "again", messages[1].Payload)

	require.NoError(t, f.client.Handle(ctx, models.ParticipantJoinedEvent{ConversationID: "C1", ParticipantID: "carol"}))
	saved, err = f.store.GetConversation("C1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, saved.Participants)

	assert.True(t, f.client.CloseConversation("C1"))
	assert.False(t, f.client.CloseConversation("C1"))
	saved, err = f.store.GetConversation("C1")
	require.NoError(t, err)
	assert.NotNil(t, saved.ClosedAt)
}

func TestHandleParticipantJoinedUnknownConversationReported(t *testing.T) {
	f := newFixture(t, nil)

	err := f.client.Handle(context.Background(), models.ParticipantJoinedEvent{ConversationID: "nope", ParticipantID: "carol"})
	require.ErrorIs(t, err, conversation.ErrRoutingFailure)
	assert.ErrorIs(t, err, conversation.ErrUnknownConversation)

	select {
	case reported := <-f.client.Errors():
		assert.ErrorIs(t, reported, conversation.ErrRoutingFailure)
	default:
		t.Fatal("expected routing failure on the error channel")
	}
	require.Len(t, f.poster.notices(), 1)
	assert.Equal(t, models.NoticeError, f.poster.notices()[0].Level)
}

func TestHandleEnvelopeDropsRedeliveries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	raw, err := models.EncodeEvent("evt-1", models.MessageEvent{ConversationID: "C1", SenderID: "bob", Payload: "once"})
	require.NoError(t, err)

	require.NoError(t, f.client.HandleEnvelope(ctx, raw))
	require.NoError(t, f.client.HandleEnvelope(ctx, raw))

	conv, ok := f.client.Conversation("C1")
	require.True(t, ok)
	assert.Len(t, conv.History(), 1)

	err = f.client.HandleEnvelope(ctx, []byte(`{"kind":"typing","data":{}}`))
	assert.ErrorIs(t, err, models.ErrUnknownEventKind)
	assert.ErrorIs(t, err, ErrMalformedEvent)

	err = f.client.HandleEnvelope(ctx, []byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestSendTextReportsRemoteUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	conv, err := f.client.OpenConversation("bob", "")
	require.NoError(t, err)

	// Unknown presence does not block sending.
	require.NoError(t, f.client.SendText(ctx, conv.ID(), "hello"))
	assert.Len(t, conv.History(), 1)

	require.NoError(t, f.client.Handle(ctx, models.PresenceEvent{Contact: models.Contact{ID: "bob", Status: models.PresenceOffline}}))
	err = f.client.SendText(ctx, conv.ID(), "anyone there?")
	require.ErrorIs(t, err, ErrRemoteUnavailable)

	notices := f.poster.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, models.NoticeWarning, notices[0].Level)
	assert.Equal(t, conv.ID(), notices[0].ConversationID)

	// The conversation stays usable once the contact comes back.
	require.NoError(t, f.client.Handle(ctx, models.PresenceEvent{Contact: models.Contact{ID: "bob", Status: models.PresenceOnline}}))
	require.NoError(t, f.client.SendNudge(ctx, conv.ID()))
	history := conv.History()
	require.Len(t, history, 2)
	assert.Equal(t, models.MessageNudge, history[1].MessageKind)
	assert.True(t, history[1].Outbound)
}

func TestSendTextEngineFailureIsRemoteUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	conv, err := f.client.OpenConversation("bob", "")
	require.NoError(t, err)

	f.engine.sendErr = errors.New("switchboard closed")
	err = f.client.SendText(context.Background(), conv.ID(), "hello")
	require.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.Empty(t, conv.History())

	err = f.client.SendText(context.Background(), "missing", "hello")
	assert.ErrorIs(t, err, conversation.ErrUnknownConversation)
}

func TestTransferLifecycleThroughEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	require.NoError(t, f.client.Handle(ctx, models.InvitationEvent{
		InvitationID: "inv-1",
		RemoteParty:  "bob",
		DataType:     models.DataFile,
		Filename:     "notes.txt",
		Size:         5,
	}))
	inv, err := f.client.Transfer("inv-1")
	require.NoError(t, err)
	assert.True(t, inv.Deferred())

	require.NoError(t, f.client.AcceptTransfer(ctx, "inv-1"))
	require.NoError(t, f.client.Handle(ctx, models.TransferStartedEvent{InvitationID: "inv-1"}))
	require.NoError(t, f.client.Handle(ctx, models.TransferDataEvent{InvitationID: "inv-1", Data: []byte("hello")}))
	require.NoError(t, f.client.Handle(ctx, models.TransferProgressEvent{InvitationID: "inv-1", Transferred: 5, Total: 5}))
	require.NoError(t, f.client.Handle(ctx, models.TransferFinishedEvent{InvitationID: "inv-1"}))

	data, err := os.ReadFile(filepath.Join(f.files, "inv-1_notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, f.client.CloseTransfer(ctx, "inv-1"))
	require.NoError(t, f.client.CloseTransfer(ctx, "inv-1"))

	err = f.client.Handle(ctx, models.TransferProgressEvent{InvitationID: "inv-1", Transferred: 5, Total: 5})
	assert.ErrorIs(t, err, transfer.ErrInvalidTransition)

	err = f.client.Handle(ctx, models.TransferProgressEvent{InvitationID: "never-offered", Transferred: 1})
	assert.ErrorIs(t, err, transfer.ErrUnknownInvitation)

	record, err := f.store.GetTransfer("inv-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransferClosed, record.State)
	assert.Equal(t, []string{"accept:inv-1", "close:inv-1"}, f.engine.transferCalls())
}

func TestClosedInvitationRejectsLaterCalls(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.client.Handle(ctx, models.InvitationEvent{InvitationID: "t1", RemoteParty: "bob", Size: 5}))
	require.NoError(t, f.client.RejectTransfer(ctx, "t1"))

	err := f.client.Handle(ctx, models.TransferProgressEvent{InvitationID: "t1", Transferred: 1, Total: 5})
	require.ErrorIs(t, err, transfer.ErrInvalidTransition)
	select {
	case reported := <-f.client.Errors():
		assert.ErrorIs(t, reported, transfer.ErrInvalidTransition)
	default:
		t.Fatal("expected the late progress event to be reported")
	}
	assert.NotEmpty(t, f.poster.notices())

	assert.ErrorIs(t, f.client.AcceptTransfer(ctx, "t1"), transfer.ErrInvalidTransition)
	assert.ErrorIs(t, f.client.RejectTransfer(ctx, "t1"), transfer.ErrInvalidTransition)
	assert.ErrorIs(t, f.client.CancelTransfer(ctx, "t1"), transfer.ErrInvalidTransition)
	assert.NoError(t, f.client.CloseTransfer(ctx, "t1"))
	assert.Equal(t, []string{"reject:t1"}, f.engine.transferCalls())
}

func TestEngineEventInvalidTransitionReported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.client.Handle(ctx, models.InvitationEvent{InvitationID: "inv-1", RemoteParty: "bob", Size: 5}))

	err := f.client.Handle(ctx, models.TransferProgressEvent{InvitationID: "inv-1", Transferred: 1, Total: 5})
	require.ErrorIs(t, err, transfer.ErrInvalidTransition)

	select {
	case reported := <-f.client.Errors():
		assert.ErrorIs(t, reported, transfer.ErrInvalidTransition)
	default:
		t.Fatal("expected invalid transition to be reported")
	}
}

func TestAutoAcceptSmallFilesFromOnlineContacts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(options *Options) {
		options.AutoAcceptMaxBytes = 10
	})
	require.NoError(t, f.client.Handle(ctx, models.PresenceEvent{Contact: models.Contact{ID: "bob", Status: models.PresenceOnline}}))

	require.NoError(t, f.client.Handle(ctx, models.InvitationEvent{InvitationID: "small", RemoteParty: "bob", Size: 5}))
	require.NoError(t, f.client.Handle(ctx, models.InvitationEvent{InvitationID: "large", RemoteParty: "bob", Size: 50}))
	require.NoError(t, f.client.Handle(ctx, models.InvitationEvent{InvitationID: "stranger", RemoteParty: "mallory", Size: 5}))

	small, err := f.client.Transfer("small")
	require.NoError(t, err)
	assert.Equal(t, models.TransferAccepted, small.State())

	for _, id := range []string{"large", "stranger"} {
		inv, err := f.client.Transfer(id)
		require.NoError(t, err)
		assert.Equal(t, models.TransferOffered, inv.State(), id)
		assert.True(t, inv.Deferred(), id)
	}
}

func TestUnknownMessageKindIsNotRenderedOrJournaled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	err := f.client.Handle(ctx, models.MessageEvent{SenderID: "bob", MessageKind: "bogus", Payload: "?"})
	require.ErrorIs(t, err, conversation.ErrRoutingFailure)

	assert.Empty(t, f.client.Conversations())
	assert.Equal(t, 0, f.poster.count(models.NotifyMessageRendered))
	assert.Equal(t, 0, f.poster.count(models.NotifyConversationCreated))
	require.NotEmpty(t, f.poster.notices())
	assert.Equal(t, models.NoticeError, f.poster.notices()[0].Level)
}

func TestGatewayConversationDropsEmoticons(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	require.NoError(t, f.client.Handle(ctx, models.MessageEvent{
		ConversationID: "G1",
		SenderID:       "bob",
		MessageKind:    models.MessageEmoticon,
		Payload:        ":wave:",
		Network:        models.NetworkGateway,
	}))
	conv, ok := f.client.Conversation("G1")
	require.True(t, ok)
	assert.Empty(t, conv.History())
	assert.False(t, conv.Features().FileTransfer)
}

func TestRunStopsOnClosedChannel(t *testing.T) {
	f := newFixture(t, nil)
	events := make(chan models.Event, 2)
	events <- models.MessageEvent{ConversationID: "C1", SenderID: "bob", Payload: "hi"}
	events <- models.PresenceEvent{Contact: models.Contact{ID: "bob", Status: models.PresenceOnline}}
	close(events)

	require.NoError(t, f.client.Run(context.Background(), events))
	assert.Len(t, f.client.Conversations(), 1)
	assert.True(t, f.client.Presence().Available("bob"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.client.Run(ctx, make(chan models.Event)), context.Canceled)
}
