package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventKind is the discriminator of an inbound engine event.
type EventKind string

const (
	KindMessage           EventKind = "message"
	KindInvitation        EventKind = "invitation"
	KindTransferStarted   EventKind = "transfer_started"
	KindTransferData      EventKind = "transfer_data"
	KindTransferProgress  EventKind = "transfer_progress"
	KindTransferFinished  EventKind = "transfer_finished"
	KindTransferAborted   EventKind = "transfer_aborted"
	KindPresence          EventKind = "presence"
	KindParticipantJoined EventKind = "participant_joined"
)

var (
	// ErrUnknownEventKind indicates an envelope whose kind has no decoder.
	ErrUnknownEventKind = errors.New("models: unknown event kind")
	// ErrEmptyEvent indicates an envelope without data.
	ErrEmptyEvent = errors.New("models: empty event data")
)

// Event is an inbound notification produced by the messaging engine.
// The set of implementations is closed; switch on the concrete type.
type Event interface {
	Kind() EventKind
	isEvent()
}

// MessageEvent carries a text message, nudge, or emoticon definition.
type MessageEvent struct {
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	MessageKind    MessageKind `json:"message_kind"`
	Payload        string      `json:"payload,omitempty"`
	Network        NetworkType `json:"network,omitempty"`
	Timestamp      int64       `json:"timestamp"`
}

// InvitationEvent offers a file or activity transfer.
type InvitationEvent struct {
	InvitationID string      `json:"invitation_id"`
	RemoteParty  string      `json:"remote_party"`
	DataType     DataType    `json:"data_type"`
	Filename     string      `json:"filename,omitempty"`
	Size         int64       `json:"size"`
	StreamHandle string      `json:"stream_handle,omitempty"`
	Network      NetworkType `json:"network,omitempty"`
	Timestamp    int64       `json:"timestamp"`
}

// TransferStartedEvent signals that the engine opened the data stream.
type TransferStartedEvent struct {
	InvitationID string `json:"invitation_id"`
}

// TransferDataEvent delivers one block of an incoming file.
type TransferDataEvent struct {
	InvitationID string `json:"invitation_id"`
	Offset       int64  `json:"offset"`
	Data         []byte `json:"data"`
}

// TransferProgressEvent reports bytes moved so far.
type TransferProgressEvent struct {
	InvitationID string `json:"invitation_id"`
	Transferred  int64  `json:"transferred"`
	Total        int64  `json:"total"`
}

// TransferFinishedEvent signals the stream completed.
type TransferFinishedEvent struct {
	InvitationID string `json:"invitation_id"`
}

// TransferAbortedEvent signals the stream ended without completing.
type TransferAbortedEvent struct {
	InvitationID string `json:"invitation_id"`
	Reason       string `json:"reason,omitempty"`
}

// PresenceEvent updates the availability of a contact.
type PresenceEvent struct {
	Contact Contact `json:"contact"`
}

// ParticipantJoinedEvent adds a remote party to an existing conversation.
type ParticipantJoinedEvent struct {
	ConversationID string `json:"conversation_id"`
	ParticipantID  string `json:"participant_id"`
}

func (MessageEvent) Kind() EventKind           { return KindMessage }
func (InvitationEvent) Kind() EventKind        { return KindInvitation }
func (TransferStartedEvent) Kind() EventKind   { return KindTransferStarted }
func (TransferDataEvent) Kind() EventKind      { return KindTransferData }
func (TransferProgressEvent) Kind() EventKind  { return KindTransferProgress }
func (TransferFinishedEvent) Kind() EventKind  { return KindTransferFinished }
func (TransferAbortedEvent) Kind() EventKind   { return KindTransferAborted }
func (PresenceEvent) Kind() EventKind          { return KindPresence }
func (ParticipantJoinedEvent) Kind() EventKind { return KindParticipantJoined }

func (MessageEvent) isEvent()           {}
func (InvitationEvent) isEvent()        {}
func (TransferStartedEvent) isEvent()   {}
func (TransferDataEvent) isEvent()      {}
func (TransferProgressEvent) isEvent()  {}
func (TransferFinishedEvent) isEvent()  {}
func (TransferAbortedEvent) isEvent()   {}
func (PresenceEvent) isEvent()          {}
func (ParticipantJoinedEvent) isEvent() {}

// EventEnvelope is the JSON wire shape of an inbound event.
type EventEnvelope struct {
	Kind    EventKind       `json:"kind"`
	EventID string          `json:"event_id,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// EncodeEvent wraps an event in an envelope and marshals it.
func EncodeEvent(eventID string, event Event) ([]byte, error) {
	if event == nil {
		return nil, ErrEmptyEvent
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", event.Kind(), err)
	}
	return json.Marshal(EventEnvelope{
		Kind:    event.Kind(),
		EventID: eventID,
		Data:    data,
	})
}

// DecodeEvent parses an envelope and returns its event ID and typed event.
func DecodeEvent(raw []byte) (string, Event, error) {
	var envelope EventEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", nil, fmt.Errorf("parse event envelope: %w", err)
	}
	event, err := DecodeEventData(envelope.Kind, envelope.Data)
	if err != nil {
		return envelope.EventID, nil, err
	}
	return envelope.EventID, event, nil
}

// DecodeEventData decodes the data of an event of the given kind.
func DecodeEventData(kind EventKind, data []byte) (Event, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, ErrEmptyEvent
	}

	switch kind {
	case KindMessage:
		return decodeAs[MessageEvent](kind, data)
	case KindInvitation:
		return decodeAs[InvitationEvent](kind, data)
	case KindTransferStarted:
		return decodeAs[TransferStartedEvent](kind, data)
	case KindTransferData:
		return decodeAs[TransferDataEvent](kind, data)
	case KindTransferProgress:
		return decodeAs[TransferProgressEvent](kind, data)
	case KindTransferFinished:
		return decodeAs[TransferFinishedEvent](kind, data)
	case KindTransferAborted:
		return decodeAs[TransferAbortedEvent](kind, data)
	case KindPresence:
		return decodeAs[PresenceEvent](kind, data)
	case KindParticipantJoined:
		return decodeAs[ParticipantJoinedEvent](kind, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, kind)
	}
}

func decodeAs[T Event](kind EventKind, data []byte) (Event, error) {
	var event T
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("parse %s event: %w", kind, err)
	}
	return event, nil
}
