package models

import "time"

// NetworkType tags which membership network a remote party belongs to.
type NetworkType string

const (
	// NetworkStandard is a regular member of the messaging network.
	NetworkStandard NetworkType = "standard"
	// NetworkGateway is a member reached through a federation gateway.
	NetworkGateway NetworkType = "gateway"
)

// MessageKind identifies the payload carried by a message event.
type MessageKind string

const (
	MessageText     MessageKind = "text"
	MessageNudge    MessageKind = "nudge"
	MessageEmoticon MessageKind = "emoticon"
)

// Valid reports whether k is a known message kind.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageText, MessageNudge, MessageEmoticon:
		return true
	default:
		return false
	}
}

// DataType identifies what a transfer invitation carries.
type DataType string

const (
	DataFile     DataType = "file"
	DataActivity DataType = "activity"
)

// PresenceStatus is the last known availability of a contact.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
	PresenceOffline PresenceStatus = "offline"
)

// TransferState is one step of the transfer invitation lifecycle.
type TransferState string

const (
	TransferOffered  TransferState = "offered"
	TransferAccepted TransferState = "accepted"
	TransferActive   TransferState = "active"
	TransferFinished TransferState = "finished"
	TransferAborted  TransferState = "aborted"
	TransferClosed   TransferState = "closed"
)

// Terminal reports whether no lifecycle step other than close may follow.
func (s TransferState) Terminal() bool {
	switch s {
	case TransferFinished, TransferAborted, TransferClosed:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known lifecycle state.
func (s TransferState) Valid() bool {
	switch s {
	case TransferOffered, TransferAccepted, TransferActive, TransferFinished, TransferAborted, TransferClosed:
		return true
	default:
		return false
	}
}

// Contact is the presence/display state of one remote party.
type Contact struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Status      PresenceStatus `json:"status"`
	Network     NetworkType    `json:"network"`
	LastSeen    time.Time      `json:"last_seen"`
}

// Online reports whether the contact can currently receive messages.
func (c Contact) Online() bool {
	return c.Status != "" && c.Status != PresenceOffline
}

// TransferRecord is the persisted view of one transfer invitation.
type TransferRecord struct {
	InvitationID string
	RemoteParty  string
	DataType     DataType
	Filename     string
	Size         int64
	StreamHandle string
	Network      NetworkType
	State        TransferState
	Deferred     bool
	Transferred  int64
	Total        int64
	StoredPath   string
	Reason       string
	CreatedAt    int64
	UpdatedAt    int64
}
