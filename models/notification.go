package models

// NotificationKind identifies a view notification.
type NotificationKind string

const (
	NotifyConversationCreated  NotificationKind = "conversation_created"
	NotifyConversationClosed   NotificationKind = "conversation_closed"
	NotifyMessageRendered      NotificationKind = "message_rendered"
	NotifyTransferStateChanged NotificationKind = "transfer_state_changed"
	NotifyPresenceChanged      NotificationKind = "presence_changed"
	NotifyStatus               NotificationKind = "status"
)

// NoticeLevel grades a user-visible status notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notification is delivered to the view layer on its own execution context.
type Notification interface {
	NotificationKind() NotificationKind
	isNotification()
}

// ConversationCreated announces a newly registered conversation.
type ConversationCreated struct {
	ConversationID string      `json:"conversation_id"`
	Owner          string      `json:"owner"`
	Remote         []string    `json:"remote"`
	Network        NetworkType `json:"network"`
}

// ConversationClosed announces that a conversation was torn down.
type ConversationClosed struct {
	ConversationID string `json:"conversation_id"`
}

// MessageRendered asks the view to show one message.
type MessageRendered struct {
	ConversationID string      `json:"conversation_id"`
	MessageID      string      `json:"message_id"`
	SenderID       string      `json:"sender_id"`
	MessageKind    MessageKind `json:"message_kind"`
	Payload        string      `json:"payload,omitempty"`
	Outbound       bool        `json:"outbound"`
	Timestamp      int64       `json:"timestamp"`
}

// TransferStateChanged reports lifecycle or progress changes of an invitation.
type TransferStateChanged struct {
	InvitationID string        `json:"invitation_id"`
	RemoteParty  string        `json:"remote_party"`
	DataType     DataType      `json:"data_type"`
	Filename     string        `json:"filename,omitempty"`
	State        TransferState `json:"state"`
	Transferred  int64         `json:"transferred"`
	Total        int64         `json:"total"`
	Deferred     bool          `json:"deferred"`
}

// PresenceChanged reports a contact update inside one conversation.
type PresenceChanged struct {
	ConversationID string  `json:"conversation_id"`
	Contact        Contact `json:"contact"`
}

// StatusNotice is a human-readable status line.
type StatusNotice struct {
	Level          NoticeLevel `json:"level"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Text           string      `json:"text"`
}

func (ConversationCreated) NotificationKind() NotificationKind {
	return NotifyConversationCreated
}
func (ConversationClosed) NotificationKind() NotificationKind { return NotifyConversationClosed }
func (MessageRendered) NotificationKind() NotificationKind    { return NotifyMessageRendered }
func (TransferStateChanged) NotificationKind() NotificationKind {
	return NotifyTransferStateChanged
}
func (PresenceChanged) NotificationKind() NotificationKind { return NotifyPresenceChanged }
func (StatusNotice) NotificationKind() NotificationKind    { return NotifyStatus }

func (ConversationCreated) isNotification()  {}
func (ConversationClosed) isNotification()   {}
func (MessageRendered) isNotification()      {}
func (TransferStateChanged) isNotification() {}
func (PresenceChanged) isNotification()      {}
func (StatusNotice) isNotification()         {}
