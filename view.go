package main

import (
	"log/slog"

	"chatroute/models"
)

// consoleView renders notifications as log lines. It runs on the dispatch
// queue's goroutine.
type consoleView struct {
	logger *slog.Logger
}

func (v consoleView) Render(n models.Notification) {
	switch e := n.(type) {
	case models.ConversationCreated:
		v.logger.Info("conversation opened", "conversation_id", e.ConversationID, "remote", e.Remote, "network", e.Network)
	case models.ConversationClosed:
		v.logger.Info("conversation closed", "conversation_id", e.ConversationID)
	case models.MessageRendered:
		v.logger.Info("message", "conversation_id", e.ConversationID, "from", e.SenderID, "kind", e.MessageKind, "text", e.Payload, "outbound", e.Outbound)
	case models.TransferStateChanged:
		v.logger.Info("transfer", "invitation_id", e.InvitationID, "file", e.Filename, "state", e.State, "transferred", e.Transferred, "total", e.Total, "deferred", e.Deferred)
	case models.PresenceChanged:
		v.logger.Info("presence", "conversation_id", e.ConversationID, "contact", e.Contact.ID, "status", e.Contact.Status)
	case models.StatusNotice:
		switch e.Level {
		case models.NoticeError:
			v.logger.Error(e.Text, "conversation_id", e.ConversationID)
		case models.NoticeWarning:
			v.logger.Warn(e.Text, "conversation_id", e.ConversationID)
		default:
			v.logger.Info(e.Text, "conversation_id", e.ConversationID)
		}
	default:
		v.logger.Debug("unhandled notification", "kind", n.NotificationKind())
	}
}
