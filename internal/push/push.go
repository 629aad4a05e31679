// Package push delivers templated notifications through the notification-hub
// gateway. Delivery is best-effort everywhere in this service: callers log
// failures and move on.
package push

import (
	"context"

	id "carelink/pkg/domain"
)

// Type tags the notification so the client routes it to the right screen.
type Type string

const (
	TypeFamilyRemoved     Type = "family_removed"
	TypeNotifLevelChanged Type = "notification_level_changed"
	TypeChatMessage       Type = "chat_message"
)

// Payload is the templated notification body.
type Payload struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	Type       Type   `json:"type"`
	AppVersion string `json:"app_version,omitempty"`
	Badge      int    `json:"badge"`
}

// Gateway sends one notification to every registered device of a user.
//
//go:generate mockgen -source=push.go -destination=mocks/gateway.go -package=mocks
type Gateway interface {
	Send(ctx context.Context, userID id.UserID, payload Payload) error
}
