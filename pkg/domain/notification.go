package domain

import dErrors "carelink/pkg/domain-errors"

// NotificationLevel is the per-member chat notification tier. The external
// chat service stores the authoritative value once a channel exists; local
// storage holds the tenant default until then.
type NotificationLevel string

const (
	// NotificationLoud is the loudest tier: every message alerts.
	NotificationLoud NotificationLevel = "loud"
	// NotificationDefault follows the tenant's default behavior.
	NotificationDefault NotificationLevel = "default"
	// NotificationMuted suppresses alerts entirely.
	NotificationMuted NotificationLevel = "muted"
)

// ParseNotificationLevel validates a notification level string.
func ParseNotificationLevel(s string) (NotificationLevel, error) {
	switch NotificationLevel(s) {
	case NotificationLoud, NotificationDefault, NotificationMuted:
		return NotificationLevel(s), nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown notification level")
	}
}
