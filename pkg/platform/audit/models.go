// Package audit captures structured audit events emitted by domain logic.
// Events are transport-agnostic; stores and sinks fan them out.
package audit

import (
	"time"

	id "carelink/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose. Categories
// drive topic routing and retention downstream.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance:
	// enrollment, unenrollment, invite claims. Long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring:
	// authentication failures, capacity refusals.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational
	// visibility: channel creation, notification-level changes.
	CategoryOperations EventCategory = "operations"
)

// Descriptor identifies a participant in an audited action.
type Descriptor struct {
	UserID id.UserID
	Role   id.Role
	Name   string
}

// Event is one audited domain action.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	Action    string
	PatientID id.PatientID
	TenantID  id.TenantID
	Actor     Descriptor
	Subject   Descriptor
	DeviceID  id.DeviceID
	RequestID string
	// Extra carries action-specific fields: invite channel, notification
	// level, app version.
	Extra map[string]string
}

// AuditEvent enumerates the actions this service records.
type AuditEvent string

const (
	EventFamilyEnrolled     AuditEvent = "family_enrolled"
	EventFamilyInfoEdited   AuditEvent = "family_info_edited"
	EventFamilyUnenrolled   AuditEvent = "family_unenrolled"
	EventInviteClaimed      AuditEvent = "invite_claimed"
	EventChannelCreated     AuditEvent = "channel_created"
	EventNotifLevelChanged  AuditEvent = "notification_level_changed"
	EventLoginSucceeded     AuditEvent = "login_succeeded"
	EventAuthFailed         AuditEvent = "auth_failed"
	EventRosterCapacityHit  AuditEvent = "roster_capacity_exceeded"
	EventReceiptSubscribed  AuditEvent = "read_receipt_subscribed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventFamilyEnrolled:    CategoryCompliance,
	EventFamilyInfoEdited:  CategoryCompliance,
	EventFamilyUnenrolled:  CategoryCompliance,
	EventInviteClaimed:     CategoryCompliance,
	EventLoginSucceeded:    CategoryOperations,
	EventAuthFailed:        CategorySecurity,
	EventRosterCapacityHit: CategorySecurity,
	EventChannelCreated:    CategoryOperations,
	EventNotifLevelChanged: CategoryOperations,
	EventReceiptSubscribed: CategoryOperations,
}

// Category returns the routing category for an event, defaulting to
// operations for unknown actions.
func (e AuditEvent) Category() EventCategory {
	if c, ok := eventCategories[e]; ok {
		return c
	}
	return CategoryOperations
}
