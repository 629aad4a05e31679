// Package readreceipt manages the per-user read-receipt watch against the
// external chat service and the device-scoped feed delivering its events.
// One watch per user: re-subscribing cancels the previous watch first.
package readreceipt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	chatcontract "carelink/contracts/chat"
	"carelink/internal/device"
	"carelink/internal/fanout"
	"carelink/internal/identity/models"
	"carelink/internal/tenant"
	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/audit"
	"carelink/pkg/platform/sentinel"
	"carelink/pkg/requestcontext"
)

// Watcher is the slice of the external chat service the manager needs.
type Watcher interface {
	WatchReadReceipts(ctx context.Context, tenant string, userID id.UserID) (string, error)
	Unwatch(ctx context.Context, tenant string, subscriptionID string) error
}

// SubscriptionStore persists the active watch ID per user.
type SubscriptionStore interface {
	Get(ctx context.Context, userID id.UserID) (string, error)
	Set(ctx context.Context, userID id.UserID, subscriptionID string) error
	Delete(ctx context.Context, userID id.UserID) error
}

// DeviceFeed delivers raw device-scoped payloads.
type DeviceFeed interface {
	Subscribe(subject string) (<-chan []byte, func(), error)
}

// IdentityReader resolves the subscriber's identity.
type IdentityReader interface {
	FindByUser(ctx context.Context, userID id.UserID) (models.FamilyIdentity, error)
}

// DeviceReader resolves the subscriber's registered device.
type DeviceReader interface {
	FindByUser(ctx context.Context, userID id.UserID) (device.Device, error)
}

// TenantReader resolves the chat short code.
type TenantReader interface {
	FindByID(ctx context.Context, tenantID id.TenantID) (tenant.Settings, error)
}

// AuditPublisher records audited actions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Manager owns read-receipt watch registration and event delivery.
type Manager struct {
	watcher    Watcher
	subs       SubscriptionStore
	feed       DeviceFeed
	identities IdentityReader
	devices    DeviceReader
	tenants    TenantReader
	auditor    AuditPublisher
	logger     *slog.Logger
}

// NewManager wires a read-receipt subscription manager.
func NewManager(
	watcher Watcher,
	subs SubscriptionStore,
	feed DeviceFeed,
	identities IdentityReader,
	devices DeviceReader,
	tenants TenantReader,
	auditor AuditPublisher,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		watcher:    watcher,
		subs:       subs,
		feed:       feed,
		identities: identities,
		devices:    devices,
		tenants:    tenants,
		auditor:    auditor,
		logger:     logger.With("component", "readreceipt"),
	}
}

// Subscription is an active read-receipt stream for one device.
type Subscription struct {
	SubscriptionID string
	Events         <-chan chatcontract.ReadReceiptEvent
	Close          func()
}

// Subscribe registers a read-receipt watch for the caller and returns the
// device-scoped event stream. The device ID must be present in the request
// context before any external call is made. An existing watch is cancelled
// first so the user never holds two.
func (m *Manager) Subscribe(ctx context.Context, userID id.UserID) (Subscription, error) {
	deviceID := requestcontext.DeviceID(ctx)
	if deviceID == "" {
		return Subscription{}, dErrors.New(dErrors.CodeUnauthorized, "device not identified")
	}
	role := requestcontext.Role(ctx)
	if !role.Valid() {
		return Subscription{}, dErrors.New(dErrors.CodeUnauthorized, "unknown caller role")
	}

	d, err := m.devices.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Subscription{}, dErrors.New(dErrors.CodeUnauthorized, "no registered device")
		}
		return Subscription{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load device")
	}
	if d.ID != deviceID {
		return Subscription{}, dErrors.New(dErrors.CodeUnauthorized, "device mismatch")
	}

	ident, err := m.identities.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Subscription{}, dErrors.New(dErrors.CodeNotFound, "identity not found")
		}
		return Subscription{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}
	if !ident.Active() {
		return Subscription{}, dErrors.New(dErrors.CodeNotFound, "identity not found")
	}
	settings, err := m.tenants.FindByID(ctx, ident.TenantID)
	if err != nil {
		return Subscription{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tenant settings")
	}

	if existing, err := m.subs.Get(ctx, userID); err == nil {
		if err := m.watcher.Unwatch(ctx, settings.ShortCode, existing); err != nil {
			m.logger.Warn("failed to cancel previous watch", "error", err, "subscription_id", existing)
		}
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return Subscription{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subscription")
	}

	subID, err := m.watcher.WatchReadReceipts(ctx, settings.ShortCode, userID)
	if err != nil {
		return Subscription{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register watch")
	}
	if err := m.subs.Set(ctx, userID, subID); err != nil {
		return Subscription{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist subscription")
	}

	raw, cancel, err := m.feed.Subscribe(fanout.DeviceSubject(settings.ShortCode, deviceID))
	if err != nil {
		return Subscription{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to subscribe to feed")
	}

	events := make(chan chatcontract.ReadReceiptEvent, 16)
	go m.forward(ctx, userID, deviceID, role, raw, events)

	if err := m.auditor.Emit(ctx, audit.Event{
		Action:    string(audit.EventReceiptSubscribed),
		PatientID: ident.PatientID,
		TenantID:  ident.TenantID,
		Actor:     audit.Descriptor{UserID: userID, Role: role},
		DeviceID:  deviceID,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		m.logger.Error("failed to audit subscription", "error", err)
	}

	return Subscription{SubscriptionID: subID, Events: events, Close: cancel}, nil
}

// forward decodes raw feed payloads and re-validates the subscriber before
// each delivery: the device must still be the user's registered device and
// the identity still active. Events failing validation are dropped.
func (m *Manager) forward(ctx context.Context, userID id.UserID, deviceID id.DeviceID, role id.Role, raw <-chan []byte, out chan<- chatcontract.ReadReceiptEvent) {
	defer close(out)
	for payload := range raw {
		var event chatcontract.ReadReceiptEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			m.logger.Warn("dropping malformed read-receipt event", "error", err)
			continue
		}
		if !m.stillValid(ctx, userID, deviceID, role) {
			m.logger.Warn("dropping read receipt for invalidated subscriber",
				"user_id", userID.String(), "device_id", string(deviceID))
			continue
		}
		select {
		case out <- event:
		default:
			m.logger.Warn("read-receipt consumer slow, dropping event", "user_id", userID.String())
		}
	}
}

func (m *Manager) stillValid(ctx context.Context, userID id.UserID, deviceID id.DeviceID, role id.Role) bool {
	if !role.Valid() {
		return false
	}
	d, err := m.devices.FindByUser(ctx, userID)
	if err != nil || d.ID != deviceID {
		return false
	}
	ident, err := m.identities.FindByUser(ctx, userID)
	return err == nil && ident.Active()
}

// Unsubscribe cancels the caller's watch and forgets its ID.
func (m *Manager) Unsubscribe(ctx context.Context, userID id.UserID) error {
	subID, err := m.subs.Get(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subscription")
	}

	ident, err := m.identities.FindByUser(ctx, userID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}
	settings, err := m.tenants.FindByID(ctx, ident.TenantID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tenant settings")
	}
	if err := m.watcher.Unwatch(ctx, settings.ShortCode, subID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to cancel watch")
	}
	if err := m.subs.Delete(ctx, userID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to forget subscription")
	}
	return nil
}
