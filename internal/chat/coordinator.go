package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	chatcontract "carelink/contracts/chat"
	"carelink/internal/device"
	"carelink/internal/fanout"
	"carelink/internal/identity/models"
	"carelink/internal/patient"
	"carelink/internal/tenant"
	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/audit"
	"carelink/pkg/platform/sentinel"
	"carelink/pkg/requestcontext"
)

// PatientStore is the slice of the patient store the coordinator needs.
type PatientStore interface {
	FindByID(ctx context.Context, patientID id.PatientID) (patient.Patient, error)
	ClaimChannel(ctx context.Context, patientID id.PatientID, channelID id.ChannelID) (id.ChannelID, bool, error)
	LinkedUserIDs(ctx context.Context, patientID id.PatientID) ([]id.UserID, error)
	LinkedPatients(ctx context.Context, userID id.UserID) ([]id.PatientID, error)
	HasOpenEncounter(ctx context.Context, patientID id.PatientID) (bool, error)
}

// TenantStore resolves per-tenant chat settings.
type TenantStore interface {
	FindByID(ctx context.Context, tenantID id.TenantID) (tenant.Settings, error)
}

// UserDirectory batch-resolves display profiles.
type UserDirectory interface {
	FindByIDs(ctx context.Context, userIDs []id.UserID) (map[id.UserID]models.User, error)
}

// IdentityReader looks up family identities for member filtering and sender
// resolution.
type IdentityReader interface {
	FindByUser(ctx context.Context, userID id.UserID) (models.FamilyIdentity, error)
}

// LevelStore is the local notification-level mirror.
type LevelStore interface {
	Get(ctx context.Context, userID id.UserID, patientID id.PatientID) (id.NotificationLevel, error)
	Set(ctx context.Context, userID id.UserID, patientID id.PatientID, level id.NotificationLevel) error
}

// DeviceReader resolves the caller's registered device for fan-out.
type DeviceReader interface {
	FindByUser(ctx context.Context, userID id.UserID) (device.Device, error)
}

// FanoutFeed publishes device-scoped notices.
type FanoutFeed interface {
	Publish(subject string, v any) error
}

// AuditPublisher records audited actions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Coordinator keeps the patient channel consistent across local storage and
// the external chat service.
type Coordinator struct {
	external   ExternalService
	patients   PatientStore
	tenants    TenantStore
	users      UserDirectory
	identities IdentityReader
	levels     LevelStore
	devices    DeviceReader
	feed       FanoutFeed
	auditor    AuditPublisher
	logger     *slog.Logger

	// creating collapses concurrent first-message channel creations for the
	// same patient into one flight.
	creating singleflight.Group
}

// NewCoordinator wires a chat channel coordinator.
func NewCoordinator(
	external ExternalService,
	patients PatientStore,
	tenants TenantStore,
	users UserDirectory,
	identities IdentityReader,
	levels LevelStore,
	devices DeviceReader,
	feed FanoutFeed,
	auditor AuditPublisher,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		external:   external,
		patients:   patients,
		tenants:    tenants,
		users:      users,
		identities: identities,
		levels:     levels,
		devices:    devices,
		feed:       feed,
		auditor:    auditor,
		logger:     logger.With("component", "chat-coordinator"),
	}
}

// EnsureChannel returns the patient's channel, creating it when the caller is
// a caregiver. A family member never creates a channel: messaging a patient
// without one fails not_found.
func (c *Coordinator) EnsureChannel(ctx context.Context, patientID id.PatientID, callerID id.UserID, role id.Role) (id.ChannelID, error) {
	p, err := c.patients.FindByID(ctx, patientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.New(dErrors.CodeNotFound, "patient not found")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load patient")
	}
	if p.ChannelID != "" {
		return p.ChannelID, nil
	}

	switch role {
	case id.RoleFamilyMember:
		return "", dErrors.New(dErrors.CodeNotFound, "chat channel not found")
	case id.RoleCaregiver:
		// fall through to creation
	default:
		return "", dErrors.New(dErrors.CodeForbidden, "unknown caller role")
	}

	ch, err, _ := c.creating.Do(patientID.String(), func() (any, error) {
		return c.createChannel(ctx, p, callerID)
	})
	if err != nil {
		return "", err
	}
	return ch.(id.ChannelID), nil
}

func (c *Coordinator) createChannel(ctx context.Context, p patient.Patient, creatorID id.UserID) (id.ChannelID, error) {
	channelID := id.ChannelID("ch-" + uuid.NewString())
	members, err := c.patients.LinkedUserIDs(ctx, p.ID)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to list patient users")
	}
	if err := c.external.CreateChannel(ctx, channelID, creatorID, members); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to create chat channel")
	}

	final, claimed, err := c.patients.ClaimChannel(ctx, p.ID, channelID)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist channel id")
	}
	if !claimed {
		// A concurrent creator won the claim; adopt its channel. The group
		// we created externally is orphaned and garbage-collected by the
		// chat service's idle-channel policy.
		c.logger.Warn("lost channel claim race, adopting existing channel",
			"patient_id", p.ID.String(), "channel_id", string(final))
		return final, nil
	}

	// Creator starts on the loudest tier.
	if err := c.levels.Set(ctx, creatorID, p.ID, id.NotificationLoud); err != nil {
		c.logger.Error("failed to store creator notification level", "error", err)
	}
	settings, err := c.tenants.FindByID(ctx, p.TenantID)
	if err == nil {
		if err := c.external.SetNotificationLevel(ctx, final, settings.ShortCode, creatorID, id.NotificationLoud); err != nil {
			c.logger.Error("failed to set external notification level", "error", err)
		}
	}

	if err := c.auditor.Emit(ctx, audit.Event{
		Action:    string(audit.EventChannelCreated),
		PatientID: p.ID,
		TenantID:  p.TenantID,
		Actor:     audit.Descriptor{UserID: creatorID, Role: id.RoleCaregiver},
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		c.logger.Error("failed to audit channel creation", "error", err)
	}
	return final, nil
}

// SendMessage delivers one message, creating the channel first when a
// caregiver sends into a channel-less patient.
func (c *Coordinator) SendMessage(ctx context.Context, patientID id.PatientID, senderID id.UserID, role id.Role, text string, metadata map[string]string) (Message, error) {
	channelID, err := c.EnsureChannel(ctx, patientID, senderID, role)
	if err != nil {
		return Message{}, err
	}
	p, err := c.patients.FindByID(ctx, patientID)
	if err != nil {
		return Message{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load patient")
	}
	settings, err := c.tenants.FindByID(ctx, p.TenantID)
	if err != nil {
		return Message{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tenant settings")
	}

	if metadata == nil {
		metadata = make(map[string]string, 1)
	}
	if deviceID := requestcontext.DeviceID(ctx); deviceID != "" {
		metadata["device_id"] = string(deviceID)
	}

	info, err := c.external.SendMessage(ctx, channelID, settings.ShortCode, chatcontract.SendMessageRequest{
		SenderID: senderID.String(),
		Text:     text,
		Metadata: metadata,
	})
	if err != nil {
		return Message{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to send message")
	}

	msg := c.resolveMessage(ctx, channelID, info, map[id.UserID]models.User{})
	if name, err := c.senderName(ctx, senderID, role); err == nil {
		msg.SenderName = name
	}
	return msg, nil
}

// senderName resolves the display profile of a sender. Family-member
// profiles can change between sessions, so they are always re-read from the
// directory rather than trusted from the caller.
func (c *Coordinator) senderName(ctx context.Context, senderID id.UserID, role id.Role) (string, error) {
	users, err := c.users.FindByIDs(ctx, []id.UserID{senderID})
	if err != nil {
		return "", err
	}
	u, ok := users[senderID]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	name := u.DisplayName()
	if role == id.RoleFamilyMember {
		if ident, err := c.identities.FindByUser(ctx, senderID); err == nil && ident.PatientRelationship != "" {
			name = fmt.Sprintf("%s (%s)", name, ident.PatientRelationship)
		}
	}
	return name, nil
}

// History returns one page of channel messages. All distinct senders on the
// page are resolved with a single directory call.
func (c *Coordinator) History(ctx context.Context, patientID id.PatientID, callerID id.UserID, limit int, cursor string) (HistoryPage, error) {
	p, settings, err := c.patientWithSettings(ctx, patientID)
	if err != nil {
		return HistoryPage{}, err
	}
	if p.ChannelID == "" {
		return HistoryPage{}, dErrors.New(dErrors.CodeNotFound, "chat channel not found")
	}
	if _, err := ParseCursor(cursor); err != nil {
		return HistoryPage{}, dErrors.New(dErrors.CodeBadRequest, "malformed cursor")
	}

	resp, err := c.external.History(ctx, p.ChannelID, settings.ShortCode, callerID, limit, cursor)
	if err != nil {
		return HistoryPage{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load history")
	}

	profiles, err := c.resolveSenders(ctx, resp.Edges)
	if err != nil {
		return HistoryPage{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve senders")
	}

	page := HistoryPage{
		NextCursor:  resp.PageInfo.NextCursor,
		HasNext:     resp.PageInfo.HasNext,
		UnreadCount: resp.UnreadCount,
	}
	for _, edge := range resp.Edges {
		page.Messages = append(page.Messages, c.resolveMessage(ctx, p.ChannelID, edge, profiles))
	}
	return page, nil
}

// resolveSenders batch-loads the distinct sender profiles referenced by a
// page. One directory call per page, never one per message.
func (c *Coordinator) resolveSenders(ctx context.Context, edges []chatcontract.MessageInfo) (map[id.UserID]models.User, error) {
	seen := make(map[id.UserID]struct{}, len(edges))
	var distinct []id.UserID
	for _, edge := range edges {
		uid, err := id.ParseUserID(edge.SenderID)
		if err != nil {
			continue
		}
		if _, ok := seen[uid]; !ok {
			seen[uid] = struct{}{}
			distinct = append(distinct, uid)
		}
	}
	return c.users.FindByIDs(ctx, distinct)
}

func (c *Coordinator) resolveMessage(ctx context.Context, channelID id.ChannelID, info chatcontract.MessageInfo, profiles map[id.UserID]models.User) Message {
	msg := Message{
		ID:        info.ID,
		ChannelID: channelID,
		Text:      info.Text,
		Metadata:  info.Metadata,
		Cursor:    EncodeCursor(info.Order),
		Status:    info.Status,
	}
	if t, err := time.Parse(time.RFC3339Nano, info.CreatedAt); err == nil {
		msg.CreatedAt = t
	}
	if uid, err := id.ParseUserID(info.SenderID); err == nil {
		msg.SenderID = uid
		if u, ok := profiles[uid]; ok {
			msg.SenderName = u.DisplayName()
		}
	}
	return msg
}

// Members returns one page of channel members. Entries without profile
// metadata, or owned by an inactive non-family user, are filtered out.
func (c *Coordinator) Members(ctx context.Context, patientID id.PatientID, limit, offset int) (MemberPage, error) {
	p, settings, err := c.patientWithSettings(ctx, patientID)
	if err != nil {
		return MemberPage{}, err
	}
	if p.ChannelID == "" {
		return MemberPage{}, dErrors.New(dErrors.CodeNotFound, "chat channel not found")
	}

	resp, err := c.external.Members(ctx, p.ChannelID, settings.ShortCode, limit, offset)
	if err != nil {
		return MemberPage{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list members")
	}

	var memberIDs []id.UserID
	for _, entry := range resp.Edges {
		if uid, err := id.ParseUserID(entry.UserID); err == nil {
			memberIDs = append(memberIDs, uid)
		}
	}
	users, err := c.users.FindByIDs(ctx, memberIDs)
	if err != nil {
		return MemberPage{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve members")
	}

	page := MemberPage{NextOffset: resp.PageInfo.NextOffset, HasNext: resp.PageInfo.HasNext}
	for _, entry := range resp.Edges {
		if entry.Nickname == "" && entry.ProfileURL == "" {
			continue
		}
		uid, err := id.ParseUserID(entry.UserID)
		if err != nil {
			continue
		}
		u, ok := users[uid]
		if !ok {
			continue
		}
		if !u.Active && !c.isFamilyMember(ctx, uid) {
			continue
		}
		name := u.DisplayName()
		if name == "" {
			name = entry.Nickname
		}
		page.Members = append(page.Members, Member{
			UserID:      uid,
			DisplayName: name,
			ProfileURL:  entry.ProfileURL,
		})
	}
	return page, nil
}

func (c *Coordinator) isFamilyMember(ctx context.Context, userID id.UserID) bool {
	ident, err := c.identities.FindByUser(ctx, userID)
	return err == nil && ident.Active()
}

// Summary reports per-caller channel state. The external service is the
// source of truth once a channel exists; before that, local defaults apply.
func (c *Coordinator) Summary(ctx context.Context, patientID id.PatientID, callerID id.UserID) (Summary, error) {
	p, settings, err := c.patientWithSettings(ctx, patientID)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		ChannelID:           p.ChannelID,
		EnableChat:          p.EnableChat,
		LocationChatEnabled: p.LocationChatEnabled,
	}

	if p.ChannelID == "" {
		level, err := c.levels.Get(ctx, callerID, patientID)
		if errors.Is(err, sentinel.ErrNotFound) {
			level = settings.DefaultNotification
		} else if err != nil {
			return Summary{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load notification level")
		}
		summary.NotificationLevel = level
		return summary, nil
	}

	status, err := c.external.Status(ctx, p.ChannelID, settings.ShortCode, callerID)
	if err != nil {
		return Summary{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load channel status")
	}
	summary.UnreadCount = status.UnreadCount
	summary.NotificationLevel = id.NotificationLevel(status.NotificationLevel)
	if summary.NotificationLevel == "" {
		summary.NotificationLevel = settings.DefaultNotification
	}
	return summary, nil
}

// LevelChangeNotice is the device fan-out payload for a notification-level
// change.
type LevelChangeNotice struct {
	PatientID string `json:"patient_id"`
	ChannelID string `json:"channel_id,omitempty"`
	Level     string `json:"level"`
	ChangedBy string `json:"changed_by"`
}

// ChangeNotificationLevel persists a member's level locally and externally.
// It requires an open encounter and that the caller is mapped to the patient.
// The fan-out notice is best-effort.
func (c *Coordinator) ChangeNotificationLevel(ctx context.Context, patientID id.PatientID, callerID id.UserID, level id.NotificationLevel) error {
	open, err := c.patients.HasOpenEncounter(ctx, patientID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check encounter")
	}
	if !open {
		return dErrors.New(dErrors.CodeNotFound, "no open encounter for patient")
	}
	mapped, err := c.callerMapped(ctx, callerID, patientID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check patient mapping")
	}
	if !mapped {
		return dErrors.New(dErrors.CodeForbidden, "caller not mapped to patient")
	}

	p, settings, err := c.patientWithSettings(ctx, patientID)
	if err != nil {
		return err
	}

	if err := c.levels.Set(ctx, callerID, patientID, level); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store notification level")
	}
	if p.ChannelID != "" {
		if err := c.external.SetNotificationLevel(ctx, p.ChannelID, settings.ShortCode, callerID, level); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to set external notification level")
		}
	}

	if err := c.auditor.Emit(ctx, audit.Event{
		Action:    string(audit.EventNotifLevelChanged),
		PatientID: patientID,
		TenantID:  p.TenantID,
		Actor:     audit.Descriptor{UserID: callerID},
		Extra:     map[string]string{"level": string(level)},
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		c.logger.Error("failed to audit level change", "error", err)
	}

	// Best-effort device notice; failure never fails the call.
	if d, err := c.devices.FindByUser(ctx, callerID); err == nil {
		notice := LevelChangeNotice{
			PatientID: patientID.String(),
			ChannelID: string(p.ChannelID),
			Level:     string(level),
			ChangedBy: callerID.String(),
		}
		if err := c.feed.Publish(fanout.DeviceSubject(settings.ShortCode, d.ID), notice); err != nil {
			c.logger.Error("failed to publish level-change notice", "error", err)
		}
	}
	return nil
}

func (c *Coordinator) callerMapped(ctx context.Context, callerID id.UserID, patientID id.PatientID) (bool, error) {
	patients, err := c.patients.LinkedPatients(ctx, callerID)
	if err != nil {
		return false, err
	}
	for _, pid := range patients {
		if pid == patientID {
			return true, nil
		}
	}
	return false, nil
}

func (c *Coordinator) patientWithSettings(ctx context.Context, patientID id.PatientID) (patient.Patient, tenant.Settings, error) {
	p, err := c.patients.FindByID(ctx, patientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return patient.Patient{}, tenant.Settings{}, dErrors.New(dErrors.CodeNotFound, "patient not found")
		}
		return patient.Patient{}, tenant.Settings{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load patient")
	}
	settings, err := c.tenants.FindByID(ctx, p.TenantID)
	if err != nil {
		return patient.Patient{}, tenant.Settings{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tenant settings")
	}
	return p, settings, nil
}
