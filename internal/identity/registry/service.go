// Package registry finalizes and edits family-member identities while
// holding the roster invariants: at most one active "Self/Patient" claimant
// per patient, a patient claimant is always primary, and date-of-birth proof
// matches the patient record calendar-date-wise.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	chatcontract "carelink/contracts/chat"
	"carelink/internal/identity/models"
	"carelink/internal/patient"
	"carelink/internal/tenant"
	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/audit"
	"carelink/pkg/platform/sentinel"
	"carelink/pkg/platform/tx"
	"carelink/pkg/requestcontext"
)

// Enrollment is the caller-supplied portion of a registration.
type Enrollment struct {
	FirstName           string
	LastName            string
	PatientRelationship string
	PreferredLocale     string
	DateOfBirth         *time.Time
	Primary             bool
	EULAAccepted        bool
}

// Registration is everything finalize needs: the enrollment form plus the
// identifiers and device key resolved from the invitation.
type Registration struct {
	Enrollment
	UserID      id.UserID
	PatientID   id.PatientID
	TenantID    id.TenantID
	PublicKey   []byte
	PhoneNumber string
	InvitedBy   id.UserID
}

// UpdateRequest carries an identity edit. Nil pointers leave the field
// unchanged.
type UpdateRequest struct {
	FirstName           *string
	LastName            *string
	PatientRelationship *string
	PreferredLocale     *string
	Primary             *bool
}

// IdentityStore is the identity persistence the registry needs.
type IdentityStore interface {
	FindByUser(ctx context.Context, userID id.UserID) (models.FamilyIdentity, error)
	ActiveRoster(ctx context.Context, patientID id.PatientID) ([]models.FamilyIdentity, error)
	HasActiveSelfPatient(ctx context.Context, patientID id.PatientID, excludeUser id.UserID) (bool, error)
	Save(ctx context.Context, ident models.FamilyIdentity) error
}

// UserStore is the account persistence the registry needs.
type UserStore interface {
	FindByID(ctx context.Context, userID id.UserID) (models.User, error)
	Save(ctx context.Context, u models.User) error
}

// PatientReader resolves the patient record and caller-patient mappings.
type PatientReader interface {
	FindByID(ctx context.Context, patientID id.PatientID) (patient.Patient, error)
	LinkedPatients(ctx context.Context, userID id.UserID) ([]id.PatientID, error)
}

// TenantReader resolves tenant settings for the chat short code.
type TenantReader interface {
	FindByID(ctx context.Context, tenantID id.TenantID) (tenant.Settings, error)
}

// ChannelJoiner is the slice of the chat service used to announce a new
// member.
type ChannelJoiner interface {
	AddMembers(ctx context.Context, channelID id.ChannelID, tenant string, memberIDs []id.UserID) error
	SendMessage(ctx context.Context, channelID id.ChannelID, tenant string, req chatcontract.SendMessageRequest) (chatcontract.MessageInfo, error)
}

// ProfileRefresher rebuilds the cached profile projection.
type ProfileRefresher interface {
	Refresh(ctx context.Context, userID id.UserID) error
}

// AuditPublisher records audited actions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the family-member registry.
type Service struct {
	identities IdentityStore
	users      UserStore
	patients   PatientReader
	tenants    TenantReader
	chat       ChannelJoiner
	profiles   ProfileRefresher
	auditor    AuditPublisher
	txr        tx.Transactor
	logger     *slog.Logger
}

// New wires the registry service.
func New(
	identities IdentityStore,
	users UserStore,
	patients PatientReader,
	tenants TenantReader,
	chat ChannelJoiner,
	profiles ProfileRefresher,
	auditor AuditPublisher,
	txr tx.Transactor,
	logger *slog.Logger,
) *Service {
	return &Service{
		identities: identities,
		users:      users,
		patients:   patients,
		tenants:    tenants,
		chat:       chat,
		profiles:   profiles,
		auditor:    auditor,
		txr:        txr,
		logger:     logger.With("component", "registry"),
	}
}

// FinalizeRegistration completes a pending enrollment. Invariants are
// evaluated before any write; the identity and user rows commit in one
// transaction; chat membership, the join message and the profile refresh are
// best-effort afterwards.
func (s *Service) FinalizeRegistration(ctx context.Context, reg Registration) (models.FamilyIdentity, error) {
	ident, err := s.identities.FindByUser(ctx, reg.UserID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.FamilyIdentity{}, dErrors.New(dErrors.CodeNotFound, "pending identity not found")
		}
		return models.FamilyIdentity{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}

	roster, err := s.identities.ActiveRoster(ctx, ident.PatientID)
	if err != nil {
		return models.FamilyIdentity{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load roster")
	}
	if len(roster) == 0 {
		return models.FamilyIdentity{}, dErrors.New(dErrors.CodeNotFound, "patient roster is empty")
	}

	if err := s.checkRosterInvariants(ctx, ident.PatientID, reg.UserID, reg.PatientRelationship, reg.Primary, reg.DateOfBirth); err != nil {
		return models.FamilyIdentity{}, err
	}

	u, err := s.users.FindByID(ctx, reg.UserID)
	if err != nil {
		return models.FamilyIdentity{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}

	now := requestcontext.Now(ctx)
	ident.PublicKey = reg.PublicKey
	ident.PatientRelationship = reg.PatientRelationship
	ident.PreferredLocale = reg.PreferredLocale
	ident.Primary = reg.Primary
	ident.IsPatient = models.IsSelfPatient(reg.PatientRelationship)
	ident.State = models.StateActive
	if reg.PhoneNumber != "" {
		ident.PhoneNumber = reg.PhoneNumber
	}
	if reg.EULAAccepted {
		ident.EULAAcceptedAt = &now
	}

	u.FirstName = reg.FirstName
	u.LastName = reg.LastName
	u.PreferredLocale = reg.PreferredLocale
	u.DateOfBirth = reg.DateOfBirth
	u.Active = true

	err = s.txr.InTx(ctx, func(ctx context.Context) error {
		if err := s.identities.Save(ctx, ident); err != nil {
			return err
		}
		return s.users.Save(ctx, u)
	})
	if err != nil {
		return models.FamilyIdentity{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to finalize registration")
	}

	s.announceJoin(ctx, ident, u)

	if err := s.auditor.Emit(ctx, audit.Event{
		Action:    string(audit.EventFamilyEnrolled),
		PatientID: ident.PatientID,
		TenantID:  ident.TenantID,
		Actor:     audit.Descriptor{UserID: ident.UserID, Role: id.RoleFamilyMember, Name: u.DisplayName()},
		Subject:   audit.Descriptor{UserID: ident.InvitedBy},
		DeviceID:  requestcontext.DeviceID(ctx),
		RequestID: requestcontext.RequestID(ctx),
		Extra:     map[string]string{"relationship": ident.PatientRelationship},
	}); err != nil {
		s.logger.Error("failed to audit enrollment", "error", err)
	}

	if err := s.profiles.Refresh(ctx, ident.UserID); err != nil {
		s.logger.Error("failed to refresh profile projection", "error", err, "user_id", ident.UserID.String())
	}
	return ident, nil
}

// announceJoin adds the new member to an existing channel and drops the
// zero-text join marker into the timeline. Failures never fail enrollment.
func (s *Service) announceJoin(ctx context.Context, ident models.FamilyIdentity, u models.User) {
	p, err := s.patients.FindByID(ctx, ident.PatientID)
	if err != nil || p.ChannelID == "" {
		return
	}
	settings, err := s.tenants.FindByID(ctx, ident.TenantID)
	if err != nil {
		s.logger.Error("failed to load tenant settings for join announce", "error", err)
		return
	}
	if err := s.chat.AddMembers(ctx, p.ChannelID, settings.ShortCode, []id.UserID{ident.UserID}); err != nil {
		s.logger.Error("failed to add chat member", "error", err, "channel_id", string(p.ChannelID))
		return
	}
	_, err = s.chat.SendMessage(ctx, p.ChannelID, settings.ShortCode, chatcontract.SendMessageRequest{
		SenderID: ident.UserID.String(),
		Text:     "",
		Metadata: map[string]string{
			"event":        "member_joined",
			"display_name": u.DisplayName(),
			"invited_by":   ident.InvitedBy.String(),
		},
	})
	if err != nil {
		s.logger.Error("failed to send join message", "error", err, "channel_id", string(p.ChannelID))
	}
}

// Update edits an identity under the same invariants as registration.
// Family members may only edit themselves; caregivers only identities sharing
// a mapped patient.
func (s *Service) Update(ctx context.Context, targetID id.UserID, req UpdateRequest) (models.FamilyIdentity, error) {
	callerID := requestcontext.UserID(ctx)
	role := requestcontext.Role(ctx)

	ident, err := s.identities.FindByUser(ctx, targetID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.FamilyIdentity{}, dErrors.New(dErrors.CodeNotFound, "identity not found")
		}
		return models.FamilyIdentity{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}
	if !ident.Active() {
		return models.FamilyIdentity{}, dErrors.New(dErrors.CodeNotFound, "identity not found")
	}

	if err := s.authorizeEdit(ctx, callerID, role, ident); err != nil {
		return models.FamilyIdentity{}, err
	}

	u, err := s.users.FindByID(ctx, targetID)
	if err != nil {
		return models.FamilyIdentity{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}

	relationship := ident.PatientRelationship
	if req.PatientRelationship != nil {
		relationship = *req.PatientRelationship
	}
	primary := ident.Primary
	if req.Primary != nil {
		primary = *req.Primary
	}
	if err := s.checkRosterInvariants(ctx, ident.PatientID, targetID, relationship, primary, u.DateOfBirth); err != nil {
		return models.FamilyIdentity{}, err
	}

	ident.PatientRelationship = relationship
	ident.Primary = primary
	ident.IsPatient = models.IsSelfPatient(relationship)
	if req.PreferredLocale != nil {
		ident.PreferredLocale = *req.PreferredLocale
		u.PreferredLocale = *req.PreferredLocale
	}
	if req.FirstName != nil {
		u.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		u.LastName = *req.LastName
	}

	err = s.txr.InTx(ctx, func(ctx context.Context) error {
		if err := s.identities.Save(ctx, ident); err != nil {
			return err
		}
		return s.users.Save(ctx, u)
	})
	if err != nil {
		return models.FamilyIdentity{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update identity")
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		Action:    string(audit.EventFamilyInfoEdited),
		PatientID: ident.PatientID,
		TenantID:  ident.TenantID,
		Actor:     audit.Descriptor{UserID: callerID, Role: role},
		Subject:   audit.Descriptor{UserID: targetID, Name: u.DisplayName()},
		DeviceID:  requestcontext.DeviceID(ctx),
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		s.logger.Error("failed to audit identity edit", "error", err)
	}

	if err := s.profiles.Refresh(ctx, targetID); err != nil {
		s.logger.Error("failed to refresh profile projection", "error", err, "user_id", targetID.String())
	}
	return ident, nil
}

func (s *Service) authorizeEdit(ctx context.Context, callerID id.UserID, role id.Role, target models.FamilyIdentity) error {
	switch role {
	case id.RoleFamilyMember:
		if callerID != target.UserID {
			return dErrors.New(dErrors.CodeForbidden, "family members may only edit themselves")
		}
		return nil
	case id.RoleCaregiver:
		mapped, err := s.patients.LinkedPatients(ctx, callerID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check patient mapping")
		}
		for _, pid := range mapped {
			if pid == target.PatientID {
				return nil
			}
		}
		return dErrors.New(dErrors.CodeForbidden, "caller not mapped to patient")
	default:
		return dErrors.New(dErrors.CodeUnauthorized, "unknown caller role")
	}
}

// checkRosterInvariants enforces the write-time invariants: a Self/Patient
// claimant must be primary and unique among active members, and every member
// must prove the patient's date of birth calendar-date-wise, whatever their
// relationship.
func (s *Service) checkRosterInvariants(ctx context.Context, patientID id.PatientID, userID id.UserID, relationship string, primary bool, dob *time.Time) error {
	if models.IsSelfPatient(relationship) {
		if !primary {
			return dErrors.New(dErrors.CodeInvalidFamilyType, "patient claimant must be primary")
		}
		claimed, err := s.identities.HasActiveSelfPatient(ctx, patientID, userID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check patient claim")
		}
		if claimed {
			return dErrors.New(dErrors.CodeDuplicatePatientUser, "patient already claimed by another member")
		}
	}
	p, err := s.patients.FindByID(ctx, patientID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load patient")
	}
	if dob == nil || !patient.SameCalendarDate(*dob, p.DateOfBirth) {
		return dErrors.New(dErrors.CodeValidation, "date of birth does not match patient record")
	}
	return nil
}
