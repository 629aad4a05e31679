// Package challenge drives the challenge-response flows: device-key login
// and invitation-based registration. Challenges are random, TTL-bound, and
// verified with Ed25519; a wrong signature never mutates state.
package challenge

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"carelink/internal/identity/models"
	"carelink/internal/identity/registry"
	challengestore "carelink/internal/identity/store/challenge"
	"carelink/internal/tenant"
	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/audit"
	"carelink/pkg/platform/sentinel"
	"carelink/pkg/requestcontext"
)

// EphemeralStore is the TTL-keyed store holding in-flight challenges and
// invitations.
type EphemeralStore interface {
	Put(ctx context.Context, ns challengestore.Namespace, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, ns challengestore.Namespace, key string, out any) error
	Delete(ctx context.Context, ns challengestore.Namespace, key string) error
}

// IdentityStore is the identity persistence this flow needs.
type IdentityStore interface {
	FindByUser(ctx context.Context, userID id.UserID) (models.FamilyIdentity, error)
	CountActive(ctx context.Context, patientID id.PatientID) (int, error)
	Save(ctx context.Context, ident models.FamilyIdentity) error
}

// UserStore creates the pending account row behind an invitation.
type UserStore interface {
	Save(ctx context.Context, u models.User) error
}

// TenantReader resolves the per-tenant roster cap.
type TenantReader interface {
	FindByID(ctx context.Context, tenantID id.TenantID) (tenant.Settings, error)
}

// SessionStore tracks live sessions per user.
type SessionStore interface {
	Save(ctx context.Context, userID id.UserID, sessionID id.SessionID, ttl time.Duration) error
}

// TokenIssuer mints session tokens after a verified login.
type TokenIssuer interface {
	Issue(userID id.UserID, sessionID id.SessionID, role id.Role, tenantID id.TenantID, patientID id.PatientID, now time.Time) (string, error)
	TTL() time.Duration
}

// Finalizer completes a verified registration.
type Finalizer interface {
	FinalizeRegistration(ctx context.Context, reg registry.Registration) (models.FamilyIdentity, error)
}

// AuditPublisher records audited actions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Config carries the flow's TTLs and capacity fallback.
type Config struct {
	LoginTTL         time.Duration
	RegistrationTTL  time.Duration
	InvitationTTL    time.Duration
	DefaultRosterCap int
}

// Service implements the login and registration challenge flows.
type Service struct {
	store      EphemeralStore
	identities IdentityStore
	users      UserStore
	tenants    TenantReader
	sessions   SessionStore
	issuer     TokenIssuer
	finalizer  Finalizer
	auditor    AuditPublisher
	cfg        Config
	logger     *slog.Logger
}

// New wires the challenge service.
func New(
	store EphemeralStore,
	identities IdentityStore,
	users UserStore,
	tenants TenantReader,
	sessions SessionStore,
	issuer TokenIssuer,
	finalizer Finalizer,
	auditor AuditPublisher,
	cfg Config,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:      store,
		identities: identities,
		users:      users,
		tenants:    tenants,
		sessions:   sessions,
		issuer:     issuer,
		finalizer:  finalizer,
		auditor:    auditor,
		cfg:        cfg,
		logger:     logger.With("component", "challenge"),
	}
}

// LoginResult is what a verified login hands back to the client.
type LoginResult struct {
	Token     string
	SessionID id.SessionID
	Identity  models.FamilyIdentity
}

// RegistrationChallenge is the issued registration challenge plus the phone
// number the invite was addressed to, if any.
type RegistrationChallenge struct {
	Challenge   string
	PhoneNumber string
}

// InviteRequest creates an invitation for one prospective family member.
type InviteRequest struct {
	PatientID   id.PatientID
	TenantID    id.TenantID
	PhoneNumber string
	InvitedBy   id.UserID
	InviterRole id.Role
}

// Invitation is the issued invitation handle.
type Invitation struct {
	Token  id.InviteToken
	UserID id.UserID
}

func newChallenge() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate challenge")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func verifySignature(publicKey []byte, challenge string, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), []byte(challenge), signature)
}

// IssueLoginChallenge returns a fresh challenge for the user's registered
// device key.
func (s *Service) IssueLoginChallenge(ctx context.Context, userID id.UserID) (string, error) {
	ident, err := s.identities.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.New(dErrors.CodeAuthenticationNotFound, "no identity for user")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}
	if !ident.Active() || len(ident.PublicKey) == 0 {
		return "", dErrors.New(dErrors.CodeAuthenticationNotFound, "no identity for user")
	}

	ch, err := newChallenge()
	if err != nil {
		return "", err
	}
	entry := models.LoginChallenge{Challenge: ch, PublicKey: ident.PublicKey}
	if err := s.store.Put(ctx, challengestore.NamespaceLogin, userID.String(), entry, s.cfg.LoginTTL); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store challenge")
	}
	return ch, nil
}

// VerifyLoginResponse checks the signed challenge and, on success, consumes
// the challenge and opens a session. A wrong signature leaves the challenge
// in place so the device may retry until the TTL runs out.
func (s *Service) VerifyLoginResponse(ctx context.Context, userID id.UserID, signature []byte) (LoginResult, error) {
	var entry models.LoginChallenge
	err := s.store.Get(ctx, challengestore.NamespaceLogin, userID.String(), &entry)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.auditAuthFailure(ctx, userID, "challenge_expired")
		return LoginResult{}, dErrors.New(dErrors.CodeUnauthorized, "challenge expired")
	}
	if err != nil {
		return LoginResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load challenge")
	}

	if !verifySignature(entry.PublicKey, entry.Challenge, signature) {
		s.auditAuthFailure(ctx, userID, "signature_mismatch")
		return LoginResult{}, dErrors.New(dErrors.CodeUnauthorized, "signature mismatch")
	}

	// Challenges are single-use: delete before issuing the session so a
	// replayed response can never mint a second token.
	if err := s.store.Delete(ctx, challengestore.NamespaceLogin, userID.String()); err != nil {
		return LoginResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume challenge")
	}

	ident, err := s.identities.FindByUser(ctx, userID)
	if err != nil {
		return LoginResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}

	sessionID := id.NewSessionID()
	token, err := s.issuer.Issue(userID, sessionID, id.RoleFamilyMember, ident.TenantID, ident.PatientID, requestcontext.Now(ctx))
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.sessions.Save(ctx, userID, sessionID, s.issuer.TTL()); err != nil {
		return LoginResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save session")
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		Action:    string(audit.EventLoginSucceeded),
		PatientID: ident.PatientID,
		TenantID:  ident.TenantID,
		Actor:     audit.Descriptor{UserID: userID, Role: id.RoleFamilyMember},
		DeviceID:  requestcontext.DeviceID(ctx),
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		s.logger.Error("failed to audit login", "error", err)
	}

	return LoginResult{Token: token, SessionID: sessionID, Identity: ident}, nil
}

// CreateInvitation writes the pending identity and user rows and stores the
// invitation under a fresh opaque token.
func (s *Service) CreateInvitation(ctx context.Context, req InviteRequest) (Invitation, error) {
	userID := id.UserID(uuid.New())
	now := requestcontext.Now(ctx)

	if err := s.users.Save(ctx, models.User{ID: userID, PhoneNumber: req.PhoneNumber, CreatedAt: now}); err != nil {
		return Invitation{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create pending user")
	}
	if err := s.identities.Save(ctx, models.FamilyIdentity{
		UserID:      userID,
		PatientID:   req.PatientID,
		TenantID:    req.TenantID,
		PhoneNumber: req.PhoneNumber,
		InvitedBy:   req.InvitedBy,
		State:       models.StateActive,
		CreatedAt:   now,
	}); err != nil {
		return Invitation{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create pending identity")
	}

	token := id.InviteToken(uuid.NewString())
	invite := models.Invite{
		PatientID:   req.PatientID,
		TenantID:    req.TenantID,
		UserID:      userID,
		PhoneNumber: req.PhoneNumber,
		InvitedBy:   req.InvitedBy,
		InviterRole: req.InviterRole,
	}
	if err := s.store.Put(ctx, challengestore.NamespaceInvitations, string(token), invite, s.cfg.InvitationTTL); err != nil {
		return Invitation{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store invitation")
	}
	return Invitation{Token: token, UserID: userID}, nil
}

// IssueRegistrationChallenge resolves an invitation link into a registration
// challenge. An absent or expired invite and a full roster both come back
// unauthorized so the client shows the expired-link screen.
func (s *Service) IssueRegistrationChallenge(ctx context.Context, token id.InviteToken) (RegistrationChallenge, error) {
	var invite models.Invite
	err := s.store.Get(ctx, challengestore.NamespaceInvitations, string(token), &invite)
	if errors.Is(err, sentinel.ErrNotFound) {
		return RegistrationChallenge{}, dErrors.New(dErrors.CodeUnauthorized, "link expired")
	}
	if err != nil {
		return RegistrationChallenge{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load invitation")
	}

	count, err := s.identities.CountActive(ctx, invite.PatientID)
	if err != nil {
		return RegistrationChallenge{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count roster")
	}
	// The invitee's own pending row is already on the roster; it must not
	// count against the cap that admitted it.
	if ident, err := s.identities.FindByUser(ctx, invite.UserID); err == nil && ident.Active() {
		count--
	}
	capacity := s.cfg.DefaultRosterCap
	if settings, err := s.tenants.FindByID(ctx, invite.TenantID); err == nil {
		capacity = settings.CapOrDefault(s.cfg.DefaultRosterCap)
	}
	if count >= capacity {
		if err := s.auditor.Emit(ctx, audit.Event{
			Action:    string(audit.EventRosterCapacityHit),
			PatientID: invite.PatientID,
			TenantID:  invite.TenantID,
			Actor:     audit.Descriptor{UserID: invite.UserID},
			RequestID: requestcontext.RequestID(ctx),
		}); err != nil {
			s.logger.Error("failed to audit capacity refusal", "error", err)
		}
		return RegistrationChallenge{}, dErrors.New(dErrors.CodeUnauthorized, "capacity exceeded")
	}

	ch, err := newChallenge()
	if err != nil {
		return RegistrationChallenge{}, err
	}
	invite.Challenge = ch
	if err := s.store.Put(ctx, challengestore.NamespaceRegistration, string(token), invite, s.cfg.RegistrationTTL); err != nil {
		return RegistrationChallenge{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store challenge")
	}
	return RegistrationChallenge{Challenge: ch, PhoneNumber: invite.PhoneNumber}, nil
}

// VerifyRegistrationResponse checks the signed registration challenge
// against the caller-supplied device key and finalizes the enrollment. The
// invitation is consumed only after finalize succeeds.
func (s *Service) VerifyRegistrationResponse(ctx context.Context, token id.InviteToken, publicKey, signature []byte, form registry.Enrollment) (models.FamilyIdentity, error) {
	var invite models.Invite
	err := s.store.Get(ctx, challengestore.NamespaceRegistration, string(token), &invite)
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.FamilyIdentity{}, dErrors.New(dErrors.CodeForbidden, "challenge expired")
	}
	if err != nil {
		return models.FamilyIdentity{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load challenge")
	}

	if !verifySignature(publicKey, invite.Challenge, signature) {
		s.auditAuthFailure(ctx, invite.UserID, "signature_mismatch")
		return models.FamilyIdentity{}, dErrors.New(dErrors.CodeUnauthorized, "signature mismatch")
	}

	ident, err := s.finalizer.FinalizeRegistration(ctx, registry.Registration{
		Enrollment:  form,
		UserID:      invite.UserID,
		PatientID:   invite.PatientID,
		TenantID:    invite.TenantID,
		PublicKey:   publicKey,
		PhoneNumber: invite.PhoneNumber,
		InvitedBy:   invite.InvitedBy,
	})
	if err != nil {
		return models.FamilyIdentity{}, err
	}

	if err := s.store.Delete(ctx, challengestore.NamespaceInvitations, string(token)); err != nil {
		s.logger.Error("failed to delete claimed invitation", "error", err, "token", string(token))
	}
	if err := s.store.Delete(ctx, challengestore.NamespaceRegistration, string(token)); err != nil {
		s.logger.Error("failed to delete registration challenge", "error", err, "token", string(token))
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		Action:    string(audit.EventInviteClaimed),
		PatientID: invite.PatientID,
		TenantID:  invite.TenantID,
		Actor:     audit.Descriptor{UserID: invite.UserID, Role: id.RoleFamilyMember},
		Subject:   audit.Descriptor{UserID: invite.InvitedBy, Role: invite.InviterRole},
		DeviceID:  requestcontext.DeviceID(ctx),
		RequestID: requestcontext.RequestID(ctx),
		Extra:     map[string]string{"invite_channel": string(models.ClassifyInvite(invite))},
	}); err != nil {
		s.logger.Error("failed to audit invite claim", "error", err)
	}
	return ident, nil
}

func (s *Service) auditAuthFailure(ctx context.Context, userID id.UserID, reason string) {
	if err := s.auditor.Emit(ctx, audit.Event{
		Action:    string(audit.EventAuthFailed),
		Actor:     audit.Descriptor{UserID: userID},
		DeviceID:  requestcontext.DeviceID(ctx),
		RequestID: requestcontext.RequestID(ctx),
		Extra:     map[string]string{"reason": reason},
	}); err != nil {
		s.logger.Error("failed to audit auth failure", "error", err)
	}
}
