package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	chatcontract "carelink/contracts/chat"
	"carelink/internal/identity/models"
	identitystore "carelink/internal/identity/store/identity"
	userstore "carelink/internal/identity/store/user"
	"carelink/internal/patient"
	"carelink/internal/profile"
	"carelink/internal/tenant"
	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/audit"
	auditmem "carelink/pkg/platform/audit/store/memory"
	"carelink/pkg/platform/tx"
	"carelink/pkg/requestcontext"
)

// fakeJoiner records chat membership and message calls.
type fakeJoiner struct {
	mu       sync.Mutex
	added    map[id.ChannelID][]id.UserID
	messages []chatcontract.SendMessageRequest
	addErr   error
}

func newFakeJoiner() *fakeJoiner {
	return &fakeJoiner{added: make(map[id.ChannelID][]id.UserID)}
}

func (f *fakeJoiner) AddMembers(_ context.Context, channelID id.ChannelID, _ string, memberIDs []id.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added[channelID] = append(f.added[channelID], memberIDs...)
	return nil
}

func (f *fakeJoiner) SendMessage(_ context.Context, _ id.ChannelID, _ string, req chatcontract.SendMessageRequest) (chatcontract.MessageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, req)
	return chatcontract.MessageInfo{ID: "m1", Order: 1}, nil
}

type RegistrySuite struct {
	suite.Suite

	identities *identitystore.MemoryStore
	users      *userstore.MemoryStore
	patients   *patient.MemoryStore
	tenants    *tenant.MemoryStore
	joiner     *fakeJoiner
	profiles   *profile.MemoryCache
	auditStore *auditmem.Store
	svc        *Service

	tenantID  id.TenantID
	patientID id.PatientID
	userID    id.UserID
	inviterID id.UserID
	dob       time.Time
}

func (s *RegistrySuite) SetupTest() {
	s.identities = identitystore.NewMemoryStore()
	s.users = userstore.NewMemoryStore()
	s.patients = patient.NewMemoryStore()
	s.tenants = tenant.NewMemoryStore()
	s.joiner = newFakeJoiner()
	s.profiles = profile.NewMemoryCache()
	s.auditStore = auditmem.New()

	refresher := profile.NewRefresher(s.identities, s.users, s.profiles)
	s.svc = New(
		s.identities, s.users, s.patients, s.tenants, s.joiner, refresher,
		audit.NewPublisher(s.auditStore), tx.Passthrough{},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	s.tenantID = id.TenantID(uuid.New())
	s.patientID = id.PatientID(uuid.New())
	s.userID = id.UserID(uuid.New())
	s.inviterID = id.UserID(uuid.New())
	s.dob = time.Date(1948, time.March, 9, 0, 0, 0, 0, time.UTC)

	s.tenants.Save(tenant.Settings{ID: s.tenantID, ShortCode: "mercy"})
	s.patients.Save(patient.Patient{
		ID:          s.patientID,
		TenantID:    s.tenantID,
		DateOfBirth: s.dob,
	})
	s.seedPending(s.userID)
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

// seedPending writes the identity and user rows the invitation flow creates
// before the member binds a device key.
func (s *RegistrySuite) seedPending(userID id.UserID) {
	s.Require().NoError(s.identities.Save(context.Background(), models.FamilyIdentity{
		UserID:    userID,
		PatientID: s.patientID,
		TenantID:  s.tenantID,
		InvitedBy: s.inviterID,
		State:     models.StateActive,
		CreatedAt: time.Now(),
	}))
	s.Require().NoError(s.users.Save(context.Background(), models.User{ID: userID}))
}

func (s *RegistrySuite) registration() Registration {
	return Registration{
		Enrollment: Enrollment{
			FirstName:           "Miri",
			LastName:            "Nagel",
			PatientRelationship: "Daughter",
			PreferredLocale:     "en-US",
			DateOfBirth:         &s.dob,
			EULAAccepted:        true,
		},
		UserID:    s.userID,
		PatientID: s.patientID,
		TenantID:  s.tenantID,
		PublicKey: []byte("test-public-key"),
		InvitedBy: s.inviterID,
	}
}

func (s *RegistrySuite) TestFinalizeMissingPendingIdentity() {
	reg := s.registration()
	reg.UserID = id.UserID(uuid.New())

	_, err := s.svc.FinalizeRegistration(context.Background(), reg)

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *RegistrySuite) TestFinalizeEmptyRoster() {
	// The target's row survives removal (soft delete) but leaves the roster
	// empty, so finalize has no enrollment context left.
	s.Require().NoError(s.identities.SoftRemove(context.Background(), s.userID, time.Now()))

	_, err := s.svc.FinalizeRegistration(context.Background(), s.registration())

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *RegistrySuite) TestFinalizePatientClaimMustBePrimary() {
	reg := s.registration()
	reg.PatientRelationship = models.RelationshipSelfPatient
	reg.Primary = false
	reg.DateOfBirth = &s.dob

	_, err := s.svc.FinalizeRegistration(context.Background(), reg)

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidFamilyType))
}

func (s *RegistrySuite) TestFinalizeDuplicatePatientClaim() {
	claimant := id.UserID(uuid.New())
	s.Require().NoError(s.identities.Save(context.Background(), models.FamilyIdentity{
		UserID:              claimant,
		PatientID:           s.patientID,
		TenantID:            s.tenantID,
		PatientRelationship: models.RelationshipSelfPatient,
		Primary:             true,
		State:               models.StateActive,
	}))
	reg := s.registration()
	reg.PatientRelationship = models.RelationshipSelfPatient
	reg.Primary = true
	reg.DateOfBirth = &s.dob

	_, err := s.svc.FinalizeRegistration(context.Background(), reg)

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeDuplicatePatientUser))
}

func (s *RegistrySuite) TestFinalizeDateOfBirthMismatch() {
	wrong := s.dob.AddDate(0, 0, 1)
	reg := s.registration()
	reg.PatientRelationship = models.RelationshipSelfPatient
	reg.Primary = true
	reg.DateOfBirth = &wrong

	_, err := s.svc.FinalizeRegistration(context.Background(), reg)

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *RegistrySuite) TestFinalizeNonPatientDateOfBirthMismatch() {
	// The date-of-birth proof gates every relationship, not just the
	// Self/Patient claim.
	wrong := time.Date(1948, time.May, 9, 0, 0, 0, 0, time.UTC)
	reg := s.registration()
	reg.DateOfBirth = &wrong

	_, err := s.svc.FinalizeRegistration(context.Background(), reg)

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	ident, err := s.identities.FindByUser(context.Background(), s.userID)
	s.Require().NoError(err)
	s.Empty(ident.PublicKey)
	u, err := s.users.FindByID(context.Background(), s.userID)
	s.Require().NoError(err)
	s.False(u.Active)
	s.Empty(s.auditStore.ByAction(audit.EventFamilyEnrolled))
}

func (s *RegistrySuite) TestFinalizeMissingDateOfBirth() {
	reg := s.registration()
	reg.DateOfBirth = nil

	_, err := s.svc.FinalizeRegistration(context.Background(), reg)

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *RegistrySuite) TestFinalizeDateOfBirthIgnoresTimeOfDay() {
	// Same calendar date in a non-UTC offset must pass.
	offset := time.FixedZone("JST", 9*3600)
	dob := time.Date(1948, time.March, 9, 15, 30, 0, 0, offset)
	reg := s.registration()
	reg.PatientRelationship = models.RelationshipSelfPatient
	reg.Primary = true
	reg.DateOfBirth = &dob

	ident, err := s.svc.FinalizeRegistration(context.Background(), reg)

	s.Require().NoError(err)
	s.True(ident.IsPatient)
}

func (s *RegistrySuite) TestFinalizeSuccess() {
	now := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	ident, err := s.svc.FinalizeRegistration(ctx, s.registration())

	s.Require().NoError(err)
	s.Equal([]byte("test-public-key"), ident.PublicKey)
	s.Equal("Daughter", ident.PatientRelationship)
	s.False(ident.IsPatient)
	s.Require().NotNil(ident.EULAAcceptedAt)
	s.Equal(now, *ident.EULAAcceptedAt)

	u, err := s.users.FindByID(ctx, s.userID)
	s.Require().NoError(err)
	s.True(u.Active)
	s.Equal("Miri Nagel", u.DisplayName())

	events := s.auditStore.ByAction(audit.EventFamilyEnrolled)
	s.Require().Len(events, 1)
	s.Equal(s.userID, events[0].Actor.UserID)
	s.Equal(s.inviterID, events[0].Subject.UserID)

	proj, err := s.profiles.Get(ctx, s.userID)
	s.Require().NoError(err)
	s.Equal("Miri Nagel", proj.DisplayName)
}

func (s *RegistrySuite) TestFinalizeWithoutChannelSkipsChat() {
	_, err := s.svc.FinalizeRegistration(context.Background(), s.registration())

	s.Require().NoError(err)
	s.Empty(s.joiner.added)
	s.Empty(s.joiner.messages)
}

func (s *RegistrySuite) TestFinalizeAnnouncesJoinOnExistingChannel() {
	p, err := s.patients.FindByID(context.Background(), s.patientID)
	s.Require().NoError(err)
	p.ChannelID = "ch-1"
	s.patients.Save(p)

	_, err = s.svc.FinalizeRegistration(context.Background(), s.registration())

	s.Require().NoError(err)
	s.Equal([]id.UserID{s.userID}, s.joiner.added["ch-1"])
	s.Require().Len(s.joiner.messages, 1)
	s.Empty(s.joiner.messages[0].Text)
	s.Equal("member_joined", s.joiner.messages[0].Metadata["event"])
	s.Equal(s.inviterID.String(), s.joiner.messages[0].Metadata["invited_by"])
}

func (s *RegistrySuite) TestFinalizeSucceedsWhenChatJoinFails() {
	p, err := s.patients.FindByID(context.Background(), s.patientID)
	s.Require().NoError(err)
	p.ChannelID = "ch-1"
	s.patients.Save(p)
	s.joiner.addErr = errors.New("chat service down")

	_, err = s.svc.FinalizeRegistration(context.Background(), s.registration())

	s.Require().NoError(err)
	s.Empty(s.joiner.messages)
}

func (s *RegistrySuite) TestUpdateFamilyMemberSelfOnly() {
	s.finalize()
	other := id.UserID(uuid.New())
	ctx := requestcontext.WithUserID(context.Background(), other)
	ctx = requestcontext.WithRole(ctx, id.RoleFamilyMember)

	_, err := s.svc.Update(ctx, s.userID, UpdateRequest{})

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *RegistrySuite) TestUpdateCaregiverRequiresSharedPatient() {
	s.finalize()
	caregiver := id.UserID(uuid.New())
	ctx := requestcontext.WithUserID(context.Background(), caregiver)
	ctx = requestcontext.WithRole(ctx, id.RoleCaregiver)

	_, err := s.svc.Update(ctx, s.userID, UpdateRequest{})

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *RegistrySuite) TestUpdateByMappedCaregiver() {
	s.finalize()
	caregiver := id.UserID(uuid.New())
	s.patients.Link(s.patientID, caregiver)
	ctx := requestcontext.WithUserID(context.Background(), caregiver)
	ctx = requestcontext.WithRole(ctx, id.RoleCaregiver)
	newName := "Miriam"

	ident, err := s.svc.Update(ctx, s.userID, UpdateRequest{FirstName: &newName})

	s.Require().NoError(err)
	s.Equal(s.userID, ident.UserID)

	u, err := s.users.FindByID(ctx, s.userID)
	s.Require().NoError(err)
	s.Equal("Miriam", u.FirstName)

	events := s.auditStore.ByAction(audit.EventFamilyInfoEdited)
	s.Require().Len(events, 1)
	s.Equal(caregiver, events[0].Actor.UserID)
	s.Equal(s.userID, events[0].Subject.UserID)
}

func (s *RegistrySuite) TestUpdateRejectsNonPrimaryPatientClaim() {
	s.finalize()
	ctx := requestcontext.WithUserID(context.Background(), s.userID)
	ctx = requestcontext.WithRole(ctx, id.RoleFamilyMember)
	claim := models.RelationshipSelfPatient

	_, err := s.svc.Update(ctx, s.userID, UpdateRequest{PatientRelationship: &claim})

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidFamilyType))
}

func (s *RegistrySuite) TestUpdateRefreshesProfile() {
	s.finalize()
	ctx := requestcontext.WithUserID(context.Background(), s.userID)
	ctx = requestcontext.WithRole(ctx, id.RoleFamilyMember)
	locale := "de-DE"

	_, err := s.svc.Update(ctx, s.userID, UpdateRequest{PreferredLocale: &locale})

	s.Require().NoError(err)
	proj, err := s.profiles.Get(ctx, s.userID)
	s.Require().NoError(err)
	s.Equal("de-DE", proj.Locale)
}

func (s *RegistrySuite) finalize() {
	_, err := s.svc.FinalizeRegistration(context.Background(), s.registration())
	s.Require().NoError(err)
}
