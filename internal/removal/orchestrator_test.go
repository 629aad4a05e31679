package removal

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
	"go.uber.org/mock/gomock"

	"carelink/internal/identity/models"
	"carelink/internal/identity/session"
	identitystore "carelink/internal/identity/store/identity"
	"carelink/internal/patient"
	"carelink/internal/profile"
	pushmocks "carelink/internal/push/mocks"
	"carelink/internal/tenant"
	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/audit"
	auditmem "carelink/pkg/platform/audit/store/memory"
	"carelink/pkg/requestcontext"
)

// fakeRemover records batched chat removals.
type fakeRemover struct {
	mu    sync.Mutex
	calls [][]id.UserID
	err   error
}

func (f *fakeRemover) RemoveMembers(_ context.Context, _ id.ChannelID, _ string, memberIDs []id.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, memberIDs)
	return nil
}

// flakySessions fails DeleteByUser for one user.
type flakySessions struct {
	*session.MemoryStore
	failFor id.UserID
}

func (f *flakySessions) DeleteByUser(ctx context.Context, userID id.UserID) error {
	if userID == f.failFor {
		return errors.New("redis unavailable")
	}
	return f.MemoryStore.DeleteByUser(ctx, userID)
}

type RemovalSuite struct {
	suite.Suite

	ctrl       *gomock.Controller
	identities *identitystore.MemoryStore
	patients   *patient.MemoryStore
	tenants    *tenant.MemoryStore
	remover    *fakeRemover
	pusher     *pushmocks.MockGateway
	sessions   *session.MemoryStore
	profiles   *profile.MemoryCache
	auditStore *auditmem.Store
	orch       *Orchestrator

	tenantID    id.TenantID
	patientID   id.PatientID
	caregiverID id.UserID
}

func (s *RemovalSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.identities = identitystore.NewMemoryStore()
	s.patients = patient.NewMemoryStore()
	s.tenants = tenant.NewMemoryStore()
	s.remover = &fakeRemover{}
	s.pusher = pushmocks.NewMockGateway(s.ctrl)
	s.sessions = session.NewMemoryStore()
	s.profiles = profile.NewMemoryCache()
	s.auditStore = auditmem.New()

	s.orch = New(
		s.identities, s.patients, s.tenants, s.remover, s.pusher,
		s.sessions, s.profiles, audit.NewPublisher(s.auditStore),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	s.tenantID = id.TenantID(uuid.New())
	s.patientID = id.PatientID(uuid.New())
	s.caregiverID = id.UserID(uuid.New())

	s.tenants.Save(tenant.Settings{ID: s.tenantID, ShortCode: "mercy"})
	s.patients.Save(patient.Patient{ID: s.patientID, TenantID: s.tenantID, ChannelID: "ch-1"})
	s.patients.Link(s.patientID, s.caregiverID)
	s.patients.SetOpenEncounter(s.patientID, true)
}

func TestRemovalSuite(t *testing.T) {
	suite.Run(t, new(RemovalSuite))
}

func (s *RemovalSuite) seedMember(primary bool) id.UserID {
	userID := id.UserID(uuid.New())
	s.Require().NoError(s.identities.Save(context.Background(), models.FamilyIdentity{
		UserID:    userID,
		PatientID: s.patientID,
		TenantID:  s.tenantID,
		Primary:   primary,
		State:     models.StateActive,
		CreatedAt: time.Now(),
	}))
	s.Require().NoError(s.sessions.Save(context.Background(), userID, id.NewSessionID(), time.Hour))
	s.Require().NoError(s.profiles.Set(context.Background(), profile.Projection{UserID: userID}))
	return userID
}

func (s *RemovalSuite) caregiverCtx() context.Context {
	ctx := requestcontext.WithUserID(context.Background(), s.caregiverID)
	return requestcontext.WithRole(ctx, id.RoleCaregiver)
}

func (s *RemovalSuite) memberCtx(userID id.UserID) context.Context {
	ctx := requestcontext.WithUserID(context.Background(), userID)
	return requestcontext.WithRole(ctx, id.RoleFamilyMember)
}

func (s *RemovalSuite) TestRemoveUnknownTarget() {
	_, err := s.orch.Remove(s.caregiverCtx(), id.UserID(uuid.New()))

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *RemovalSuite) TestUnmappedFamilyMemberCannotRemoveOthers() {
	target := s.seedMember(false)
	other := s.seedMember(false)

	_, err := s.orch.Remove(s.memberCtx(other), target)

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *RemovalSuite) TestMappedFamilyMemberRemovesFellowMember() {
	s.seedMember(true)
	target := s.seedMember(false)
	other := s.seedMember(false)
	s.patients.Link(s.patientID, other)
	s.pusher.EXPECT().Send(gomock.Any(), target, gomock.Any()).Return(nil)

	result, err := s.orch.Remove(s.memberCtx(other), target)

	s.Require().NoError(err)
	s.True(result.Succeeded())
}

func (s *RemovalSuite) TestCaregiverRequiresSharedPatient() {
	target := s.seedMember(false)
	stranger := id.UserID(uuid.New())
	ctx := requestcontext.WithUserID(context.Background(), stranger)
	ctx = requestcontext.WithRole(ctx, id.RoleCaregiver)

	_, err := s.orch.Remove(ctx, target)

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *RemovalSuite) TestRemoveRequiresOpenEncounter() {
	target := s.seedMember(false)
	s.patients.SetOpenEncounter(s.patientID, false)

	_, err := s.orch.Remove(s.caregiverCtx(), target)

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.Empty(s.remover.calls)

	ident, err := s.identities.FindByUser(context.Background(), target)
	s.Require().NoError(err)
	s.True(ident.Active())
}

func (s *RemovalSuite) TestSingleNonPrimaryRemovalLeavesRoster() {
	primary := s.seedMember(true)
	target := s.seedMember(false)
	s.pusher.EXPECT().Send(gomock.Any(), target, gomock.Any()).Return(nil)

	result, err := s.orch.Remove(s.caregiverCtx(), target)

	s.Require().NoError(err)
	s.False(result.Cascaded)
	s.True(result.Succeeded())
	s.Require().Len(result.Outcomes, 1)

	s.Require().Len(s.remover.calls, 1)
	s.Equal([]id.UserID{target}, s.remover.calls[0])

	roster, err := s.identities.ActiveRoster(context.Background(), s.patientID)
	s.Require().NoError(err)
	s.Require().Len(roster, 1)
	s.Equal(primary, roster[0].UserID)

	s.Empty(s.sessions.Sessions(target))
	_, err = s.profiles.Get(context.Background(), target)
	s.Require().Error(err)

	s.Len(s.auditStore.ByAction(audit.EventFamilyUnenrolled), 1)
}

func (s *RemovalSuite) TestSolePrimaryRemovalCascades() {
	primary := s.seedMember(true)
	memberA := s.seedMember(false)
	memberB := s.seedMember(false)
	s.pusher.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(3)

	result, err := s.orch.Remove(s.caregiverCtx(), primary)

	s.Require().NoError(err)
	s.True(result.Cascaded)
	s.True(result.Succeeded())
	s.Len(result.Outcomes, 3)

	s.Require().Len(s.remover.calls, 1)
	s.ElementsMatch([]id.UserID{primary, memberA, memberB}, s.remover.calls[0])

	roster, err := s.identities.ActiveRoster(context.Background(), s.patientID)
	s.Require().NoError(err)
	s.Empty(roster)

	// Removed rows survive as soft deletes for attribution.
	for _, uid := range []id.UserID{primary, memberA, memberB} {
		ident, err := s.identities.FindByUser(context.Background(), uid)
		s.Require().NoError(err)
		s.Equal(models.StateRemoved, ident.State)
	}

	s.Len(s.auditStore.ByAction(audit.EventFamilyUnenrolled), 3)
}

func (s *RemovalSuite) TestPrimaryWithCoPrimaryDoesNotCascade() {
	target := s.seedMember(true)
	s.seedMember(true)
	s.seedMember(false)
	s.pusher.EXPECT().Send(gomock.Any(), target, gomock.Any()).Return(nil)

	result, err := s.orch.Remove(s.caregiverCtx(), target)

	s.Require().NoError(err)
	s.False(result.Cascaded)
	s.Len(result.Outcomes, 1)

	roster, err := s.identities.ActiveRoster(context.Background(), s.patientID)
	s.Require().NoError(err)
	s.Len(roster, 2)
}

func (s *RemovalSuite) TestLastMemberRemovesThemselves() {
	target := s.seedMember(true)
	s.pusher.EXPECT().Send(gomock.Any(), target, gomock.Any()).Return(nil)

	result, err := s.orch.Remove(s.memberCtx(target), target)

	s.Require().NoError(err)
	s.False(result.Cascaded)
	s.True(result.Succeeded())
}

func (s *RemovalSuite) TestCascadeSettlesAllDespiteFailure() {
	primary := s.seedMember(true)
	flaky := s.seedMember(false)
	healthy := s.seedMember(false)
	s.pusher.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(3)

	s.orch.sessions = &flakySessions{MemoryStore: s.sessions, failFor: flaky}

	result, err := s.orch.Remove(s.caregiverCtx(), primary)

	s.Require().NoError(err)
	s.True(result.Cascaded)
	s.False(result.Succeeded())

	var failed []id.UserID
	for _, o := range result.Outcomes {
		if o.Err != nil {
			failed = append(failed, o.UserID)
		}
	}
	s.Equal([]id.UserID{flaky}, failed)

	// Siblings of the failed pipeline are still fully removed.
	for _, uid := range []id.UserID{primary, healthy} {
		ident, err := s.identities.FindByUser(context.Background(), uid)
		s.Require().NoError(err)
		s.Equal(models.StateRemoved, ident.State)
	}
	ident, err := s.identities.FindByUser(context.Background(), flaky)
	s.Require().NoError(err)
	s.Equal(models.StateActive, ident.State)
}

func (s *RemovalSuite) TestSingleRemovalReportsFailureThroughAggregate() {
	target := s.seedMember(false)
	s.seedMember(true)
	s.pusher.EXPECT().Send(gomock.Any(), target, gomock.Any()).Return(nil)

	s.orch.sessions = &flakySessions{MemoryStore: s.sessions, failFor: target}

	result, err := s.orch.Remove(s.caregiverCtx(), target)

	s.Require().NoError(err)
	s.False(result.Succeeded())
	s.Require().Len(result.Outcomes, 1)
	s.Error(result.Outcomes[0].Err)
}

func (s *RemovalSuite) TestSingleRemovalPushFailureIsBestEffort() {
	// Only the cascade feeds the push notice into the aggregate; the single
	// path keeps it a swallowed side effect.
	target := s.seedMember(false)
	s.seedMember(true)
	s.pusher.EXPECT().Send(gomock.Any(), target, gomock.Any()).Return(errors.New("hub timeout"))

	result, err := s.orch.Remove(s.caregiverCtx(), target)

	s.Require().NoError(err)
	s.True(result.Succeeded())
}

func (s *RemovalSuite) TestCascadePushRejectionFailsAggregate() {
	primary := s.seedMember(true)
	sibling := s.seedMember(false)
	s.pusher.EXPECT().Send(gomock.Any(), primary, gomock.Any()).Return(nil)
	s.pusher.EXPECT().Send(gomock.Any(), sibling, gomock.Any()).Return(errors.New("push rejected"))

	result, err := s.orch.Remove(s.caregiverCtx(), primary)

	s.Require().NoError(err)
	s.True(result.Cascaded)
	s.False(result.Succeeded())

	var failed []id.UserID
	for _, o := range result.Outcomes {
		if o.Err != nil {
			failed = append(failed, o.UserID)
		}
	}
	s.Equal([]id.UserID{sibling}, failed)

	// The rejected push does not stop the rest of that member's pipeline.
	for _, uid := range []id.UserID{primary, sibling} {
		ident, err := s.identities.FindByUser(context.Background(), uid)
		s.Require().NoError(err)
		s.Equal(models.StateRemoved, ident.State)
	}
	s.Empty(s.sessions.Sessions(sibling))
}

func (s *RemovalSuite) TestChatRemovalFailureDoesNotFailOutcome() {
	target := s.seedMember(false)
	s.seedMember(true)
	s.remover.err = errors.New("chat service down")
	s.pusher.EXPECT().Send(gomock.Any(), target, gomock.Any()).Return(nil)

	result, err := s.orch.Remove(s.caregiverCtx(), target)

	s.Require().NoError(err)
	s.True(result.Succeeded())
}
