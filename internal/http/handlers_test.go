package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"carelink/internal/chat"
	"carelink/internal/identity/challenge"
	"carelink/internal/identity/models"
	"carelink/internal/identity/registry"
	"carelink/internal/identity/session"
	"carelink/internal/profile"
	"carelink/internal/removal"
	"carelink/internal/readreceipt"
	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/sentinel"
	"carelink/pkg/testutil"
)

type fakeReceiptService struct{}

func (fakeReceiptService) Subscribe(_ context.Context, _ id.UserID) (readreceipt.Subscription, error) {
	return readreceipt.Subscription{SubscriptionID: "sub-1", Close: func() {}}, nil
}

func (fakeReceiptService) Unsubscribe(_ context.Context, _ id.UserID) error { return nil }

type fakeChallengeService struct {
	loginChallenge string
	loginErr       error
	loginResult    challenge.LoginResult
	verifyErr      error
}

func (f *fakeChallengeService) IssueLoginChallenge(_ context.Context, _ id.UserID) (string, error) {
	return f.loginChallenge, f.loginErr
}

func (f *fakeChallengeService) VerifyLoginResponse(_ context.Context, _ id.UserID, _ []byte) (challenge.LoginResult, error) {
	return f.loginResult, f.verifyErr
}

func (f *fakeChallengeService) CreateInvitation(_ context.Context, _ challenge.InviteRequest) (challenge.Invitation, error) {
	return challenge.Invitation{Token: "tok", UserID: id.UserID(uuid.New())}, nil
}

func (f *fakeChallengeService) IssueRegistrationChallenge(_ context.Context, _ id.InviteToken) (challenge.RegistrationChallenge, error) {
	return challenge.RegistrationChallenge{Challenge: "reg-challenge"}, nil
}

func (f *fakeChallengeService) VerifyRegistrationResponse(_ context.Context, _ id.InviteToken, _, _ []byte, _ registry.Enrollment) (models.FamilyIdentity, error) {
	return models.FamilyIdentity{}, f.verifyErr
}

type fakeRegistryService struct {
	ident models.FamilyIdentity
	err   error
}

func (f *fakeRegistryService) Update(_ context.Context, _ id.UserID, _ registry.UpdateRequest) (models.FamilyIdentity, error) {
	return f.ident, f.err
}

type fakeRemovalService struct {
	result removal.Result
	err    error
}

func (f *fakeRemovalService) Remove(_ context.Context, _ id.UserID) (removal.Result, error) {
	return f.result, f.err
}

type fakeProfileCache struct {
	proj profile.Projection
	err  error
}

func (f *fakeProfileCache) Get(_ context.Context, _ id.UserID) (profile.Projection, error) {
	return f.proj, f.err
}

type fakeChatService struct {
	msg        chat.Message
	sendErr    error
	lastText   string
	lastCaller id.UserID
}

func (f *fakeChatService) EnsureChannel(_ context.Context, _ id.PatientID, _ id.UserID, _ id.Role) (id.ChannelID, error) {
	return "ch-1", nil
}

func (f *fakeChatService) SendMessage(_ context.Context, _ id.PatientID, senderID id.UserID, _ id.Role, text string, _ map[string]string) (chat.Message, error) {
	f.lastText = text
	f.lastCaller = senderID
	return f.msg, f.sendErr
}

func (f *fakeChatService) History(_ context.Context, _ id.PatientID, _ id.UserID, _ int, cursor string) (chat.HistoryPage, error) {
	if _, err := chat.ParseCursor(cursor); err != nil {
		return chat.HistoryPage{}, dErrors.New(dErrors.CodeBadRequest, "malformed cursor")
	}
	return chat.HistoryPage{Messages: []chat.Message{f.msg}, UnreadCount: 2}, nil
}

func (f *fakeChatService) Members(_ context.Context, _ id.PatientID, _, _ int) (chat.MemberPage, error) {
	return chat.MemberPage{}, nil
}

func (f *fakeChatService) Summary(_ context.Context, _ id.PatientID, _ id.UserID) (chat.Summary, error) {
	return chat.Summary{ChannelID: "ch-1", EnableChat: true, NotificationLevel: id.NotificationDefault}, nil
}

func (f *fakeChatService) ChangeNotificationLevel(_ context.Context, _ id.PatientID, _ id.UserID, _ id.NotificationLevel) error {
	return nil
}

type HandlerSuite struct {
	suite.Suite

	challenges *fakeChallengeService
	registry   *fakeRegistryService
	removals   *fakeRemovalService
	profiles   *fakeProfileCache
	chatSvc    *fakeChatService
	issuer     *session.Issuer
	router     chi.Router

	userID id.UserID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.challenges = &fakeChallengeService{loginChallenge: "nonce"}
	s.registry = &fakeRegistryService{}
	s.removals = &fakeRemovalService{}
	s.profiles = &fakeProfileCache{}
	s.chatSvc = &fakeChatService{msg: chat.Message{ID: "msg-1", Cursor: "order:1", Text: "hello"}}
	s.issuer = session.NewIssuer("test-signing-key", time.Hour)
	s.userID = id.UserID(uuid.New())

	s.router = NewRouter(Deps{
		Logger:   logger,
		Issuer:   s.issuer,
		Auth:     NewAuthHandler(s.challenges, logger),
		Identity: NewIdentityHandler(s.registry, s.removals, s.profiles, logger),
		Chat:     NewChatHandler(s.chatSvc, logger),
		Receipts: NewReceiptHandler(fakeReceiptService{}, logger),
	})
}

func (s *HandlerSuite) bearer(req *http.Request, role id.Role) *http.Request {
	token, err := s.issuer.Issue(s.userID, id.NewSessionID(), role,
		id.TenantID(uuid.New()), id.PatientID(uuid.New()), time.Now())
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func (s *HandlerSuite) TestHealthz() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
	testutil.AssertStatusOK(s.T(), rr)
}

func (s *HandlerSuite) TestProtectedRouteRequiresBearer() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/invitations", map[string]string{})
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
}

func (s *HandlerSuite) TestProtectedRouteRejectsGarbageToken() {
	req := testutil.NewRequest(s.T(), http.MethodGet, "/me/profile")
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
}

func (s *HandlerSuite) TestLoginChallenge() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/login/challenge",
		map[string]string{"user_id": uuid.NewString()})
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "challenge", "nonce")
}

func (s *HandlerSuite) TestLoginChallengeRejectsBadUserID() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/login/challenge",
		map[string]string{"user_id": "not-a-uuid"})
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
}

func (s *HandlerSuite) TestLoginChallengeUnknownIdentity() {
	s.challenges.loginErr = dErrors.New(dErrors.CodeAuthenticationNotFound, "unknown credential")
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/login/challenge",
		map[string]string{"user_id": uuid.NewString()})
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "authentication_not_found")
}

func (s *HandlerSuite) TestProfileNotCached() {
	s.profiles.err = sentinel.ErrNotFound
	req := s.bearer(testutil.NewRequest(s.T(), http.MethodGet, "/me/profile"), id.RoleFamilyMember)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
}

func (s *HandlerSuite) TestUpdateConflictMapsTo409() {
	s.registry.err = dErrors.New(dErrors.CodeDuplicatePatientUser, "patient already claimed")
	req := s.bearer(testutil.NewJSONRequest(s.T(), http.MethodPatch,
		"/family-members/"+uuid.NewString(), map[string]string{"first_name": "Ana"}), id.RoleCaregiver)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "duplicate_patient_user")
}

func (s *HandlerSuite) TestRemoveReportsMultiStatusOnPartialFailure() {
	okID := id.UserID(uuid.New())
	failedID := id.UserID(uuid.New())
	s.removals.result = removal.Result{
		Cascaded: true,
		Outcomes: []removal.MemberOutcome{
			{UserID: okID},
			{UserID: failedID, Err: dErrors.New(dErrors.CodeInternal, "session revocation failed")},
		},
	}
	req := s.bearer(testutil.NewRequest(s.T(), http.MethodDelete,
		"/family-members/"+uuid.NewString()), id.RoleCaregiver)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusMultiStatus)

	resp := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	s.Equal(true, (*resp)["cascaded"])
	s.Equal(false, (*resp)["succeeded"])
	s.Len((*resp)["outcomes"], 2)
}

func (s *HandlerSuite) TestRemoveCleanSuccess() {
	s.removals.result = removal.Result{
		Outcomes: []removal.MemberOutcome{{UserID: id.UserID(uuid.New())}},
	}
	req := s.bearer(testutil.NewRequest(s.T(), http.MethodDelete,
		"/family-members/"+uuid.NewString()), id.RoleFamilyMember)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "succeeded", true)
}

func (s *HandlerSuite) TestSendMessage() {
	req := s.bearer(testutil.NewJSONRequest(s.T(), http.MethodPost,
		"/patients/"+uuid.NewString()+"/chat/messages",
		map[string]string{"text": "hello"}), id.RoleFamilyMember)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	testutil.AssertJSONContains(s.T(), rr, "cursor", "order:1")
	s.Equal("hello", s.chatSvc.lastText)
	s.Equal(s.userID, s.chatSvc.lastCaller)
}

func (s *HandlerSuite) TestSendMessageRequiresText() {
	req := s.bearer(testutil.NewJSONRequest(s.T(), http.MethodPost,
		"/patients/"+uuid.NewString()+"/chat/messages",
		map[string]string{}), id.RoleFamilyMember)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
}

func (s *HandlerSuite) TestSendMessageRejectsBadPatientID() {
	req := s.bearer(testutil.NewJSONRequest(s.T(), http.MethodPost,
		"/patients/nope/chat/messages",
		map[string]string{"text": "hi"}), id.RoleFamilyMember)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
}

func (s *HandlerSuite) TestHistoryRejectsMalformedCursor() {
	req := s.bearer(testutil.NewRequest(s.T(), http.MethodGet,
		"/patients/"+uuid.NewString()+"/chat/messages?cursor=page%3D3"), id.RoleFamilyMember)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
}

func (s *HandlerSuite) TestNotificationLevelRejectsUnknownLevel() {
	req := s.bearer(testutil.NewJSONRequest(s.T(), http.MethodPut,
		"/patients/"+uuid.NewString()+"/chat/notification-level",
		map[string]string{"level": "silent"}), id.RoleFamilyMember)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
}

func (s *HandlerSuite) TestNotificationLevelAccepted() {
	req := s.bearer(testutil.NewJSONRequest(s.T(), http.MethodPut,
		"/patients/"+uuid.NewString()+"/chat/notification-level",
		map[string]string{"level": "muted"}), id.RoleFamilyMember)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
}

func (s *HandlerSuite) TestWriteErrorDefaultsUnknownCodeTo500() {
	rr := testutil.DoRequest(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, errors.New("plain error"))
	}), testutil.NewRequest(s.T(), http.MethodGet, "/"))
	testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
}
