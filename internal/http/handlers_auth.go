package httpapi

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"carelink/internal/identity/challenge"
	"carelink/internal/identity/models"
	"carelink/internal/identity/registry"
	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/requestcontext"
)

// ChallengeService is the authentication surface the handler delegates to.
type ChallengeService interface {
	IssueLoginChallenge(ctx context.Context, userID id.UserID) (string, error)
	VerifyLoginResponse(ctx context.Context, userID id.UserID, signature []byte) (challenge.LoginResult, error)
	CreateInvitation(ctx context.Context, req challenge.InviteRequest) (challenge.Invitation, error)
	IssueRegistrationChallenge(ctx context.Context, token id.InviteToken) (challenge.RegistrationChallenge, error)
	VerifyRegistrationResponse(ctx context.Context, token id.InviteToken, publicKey, signature []byte, form registry.Enrollment) (models.FamilyIdentity, error)
}

// AuthHandler serves the challenge-response endpoints. Everything here is
// pre-session: routes are mounted outside the session middleware.
type AuthHandler struct {
	challenges ChallengeService
	logger     *slog.Logger
}

// NewAuthHandler constructs the authentication handler.
func NewAuthHandler(challenges ChallengeService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{challenges: challenges, logger: logger}
}

// Register mounts the authentication routes.
func (h *AuthHandler) Register(r chi.Router) {
	r.Post("/auth/login/challenge", h.handleLoginChallenge)
	r.Post("/auth/login/verify", h.handleLoginVerify)
	r.Get("/auth/register/{token}", h.handleRegistrationChallenge)
	r.Post("/auth/register/{token}", h.handleRegistrationVerify)
}

type loginChallengeRequest struct {
	UserID string `json:"user_id"`
}

type loginChallengeResponse struct {
	Challenge string `json:"challenge"`
}

func (h *AuthHandler) handleLoginChallenge(w http.ResponseWriter, r *http.Request) {
	var req loginChallengeRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		WriteError(w, err)
		return
	}
	ch, err := h.challenges.IssueLoginChallenge(r.Context(), userID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginChallengeResponse{Challenge: ch})
}

type loginVerifyRequest struct {
	UserID    string `json:"user_id"`
	Signature string `json:"signature"`
}

type loginVerifyResponse struct {
	Token        string `json:"token"`
	SessionID    string `json:"session_id"`
	PatientID    string `json:"patient_id"`
	TenantID     string `json:"tenant_id"`
	Relationship string `json:"relationship"`
	Primary      bool   `json:"primary"`
}

func (h *AuthHandler) handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	var req loginVerifyRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		WriteError(w, err)
		return
	}
	signature, err := base64.RawURLEncoding.DecodeString(req.Signature)
	if err != nil {
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "signature must be base64url"))
		return
	}
	result, err := h.challenges.VerifyLoginResponse(r.Context(), userID, signature)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginVerifyResponse{
		Token:        result.Token,
		SessionID:    result.SessionID.String(),
		PatientID:    result.Identity.PatientID.String(),
		TenantID:     result.Identity.TenantID.String(),
		Relationship: result.Identity.PatientRelationship,
		Primary:      result.Identity.Primary,
	})
}

type registrationChallengeResponse struct {
	Challenge   string `json:"challenge"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

func (h *AuthHandler) handleRegistrationChallenge(w http.ResponseWriter, r *http.Request) {
	token := id.InviteToken(chi.URLParam(r, "token"))
	rc, err := h.challenges.IssueRegistrationChallenge(r.Context(), token)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registrationChallengeResponse{
		Challenge:   rc.Challenge,
		PhoneNumber: rc.PhoneNumber,
	})
}

type registrationVerifyRequest struct {
	PublicKey           string `json:"public_key"`
	Signature           string `json:"signature"`
	FirstName           string `json:"first_name"`
	LastName            string `json:"last_name"`
	PatientRelationship string `json:"patient_relationship"`
	PreferredLocale     string `json:"preferred_locale"`
	DateOfBirth         string `json:"date_of_birth,omitempty"`
	Primary             bool   `json:"primary"`
	EULAAccepted        bool   `json:"eula_accepted"`
}

type registrationVerifyResponse struct {
	UserID       string `json:"user_id"`
	PatientID    string `json:"patient_id"`
	Relationship string `json:"relationship"`
	Primary      bool   `json:"primary"`
}

func (h *AuthHandler) handleRegistrationVerify(w http.ResponseWriter, r *http.Request) {
	token := id.InviteToken(chi.URLParam(r, "token"))
	var req registrationVerifyRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	publicKey, err := base64.RawURLEncoding.DecodeString(req.PublicKey)
	if err != nil {
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "public_key must be base64url"))
		return
	}
	signature, err := base64.RawURLEncoding.DecodeString(req.Signature)
	if err != nil {
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "signature must be base64url"))
		return
	}
	form := registry.Enrollment{
		FirstName:           req.FirstName,
		LastName:            req.LastName,
		PatientRelationship: req.PatientRelationship,
		PreferredLocale:     req.PreferredLocale,
		Primary:             req.Primary,
		EULAAccepted:        req.EULAAccepted,
	}
	if req.DateOfBirth != "" {
		dob, err := time.Parse("2006-01-02", req.DateOfBirth)
		if err != nil {
			WriteError(w, dErrors.New(dErrors.CodeBadRequest, "date_of_birth must be YYYY-MM-DD"))
			return
		}
		form.DateOfBirth = &dob
	}
	ident, err := h.challenges.VerifyRegistrationResponse(r.Context(), token, publicKey, signature, form)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registrationVerifyResponse{
		UserID:       ident.UserID.String(),
		PatientID:    ident.PatientID.String(),
		Relationship: ident.PatientRelationship,
		Primary:      ident.Primary,
	})
}

type inviteRequest struct {
	PatientID   string `json:"patient_id"`
	TenantID    string `json:"tenant_id"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type inviteResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// RegisterInvites mounts the invitation route inside the session-protected
// tree: an invite is always created by an authenticated member or caregiver.
func (h *AuthHandler) RegisterInvites(r chi.Router) {
	r.Post("/invitations", h.handleCreateInvitation)
}

func (h *AuthHandler) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	patientID, err := id.ParsePatientID(req.PatientID)
	if err != nil {
		WriteError(w, err)
		return
	}
	tenantID, err := id.ParseTenantID(req.TenantID)
	if err != nil {
		WriteError(w, err)
		return
	}
	inv, err := h.challenges.CreateInvitation(r.Context(), challenge.InviteRequest{
		PatientID:   patientID,
		TenantID:    tenantID,
		PhoneNumber: req.PhoneNumber,
		InvitedBy:   requestcontext.UserID(r.Context()),
		InviterRole: requestcontext.Role(r.Context()),
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inviteResponse{Token: string(inv.Token), UserID: inv.UserID.String()})
}
