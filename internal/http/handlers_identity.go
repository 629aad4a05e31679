package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"carelink/internal/identity/models"
	"carelink/internal/identity/registry"
	"carelink/internal/profile"
	"carelink/internal/removal"
	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/sentinel"
	"carelink/pkg/requestcontext"
)

// RegistryService edits family identities.
type RegistryService interface {
	Update(ctx context.Context, targetID id.UserID, req registry.UpdateRequest) (models.FamilyIdentity, error)
}

// RemovalService runs the unenrollment cascade.
type RemovalService interface {
	Remove(ctx context.Context, targetID id.UserID) (removal.Result, error)
}

// ProfileCache serves the cached caller profile.
type ProfileCache interface {
	Get(ctx context.Context, userID id.UserID) (profile.Projection, error)
}

// IdentityHandler serves identity edit, removal and profile reads.
type IdentityHandler struct {
	registry RegistryService
	removals RemovalService
	profiles ProfileCache
	logger   *slog.Logger
}

// NewIdentityHandler constructs the identity handler.
func NewIdentityHandler(registry RegistryService, removals RemovalService, profiles ProfileCache, logger *slog.Logger) *IdentityHandler {
	return &IdentityHandler{registry: registry, removals: removals, profiles: profiles, logger: logger}
}

// Register mounts the identity routes (session-protected).
func (h *IdentityHandler) Register(r chi.Router) {
	r.Get("/me/profile", h.handleProfile)
	r.Patch("/family-members/{userID}", h.handleUpdate)
	r.Delete("/family-members/{userID}", h.handleRemove)
}

func (h *IdentityHandler) handleProfile(w http.ResponseWriter, r *http.Request) {
	userID := requestcontext.UserID(r.Context())
	proj, err := h.profiles.Get(r.Context(), userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		WriteError(w, dErrors.New(dErrors.CodeNotFound, "profile not found"))
		return
	}
	if err != nil {
		WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile"))
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

type updateIdentityRequest struct {
	FirstName           *string `json:"first_name,omitempty"`
	LastName            *string `json:"last_name,omitempty"`
	PatientRelationship *string `json:"patient_relationship,omitempty"`
	PreferredLocale     *string `json:"preferred_locale,omitempty"`
	Primary             *bool   `json:"primary,omitempty"`
}

type identityResponse struct {
	UserID       string `json:"user_id"`
	PatientID    string `json:"patient_id"`
	Relationship string `json:"relationship"`
	Primary      bool   `json:"primary"`
	IsPatient    bool   `json:"is_patient"`
}

func (h *IdentityHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	targetID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	var req updateIdentityRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	ident, err := h.registry.Update(r.Context(), targetID, registry.UpdateRequest{
		FirstName:           req.FirstName,
		LastName:            req.LastName,
		PatientRelationship: req.PatientRelationship,
		PreferredLocale:     req.PreferredLocale,
		Primary:             req.Primary,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identityResponse{
		UserID:       ident.UserID.String(),
		PatientID:    ident.PatientID.String(),
		Relationship: ident.PatientRelationship,
		Primary:      ident.Primary,
		IsPatient:    ident.IsPatient,
	})
}

type removalOutcome struct {
	UserID string `json:"user_id"`
	Error  string `json:"error,omitempty"`
}

type removalResponse struct {
	Cascaded  bool             `json:"cascaded"`
	Succeeded bool             `json:"succeeded"`
	Outcomes  []removalOutcome `json:"outcomes"`
}

func (h *IdentityHandler) handleRemove(w http.ResponseWriter, r *http.Request) {
	targetID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	result, err := h.removals.Remove(r.Context(), targetID)
	if err != nil {
		WriteError(w, err)
		return
	}
	resp := removalResponse{Cascaded: result.Cascaded, Succeeded: result.Succeeded()}
	for _, o := range result.Outcomes {
		out := removalOutcome{UserID: o.UserID.String()}
		if o.Err != nil {
			out.Error = dErrors.MessageOf(o.Err)
		}
		resp.Outcomes = append(resp.Outcomes, out)
	}
	status := http.StatusOK
	if !resp.Succeeded {
		// Partial failure: some pipelines need operator attention.
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}
