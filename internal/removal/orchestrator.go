// Package removal runs the unenrollment cascade. Removing the sole primary
// of a multi-member roster tears the whole roster down; every member's
// pipeline runs to completion regardless of sibling failures and the
// aggregate reports success only when none failed.
package removal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"carelink/internal/identity/models"
	"carelink/internal/patient"
	"carelink/internal/push"
	"carelink/internal/tenant"
	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/audit"
	"carelink/pkg/platform/sentinel"
	"carelink/pkg/requestcontext"
)

// IdentityStore is the identity persistence the orchestrator needs.
type IdentityStore interface {
	FindByUser(ctx context.Context, userID id.UserID) (models.FamilyIdentity, error)
	ActiveRoster(ctx context.Context, patientID id.PatientID) ([]models.FamilyIdentity, error)
	SoftRemove(ctx context.Context, userID id.UserID, at time.Time) error
}

// PatientReader resolves the patient record, mappings and the encounter gate.
type PatientReader interface {
	FindByID(ctx context.Context, patientID id.PatientID) (patient.Patient, error)
	LinkedPatients(ctx context.Context, userID id.UserID) ([]id.PatientID, error)
	HasOpenEncounter(ctx context.Context, patientID id.PatientID) (bool, error)
}

// TenantReader resolves the chat short code.
type TenantReader interface {
	FindByID(ctx context.Context, tenantID id.TenantID) (tenant.Settings, error)
}

// ChatRemover removes channel members in one batched call.
type ChatRemover interface {
	RemoveMembers(ctx context.Context, channelID id.ChannelID, tenant string, memberIDs []id.UserID) error
}

// SessionRevoker drops every live session a user holds.
type SessionRevoker interface {
	DeleteByUser(ctx context.Context, userID id.UserID) error
}

// ProfileDropper deletes the cached profile projection.
type ProfileDropper interface {
	Delete(ctx context.Context, userID id.UserID) error
}

// AuditPublisher records audited actions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Orchestrator coordinates the removal cascade.
type Orchestrator struct {
	identities IdentityStore
	patients   PatientReader
	tenants    TenantReader
	chat       ChatRemover
	pusher     push.Gateway
	sessions   SessionRevoker
	profiles   ProfileDropper
	auditor    AuditPublisher
	logger     *slog.Logger
}

// New wires the removal orchestrator.
func New(
	identities IdentityStore,
	patients PatientReader,
	tenants TenantReader,
	chat ChatRemover,
	pusher push.Gateway,
	sessions SessionRevoker,
	profiles ProfileDropper,
	auditor AuditPublisher,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		identities: identities,
		patients:   patients,
		tenants:    tenants,
		chat:       chat,
		pusher:     pusher,
		sessions:   sessions,
		profiles:   profiles,
		auditor:    auditor,
		logger:     logger.With("component", "removal"),
	}
}

// MemberOutcome is the settled result of one member's removal pipeline.
type MemberOutcome struct {
	UserID id.UserID
	Err    error
}

// Result aggregates a removal. Succeeded is true only when every member's
// pipeline settled without error; single-member removals report through the
// same shape.
type Result struct {
	Cascaded bool
	Outcomes []MemberOutcome
}

// Succeeded reports whether every pipeline settled cleanly.
func (r Result) Succeeded() bool {
	for _, o := range r.Outcomes {
		if o.Err != nil {
			return false
		}
	}
	return true
}

// Remove unenrolls the target. The caller comes from the request context and
// must either be the target or share a patient mapping with them, and the
// patient must have an open encounter.
func (o *Orchestrator) Remove(ctx context.Context, targetID id.UserID) (Result, error) {
	target, err := o.identities.FindByUser(ctx, targetID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Result{}, dErrors.New(dErrors.CodeNotFound, "identity not found")
		}
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}
	if !target.Active() {
		return Result{}, dErrors.New(dErrors.CodeNotFound, "identity not found")
	}

	if err := o.authorize(ctx, target); err != nil {
		return Result{}, err
	}

	open, err := o.patients.HasOpenEncounter(ctx, target.PatientID)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check encounter")
	}
	if !open {
		return Result{}, dErrors.New(dErrors.CodeForbidden, "no open encounter for patient")
	}

	roster, err := o.identities.ActiveRoster(ctx, target.PatientID)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load roster")
	}

	members := []models.FamilyIdentity{target}
	cascaded := false
	if target.Primary && len(roster) > 1 && solePrimary(roster, targetID) {
		members = roster
		cascaded = true
	}

	o.removeChatMembers(ctx, target.PatientID, target.TenantID, members)

	outcomes := o.runPipelines(ctx, members, cascaded)
	result := Result{Cascaded: cascaded, Outcomes: outcomes}
	if !result.Succeeded() {
		o.logger.Error("removal cascade settled with failures",
			"patient_id", target.PatientID.String(), "cascaded", cascaded)
	}
	return result, nil
}

func (o *Orchestrator) authorize(ctx context.Context, target models.FamilyIdentity) error {
	callerID := requestcontext.UserID(ctx)
	if !requestcontext.Role(ctx).Valid() {
		return dErrors.New(dErrors.CodeUnauthorized, "unknown caller role")
	}
	if callerID == target.UserID {
		return nil
	}
	mapped, err := o.patients.LinkedPatients(ctx, callerID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check patient mapping")
	}
	for _, pid := range mapped {
		if pid == target.PatientID {
			return nil
		}
	}
	return dErrors.New(dErrors.CodeForbidden, "caller and target do not share a patient")
}

func solePrimary(roster []models.FamilyIdentity, userID id.UserID) bool {
	for _, m := range roster {
		if m.Primary && m.UserID != userID {
			return false
		}
	}
	return true
}

// removeChatMembers issues one batched channel removal for everyone leaving.
// Chat is a side effect: failure is logged, never propagated.
func (o *Orchestrator) removeChatMembers(ctx context.Context, patientID id.PatientID, tenantID id.TenantID, members []models.FamilyIdentity) {
	p, err := o.patients.FindByID(ctx, patientID)
	if err != nil || p.ChannelID == "" {
		return
	}
	settings, err := o.tenants.FindByID(ctx, tenantID)
	if err != nil {
		o.logger.Error("failed to load tenant settings for chat removal", "error", err)
		return
	}
	removed := make([]id.UserID, len(members))
	for i, m := range members {
		removed[i] = m.UserID
	}
	if err := o.chat.RemoveMembers(ctx, p.ChannelID, settings.ShortCode, removed); err != nil {
		o.logger.Error("failed to remove chat members", "error", err, "channel_id", string(p.ChannelID))
	}
}

// runPipelines executes every member's pipeline concurrently and waits for
// all of them to settle.
func (o *Orchestrator) runPipelines(ctx context.Context, members []models.FamilyIdentity, cascade bool) []MemberOutcome {
	outcomes := make([]MemberOutcome, len(members))
	var wg sync.WaitGroup
	for i, member := range members {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = MemberOutcome{
				UserID: member.UserID,
				Err:    o.removeMember(ctx, member, cascade),
			}
		}()
	}
	wg.Wait()
	return outcomes
}

// removeMember runs one member's pipeline: push notice, audit, session
// revocation, profile drop, soft delete. On the single path the push notice
// is best-effort; on the cascade every step of the sequence feeds the
// settled outcome, so a rejected push fails this member while the rest of
// its pipeline still runs.
func (o *Orchestrator) removeMember(ctx context.Context, member models.FamilyIdentity, cascade bool) error {
	var settled error
	if err := o.pusher.Send(ctx, member.UserID, push.Payload{
		Title:      "Care team update",
		Body:       "Your access to this patient has ended.",
		Type:       push.TypeFamilyRemoved,
		AppVersion: requestcontext.AppVersion(ctx),
	}); err != nil {
		o.logger.Warn("failed to send removal notice", "error", err, "user_id", member.UserID.String())
		if cascade {
			settled = dErrors.Wrap(err, dErrors.CodeInternal, "failed to send removal notice")
		}
	}

	if err := o.auditor.Emit(ctx, audit.Event{
		Action:    string(audit.EventFamilyUnenrolled),
		PatientID: member.PatientID,
		TenantID:  member.TenantID,
		Actor:     audit.Descriptor{UserID: requestcontext.UserID(ctx), Role: requestcontext.Role(ctx)},
		Subject:   audit.Descriptor{UserID: member.UserID},
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		o.logger.Error("failed to audit unenrollment", "error", err, "user_id", member.UserID.String())
	}

	if err := o.sessions.DeleteByUser(ctx, member.UserID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke sessions")
	}
	if err := o.profiles.Delete(ctx, member.UserID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to drop cached profile")
	}
	if err := o.identities.SoftRemove(ctx, member.UserID, requestcontext.Now(ctx)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove identity")
	}
	return settled
}
