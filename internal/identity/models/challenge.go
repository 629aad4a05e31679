package models

import id "carelink/pkg/domain"

// LoginChallenge is the ephemeral entry behind a login attempt: the random
// string the device must sign, plus the stored key to verify against.
type LoginChallenge struct {
	Challenge string `json:"challenge"`
	PublicKey []byte `json:"public_key"`
}

// Invite is the payload written when an invitation link is generated. During
// registration the challenge string is merged in and the entry re-stored
// under the same token.
type Invite struct {
	PatientID   id.PatientID `json:"patient_id"`
	TenantID    id.TenantID  `json:"tenant_id"`
	UserID      id.UserID    `json:"user_id"`
	PhoneNumber string       `json:"phone_number,omitempty"`
	InvitedBy   id.UserID    `json:"invited_by"`
	InviterRole id.Role      `json:"inviter_role"`
	Challenge   string       `json:"challenge,omitempty"`
}

// InviteChannel classifies how a claimed invitation reached the family
// member. SMS invites carry a phone number; QR invites are generated at the
// bedside by a caregiver.
type InviteChannel string

const (
	InviteChannelSMS   InviteChannel = "sms"
	InviteChannelQR    InviteChannel = "qr"
	InviteChannelOther InviteChannel = "other"
)

// ClassifyInvite derives the invite channel from the invite payload.
func ClassifyInvite(inv Invite) InviteChannel {
	switch {
	case inv.PhoneNumber != "":
		return InviteChannelSMS
	case inv.InviterRole == id.RoleCaregiver:
		return InviteChannelQR
	default:
		return InviteChannelOther
	}
}
