// Package patient exposes the slice of the patient record this core touches:
// demographics for date-of-birth validation, chat flags, the channel binding,
// user links and the open-encounter gate. Patient CRUD itself lives in
// another service.
package patient

import (
	"time"

	id "carelink/pkg/domain"
)

// Patient is the patient-record projection used by the family identity core.
type Patient struct {
	ID                  id.PatientID
	TenantID            id.TenantID
	FirstName           string
	LastName            string
	DateOfBirth         time.Time
	ChannelID           id.ChannelID
	EnableChat          bool
	LocationChatEnabled bool
}

// ChatAllowed reports whether chat is enabled for this patient at all levels.
func (p Patient) ChatAllowed() bool {
	return p.EnableChat && p.LocationChatEnabled
}

// SameCalendarDate compares two timestamps date-wise, ignoring the time of
// day and normalizing to UTC. Date-of-birth validation must not fail on
// timezone offsets.
func SameCalendarDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
