// Package tenant exposes per-tenant settings the family identity core
// depends on: the roster capacity cap, the default notification level, the
// short code the chat service keys tenants by, and whether chat integration
// is switched on at all. Tenant administration lives in another service.
package tenant

import id "carelink/pkg/domain"

// Settings is the per-tenant configuration projection.
type Settings struct {
	ID                  id.TenantID
	ShortCode           string
	RosterCap           int
	DefaultNotification id.NotificationLevel
	ChatEnabled         bool
}

// CapOrDefault returns the tenant's roster cap, falling back to the
// service-wide default when the tenant never set one.
func (s Settings) CapOrDefault(fallback int) int {
	if s.RosterCap > 0 {
		return s.RosterCap
	}
	return fallback
}
