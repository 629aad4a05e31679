// Package device tracks the push registration of family-member devices.
// Rows are written by the device-registration flow elsewhere; this core only
// reads them for push delivery and fan-out subjects.
package device

import (
	"time"

	id "carelink/pkg/domain"
)

// Device is one registered client device.
type Device struct {
	ID           id.DeviceID
	UserID       id.UserID
	PushToken    string
	Platform     string
	AppVersion   string
	RegisteredAt time.Time
}
