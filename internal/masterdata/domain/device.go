package masterdata

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"
)

// Device is a registered sensor unit.
type Device struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Name       string     `json:"name"`
	Location   string     `json:"location"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	Credential string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Validate checks required fields.
func (d Device) Validate() error {
	if d.ID == "" {
		return errors.New("device: empty id")
	}
	if d.Credential == "" {
		return errors.New("device: empty credential")
	}
	return nil
}

// Authenticate compares credential in constant time.
func (d Device) Authenticate(credential string) bool {
	if d.Credential == "" || credential == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(d.Credential), []byte(credential)) == 1
}

// DeviceRepository manages device persistence.
// Get returns (nil, nil) when the device does not exist.
type DeviceRepository interface {
	Get(ctx context.Context, id string) (*Device, error)
	Save(ctx context.Context, device *Device) error
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}
