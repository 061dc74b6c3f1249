package devices

import (
	"context"
	"errors"
	"time"
)

// DefaultLocation is reported for doorbells registered without a location.
const DefaultLocation = "Unknown Location"

// ErrDeviceNotFound is returned by a Directory when the device has no record.
var ErrDeviceNotFound = errors.New("device not found")

// DeviceInfo is the directory record of a doorbell.
type DeviceInfo struct {
	DeviceID string
	Name     string
	Location string
}

// LocationOrDefault returns the location, falling back to DefaultLocation.
func (d DeviceInfo) LocationOrDefault() string {
	if d.Location == "" {
		return DefaultLocation
	}
	return d.Location
}

// Event is a validated doorbell ring. EventID may be empty until the
// notification is composed.
type Event struct {
	DeviceID  string
	EventID   string
	Timestamp time.Time
}

// Directory resolves a device ID to its metadata.
type Directory interface {
	Lookup(ctx context.Context, deviceID string) (*DeviceInfo, error)
}

// SubscriberIndex lists the users with access to a device.
type SubscriberIndex interface {
	UsersForDevice(ctx context.Context, deviceID string) ([]string, error)
}

// TokenSource returns the push tokens a user has registered.
type TokenSource interface {
	TokensForUser(ctx context.Context, userID string) ([]string, error)
}
