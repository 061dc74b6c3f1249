package notifications

import (
	"context"
	"time"
)

// NotificationType is the "type" data field the mobile client switches on.
type NotificationType string

const (
	TypeDoorbell NotificationType = "doorbell"
	TypeAccess   NotificationType = "access"
)

// Data field keys understood by the mobile client.
const (
	DataKeyType       = "type"
	DataKeyDeviceID   = "deviceId"
	DataKeyDeviceName = "deviceName"
	DataKeyEventID    = "eventId"
	DataKeyTimestamp  = "timestamp"
	DataKeyLocation   = "location"
)

// TimestampLayout is the ISO-8601 form used in the data payload (millisecond precision, UTC).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Action is a notification button rendered by the Android client.
type Action struct {
	Action string
	Title  string
	Icon   string
}

// AndroidHints are the Android-specific delivery settings.
type AndroidHints struct {
	Priority         string // "high" or "normal"
	ChannelID        string
	Sound            string
	DefaultSound     bool
	VibrationPattern []int64 // milliseconds, alternating off/on
	Actions          []Action
}

// APNSHints are the iOS-specific delivery settings.
type APNSHints struct {
	Sound          string
	Category       string
	MutableContent bool
}

// Payload is a provider-agnostic push message. Build it with a Composer and
// treat it as read-only afterwards.
type Payload struct {
	Type       NotificationType
	DeviceID   string
	DeviceName string
	EventID    string
	Timestamp  time.Time
	Location   string

	// Extra is passed through to the data payload as-is. Named fields above
	// take precedence on key collisions.
	Extra map[string]string

	Title string
	Body  string

	Android AndroidHints
	APNS    APNSHints
}

// Data flattens the payload into the string map delivered to the client.
func (p *Payload) Data() map[string]string {
	data := make(map[string]string, len(p.Extra)+6)
	for k, v := range p.Extra {
		data[k] = v
	}

	data[DataKeyType] = string(p.Type)
	data[DataKeyDeviceID] = p.DeviceID
	data[DataKeyDeviceName] = p.DeviceName
	data[DataKeyEventID] = p.EventID
	data[DataKeyLocation] = p.Location
	if !p.Timestamp.IsZero() {
		data[DataKeyTimestamp] = p.Timestamp.UTC().Format(TimestampLayout)
	}
	return data
}

// FailureReason classifies why a single endpoint was not delivered to.
type FailureReason string

const (
	FailureInvalidToken  FailureReason = "invalid_token"
	FailureNotRegistered FailureReason = "not_registered"
	FailureTransient     FailureReason = "transient"
	FailureUnknown       FailureReason = "unknown"
)

// Permanent reports whether the endpoint will never accept a message again.
func (r FailureReason) Permanent() bool {
	return r == FailureInvalidToken || r == FailureNotRegistered
}

// Failure is one undelivered endpoint. Code is the provider's error code, or
// the batch error message when the whole call failed.
type Failure struct {
	Endpoint string
	Reason   FailureReason
	Code     string
}

// Outcome aggregates the per-endpoint results of one dispatch.
type Outcome struct {
	SuccessCount int
	FailureCount int
	Failures     []Failure
}

// Attempted is the number of endpoints the dispatch covered.
func (o Outcome) Attempted() int {
	return o.SuccessCount + o.FailureCount
}

// PermanentFailures lists the endpoints that should be revoked, in failure order.
func (o Outcome) PermanentFailures() []string {
	var tokens []string
	for _, f := range o.Failures {
		if f.Reason.Permanent() {
			tokens = append(tokens, f.Endpoint)
		}
	}
	return tokens
}

// SendResponse is the provider's verdict for one token of a multicast call.
type SendResponse struct {
	Success   bool
	MessageID string
	ErrorCode string
}

// Sender delivers one payload to a batch of tokens in a single provider call.
// The returned responses are index-aligned with tokens. A non-nil error means
// the call as a whole failed and no per-token result is available.
type Sender interface {
	SendMulticast(ctx context.Context, tokens []string, payload *Payload) ([]SendResponse, error)
}
