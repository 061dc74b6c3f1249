package doorbell

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/eternisai/doorbell-dispatch/internal/devices"
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e12

// Timestamp accepts an RFC 3339 string, epoch seconds or epoch milliseconds.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q is not RFC 3339", s)
		}
		t.Time = parsed.UTC()
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("timestamp must be a string or a number")
	}
	if n <= 0 || math.IsInf(n, 0) || math.IsNaN(n) {
		return fmt.Errorf("timestamp must be positive")
	}
	if n >= epochMillisThreshold {
		t.Time = time.UnixMilli(int64(n)).UTC()
	} else {
		sec, frac := math.Modf(n)
		t.Time = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	return nil
}

// Trigger is the inbound doorbell event.
type Trigger struct {
	DeviceID  string    `json:"deviceId" validate:"required,max=256,excludesall=/"`
	EventID   string    `json:"eventId,omitempty" validate:"omitempty,max=256,excludesall=/"`
	Timestamp Timestamp `json:"timestamp" validate:"required"`
}

// Event converts a validated trigger.
func (t Trigger) Event() devices.Event {
	return devices.Event{
		DeviceID:  t.DeviceID,
		EventID:   t.EventID,
		Timestamp: t.Timestamp.Time,
	}
}

// ValidationError lists the offending fields of a rejected trigger.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return "invalid doorbell event: " + strings.Join(parts, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ParseTrigger decodes and validates a raw trigger.
func ParseTrigger(raw []byte) (*Trigger, error) {
	var t Trigger
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, &ValidationError{Fields: map[string]string{"body": err.Error()}}
	}

	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, &ValidationError{Fields: map[string]string{"body": err.Error()}}
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = describe(fe)
		}
		return nil, &ValidationError{Fields: fields}
	}

	return &t, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "excludesall":
		return "must not contain " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// Response is the body of a successful invocation.
type Response struct {
	Message             string `json:"message"`
	DeviceID            string `json:"deviceId"`
	NotificationsSent   int    `json:"notificationsSent"`
	NotificationsFailed int    `json:"notificationsFailed"`
}

const (
	MessageSent       = "Doorbell notifications sent successfully"
	MessageNoUsers    = "No users to notify"
	MessageNotFound   = "Device not found"
	MessageFailed     = "Failed to process doorbell notification"
	MessageBadRequest = "Invalid doorbell event"
)

// Result is the transport-neutral outcome of handling one trigger. Body is a
// *Response for 200, a string for 404, or an *apierrors.APIError otherwise.
type Result struct {
	StatusCode int
	Body       interface{}
}

// Encode renders the body as it goes on the wire.
func (r Result) Encode() (string, error) {
	if s, ok := r.Body.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(r.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
