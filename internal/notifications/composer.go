package notifications

import (
	"fmt"
	"time"

	"github.com/eternisai/doorbell-dispatch/internal/devices"
)

const (
	DoorbellTitle = "Doorbell Ring"

	AndroidChannelID = "doorphone_notifications"
	DoorbellSound    = "doorbell_sound.wav"
	APNSCategory     = "DOORBELL_CATEGORY"
)

// DoorbellVibration is the Android vibration pattern in milliseconds.
var DoorbellVibration = []int64{0, 500, 200, 500}

// DoorbellActions are the buttons shown on the Android notification.
var DoorbellActions = []Action{
	{Action: "unlock", Title: "Unlock Door", Icon: "ic_unlock"},
	{Action: "view", Title: "View Camera", Icon: "ic_video"},
}

// Composer turns a doorbell event into a push payload.
type Composer struct {
	now func() time.Time
}

func NewComposer() *Composer {
	return &Composer{now: time.Now}
}

// NewComposerWithClock is NewComposer with a fixed clock for event id synthesis.
func NewComposerWithClock(now func() time.Time) *Composer {
	return &Composer{now: now}
}

// EventID returns the event's id, or synthesizes doorbell_<unix-millis>.
func (c *Composer) EventID(event devices.Event) string {
	if event.EventID != "" {
		return event.EventID
	}
	return fmt.Sprintf("doorbell_%d", c.now().UnixMilli())
}

// Compose builds the payload for event. It performs no I/O.
func (c *Composer) Compose(event devices.Event, info devices.DeviceInfo) *Payload {
	vibration := make([]int64, len(DoorbellVibration))
	copy(vibration, DoorbellVibration)
	actions := make([]Action, len(DoorbellActions))
	copy(actions, DoorbellActions)

	return &Payload{
		Type:       TypeDoorbell,
		DeviceID:   event.DeviceID,
		DeviceName: info.Name,
		EventID:    c.EventID(event),
		Timestamp:  event.Timestamp.UTC(),
		Location:   info.LocationOrDefault(),

		Title: DoorbellTitle,
		Body:  fmt.Sprintf("Someone is at %s", info.Name),

		Android: AndroidHints{
			Priority:         "high",
			ChannelID:        AndroidChannelID,
			Sound:            DoorbellSound,
			DefaultSound:     false,
			VibrationPattern: vibration,
			Actions:          actions,
		},
		APNS: APNSHints{
			Sound:          DoorbellSound,
			Category:       APNSCategory,
			MutableContent: true,
		},
	}
}
