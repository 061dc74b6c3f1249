package notifications

import (
	"reflect"
	"testing"
	"time"

	"github.com/eternisai/doorbell-dispatch/internal/devices"
)

func TestCompose(t *testing.T) {
	fixed := time.UnixMilli(1700000000123)
	c := NewComposerWithClock(func() time.Time { return fixed })
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	p := c.Compose(
		devices.Event{DeviceID: "dev1", EventID: "e1", Timestamp: ts},
		devices.DeviceInfo{DeviceID: "dev1", Name: "Front Door"},
	)

	if p.Title != "Doorbell Ring" {
		t.Errorf("Unexpected title %q", p.Title)
	}
	if p.Body != "Someone is at Front Door" {
		t.Errorf("Unexpected body %q", p.Body)
	}

	want := map[string]string{
		"type":       "doorbell",
		"deviceId":   "dev1",
		"deviceName": "Front Door",
		"eventId":    "e1",
		"timestamp":  "2024-01-01T11:00:00.000Z",
		"location":   "Unknown Location",
	}
	if got := p.Data(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected data %v, got %v", want, got)
	}

	if p.Android.Priority != "high" || p.Android.ChannelID != "doorphone_notifications" {
		t.Errorf("Unexpected android hints %+v", p.Android)
	}
	if !reflect.DeepEqual(p.Android.VibrationPattern, []int64{0, 500, 200, 500}) {
		t.Errorf("Unexpected vibration %v", p.Android.VibrationPattern)
	}
	if p.APNS.Category != "DOORBELL_CATEGORY" || !p.APNS.MutableContent || p.APNS.Sound != "doorbell_sound.wav" {
		t.Errorf("Unexpected apns hints %+v", p.APNS)
	}
}

func TestComposeSynthesizesEventID(t *testing.T) {
	fixed := time.UnixMilli(1700000000123)
	c := NewComposerWithClock(func() time.Time { return fixed })

	p := c.Compose(
		devices.Event{DeviceID: "dev1", Timestamp: fixed},
		devices.DeviceInfo{DeviceID: "dev1", Name: "Gate", Location: "Garden"},
	)

	if p.EventID != "doorbell_1700000000123" {
		t.Errorf("Expected synthesized event id, got %q", p.EventID)
	}
	if p.Location != "Garden" {
		t.Errorf("Expected location Garden, got %q", p.Location)
	}
}

func TestPayloadDataExtraDoesNotOverride(t *testing.T) {
	p := &Payload{
		Type:     TypeDoorbell,
		DeviceID: "dev1",
		Extra:    map[string]string{"deviceId": "spoofed", "action": "open"},
	}

	data := p.Data()
	if data["deviceId"] != "dev1" {
		t.Errorf("Named field must win, got %q", data["deviceId"])
	}
	if data["action"] != "open" {
		t.Errorf("Expected extra field to pass through, got %q", data["action"])
	}
	if _, ok := data["timestamp"]; ok {
		t.Error("Zero timestamp must be omitted")
	}
}
