package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"

	"github.com/eternisai/doorbell-dispatch/internal/devices"
)

type fakeMulticastClient struct {
	response *messaging.BatchResponse
	err      error
	got      *messaging.MulticastMessage
}

func (f *fakeMulticastClient) SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.got = message
	return f.response, f.err
}

func testPayload() *Payload {
	c := NewComposer()
	p := c.Compose(
		devicesEvent("dev1", "e1"),
		devicesInfo("dev1", "Front Door"),
	)
	return p
}

func TestBuildMulticastMessage(t *testing.T) {
	msg := BuildMulticastMessage([]string{"tokA", "tokB"}, testPayload())

	if len(msg.Tokens) != 2 {
		t.Fatalf("Expected 2 tokens, got %d", len(msg.Tokens))
	}
	if msg.Notification.Title != "Doorbell Ring" || msg.Notification.Body != "Someone is at Front Door" {
		t.Errorf("Unexpected notification %+v", msg.Notification)
	}
	if msg.Data["eventId"] != "e1" {
		t.Errorf("Expected eventId in data, got %v", msg.Data)
	}
	if _, ok := msg.Data[DataKeyActions]; ok {
		t.Error("Actions belong to the android data only")
	}

	if msg.Android.Priority != "high" {
		t.Errorf("Expected high android priority, got %q", msg.Android.Priority)
	}
	if msg.Android.Data[DataKeyActions] != "unlock,view" {
		t.Errorf("Unexpected android actions %q", msg.Android.Data[DataKeyActions])
	}
	if n := msg.Android.Notification; n.ChannelID != AndroidChannelID || n.Priority != messaging.PriorityHigh {
		t.Errorf("Unexpected android notification %+v", n)
	}
	if aps := msg.APNS.Payload.Aps; aps.Category != APNSCategory || !aps.MutableContent {
		t.Errorf("Unexpected aps %+v", aps)
	}
}

func TestFCMSenderSendMulticast(t *testing.T) {
	client := &fakeMulticastClient{response: &messaging.BatchResponse{
		SuccessCount: 1,
		FailureCount: 1,
		Responses: []*messaging.SendResponse{
			{Success: true, MessageID: "m1"},
			{Success: false, Error: errors.New("boom")},
		},
	}}
	sender := NewFCMSender(func(ctx context.Context) (MulticastClient, error) { return client, nil })

	got, err := sender.SendMulticast(context.Background(), []string{"tokA", "tokB"}, testPayload())
	if err != nil {
		t.Fatalf("SendMulticast failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 responses, got %d", len(got))
	}
	if !got[0].Success || got[0].MessageID != "m1" {
		t.Errorf("Unexpected first response %+v", got[0])
	}
	if got[1].Success || ClassifyError(got[1].ErrorCode) != FailureUnknown {
		t.Errorf("Unexpected second response %+v", got[1])
	}
	if client.got == nil || len(client.got.Tokens) != 2 {
		t.Error("Expected the client to receive the tokens")
	}
}

func TestFCMSenderErrors(t *testing.T) {
	initErr := errors.New("no credentials")
	sender := NewFCMSender(func(ctx context.Context) (MulticastClient, error) { return nil, initErr })
	if _, err := sender.SendMulticast(context.Background(), []string{"a"}, testPayload()); !errors.Is(err, initErr) {
		t.Errorf("Expected init error, got %v", err)
	}

	callErr := errors.New("deadline exceeded")
	client := &fakeMulticastClient{err: callErr}
	sender = NewFCMSender(func(ctx context.Context) (MulticastClient, error) { return client, nil })
	if _, err := sender.SendMulticast(context.Background(), []string{"a"}, testPayload()); !errors.Is(err, callErr) {
		t.Errorf("Expected call error, got %v", err)
	}
}

func devicesEvent(deviceID, eventID string) devices.Event {
	return devices.Event{DeviceID: deviceID, EventID: eventID, Timestamp: time.Now()}
}

func devicesInfo(deviceID, name string) devices.DeviceInfo {
	return devices.DeviceInfo{DeviceID: deviceID, Name: name}
}
