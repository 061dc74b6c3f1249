package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
)

// DataKeyActions carries the comma-separated Android action ids.
const DataKeyActions = "actions"

// MulticastClient is the part of *messaging.Client the sender needs.
type MulticastClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// ClientSource returns the messaging client, initializing it on first use.
type ClientSource func(ctx context.Context) (MulticastClient, error)

// FCMSender delivers payloads through Firebase Cloud Messaging.
type FCMSender struct {
	client ClientSource
}

func NewFCMSender(client ClientSource) *FCMSender {
	return &FCMSender{client: client}
}

// SendMulticast implements Sender.
func (s *FCMSender) SendMulticast(ctx context.Context, tokens []string, payload *Payload) ([]SendResponse, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	batch, err := client.SendEachForMulticast(ctx, BuildMulticastMessage(tokens, payload))
	if err != nil {
		return nil, fmt.Errorf("failed to send multicast: %w", err)
	}

	responses := make([]SendResponse, len(batch.Responses))
	for i, r := range batch.Responses {
		if r == nil {
			responses[i] = SendResponse{ErrorCode: "missing-response"}
			continue
		}
		responses[i] = SendResponse{
			Success:   r.Success,
			MessageID: r.MessageID,
		}
		if !r.Success {
			responses[i].ErrorCode = fcmErrorCode(r.Error)
		}
	}
	return responses, nil
}

// ErrPushDisabled is returned by DisabledSender for every batch.
var ErrPushDisabled = errors.New("push notifications are disabled")

// DisabledSender fails every batch, so each endpoint is reported as an
// unknown failure and nothing is revoked.
type DisabledSender struct{}

func (DisabledSender) SendMulticast(ctx context.Context, tokens []string, payload *Payload) ([]SendResponse, error) {
	return nil, ErrPushDisabled
}

// BuildMulticastMessage converts a payload into an FCM multicast message.
func BuildMulticastMessage(tokens []string, payload *Payload) *messaging.MulticastMessage {
	data := payload.Data()

	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
	}

	androidData := make(map[string]string, len(data)+1)
	for k, v := range data {
		androidData[k] = v
	}
	if len(payload.Android.Actions) > 0 {
		ids := make([]string, len(payload.Android.Actions))
		for i, a := range payload.Android.Actions {
			ids[i] = a.Action
		}
		androidData[DataKeyActions] = strings.Join(ids, ",")
	}

	notificationPriority := messaging.PriorityDefault
	if payload.Android.Priority == "high" {
		notificationPriority = messaging.PriorityHigh
	}
	msg.Android = &messaging.AndroidConfig{
		Priority: payload.Android.Priority,
		Data:     androidData,
		Notification: &messaging.AndroidNotification{
			ChannelID:           payload.Android.ChannelID,
			Sound:               payload.Android.Sound,
			DefaultSound:        payload.Android.DefaultSound,
			VibrateTimingMillis: payload.Android.VibrationPattern,
			Priority:            notificationPriority,
		},
	}

	msg.APNS = &messaging.APNSConfig{
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{
				Sound:          payload.APNS.Sound,
				Category:       payload.APNS.Category,
				MutableContent: payload.APNS.MutableContent,
			},
		},
	}

	return msg
}

// fcmErrorCode recovers the provider error code from an SDK error.
func fcmErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case messaging.IsUnregistered(err):
		return CodeNotRegistered
	case errorutils.IsInvalidArgument(err):
		// INVALID_ARGUMENT covers malformed payloads too; only a bad token is permanent.
		if strings.Contains(strings.ToLower(err.Error()), "registration token") {
			return CodeInvalidToken
		}
		return "invalid-argument"
	case errorutils.IsUnavailable(err):
		return CodeUnavailable
	case errorutils.IsInternal(err):
		return CodeInternal
	case messaging.IsQuotaExceeded(err):
		return CodeRateExceeded
	case messaging.IsSenderIDMismatch(err):
		return "mismatched-credential"
	case messaging.IsThirdPartyAuthError(err):
		return "third-party-auth-error"
	default:
		return "unknown-error"
	}
}
