package notifications

import (
	"errors"
	"strings"
)

// ErrorCode strips the "messaging/" namespace from a provider error code.
func ErrorCode(code string) string {
	return strings.TrimPrefix(code, "messaging/")
}

// Provider error codes, without the "messaging/" prefix.
const (
	CodeInvalidToken       = "invalid-registration-token"
	CodeNotRegistered      = "registration-token-not-registered"
	CodeUnavailable        = "unavailable"
	CodeServerUnavailable  = "server-unavailable"
	CodeInternal           = "internal-error"
	CodeRateExceeded       = "message-rate-exceeded"
	CodeQuotaExceeded      = "quota-exceeded"
	CodeDeviceRateExceeded = "device-message-rate-exceeded"
)

// ClassifyError maps a provider error code to a FailureReason.
func ClassifyError(code string) FailureReason {
	switch ErrorCode(code) {
	case CodeInvalidToken:
		return FailureInvalidToken
	case CodeNotRegistered:
		return FailureNotRegistered
	case CodeUnavailable, CodeServerUnavailable, CodeInternal,
		CodeRateExceeded, CodeQuotaExceeded, CodeDeviceRateExceeded:
		return FailureTransient
	default:
		return FailureUnknown
	}
}

// MessageVariant is how the mobile client presents an incoming message.
type MessageVariant string

const (
	VariantDoorbell MessageVariant = "doorbell"
	VariantAccess   MessageVariant = "access"
	VariantGeneric  MessageVariant = "generic"
)

// ClassifyMessage picks the client presentation for a received data payload.
func ClassifyMessage(data map[string]string) MessageVariant {
	switch NotificationType(data[DataKeyType]) {
	case TypeDoorbell:
		return VariantDoorbell
	case TypeAccess:
		return VariantAccess
	default:
		return VariantGeneric
	}
}

// DeepLinkScheme is the custom URL scheme registered by the mobile app.
const DeepLinkScheme = "doorphone"

var errEmptyDeviceID = errors.New("device id is empty")

// DeviceDeepLink returns the link that opens the device screen in the app.
func DeviceDeepLink(deviceID string) (string, error) {
	if deviceID == "" {
		return "", errEmptyDeviceID
	}
	return DeepLinkScheme + "://device/" + deviceID, nil
}
