package passcode

import (
	"regexp"

	apperrors "github.com/lanternfest/platform/internal/platform/errors"
)

// ErrInvalidDeviceID indicates a device identifier that fails structural
// validation.
var ErrInvalidDeviceID = apperrors.New(
	apperrors.CodePasscodeInvalidDeviceID,
	"device id must be 16-128 characters of [A-Za-z0-9_-]",
)

var devicePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{16,128}$`)

// ValidateDeviceID checks the structural constraints on device identifiers.
// Callers must reject invalid ids before any store operation: the bounds cap
// memory growth from adversarial device-id spam, and the character set keeps
// identifiers from colliding with key components.
func ValidateDeviceID(deviceID string) error {
	if !devicePattern.MatchString(deviceID) {
		return ErrInvalidDeviceID
	}
	return nil
}
