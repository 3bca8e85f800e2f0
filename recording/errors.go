package recording

import (
	"errors"
	"fmt"

	"github.com/yeti47/cryospy/screencap/devices"
	"github.com/yeti47/cryospy/screencap/encoding"
)

// ErrNoDataCaptured is the terminal failure of a session that stopped without any encoded data
var ErrNoDataCaptured = encoding.ErrNoDataCaptured

// ErrCancelled is returned when Reset or Close interrupts a start or stop in progress
var ErrCancelled = errors.New("cancelled by reset")

// InvalidTransitionError is returned when a command is not valid in the current status
type InvalidTransitionError struct {
	Command string
	From    Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Command, e.From)
}

func NewInvalidTransitionError(command string, from Status) error {
	return &InvalidTransitionError{Command: command, From: from}
}

func IsInvalidTransitionError(err error) bool {
	var transitionErr *InvalidTransitionError
	return errors.As(err, &transitionErr)
}

const (
	MessageDenied      = "Access was denied. Allow access to the device and try again."
	MessageUnsupported = "Your device or system doesn't support this capture. Check that the device is connected and try another mode or format."
	MessageInternal    = "Something failed internally. Please try again."
	MessageNoData      = "Recording failed: no data was captured. Please try again."
)

// UserMessage turns err into a message telling the user whether they denied access,
// whether their device or system lacks support, or whether something failed internally.
func UserMessage(err error) string {
	var unsupportedFormat *encoding.UnsupportedFormatError
	switch {
	case err == nil:
		return ""
	case devices.IsPermissionDeniedError(err):
		return MessageDenied
	case devices.IsDeviceUnavailableError(err), devices.IsUnsupportedModeError(err), errors.As(err, &unsupportedFormat):
		return MessageUnsupported
	case errors.Is(err, ErrNoDataCaptured):
		return MessageNoData
	default:
		return MessageInternal
	}
}

// FailureReason is a short label for metrics
func FailureReason(err error) string {
	var unsupportedFormat *encoding.UnsupportedFormatError
	switch {
	case devices.IsPermissionDeniedError(err):
		return "permission_denied"
	case devices.IsDeviceUnavailableError(err):
		return "device_unavailable"
	case devices.IsUnsupportedModeError(err):
		return "unsupported_mode"
	case errors.As(err, &unsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrNoDataCaptured):
		return "no_data"
	default:
		return "internal"
	}
}
