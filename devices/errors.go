package devices

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// ErrTrackEnded is reported to end-of-track observers when a source stops without an explicit Stop
var ErrTrackEnded = errors.New("track ended unexpectedly")

// ErrWriterClosed is returned when writing to a closed TrackWriter
var ErrWriterClosed = errors.New("track writer is closed")

type AccessErrorKind string

const (
	PermissionDenied  AccessErrorKind = "permission_denied"
	DeviceUnavailable AccessErrorKind = "device_unavailable"
	UnsupportedMode   AccessErrorKind = "unsupported_mode"
)

// AccessError is returned when a capture device cannot be acquired
type AccessError struct {
	Kind   AccessErrorKind
	Device string // "display", "camera", "microphone" or the capture mode
	Err    error
}

func (e *AccessError) Error() string {
	var reason string
	switch e.Kind {
	case PermissionDenied:
		reason = "permission denied"
	case DeviceUnavailable:
		reason = "device unavailable"
	case UnsupportedMode:
		reason = "unsupported capture mode"
	default:
		reason = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Device, reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Device, reason)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

func NewPermissionDeniedError(device string, err error) error {
	return &AccessError{Kind: PermissionDenied, Device: device, Err: err}
}

func NewDeviceUnavailableError(device string, err error) error {
	return &AccessError{Kind: DeviceUnavailable, Device: device, Err: err}
}

func NewUnsupportedModeError(mode string) error {
	return &AccessError{Kind: UnsupportedMode, Device: mode}
}

func isAccessErrorKind(err error, kind AccessErrorKind) bool {
	var accessErr *AccessError
	return errors.As(err, &accessErr) && accessErr.Kind == kind
}

// IsAccessError checks if the error is any AccessError
func IsAccessError(err error) bool {
	var accessErr *AccessError
	return errors.As(err, &accessErr)
}

func IsPermissionDeniedError(err error) bool {
	return isAccessErrorKind(err, PermissionDenied)
}

func IsDeviceUnavailableError(err error) bool {
	return isAccessErrorKind(err, DeviceUnavailable)
}

func IsUnsupportedModeError(err error) bool {
	return isAccessErrorKind(err, UnsupportedMode)
}

// ClassifyError maps a raw backend error onto the access error taxonomy.
// Context errors and errors that are already classified pass through untouched.
func ClassifyError(device string, err error) error {
	if err == nil {
		return nil
	}
	if IsAccessError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, fs.ErrPermission) {
		return NewPermissionDeniedError(device, err)
	}
	return NewDeviceUnavailableError(device, err)
}
