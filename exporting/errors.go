package exporting

import (
	"errors"
	"fmt"

	"github.com/yeti47/cryospy/screencap/models"
)

// FormatNotOfferedError is returned when a format is requested that the mode does not offer
type FormatNotOfferedError struct {
	Mode   models.CaptureMode
	Format Format
}

func (e *FormatNotOfferedError) Error() string {
	return fmt.Sprintf("%s export is not offered for %s recordings", e.Format, e.Mode)
}

func NewFormatNotOfferedError(mode models.CaptureMode, format Format) error {
	return &FormatNotOfferedError{Mode: mode, Format: format}
}

func IsFormatNotOfferedError(err error) bool {
	var notOfferedErr *FormatNotOfferedError
	return errors.As(err, &notOfferedErr)
}

// TranscodeUnavailableError reports why a conversion could not be produced
type TranscodeUnavailableError struct {
	Format Format
	Err    error
}

func (e *TranscodeUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transcoding to %s is unavailable", e.Format)
	}
	return fmt.Sprintf("transcoding to %s is unavailable: %v", e.Format, e.Err)
}

func (e *TranscodeUnavailableError) Unwrap() error {
	return e.Err
}

func NewTranscodeUnavailableError(format Format, err error) error {
	return &TranscodeUnavailableError{Format: format, Err: err}
}

func IsTranscodeUnavailableError(err error) bool {
	var unavailableErr *TranscodeUnavailableError
	return errors.As(err, &unavailableErr)
}
