package transcribe

import (
	"errors"
	"fmt"
)

// ErrTranscriptionFailed matches every *FailedError via errors.Is.
var ErrTranscriptionFailed = errors.New("transcription failed")

// FailedError is returned when the endpoint answers with a non-2xx status or
// with success set to false.
type FailedError struct {
	// Status is the HTTP status text for non-2xx responses.
	Status string
	// Message is the server supplied reason for success=false responses.
	Message string
}

func (e *FailedError) Error() string {
	switch {
	case e.Status != "":
		return fmt.Sprintf("transcription failed: %s", e.Status)
	case e.Message != "":
		return fmt.Sprintf("transcription failed: %s", e.Message)
	default:
		return "transcription failed"
	}
}

func (e *FailedError) Is(target error) bool {
	return target == ErrTranscriptionFailed
}
