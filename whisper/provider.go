// Package whisper holds the speech-to-text providers used by the transcription
// endpoint.
package whisper

import (
	"context"
	"errors"
	"io"
)

// ErrNoSpeech is returned when the audio produced no transcribable text.
var ErrNoSpeech = errors.New("no transcribable content found")

// Provider turns an audio stream into text. filename carries the container
// format (e.g. "recording.wav") for providers that need it.
type Provider interface {
	Transcribe(ctx context.Context, r io.Reader, filename string) (string, error)
	Name() string
}
