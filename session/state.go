package session

import (
	"github.com/bosley/flowlab/transcribe"
)

// State is the phase of a recording session.
type State int

const (
	// Idle waits for the user to start a recording.
	Idle State = iota
	// Preparing counts down before capture begins.
	Preparing
	// Recording is capturing audio.
	Recording
	// Processing is finalizing the clip and waiting on transcription.
	Processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	default:
		return "unknown"
	}
}

// Snapshot is a copy of the session's observable state.
type Snapshot struct {
	State     State
	CanRecord bool
	// Countdown runs 3 -> 0 while Preparing.
	Countdown int
	// Elapsed is whole seconds recorded so far while Recording.
	Elapsed int
	// Result is set after a transcription (or fallback) completes and
	// cleared when the next attempt starts.
	Result *transcribe.Result
}

// Sound is a cue played through the Effects capability.
type Sound int

const (
	SoundCountdown Sound = iota
	SoundGo
	SoundStop
	SoundSaved
	SoundError
)

func (s Sound) String() string {
	switch s {
	case SoundCountdown:
		return "countdown"
	case SoundGo:
		return "go"
	case SoundStop:
		return "stop"
	case SoundSaved:
		return "saved"
	case SoundError:
		return "error"
	default:
		return "unknown"
	}
}

// Notification is a transient, dismissible message for the user.
type Notification struct {
	Title       string
	Description string
	Error       bool
}
