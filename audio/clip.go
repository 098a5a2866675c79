package audio

import (
	"time"
)

const MIMETypeWAV = "audio/wav"

// Clip is one finalized recording: every captured chunk of a single attempt
// concatenated and encoded. A Clip is never modified after it is built.
type Clip struct {
	MIMEType   string
	Data       []byte
	SampleRate int
	Frames     int
}

// Duration is the playing time of the clip.
func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames) * time.Second / time.Duration(c.SampleRate)
}

// Filename is the name the clip is uploaded under.
func (c *Clip) Filename() string {
	switch c.MIMEType {
	case "audio/webm":
		return "audio.webm"
	default:
		return "audio.wav"
	}
}
