package scribe

import (
	"time"
)

// TranscriptionJob is one uploaded clip waiting for a worker
type TranscriptionJob struct {
	ID        string
	ClientID  string
	Audio     []byte
	Filename  string
	Timestamp time.Time

	// reply is buffered so a worker never blocks on a departed handler
	reply chan jobResult
}

type jobResult struct {
	text  string
	lines []string
	err   error
}

// TranscriptionMessage is pushed to websocket subscribers for each
// completed transcription
type TranscriptionMessage struct {
	JobID     string    `json:"jobId"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Lines     []string  `json:"lines"`
	Provider  string    `json:"provider"`
}

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	Type      string      `json:"type"`
	ClientID  string      `json:"clientId"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Beat is one backing track in the beats library
type Beat struct {
	Name     string  `json:"name"`
	Title    string  `json:"title"`
	Size     int64   `json:"size"`
	Duration float64 `json:"durationSeconds,omitempty"`
	URL      string  `json:"url"`

	path string
}
