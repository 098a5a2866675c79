package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bosley/flowlab/audio"
)

var (
	// ErrPermissionDenied means the platform refused to hand out an input stream.
	ErrPermissionDenied = errors.New("microphone access denied")

	// ErrCaptureUnsupported means no capture subsystem is available at all.
	ErrCaptureUnsupported = errors.New("audio capture not supported")

	ErrAlreadyRecording = errors.New("recorder already holds a capture stream")
	ErrNotRecording     = errors.New("recorder is not recording")
)

// Stream is a live hardware capture stream.
type Stream interface {
	Start() error
	// Stop halts capture. No chunk is delivered after Stop returns.
	Stop() error
	// Close releases the hardware.
	Close() error
}

// Device opens capture streams that deliver mono int16 chunks.
type Device interface {
	Open(onChunk func(chunk []int16)) (Stream, error)
	SampleRate() int
}

// Prober performs the one-time capability check done at session setup.
type Prober interface {
	Probe() error
}

// Recorder buffers the chunks of one recording attempt and turns them into a
// clip. At most one stream is held at a time.
type Recorder struct {
	device Device

	// mu guards stream. It is never held by the chunk callback, so stopping a
	// stream cannot deadlock against a callback in flight.
	mu     sync.Mutex
	stream Stream

	bufMu  sync.Mutex
	chunks [][]int16
}

func New(device Device) *Recorder {
	return &Recorder{device: device}
}

// StartRecording opens a fresh capture stream and begins buffering chunks.
// Permission is assumed to have been probed already.
func (r *Recorder) StartRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream != nil {
		return ErrAlreadyRecording
	}

	r.bufMu.Lock()
	r.chunks = nil
	r.bufMu.Unlock()

	stream, err := r.device.Open(r.appendChunk)
	if err != nil {
		return fmt.Errorf("failed to open capture stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		if cerr := stream.Close(); cerr != nil {
			slog.Error("Failed to close capture stream", "error", cerr)
		}
		return fmt.Errorf("failed to start capture stream: %w", err)
	}

	r.stream = stream
	slog.Debug("Capture stream started", "sampleRate", r.device.SampleRate())
	return nil
}

func (r *Recorder) appendChunk(chunk []int16) {
	if len(chunk) == 0 {
		return
	}
	buf := make([]int16, len(chunk))
	copy(buf, chunk)

	r.bufMu.Lock()
	r.chunks = append(r.chunks, buf)
	r.bufMu.Unlock()
}

// StopRecording finalizes capture and returns the clip. The stream is closed
// on every path, including errors.
func (r *Recorder) StopRecording(ctx context.Context) (*audio.Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream == nil {
		return nil, ErrNotRecording
	}

	stream := r.stream
	r.stream = nil
	defer func() {
		if err := stream.Close(); err != nil {
			slog.Error("Failed to close capture stream", "error", err)
		}
	}()

	if err := stream.Stop(); err != nil {
		return nil, fmt.Errorf("failed to stop capture stream: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.bufMu.Lock()
	chunks := r.chunks
	r.chunks = nil
	r.bufMu.Unlock()

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	samples := make([]int16, 0, total)
	for _, c := range chunks {
		samples = append(samples, c...)
	}

	clip, err := audio.EncodeWAV(samples, r.device.SampleRate())
	if err != nil {
		return nil, fmt.Errorf("failed to encode clip: %w", err)
	}

	slog.Debug("Capture stream finalized",
		"chunks", len(chunks),
		"samples", total,
		"duration", clip.Duration())

	return clip, nil
}

// ActiveStreams reports how many hardware streams are currently held.
func (r *Recorder) ActiveStreams() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != nil {
		return 1
	}
	return 0
}

// Release drops any held stream without producing a clip. Safe to call at
// any time and more than once.
func (r *Recorder) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream == nil {
		return nil
	}

	stream := r.stream
	r.stream = nil

	r.bufMu.Lock()
	r.chunks = nil
	r.bufMu.Unlock()

	stopErr := stream.Stop()
	closeErr := stream.Close()
	if stopErr != nil {
		return fmt.Errorf("failed to stop capture stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close capture stream: %w", closeErr)
	}
	return nil
}
