package recorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/youpy/go-wav"
)

// BeatPlayer loops a WAV backing beat through the default output device.
// PortAudio must already be initialized.
type BeatPlayer struct {
	path string

	mu     sync.Mutex
	file   *os.File
	reader *wav.Reader
	stream *portaudio.Stream
}

func NewBeatPlayer(path string) *BeatPlayer {
	return &BeatPlayer{path: path}
}

// Start plays the beat from the top. Starting a playing beat is a no-op.
func (p *BeatPlayer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return nil
	}

	file, err := os.Open(p.path)
	if err != nil {
		return fmt.Errorf("failed to open beat file: %w", err)
	}

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to read beat format: %w", err)
	}

	p.file = file
	p.reader = reader

	stream, err := portaudio.OpenDefaultStream(
		0,
		int(format.NumChannels),
		float64(format.SampleRate),
		framesPerBuffer,
		p.fill,
	)
	if err != nil {
		p.closeFile()
		return fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		p.closeFile()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	p.stream = stream
	slog.Debug("Beat playback started", "file", p.path)
	return nil
}

// fill runs on the PortAudio callback thread.
func (p *BeatPlayer) fill(out []int16) {
	samples, err := p.reader.ReadSamples(uint32(len(out)))
	if err == io.EOF {
		// Loop: a fresh reader starts over at the data chunk.
		p.reader = wav.NewReader(p.file)
		samples, err = p.reader.ReadSamples(uint32(len(out)))
	}
	if err != nil && err != io.EOF {
		slog.Error("Error reading from beat file", "error", err)
	}

	for i := 0; i < len(samples) && i < len(out); i++ {
		out[i] = int16(samples[i].Values[0])
	}
	// Fill remaining buffer with silence if needed
	for i := len(samples); i < len(out); i++ {
		out[i] = 0
	}
}

// Stop halts playback and releases the output stream.
func (p *BeatPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}

	stream := p.stream
	p.stream = nil

	err := stream.Stop()
	if cerr := stream.Close(); cerr != nil && err == nil {
		err = cerr
	}
	p.closeFile()

	if err != nil {
		return fmt.Errorf("failed to stop beat playback: %w", err)
	}
	return nil
}

func (p *BeatPlayer) closeFile() {
	if p.file != nil {
		p.file.Close()
		p.file = nil
	}
	p.reader = nil
}

// PlayFile loops a beat through the default output until ctx is cancelled.
func PlayFile(ctx context.Context, path string) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	player := NewBeatPlayer(path)
	if err := player.Start(); err != nil {
		return err
	}
	slog.Info("Playing beat", "path", path)

	<-ctx.Done()
	return player.Stop()
}
