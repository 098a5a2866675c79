package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/youpy/go-riff"
	"github.com/youpy/go-wav"
)

const (
	RecordingSampleRate = 44100 // Rate at which audio is being recorded
	whisperSampleRate   = 16000 // Rate required by Whisper
	channels            = 1     // Mono audio
	bitsPerSample       = 16    // Using int16 for samples
)

// EncodeWAV packs mono int16 samples into a WAV clip.
func EncodeWAV(samples []int16, sampleRate int) (*Clip, error) {
	if sampleRate <= 0 {
		sampleRate = RecordingSampleRate
	}

	var buf bytes.Buffer
	writer := wav.NewWriter(&buf, uint32(len(samples)), channels, uint32(sampleRate), bitsPerSample)

	frames := make([]wav.Sample, len(samples))
	for i, s := range samples {
		frames[i].Values[0] = int(s)
	}
	if err := writer.WriteSamples(frames); err != nil {
		return nil, fmt.Errorf("failed to write WAV samples: %w", err)
	}

	return &Clip{
		MIMEType:   MIMETypeWAV,
		Data:       buf.Bytes(),
		SampleRate: sampleRate,
		Frames:     len(samples),
	}, nil
}

// DecodeWAV reads the mono samples and sample rate back out of WAV data.
func DecodeWAV(data []byte) ([]int16, int, error) {
	reader := wav.NewReader(bytes.NewReader(data))
	format, err := reader.Format()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV format: %w", err)
	}

	samples := make([]int16, 0)
	for {
		chunk, err := reader.ReadSamples()
		for _, s := range chunk {
			samples = append(samples, int16(s.Values[0]))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read WAV samples: %w", err)
		}
	}

	return samples, int(format.SampleRate), nil
}

// FileDuration returns the playing time of a WAV file on disk.
func FileDuration(path string) (time.Duration, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer file.Close()

	return readerDuration(file)
}

func readerDuration(r riff.RIFFReader) (time.Duration, error) {
	d, err := wav.NewReader(r).Duration()
	if err != nil {
		return 0, fmt.Errorf("failed to read WAV duration: %w", err)
	}
	return d, nil
}

// ResampleForWhisper resamples the WAV file to 16kHz mono for Whisper and
// returns the path of the resampled file. The input file is removed.
func ResampleForWhisper(ctx context.Context, inputPath string) (string, error) {
	outputPath := strings.TrimSuffix(inputPath, ".wav") + "_whisper.wav"

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-ar", fmt.Sprintf("%d", whisperSampleRate),
		"-ac", "1",
		"-y", // Overwrite output file
		outputPath)

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to resample audio: %w", err)
	}

	os.Remove(inputPath)

	return outputPath, nil
}
