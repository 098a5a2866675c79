package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/bosley/flowlab/audio"
)

// CommandRunner executes an external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// LocalProvider runs a whisper command line binary over a resampled copy of
// the clip.
type LocalProvider struct {
	WhisperPath  string
	WhisperModel string
	// WorkDir receives temporary audio files. Empty uses os.TempDir.
	WorkDir string

	run      CommandRunner
	resample func(ctx context.Context, path string) (string, error)
}

func NewLocalProvider(whisperPath, whisperModel, workDir string) *LocalProvider {
	return &LocalProvider{
		WhisperPath:  whisperPath,
		WhisperModel: whisperModel,
		WorkDir:      workDir,
		run:          execCommand,
		resample:     audio.ResampleForWhisper,
	}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Transcribe(ctx context.Context, r io.Reader, filename string) (string, error) {
	tmp, err := os.CreateTemp(p.WorkDir, "clip-*.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create temp audio file: %w", err)
	}
	inputPath := tmp.Name()
	defer os.Remove(inputPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write temp audio file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write temp audio file: %w", err)
	}

	whisperPath, err := p.resample(ctx, inputPath)
	if err != nil {
		return "", err
	}
	defer os.Remove(whisperPath)

	slog.Debug("Executing whisper command",
		"binary", p.WhisperPath,
		"model", p.WhisperModel,
		"file", whisperPath,
		"source", filename)

	output, err := p.run(ctx, p.WhisperPath, "--model", p.WhisperModel, whisperPath)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			slog.Debug("Whisper command failed",
				"stderr", string(exitErr.Stderr),
				"exitCode", exitErr.ExitCode())
		}
		return "", fmt.Errorf("whisper execution failed: %w", err)
	}

	text := extractText(string(output))
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// extractText joins whisper's subtitle-style output into one string,
// dropping blank lines and [BLANK_AUDIO] markers.
func extractText(output string) string {
	var builder strings.Builder
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "[BLANK_AUDIO]") {
			continue
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString(" ")
		}
		builder.WriteString(text)
	}
	return builder.String()
}
