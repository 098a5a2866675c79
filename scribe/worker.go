package scribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bosley/flowlab/transcribe"
	"github.com/bosley/flowlab/whisper"
)

func (s *Scribe) worker(ctx context.Context) {
	slog.Debug("Worker starting")
	defer func() {
		slog.Debug("Worker shutting down")
		s.workers.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Worker context cancelled")
			return

		case job, ok := <-s.queue:
			if !ok {
				slog.Debug("Worker queue closed")
				return
			}
			s.metrics.SetQueueSize(len(s.queue))

			if err := s.processJob(ctx, job); err != nil {
				slog.Error("Failed to process transcription job",
					"error", err,
					"jobID", job.ID,
					"clientID", job.ClientID)
			}
		}
	}
}

// enqueue hands a job to the worker pool without blocking.
func (s *Scribe) enqueue(job TranscriptionJob) error {
	select {
	case <-s.stopping:
		return errShuttingDown
	default:
	}

	select {
	case s.queue <- job:
		s.metrics.SetQueueSize(len(s.queue))
		slog.Debug("Queued clip for transcription",
			"jobID", job.ID,
			"clientID", job.ClientID,
			"bytes", len(job.Audio))
		return nil
	default:
		return errQueueFull
	}
}

var (
	errQueueFull    = errors.New("job queue is full")
	errShuttingDown = errors.New("server is shutting down")
)

func (s *Scribe) processJob(ctx context.Context, job TranscriptionJob) error {
	provider := s.provider.Name()
	slog.Info("Processing clip",
		"jobID", job.ID,
		"clientID", job.ClientID,
		"file", job.Filename,
		"provider", provider)

	if _, err := s.archiveClip(job); err != nil {
		slog.Error("Failed to archive clip", "error", err, "jobID", job.ID)
	}

	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()

	text, err := s.provider.Transcribe(pctx, bytes.NewReader(job.Audio), job.Filename)
	if errors.Is(err, whisper.ErrNoSpeech) {
		slog.Info("No transcribable content found", "jobID", job.ID, "clientID", job.ClientID)
		text, err = "", nil
	}
	if err != nil {
		s.metrics.RecordTranscriptionFailure(provider, time.Since(start).Seconds())
		job.reply <- jobResult{err: err}
		return fmt.Errorf("transcription failed: %w", err)
	}

	lines := transcribe.SplitIntoLines(text)
	s.metrics.RecordTranscriptionSuccess(provider, len(lines), time.Since(start).Seconds())
	job.reply <- jobResult{text: text, lines: lines}

	if text == "" {
		return nil
	}

	// The caller already has its answer; history and websocket delivery are
	// best effort from here on.
	if _, err := s.store.RecordTranscription(context.WithoutCancel(ctx), job.ClientID, text, lines); err != nil {
		slog.Error("Failed to record transcription history",
			"error", err,
			"clientID", job.ClientID)
	}

	msg := TranscriptionMessage{
		JobID:     job.ID,
		Timestamp: job.Timestamp,
		Text:      text,
		Lines:     lines,
		Provider:  provider,
	}

	wsMsg := WebSocketMessage{
		Type:      "transcription",
		ClientID:  job.ClientID,
		Timestamp: time.Now(),
		Payload:   msg,
	}

	data, err := json.Marshal(wsMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	s.broadcast(job.ClientID, data)

	slog.Info("Successfully transcribed clip",
		"jobID", job.ID,
		"clientID", job.ClientID,
		"lines", len(lines),
		"duration", time.Since(start))

	return nil
}
