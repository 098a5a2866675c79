package scribe

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// archiveClip keeps a copy of an uploaded clip under
// <RecordingsDir>/<YYYYMMDD>/<clientID>/audio_<HHMMSS>_<job>.<ext>.
func (s *Scribe) archiveClip(job TranscriptionJob) (string, error) {
	if s.config.RecordingsDir == "" {
		return "", nil
	}

	clientDir := filepath.Join(s.config.RecordingsDir, job.Timestamp.Format("20060102"), safeName(job.ClientID))
	if err := os.MkdirAll(clientDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create client directory: %w", err)
	}

	id := job.ID
	if len(id) > 8 {
		id = id[:8]
	}
	filename := fmt.Sprintf("audio_%s_%s%s", job.Timestamp.Format("150405"), id, filepath.Ext(job.Filename))
	path := filepath.Join(clientDir, filename)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, job.Audio, 0644); err != nil {
		return "", fmt.Errorf("failed to write clip: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize clip: %w", err)
	}

	slog.Debug("Archived clip",
		"clientID", job.ClientID,
		"path", path,
		"bytes", len(job.Audio))
	return path, nil
}

// pruneArchive removes day directories older than keep.
func (s *Scribe) pruneArchive(now time.Time, keep time.Duration) {
	if s.config.RecordingsDir == "" || keep <= 0 {
		return
	}

	entries, err := os.ReadDir(s.config.RecordingsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Failed to read recordings directory", "error", err)
		}
		return
	}

	cutoff := now.Add(-keep)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		day, err := time.ParseInLocation("20060102", entry.Name(), now.Location())
		if err != nil || !day.AddDate(0, 0, 1).Before(cutoff) {
			continue
		}
		path := filepath.Join(s.config.RecordingsDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Error("Failed to prune recordings", "error", err, "path", path)
			continue
		}
		slog.Info("Pruned recordings", "path", path)
	}
}

func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return anonymousClient
	}
	return s
}
