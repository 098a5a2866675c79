package scribe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"

	"github.com/bosley/flowlab/audio"
)

var beatContentTypes = map[string]string{
	".wav": "audio/wav",
	".mp3": "audio/mpeg",
}

func isBeatFile(name string) bool {
	if strings.HasPrefix(filepath.Base(name), ".") || strings.HasSuffix(name, ".tmp") {
		return false
	}
	_, ok := beatContentTypes[strings.ToLower(filepath.Ext(name))]
	return ok
}

// loadBeats scans the beats directory, creating it if needed.
func (s *Scribe) loadBeats() error {
	if err := os.MkdirAll(s.config.BeatsDir, 0755); err != nil {
		return fmt.Errorf("failed to create beats directory: %w", err)
	}

	entries, err := os.ReadDir(s.config.BeatsDir)
	if err != nil {
		return fmt.Errorf("failed to read beats directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isBeatFile(entry.Name()) {
			continue
		}
		s.addBeat(filepath.Join(s.config.BeatsDir, entry.Name()))
	}

	slog.Info("Loaded beats library",
		"path", s.config.BeatsDir,
		"beats", len(s.beats))
	return nil
}

func (s *Scribe) watchBeats(ctx context.Context) {
	if err := s.watcher.Add(s.config.BeatsDir); err != nil {
		slog.Error("Failed to start watching beats directory",
			"error", err,
			"path", s.config.BeatsDir)
		return
	}

	slog.Info("Started watching beats directory", "path", s.config.BeatsDir)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleBeatEvent(event)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

func (s *Scribe) handleBeatEvent(event fsnotify.Event) {
	if !isBeatFile(event.Name) {
		return
	}

	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		s.removeBeat(event.Name)
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		s.addBeat(event.Name)
	}
}

func (s *Scribe) addBeat(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	name := filepath.Base(path)
	beat := Beat{
		Name:  name,
		Title: beatTitle(name),
		Size:  info.Size(),
		URL:   "/api/audio/" + url.PathEscape(name),
		path:  path,
	}

	if strings.EqualFold(filepath.Ext(name), ".wav") {
		// A file still being copied in fails here and is picked up again
		// on its next write event.
		if d, err := audio.FileDuration(path); err == nil {
			beat.Duration = d.Seconds()
		}
	}

	s.beatsMu.Lock()
	_, existed := s.beats[name]
	s.beats[name] = beat
	s.beatsMu.Unlock()

	if !existed {
		slog.Info("Added beat", "name", name, "size", info.Size())
	}
}

func (s *Scribe) removeBeat(path string) {
	name := filepath.Base(path)

	s.beatsMu.Lock()
	_, existed := s.beats[name]
	delete(s.beats, name)
	s.beatsMu.Unlock()

	if existed {
		slog.Info("Removed beat", "name", name)
	}
}

// beatTitle turns "boom-bap_90.wav" into "boom bap 90".
func beatTitle(name string) string {
	title := strings.TrimSuffix(name, filepath.Ext(name))
	title = strings.NewReplacer("-", " ", "_", " ").Replace(title)
	return strings.Join(strings.Fields(title), " ")
}

// handleListBeats returns the library sorted by title, filtered by ?q=
// against title or file name.
func (s *Scribe) handleListBeats(w http.ResponseWriter, r *http.Request) {
	query := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))

	s.beatsMu.RLock()
	beats := make([]Beat, 0, len(s.beats))
	for _, beat := range s.beats {
		if query != "" &&
			!strings.Contains(strings.ToLower(beat.Title), query) &&
			!strings.Contains(strings.ToLower(beat.Name), query) {
			continue
		}
		beats = append(beats, beat)
	}
	s.beatsMu.RUnlock()

	sort.Slice(beats, func(i, j int) bool { return beats[i].Title < beats[j].Title })
	writeJSON(w, http.StatusOK, beats)
}

// handleServeBeat streams one beat. Only names in the library are served,
// so paths outside the beats directory are unreachable.
func (s *Scribe) handleServeBeat(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["filename"]

	s.beatsMu.RLock()
	beat, ok := s.beats[name]
	s.beatsMu.RUnlock()

	if !ok || name != filepath.Base(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Audio file not found"})
		return
	}

	w.Header().Set("Content-Type", beatContentTypes[strings.ToLower(filepath.Ext(name))])
	http.ServeFile(w, r, beat.path)
}
