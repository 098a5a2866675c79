package scribe

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/bosley/flowlab/vault"
)

// handleListVault returns entries newest first, filtered by ?tag= and
// ?favorites=true when present.
func (s *Scribe) handleListVault(w http.ResponseWriter, r *http.Request) {
	tag := strings.TrimSpace(r.URL.Query().Get("tag"))
	favorites := r.URL.Query().Get("favorites") == "true"

	var (
		entries []vault.Entry
		err     error
	)
	if favorites {
		entries, err = s.store.Favorites(r.Context())
	} else {
		entries, err = s.store.All(r.Context())
	}
	if err != nil {
		slog.Error("Failed to list vault entries", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if tag != "" {
		filtered := make([]vault.Entry, 0, len(entries))
		for _, e := range entries {
			if e.HasTag(tag) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	writeJSON(w, http.StatusOK, entries)
}

func (s *Scribe) handleAddVault(w http.ResponseWriter, r *http.Request) {
	var in vault.NewEntry
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&in); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	entry, err := s.store.AddEntry(r.Context(), in)
	switch {
	case errors.Is(err, vault.ErrEmptyContent):
		writeMessage(w, http.StatusBadRequest, "No line selected")
		return
	case errors.Is(err, vault.ErrInvalidSource):
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("Failed to add vault entry", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.metrics.RecordVaultEntryAdded()
	slog.Info("Added vault entry",
		"id", entry.ID,
		"source", entry.AddedFrom,
		"lessonID", entry.LessonID)

	writeJSON(w, http.StatusCreated, entry)
}

func (s *Scribe) handleDeleteVault(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := s.store.Delete(r.Context(), id)
	if errors.Is(err, vault.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "Entry not found")
		return
	}
	if err != nil {
		slog.Error("Failed to delete vault entry", "error", err, "id", id)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.metrics.RecordVaultEntryDeleted()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Scribe) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	entry, err := s.store.ToggleFavorite(r.Context(), id)
	if errors.Is(err, vault.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "Entry not found")
		return
	}
	if err != nil {
		slog.Error("Failed to toggle favorite", "error", err, "id", id)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}
