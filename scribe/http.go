package scribe

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bosley/flowlab/transcribe"
)

const anonymousClient = "anonymous"

func (s *Scribe) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.corsMiddleware)

	// Transcription
	router.HandleFunc("/api/transcribe", s.withMetrics("/api/transcribe", s.handleTranscribe)).Methods("POST")
	router.HandleFunc("/api/transcriptions/{clientID}", s.withMetrics("/api/transcriptions/{clientID}", s.handleGetHistory)).Methods("GET")

	// Flow Vault
	router.HandleFunc("/api/vault", s.withMetrics("/api/vault", s.handleListVault)).Methods("GET")
	router.HandleFunc("/api/vault", s.withMetrics("/api/vault", s.handleAddVault)).Methods("POST")
	router.HandleFunc("/api/vault/{id}", s.withMetrics("/api/vault/{id}", s.handleDeleteVault)).Methods("DELETE")
	router.HandleFunc("/api/vault/{id}/favorite", s.withMetrics("/api/vault/{id}/favorite", s.handleToggleFavorite)).Methods("POST")

	// Beats library
	router.HandleFunc("/api/beats", s.withMetrics("/api/beats", s.handleListBeats)).Methods("GET")
	router.HandleFunc("/api/audio/{filename}", s.withMetrics("/api/audio/{filename}", s.handleServeBeat)).Methods("GET")

	// Websocket upgrades need the raw ResponseWriter, so no metrics wrapper
	router.HandleFunc("/ws/{clientID}", s.handleWebSocket)

	router.HandleFunc("/health", s.withMetrics("/health", s.handleHealth)).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	router.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return router
}

func (s *Scribe) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+transcribe.ClientIDHeader)
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed admits requests without an Origin (non-browser clients),
// same-host pages and the configured AllowedOrigins. "*" admits any origin.
func (s *Scribe) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// withMetrics wraps an HTTP handler with metrics collection
func (s *Scribe) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		s.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), time.Since(startTime).Seconds())
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			s.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, transcribe.Response{Message: message})
}

// handleTranscribe accepts one base64 clip, waits for a worker to
// transcribe it and answers with the full text and its lines.
func (s *Scribe) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	limit := int64(base64.StdEncoding.EncodedLen(int(s.config.MaxClipBytes))) + 4096
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var req transcribe.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "Audio clip too large")
			return
		}
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Audio) == "" {
		writeMessage(w, http.StatusBadRequest, "No audio data provided")
		return
	}

	data, err := decodeAudio(req.Audio)
	if err != nil {
		slog.Debug("Rejected clip", "error", err)
		writeMessage(w, http.StatusBadRequest, "Invalid audio data")
		return
	}

	clientID := r.Header.Get(transcribe.ClientIDHeader)
	if clientID == "" {
		clientID = anonymousClient
	}

	job := TranscriptionJob{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Audio:     data,
		Filename:  clipFilename(data),
		Timestamp: time.Now(),
		reply:     make(chan jobResult, 1),
	}
	s.metrics.RecordTranscriptionRequest(s.provider.Name(), len(data))

	if err := s.enqueue(job); err != nil {
		slog.Warn("Rejected transcription job", "error", err, "clientID", clientID)
		writeMessage(w, http.StatusServiceUnavailable, "Transcription service busy")
		return
	}

	select {
	case res := <-job.reply:
		if res.err != nil {
			writeJSON(w, http.StatusInternalServerError, transcribe.Response{
				Message: "Transcription failed",
				Error:   res.err.Error(),
			})
			return
		}
		text := res.text
		writeJSON(w, http.StatusOK, transcribe.Response{
			Success:       true,
			Transcription: &text,
			Lines:         res.lines,
		})

	case <-s.stopping:
		writeMessage(w, http.StatusServiceUnavailable, "Server shutting down")

	case <-r.Context().Done():
		slog.Debug("Client went away before transcription finished",
			"jobID", job.ID,
			"clientID", clientID)
	}
}

// decodeAudio accepts raw base64 or a data URL.
func decodeAudio(payload string) ([]byte, error) {
	if strings.HasPrefix(payload, "data:") {
		_, after, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, errors.New("malformed data URL")
		}
		payload = after
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty audio")
	}
	return data, nil
}

// clipFilename names the clip so providers can tell its container format.
func clipFilename(data []byte) string {
	switch http.DetectContentType(data) {
	case "video/webm", "audio/webm":
		return "recording.webm"
	case "audio/mpeg":
		return "recording.mp3"
	case "application/ogg", "audio/ogg":
		return "recording.ogg"
	default:
		return "recording.wav"
	}
}

// handleGetHistory returns the client's transcriptions from today, or all of
// them with ?all=true
func (s *Scribe) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientID"]

	var since time.Time
	if r.URL.Query().Get("all") != "true" {
		now := time.Now()
		since = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	}

	history, err := s.store.Transcriptions(r.Context(), clientID, since)
	if err != nil {
		slog.Error("Failed to load transcription history",
			"error", err,
			"clientID", clientID)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	slog.Debug("Retrieved client transcriptions",
		"clientID", clientID,
		"count", len(history))

	writeJSON(w, http.StatusOK, history)
}

func (s *Scribe) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.beatsMu.RLock()
	beats := len(s.beats)
	s.beatsMu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"uptime":      time.Since(s.startTime).String(),
		"provider":    s.provider.Name(),
		"workers":     s.config.Workers,
		"queue":       len(s.queue),
		"subscribers": s.subscriberCount(),
		"beats":       beats,
	})
}
