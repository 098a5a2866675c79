package scribe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bosley/flowlab/metrics"
	"github.com/bosley/flowlab/vault"
	"github.com/bosley/flowlab/whisper"
)

// Configuration for the Scribe service
type Config struct {
	// Certificate files for TLS. Both empty serves plain HTTP.
	CertFile string
	KeyFile  string

	// HTTP server address
	HTTPAddr string

	// Directory of backing beats served to clients. Empty disables the
	// beats library.
	BeatsDir string

	// Number of worker goroutines calling the provider
	Workers int

	// Capacity of the job queue; a full queue rejects new clips.
	QueueSize int

	// Largest decoded clip accepted
	MaxClipBytes int64

	// Directory receiving a copy of every uploaded clip, laid out by day and
	// client. Empty disables archiving.
	RecordingsDir string

	// Archived days older than this are pruned daily. Zero keeps everything.
	RetainRecordings time.Duration

	// Bound on a single provider call
	ProviderTimeout time.Duration

	// Browser origins allowed to call the API and open websockets, besides
	// the server's own host. "*" allows any origin.
	AllowedOrigins []string
}

// Scribe is the flowlab server: it transcribes uploaded clips, stores the
// Flow Vault and serves the beats library.
type Scribe struct {
	config   Config
	provider whisper.Provider
	store    *vault.Store
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	// Beats library
	watcher *fsnotify.Watcher
	beatsMu sync.RWMutex
	beats   map[string]Beat

	// Websocket subscribers per client
	subMu       sync.Mutex
	subscribers map[string][]*wsConnection

	// Processing queue
	queue    chan TranscriptionJob
	workers  sync.WaitGroup
	stopping chan struct{}
	stopOnce sync.Once

	// HTTP/Websocket
	router    *mux.Router
	server    *http.Server
	upgrader  websocket.Upgrader
	startTime time.Time
}

// New creates a new Scribe instance. Collectors are registered with reg and
// exposed on /metrics.
func New(cfg Config, provider whisper.Provider, store *vault.Store, reg *prometheus.Registry) (*Scribe, error) {
	if provider == nil {
		return nil, errors.New("scribe requires a transcription provider")
	}
	if store == nil {
		return nil, errors.New("scribe requires a vault store")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.MaxClipBytes <= 0 {
		cfg.MaxClipBytes = 25 << 20
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 2 * time.Minute
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Scribe{
		config:      cfg,
		provider:    provider,
		store:       store,
		metrics:     metrics.New(reg),
		gatherer:    reg,
		beats:       make(map[string]Beat),
		subscribers: make(map[string][]*wsConnection),
		queue:       make(chan TranscriptionJob, cfg.QueueSize),
		stopping:    make(chan struct{}),
		startTime:   time.Now(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.originAllowed}

	if cfg.BeatsDir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		s.watcher = watcher

		if err := s.loadBeats(); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	s.router = s.routes()
	s.server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			if s.watcher != nil {
				s.watcher.Close()
			}
			return nil, fmt.Errorf("failed to load TLS certificates: %w", err)
		}
		s.server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	return s, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Scribe) Handler() http.Handler {
	return s.router
}

// Start runs the worker pool, the beats watcher and the HTTP server. It
// blocks until ctx is cancelled or the server fails.
func (s *Scribe) Start(ctx context.Context) error {
	s.startWorkers(ctx)

	if s.watcher != nil {
		go s.watchBeats(ctx)
	}

	if s.config.RecordingsDir != "" && s.config.RetainRecordings > 0 {
		go s.pruneLoop(ctx)
	}

	return s.serve(ctx)
}

func (s *Scribe) startWorkers(ctx context.Context) {
	for i := 0; i < s.config.Workers; i++ {
		s.workers.Add(1)
		go s.worker(ctx)
	}
}

func (s *Scribe) pruneLoop(ctx context.Context) {
	s.pruneArchive(time.Now(), s.config.RetainRecordings)

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.pruneArchive(now, s.config.RetainRecordings)
		}
	}
}

func (s *Scribe) serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server",
			"addr", s.config.HTTPAddr,
			"tls", s.server.TLSConfig != nil,
			"provider", s.provider.Name())

		if s.server.TLSConfig != nil {
			errCh <- s.server.ListenAndServeTLS("", "")
		} else {
			errCh <- s.server.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the Scribe service. Only the first call does
// any work.
func (s *Scribe) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() { err = s.shutdown(ctx) })
	return err
}

func (s *Scribe) shutdown(ctx context.Context) error {
	close(s.stopping)

	// Stop the HTTP server first so no handler can enqueue after the queue closes
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}

	s.closeSubscribers()
	close(s.queue)

	// Wait for workers to finish
	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out")
	}

	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			return fmt.Errorf("failed to close file watcher: %w", err)
		}
	}

	return nil
}
