package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bosley/flowlab/audio"
	"github.com/bosley/flowlab/transcribe"
	"github.com/bosley/flowlab/vault"
)

const (
	DefaultCountdown    = 3
	DefaultTickInterval = time.Second
	DefaultCeiling      = 60 * time.Second
)

var (
	ErrNoLineSelected = errors.New("no line selected")
	ErrNoVault        = errors.New("no vault configured")
	ErrAlreadyRan     = errors.New("session machine already ran")
)

// Recorder captures one clip per attempt.
type Recorder interface {
	StartRecording() error
	StopRecording(ctx context.Context) (*audio.Clip, error)
	Release() error
}

// Transcriber turns a clip into lines.
type Transcriber interface {
	Encode(clip *audio.Clip) (string, error)
	Transcribe(ctx context.Context, payload string) (*transcribe.Result, error)
}

// Beat is the backing track played while recording.
type Beat interface {
	Start() error
	Stop() error
}

// Effects plays sound cues.
type Effects interface {
	Play(Sound)
}

// Notifier shows transient messages.
type Notifier interface {
	Notify(Notification)
}

// VaultWriter persists saved lines.
type VaultWriter interface {
	AddEntry(ctx context.Context, entry vault.NewEntry) (*vault.Entry, error)
}

// Config wires a Machine to its collaborators. Recorder and Transcriber are
// required; everything else is optional.
type Config struct {
	Recorder    Recorder
	Transcriber Transcriber

	// Probe is the one-time capability check. A nil Probe means recording is
	// always available; an error disables recording for the machine's life.
	Probe func() error

	Beat     Beat
	Effects  Effects
	Notifier Notifier
	Fallback transcribe.Fallback
	Vault    VaultWriter

	// LessonID tags lines saved from this session.
	LessonID string

	Countdown    int
	TickInterval time.Duration
	Ceiling      time.Duration

	// OnChange is called on the machine goroutine after every state change.
	OnChange func(Snapshot)
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
)

type outcome struct {
	result *transcribe.Result
	err    error
}

// Machine is the recording session state machine. All transitions run on the
// goroutine executing Run, so handlers never interleave.
type Machine struct {
	cfg Config

	commands chan commandKind
	outcomes chan outcome
	done     chan struct{}
	ran      atomic.Bool

	mu   sync.RWMutex
	snap Snapshot

	// Owned by the Run goroutine.
	countdown   *time.Ticker
	elapsed     *time.Ticker
	ceiling     *time.Timer
	beatPlaying bool
}

func New(cfg Config) (*Machine, error) {
	if cfg.Recorder == nil {
		return nil, errors.New("session requires a recorder")
	}
	if cfg.Transcriber == nil {
		return nil, errors.New("session requires a transcriber")
	}
	if cfg.Effects == nil {
		cfg.Effects = nopEffects{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = logNotifier{}
	}
	if cfg.Fallback == nil {
		cfg.Fallback = transcribe.NoFallback{}
	}
	if cfg.Countdown <= 0 {
		cfg.Countdown = DefaultCountdown
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}

	return &Machine{
		cfg:      cfg,
		commands: make(chan commandKind, 8),
		outcomes: make(chan outcome, 1),
		done:     make(chan struct{}),
	}, nil
}

// Snapshot returns the current observable state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Start requests a new recording. It has no effect unless the session is
// idle and recording is available.
func (m *Machine) Start() {
	m.send(cmdStart)
}

// Stop ends an active recording. It has no effect in any other state.
func (m *Machine) Stop() {
	m.send(cmdStop)
}

func (m *Machine) send(c commandKind) {
	select {
	case m.commands <- c:
	case <-m.done:
	}
}

// Save hands a selected line to the vault.
func (m *Machine) Save(ctx context.Context, line string) (*vault.Entry, error) {
	if line == "" {
		return nil, ErrNoLineSelected
	}
	if m.cfg.Vault == nil {
		return nil, ErrNoVault
	}

	tags := []string{"freestyle", "lesson-" + m.cfg.LessonID}
	if m.cfg.LessonID == "setup-punchline" {
		tags = append(tags, "setup-punchline")
	}

	entry, err := m.cfg.Vault.AddEntry(ctx, vault.NewEntry{
		Content:    line,
		Tags:       tags,
		AddedFrom:  vault.SourceFreestyle,
		LessonID:   m.cfg.LessonID,
		IsFavorite: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save line: %w", err)
	}

	m.cfg.Effects.Play(SoundSaved)
	description := "Your line has been saved to your collection"
	if m.cfg.LessonID == "setup-punchline" {
		description = "Your punchline has been saved to your collection"
	}
	m.cfg.Notifier.Notify(Notification{Title: "Added to Flow Vault!", Description: description})
	return entry, nil
}

// Run drives the machine until ctx is cancelled. On return every timer is
// stopped, the beat is silenced and the recorder's stream is released.
// A Machine runs once; later calls return ErrAlreadyRan.
func (m *Machine) Run(ctx context.Context) error {
	if !m.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRan
	}
	defer close(m.done)
	defer m.teardown()

	m.setup()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-m.commands:
			switch c {
			case cmdStart:
				m.handleStart()
			case cmdStop:
				m.handleStop(ctx)
			}
		case <-tickerC(m.countdown):
			m.handleCountdownTick(ctx)
		case <-tickerC(m.elapsed):
			m.handleElapsedTick()
		case <-timerC(m.ceiling):
			m.ceiling = nil
			slog.Info("Recording ceiling reached", "ceiling", m.cfg.Ceiling)
			m.handleStop(ctx)
		case o := <-m.outcomes:
			m.handleOutcome(o)
		}
	}
}

func (m *Machine) setup() {
	canRecord := true
	if m.cfg.Probe != nil {
		if err := m.cfg.Probe(); err != nil {
			canRecord = false
			slog.Error("Audio capture unavailable", "error", err)
			m.cfg.Notifier.Notify(Notification{
				Title:       "Recording Error",
				Description: fmt.Sprintf("Recording is unavailable: %v", err),
				Error:       true,
			})
		}
	}
	m.update(func(s *Snapshot) {
		s.State = Idle
		s.CanRecord = canRecord
	})
}

func (m *Machine) teardown() {
	m.stopCountdown()
	m.stopRecordingTimers()
	m.stopBeat()
	if err := m.cfg.Recorder.Release(); err != nil {
		slog.Error("Failed to release recorder", "error", err)
	}
}

func (m *Machine) handleStart() {
	snap := m.Snapshot()
	if snap.State != Idle {
		slog.Debug("Ignoring start while busy", "state", snap.State)
		return
	}
	if !snap.CanRecord {
		slog.Debug("Ignoring start, recording unavailable")
		return
	}

	m.update(func(s *Snapshot) {
		s.State = Preparing
		s.Countdown = m.cfg.Countdown
		s.Elapsed = 0
		s.Result = nil
	})
	m.cfg.Effects.Play(SoundCountdown)
	m.countdown = time.NewTicker(m.cfg.TickInterval)
}

func (m *Machine) handleCountdownTick(ctx context.Context) {
	remaining := m.Snapshot().Countdown - 1
	if remaining > 0 {
		m.update(func(s *Snapshot) { s.Countdown = remaining })
		m.cfg.Effects.Play(SoundCountdown)
		return
	}

	m.stopCountdown()
	m.update(func(s *Snapshot) {
		s.Countdown = 0
		s.State = Recording
	})
	m.beginRecording(ctx)
}

func (m *Machine) beginRecording(ctx context.Context) {
	m.startBeat()

	if err := m.cfg.Recorder.StartRecording(); err != nil {
		slog.Error("Failed to start recording", "error", err)
		m.stopBeat()
		if rerr := m.cfg.Recorder.Release(); rerr != nil {
			slog.Error("Failed to release recorder", "error", rerr)
		}
		m.cfg.Effects.Play(SoundError)
		m.cfg.Notifier.Notify(Notification{
			Title:       "Recording Error",
			Description: "There was a problem recording your freestyle.",
			Error:       true,
		})
		m.update(func(s *Snapshot) {
			s.State = Idle
			s.Elapsed = 0
		})
		return
	}

	m.cfg.Effects.Play(SoundGo)
	m.elapsed = time.NewTicker(m.cfg.TickInterval)
	m.ceiling = time.NewTimer(m.cfg.Ceiling)
	slog.Info("Recording started", "ceiling", m.cfg.Ceiling)
}

func (m *Machine) handleElapsedTick() {
	m.update(func(s *Snapshot) { s.Elapsed++ })
}

// handleStop is the single stop path shared by manual stop and the ceiling
// timer. Only the first call per recording gets past the state check.
func (m *Machine) handleStop(ctx context.Context) {
	if m.Snapshot().State != Recording {
		return
	}

	m.stopRecordingTimers()
	m.stopBeat()
	m.cfg.Effects.Play(SoundStop)
	m.update(func(s *Snapshot) { s.State = Processing })

	// In-flight transcriptions are never aborted, even on teardown.
	go m.process(context.WithoutCancel(ctx))
}

// process finalizes the clip and transcribes it. It always delivers exactly
// one outcome, even if a collaborator panics.
func (m *Machine) process(ctx context.Context) {
	var o outcome
	defer func() {
		if r := recover(); r != nil {
			o = outcome{err: fmt.Errorf("processing panicked: %v", r)}
		}
		select {
		case m.outcomes <- o:
		case <-m.done:
		}
	}()

	clip, err := m.cfg.Recorder.StopRecording(ctx)
	if err != nil {
		o.err = fmt.Errorf("failed to stop recording: %w", err)
		return
	}

	payload, err := m.cfg.Transcriber.Encode(clip)
	if err != nil {
		o.err = fmt.Errorf("failed to encode clip: %w", err)
		return
	}

	result, err := m.cfg.Transcriber.Transcribe(ctx, payload)
	if err != nil {
		o.err = err
		return
	}
	o.result = result
}

func (m *Machine) handleOutcome(o outcome) {
	if err := m.cfg.Recorder.Release(); err != nil {
		slog.Error("Failed to release recorder", "error", err)
	}

	result := o.result
	if o.err != nil {
		slog.Error("Error processing recording", "error", o.err)
		if fallback, ok := m.cfg.Fallback.Recover(o.err); ok {
			slog.Warn("Using simulated transcription")
			result = fallback
			m.cfg.Notifier.Notify(Notification{
				Title:       "Freestyle Recorded!",
				Description: "Your freestyle has been transcribed below (simulated data)",
			})
		} else {
			m.cfg.Effects.Play(SoundError)
			m.cfg.Notifier.Notify(Notification{
				Title:       "Transcription Error",
				Description: "Couldn't transcribe your freestyle. Please try again.",
				Error:       true,
			})
		}
	} else {
		slog.Info("Freestyle transcribed", "lines", len(result.Lines))
		m.cfg.Notifier.Notify(Notification{
			Title:       "Freestyle Transcribed!",
			Description: "Your freestyle has been transcribed successfully.",
		})
	}

	m.update(func(s *Snapshot) {
		s.State = Idle
		s.Elapsed = 0
		s.Result = result
	})
}

func (m *Machine) startBeat() {
	if m.cfg.Beat == nil {
		return
	}
	if err := m.cfg.Beat.Start(); err != nil {
		slog.Warn("Failed to start beat", "error", err)
		return
	}
	m.beatPlaying = true
}

func (m *Machine) stopBeat() {
	if m.cfg.Beat == nil || !m.beatPlaying {
		return
	}
	m.beatPlaying = false
	if err := m.cfg.Beat.Stop(); err != nil {
		slog.Warn("Failed to stop beat", "error", err)
	}
}

func (m *Machine) stopCountdown() {
	if m.countdown != nil {
		m.countdown.Stop()
		m.countdown = nil
	}
}

func (m *Machine) stopRecordingTimers() {
	if m.elapsed != nil {
		m.elapsed.Stop()
		m.elapsed = nil
	}
	if m.ceiling != nil {
		m.ceiling.Stop()
		m.ceiling = nil
	}
}

func (m *Machine) update(fn func(*Snapshot)) {
	m.mu.Lock()
	fn(&m.snap)
	snap := m.snap
	m.mu.Unlock()

	if m.cfg.OnChange != nil {
		m.cfg.OnChange(snap)
	}
}

// tickerC and timerC return nil channels for absent timers; receiving from a
// nil channel blocks forever, which disables that select case.
func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

type nopEffects struct{}

func (nopEffects) Play(Sound) {}

type logNotifier struct{}

func (logNotifier) Notify(n Notification) {
	if n.Error {
		slog.Error(n.Title, "description", n.Description)
		return
	}
	slog.Info(n.Title, "description", n.Description)
}
