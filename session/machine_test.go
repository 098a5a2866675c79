package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/flowlab/audio"
	"github.com/bosley/flowlab/recorder"
	"github.com/bosley/flowlab/transcribe"
	"github.com/bosley/flowlab/vault"
)

const (
	testTick    = 5 * time.Millisecond
	testWait    = 2 * time.Second
	testPoll    = time.Millisecond
	longCeiling = time.Hour
)

// micDevice is a capture device that emits one chunk when started.
type micDevice struct {
	mu      sync.Mutex
	onChunk func([]int16)
}

type micStream struct{ dev *micDevice }

func (d *micDevice) Open(onChunk func([]int16)) (recorder.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChunk = onChunk
	return &micStream{dev: d}, nil
}

func (d *micDevice) SampleRate() int { return 8000 }

func (s *micStream) Start() error {
	s.dev.onChunk([]int16{1, 2, 3, 4})
	return nil
}
func (s *micStream) Stop() error  { return nil }
func (s *micStream) Close() error { return nil }

type fakeRecorder struct {
	starts   atomic.Int32
	stops    atomic.Int32
	active   atomic.Int32
	startErr error
}

func (r *fakeRecorder) StartRecording() error {
	r.starts.Add(1)
	if r.startErr != nil {
		return r.startErr
	}
	r.active.Store(1)
	return nil
}

func (r *fakeRecorder) StopRecording(ctx context.Context) (*audio.Clip, error) {
	r.stops.Add(1)
	r.active.Store(0)
	return &audio.Clip{MIMEType: audio.MIMETypeWAV, Data: []byte("clip")}, nil
}

func (r *fakeRecorder) Release() error {
	r.active.Store(0)
	return nil
}

type fakeTranscriber struct {
	result *transcribe.Result
	err    error
	panics bool
	gate   chan struct{}
}

func (f *fakeTranscriber) Encode(clip *audio.Clip) (string, error) {
	return transcribe.Encode(clip)
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, payload string) (*transcribe.Result, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.panics {
		panic("transcriber exploded")
	}
	return f.result, f.err
}

type notifications struct {
	mu   sync.Mutex
	list []Notification
}

func (n *notifications) Notify(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, note)
}

func (n *notifications) errors() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, note := range n.list {
		if note.Error {
			count++
		}
	}
	return count
}

func (n *notifications) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.list...)
}

type sounds struct {
	mu     sync.Mutex
	played []Sound
}

func (s *sounds) Play(sound Sound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, sound)
}

func (s *sounds) count(sound Sound) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.played {
		if p == sound {
			n++
		}
	}
	return n
}

type fakeBeat struct {
	playing atomic.Bool
	starts  atomic.Int32
}

func (b *fakeBeat) Start() error {
	b.starts.Add(1)
	b.playing.Store(true)
	return nil
}

func (b *fakeBeat) Stop() error {
	b.playing.Store(false)
	return nil
}

type fakeVault struct {
	mu      sync.Mutex
	entries []vault.NewEntry
}

func (v *fakeVault) AddEntry(ctx context.Context, e vault.NewEntry) (*vault.Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries = append(v.entries, e)
	return &vault.Entry{ID: "id", Content: e.Content, Tags: e.Tags, AddedFrom: e.AddedFrom, LessonID: e.LessonID}, nil
}

func runMachine(t *testing.T, cfg Config) *Machine {
	t.Helper()
	if cfg.TickInterval == 0 {
		cfg.TickInterval = testTick
	}
	if cfg.Ceiling == 0 {
		cfg.Ceiling = longCeiling
	}

	m, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m
}

func waitForState(t *testing.T, m *Machine, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Snapshot().State == want }, testWait, testPoll,
		"state never became %s (last %s)", want, m.Snapshot().State)
}

func successTranscriber() *fakeTranscriber {
	return &fakeTranscriber{result: &transcribe.Result{
		FullText: "Bar one. Bar two.",
		Lines:    []string{"Bar one.", "Bar two."},
	}}
}

func TestHappyPathAgainstEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"transcription":"Bar one. Bar two.","lines":["Bar one.","Bar two."]}`))
	}))
	defer srv.Close()

	rec := recorder.New(&micDevice{})
	notes := &notifications{}
	var states []State
	var statesMu sync.Mutex

	m := runMachine(t, Config{
		Recorder:    rec,
		Transcriber: transcribe.NewClient(transcribe.WithEndpoint(srv.URL)),
		Notifier:    notes,
		OnChange: func(s Snapshot) {
			statesMu.Lock()
			defer statesMu.Unlock()
			if len(states) == 0 || states[len(states)-1] != s.State {
				states = append(states, s.State)
			}
		},
	})

	m.Start()
	waitForState(t, m, Recording)
	assert.Equal(t, 1, rec.ActiveStreams())

	m.Stop()
	require.Eventually(t, func() bool {
		s := m.Snapshot()
		return s.State == Idle && s.Result != nil
	}, testWait, testPoll)

	snap := m.Snapshot()
	assert.Len(t, snap.Result.Lines, 2)
	assert.Equal(t, "Bar one. Bar two.", snap.Result.FullText)
	assert.Zero(t, snap.Elapsed)
	assert.Equal(t, 0, rec.ActiveStreams())
	assert.Zero(t, notes.errors())

	statesMu.Lock()
	defer statesMu.Unlock()
	assert.Equal(t, []State{Idle, Preparing, Recording, Processing, Idle}, states)
}

func TestCountdownTicksThreeTimes(t *testing.T) {
	fx := &sounds{}
	rec := &fakeRecorder{}
	m := runMachine(t, Config{
		Recorder:     rec,
		Transcriber:  successTranscriber(),
		Effects:      fx,
		TickInterval: 50 * time.Millisecond,
	})

	m.Start()
	require.Eventually(t, func() bool { return m.Snapshot().State == Preparing }, testWait, testPoll)
	assert.Equal(t, 3, m.Snapshot().Countdown)
	assert.Zero(t, rec.starts.Load())

	waitForState(t, m, Recording)
	assert.Equal(t, 0, m.Snapshot().Countdown)
	assert.Equal(t, int32(1), rec.starts.Load())
	assert.Equal(t, 3, fx.count(SoundCountdown))
	assert.Equal(t, 1, fx.count(SoundGo))
}

func TestTranscriptionFailureReturnsToIdle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := recorder.New(&micDevice{})
	notes := &notifications{}
	m := runMachine(t, Config{
		Recorder:    rec,
		Transcriber: transcribe.NewClient(transcribe.WithEndpoint(srv.URL)),
		Notifier:    notes,
	})

	m.Start()
	waitForState(t, m, Recording)
	m.Stop()

	require.Eventually(t, func() bool { return notes.errors() == 1 }, testWait, testPoll)
	waitForState(t, m, Idle)

	snap := m.Snapshot()
	assert.Nil(t, snap.Result)
	assert.Equal(t, 1, notes.errors())
	assert.Equal(t, 0, rec.ActiveStreams())
	assert.True(t, snap.CanRecord)
}

func TestPermissionDeniedDisablesStart(t *testing.T) {
	rec := &fakeRecorder{}
	fx := &sounds{}
	notes := &notifications{}
	m := runMachine(t, Config{
		Recorder:    rec,
		Transcriber: successTranscriber(),
		Effects:     fx,
		Notifier:    notes,
		Probe:       func() error { return recorder.ErrPermissionDenied },
	})

	require.Eventually(t, func() bool { return notes.errors() == 1 }, testWait, testPoll)

	m.Start()
	time.Sleep(10 * testTick)

	snap := m.Snapshot()
	assert.False(t, snap.CanRecord)
	assert.Equal(t, Idle, snap.State)
	assert.Zero(t, snap.Countdown)
	assert.Zero(t, fx.count(SoundCountdown))
	assert.Zero(t, rec.starts.Load())
	assert.Equal(t, 1, notes.errors())
}

func TestStopFromIdleIsNoop(t *testing.T) {
	rec := &fakeRecorder{}
	notes := &notifications{}
	var changes atomic.Int32
	m := runMachine(t, Config{
		Recorder:    rec,
		Transcriber: successTranscriber(),
		Notifier:    notes,
		OnChange:    func(Snapshot) { changes.Add(1) },
	})

	require.Eventually(t, func() bool { return changes.Load() == 1 }, testWait, testPoll)

	m.Stop()
	m.Stop()
	time.Sleep(5 * testTick)

	assert.Equal(t, Idle, m.Snapshot().State)
	assert.Equal(t, int32(1), changes.Load())
	assert.Zero(t, rec.stops.Load())
	assert.Empty(t, notes.all())
}

func TestCeilingStopsExactlyOnce(t *testing.T) {
	rec := &fakeRecorder{}
	beat := &fakeBeat{}
	m := runMachine(t, Config{
		Recorder:    rec,
		Transcriber: successTranscriber(),
		Beat:        beat,
		Ceiling:     30 * time.Millisecond,
	})

	m.Start()
	waitForState(t, m, Recording)
	assert.True(t, beat.playing.Load())

	require.Eventually(t, func() bool {
		s := m.Snapshot()
		return s.State == Idle && s.Result != nil
	}, testWait, testPoll)

	// A late manual stop must not run the stop path again.
	m.Stop()
	time.Sleep(5 * testTick)

	assert.Equal(t, int32(1), rec.stops.Load())
	assert.Equal(t, int32(0), rec.active.Load())
	assert.False(t, beat.playing.Load())
	assert.Equal(t, Idle, m.Snapshot().State)
}

func TestManualStopRacingCeiling(t *testing.T) {
	rec := &fakeRecorder{}
	m := runMachine(t, Config{
		Recorder:    rec,
		Transcriber: successTranscriber(),
		Ceiling:     15 * time.Millisecond,
	})

	m.Start()
	waitForState(t, m, Recording)
	time.Sleep(14 * time.Millisecond)
	m.Stop()
	m.Stop()

	require.Eventually(t, func() bool {
		s := m.Snapshot()
		return s.State == Idle && s.Result != nil
	}, testWait, testPoll)
	time.Sleep(5 * testTick)
	assert.Equal(t, int32(1), rec.stops.Load())
}

func TestElapsedCountsAndResets(t *testing.T) {
	rec := &fakeRecorder{}
	m := runMachine(t, Config{
		Recorder:    rec,
		Transcriber: successTranscriber(),
	})

	m.Start()
	waitForState(t, m, Recording)
	require.Eventually(t, func() bool { return m.Snapshot().Elapsed >= 3 }, testWait, testPoll)

	m.Stop()
	waitForState(t, m, Idle)
	assert.Zero(t, m.Snapshot().Elapsed)
}

func TestStartIgnoredWhileBusy(t *testing.T) {
	rec := &fakeRecorder{}
	tr := successTranscriber()
	tr.gate = make(chan struct{})
	m := runMachine(t, Config{Recorder: rec, Transcriber: tr})

	m.Start()
	m.Start()
	waitForState(t, m, Recording)
	m.Start()

	m.Stop()
	waitForState(t, m, Processing)
	m.Start()
	time.Sleep(5 * testTick)
	assert.Equal(t, Processing, m.Snapshot().State)

	close(tr.gate)
	waitForState(t, m, Idle)
	assert.Equal(t, int32(1), rec.starts.Load())
}

func TestNewAttemptClearsResult(t *testing.T) {
	rec := &fakeRecorder{}
	m := runMachine(t, Config{Recorder: rec, Transcriber: successTranscriber()})

	m.Start()
	waitForState(t, m, Recording)
	m.Stop()
	require.Eventually(t, func() bool { return m.Snapshot().Result != nil }, testWait, testPoll)

	m.Start()
	waitForState(t, m, Preparing)
	assert.Nil(t, m.Snapshot().Result)
}

func TestPanicInProcessingReturnsToIdle(t *testing.T) {
	rec := &fakeRecorder{}
	notes := &notifications{}
	m := runMachine(t, Config{
		Recorder:    rec,
		Transcriber: &fakeTranscriber{panics: true},
		Notifier:    notes,
	})

	m.Start()
	waitForState(t, m, Recording)
	m.Stop()

	require.Eventually(t, func() bool { return notes.errors() == 1 }, testWait, testPoll)
	waitForState(t, m, Idle)
	assert.Nil(t, m.Snapshot().Result)
	assert.Equal(t, int32(0), rec.active.Load())
}

func TestSimulatedFallback(t *testing.T) {
	rec := &fakeRecorder{}
	notes := &notifications{}
	m := runMachine(t, Config{
		Recorder:    rec,
		Transcriber: &fakeTranscriber{err: transcribe.ErrTranscriptionFailed},
		Notifier:    notes,
		Fallback:    transcribe.SimulatedFallback{},
	})

	m.Start()
	waitForState(t, m, Recording)
	m.Stop()

	require.Eventually(t, func() bool { return m.Snapshot().Result != nil }, testWait, testPoll)
	snap := m.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.True(t, snap.Result.Simulated)
	assert.Equal(t, transcribe.SimulatedLines, snap.Result.Lines)
	assert.Zero(t, notes.errors())
}

func TestStartRecordingFailure(t *testing.T) {
	rec := &fakeRecorder{startErr: errors.New("device busy")}
	beat := &fakeBeat{}
	notes := &notifications{}
	m := runMachine(t, Config{
		Recorder:    rec,
		Transcriber: successTranscriber(),
		Beat:        beat,
		Notifier:    notes,
	})

	m.Start()
	require.Eventually(t, func() bool { return notes.errors() == 1 }, testWait, testPoll)
	waitForState(t, m, Idle)

	assert.True(t, m.Snapshot().CanRecord)
	assert.False(t, beat.playing.Load())
	assert.Zero(t, rec.stops.Load())
}

func TestTeardownReleasesStream(t *testing.T) {
	rec := recorder.New(&micDevice{})
	beat := &fakeBeat{}

	m, err := New(Config{
		Recorder:     rec,
		Transcriber:  successTranscriber(),
		Beat:         beat,
		TickInterval: testTick,
		Ceiling:      longCeiling,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	m.Start()
	waitForState(t, m, Recording)
	require.Equal(t, 1, rec.ActiveStreams())

	cancel()
	<-done

	assert.Equal(t, 0, rec.ActiveStreams())
	assert.False(t, beat.playing.Load())

	// Commands after teardown must not block.
	m.Start()
	m.Stop()
}

func TestSaveHandsLineToVault(t *testing.T) {
	v := &fakeVault{}
	fx := &sounds{}
	m, err := New(Config{
		Recorder:    &fakeRecorder{},
		Transcriber: successTranscriber(),
		Vault:       v,
		Effects:     fx,
		LessonID:    "setup-punchline",
	})
	require.NoError(t, err)

	_, err = m.Save(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoLineSelected)

	entry, err := m.Save(context.Background(), "Bar one.")
	require.NoError(t, err)
	assert.Equal(t, "Bar one.", entry.Content)

	require.Len(t, v.entries, 1)
	got := v.entries[0]
	assert.Equal(t, []string{"freestyle", "lesson-setup-punchline", "setup-punchline"}, got.Tags)
	assert.Equal(t, vault.SourceFreestyle, got.AddedFrom)
	assert.Equal(t, "setup-punchline", got.LessonID)
	assert.False(t, got.IsFavorite)
	assert.Equal(t, 1, fx.count(SoundSaved))
}

func TestSaveWithoutVault(t *testing.T) {
	m, err := New(Config{Recorder: &fakeRecorder{}, Transcriber: successTranscriber()})
	require.NoError(t, err)

	_, err = m.Save(context.Background(), "line")
	assert.ErrorIs(t, err, ErrNoVault)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{Transcriber: successTranscriber()})
	assert.Error(t, err)

	_, err = New(Config{Recorder: &fakeRecorder{}})
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "preparing", Preparing.String())
	assert.Equal(t, "recording", Recording.String())
	assert.Equal(t, "processing", Processing.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestRunOnlyOnce(t *testing.T) {
	m, err := New(Config{Recorder: &fakeRecorder{}, Transcriber: successTranscriber()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.Snapshot().CanRecord }, testWait, testPoll)
	assert.ErrorIs(t, m.Run(context.Background()), ErrAlreadyRan)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testWait):
		t.Fatal("Run did not return")
	}

	assert.NotPanics(t, func() {
		assert.ErrorIs(t, m.Run(context.Background()), ErrAlreadyRan)
	})
	// commands after Run returned must not block
	m.Start()
	m.Stop()
}
