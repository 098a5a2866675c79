// Package client is the interactive terminal front end: it owns the
// microphone, drives a recording session and talks to a flowlab server.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/bosley/flowlab/recorder"
	"github.com/bosley/flowlab/session"
	"github.com/bosley/flowlab/transcribe"
	"github.com/bosley/flowlab/vault"
)

// Config for a terminal session
type Config struct {
	ServerURL  string
	Insecure   bool
	ServerCert string

	DeviceID int
	LessonID string
	BeatPath string
	LockFile string

	// DevFallback shows simulated lines when transcription fails.
	DevFallback bool
	Countdown   int
	Ceiling     time.Duration

	In  io.Reader
	Out io.Writer
}

// Launch takes the microphone lock, probes the capture device and runs the
// command loop until ctx is cancelled or the user quits.
func Launch(ctx context.Context, cfg Config) error {
	slog.Debug("Starting client",
		"serverURL", cfg.ServerURL,
		"deviceID", cfg.DeviceID,
		"lesson", cfg.LessonID)

	lock := flock.New(cfg.LockFile)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire microphone lock: %w", err)
	}
	if !ok {
		return errors.New("another flowlab client already owns the microphone")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("Failed to release microphone lock", "error", err)
		}
	}()

	httpClient, err := newHTTPClient(cfg.Insecure, cfg.ServerCert)
	if err != nil {
		return err
	}

	device := recorder.NewPortAudioDevice(cfg.DeviceID)
	defer func() {
		if err := device.Terminate(); err != nil {
			slog.Error("Failed to terminate PortAudio", "error", err)
		}
	}()
	meter := newMeterDevice(device)

	clientID := uuid.NewString()
	slog.Info("Client ready", "clientID", clientID)

	serverURL := strings.TrimRight(cfg.ServerURL, "/")
	transcriber := transcribe.NewClient(
		transcribe.WithEndpoint(serverURL+"/api/transcribe"),
		transcribe.WithClientID(clientID),
		transcribe.WithHTTPClient(httpClient),
	)
	vaultClient := vault.NewClient(serverURL, httpClient)

	app := newApp(cfg.In, cfg.Out, vaultClient)
	app.level = meter.Level
	if cfg.Ceiling > 0 {
		app.ceiling = cfg.Ceiling
	}

	sessionCfg := session.Config{
		Recorder:    recorder.New(meter),
		Transcriber: transcriber,
		Probe:       device.Probe,
		Effects:     app,
		Notifier:    app,
		Vault:       vaultClient,
		LessonID:    cfg.LessonID,
		Countdown:   cfg.Countdown,
		Ceiling:     cfg.Ceiling,
		OnChange:    app.render,
	}
	if cfg.BeatPath != "" {
		sessionCfg.Beat = recorder.NewBeatPlayer(cfg.BeatPath)
	}
	if cfg.DevFallback {
		sessionCfg.Fallback = transcribe.SimulatedFallback{}
	}

	machine, err := session.New(sessionCfg)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	app.machine = machine

	return app.Run(ctx)
}

type vaultLister interface {
	List(ctx context.Context, tag string, favorites bool) ([]vault.Entry, error)
}

// App is the command loop around one session machine. It is also the
// session's Notifier and Effects.
type App struct {
	machine  *session.Machine
	vault    vaultLister
	in       io.Reader
	out      io.Writer
	colorize bool
	level    func() float64
	ceiling  time.Duration

	mu       sync.Mutex
	lines    []string
	shown    *transcribe.Result
	lastLine string
}

func newApp(in io.Reader, out io.Writer, v vaultLister) *App {
	return &App{
		vault:    v,
		in:       in,
		out:      out,
		colorize: shouldColorize(out),
		level:    func() float64 { return 0 },
		ceiling:  session.DefaultCeiling,
	}
}

// Run drives the machine and reads commands until ctx is cancelled, input
// ends or the user quits.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- a.machine.Run(ctx)
	}()

	a.println(helpText)
	commands := a.readCommands(ctx)

	for {
		select {
		case <-ctx.Done():
			return <-done

		case line, ok := <-commands:
			if !ok || a.handleCommand(ctx, line) {
				cancel()
				return <-done
			}
		}
	}
}

func (a *App) readCommands(ctx context.Context) <-chan string {
	commands := make(chan string)
	go func() {
		defer close(commands)
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			select {
			case commands <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Error("Failed to read input", "error", err)
		}
	}()
	return commands
}

const helpText = `Commands:
  <enter>         start or stop recording
  save <n>        save line n to the Flow Vault
  lines           show the last transcription
  vault [tag]     list saved lines, optionally by tag
  favorites       list favorite lines
  help            show this help
  quit            exit`

// handleCommand runs one command and reports whether the user asked to quit.
func (a *App) handleCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		a.toggle()
		return false
	}

	switch strings.ToLower(fields[0]) {
	case "r", "record", "start", "stop":
		a.toggle()
	case "save", "s":
		a.save(ctx, fields[1:])
	case "lines", "l":
		a.showLines()
	case "vault", "v":
		tag := ""
		if len(fields) > 1 {
			tag = strings.Join(fields[1:], " ")
		}
		a.showVault(ctx, tag, false)
	case "favorites", "favs", "f":
		a.showVault(ctx, "", true)
	case "help", "h", "?":
		a.println(helpText)
	case "quit", "q", "exit":
		return true
	default:
		a.println(fmt.Sprintf("Unknown command %q. Type help for commands.", fields[0]))
	}
	return false
}

func (a *App) toggle() {
	switch a.machine.Snapshot().State {
	case session.Idle:
		a.machine.Start()
	case session.Recording:
		a.machine.Stop()
	}
}

func (a *App) save(ctx context.Context, args []string) {
	a.mu.Lock()
	lines := a.lines
	a.mu.Unlock()

	line := ""
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n >= 1 && n <= len(lines) {
			line = lines[n-1]
		}
	}

	_, err := a.machine.Save(ctx, line)
	if errors.Is(err, session.ErrNoLineSelected) {
		a.Notify(session.Notification{
			Title:       "No Line Selected",
			Description: "Please select a line to save",
			Error:       true,
		})
		return
	}
	if err != nil {
		slog.Error("Failed to save line", "error", err)
		a.Notify(session.Notification{
			Title:       "Save Failed",
			Description: "Couldn't add the line to your Flow Vault.",
			Error:       true,
		})
	}
}

func (a *App) showLines() {
	a.mu.Lock()
	lines := a.lines
	a.mu.Unlock()

	if len(lines) == 0 {
		a.println("No transcription yet.")
		return
	}
	a.println(renderLines(lines))
}

func (a *App) showVault(ctx context.Context, tag string, favorites bool) {
	entries, err := a.vault.List(ctx, tag, favorites)
	if err != nil {
		slog.Error("Failed to list vault", "error", err)
		a.Notify(session.Notification{Title: "Vault Error", Description: err.Error(), Error: true})
		return
	}
	if len(entries) == 0 {
		a.println("Your Flow Vault is empty.")
		return
	}
	a.println(renderVault(entries))
}

// render is the session's change listener.
func (a *App) render(s session.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s.State == session.Idle && s.Result != nil && s.Result != a.shown {
		a.shown = s.Result
		a.lines = s.Result.Lines
		a.writeLocked(clearLineIf(a.colorize))
		if len(a.lines) > 0 {
			a.writeLocked(renderLines(a.lines) + "\n")
			a.writeLocked("Type save <n> to keep a line.\n")
		}
	}

	status := renderStatus(s, a.ceiling, a.level(), a.colorize)
	if a.colorize {
		// live line, redrawn in place
		a.writeLocked(clearLine + status)
		return
	}
	if status != a.lastLine {
		a.lastLine = status
		a.writeLocked(status + "\n")
	}
}

// Notify prints a transient message above the status line.
func (a *App) Notify(n session.Notification) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.writeLocked(clearLineIf(a.colorize) + renderNotification(n, a.colorize) + "\n")
}

// Play rings the terminal bell for the cues that need attention.
func (a *App) Play(sound session.Sound) {
	if !a.colorize {
		return
	}
	switch sound {
	case session.SoundGo, session.SoundError, session.SoundSaved:
		a.mu.Lock()
		a.writeLocked("\a")
		a.mu.Unlock()
	}
}

func (a *App) println(s string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.writeLocked(clearLineIf(a.colorize) + s + "\n")
}

func (a *App) writeLocked(s string) {
	if _, err := io.WriteString(a.out, s); err != nil {
		slog.Debug("Failed to write to terminal", "error", err)
	}
}

func clearLineIf(colorize bool) string {
	if colorize {
		return clearLine
	}
	return ""
}
