package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bosley/flowlab/client"
	"github.com/bosley/flowlab/config"
	"github.com/bosley/flowlab/recorder"
	"github.com/bosley/flowlab/scribe"
	"github.com/bosley/flowlab/vault"
	"github.com/bosley/flowlab/whisper"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	configPath := flag.String("config", "", "Path to YAML configuration file")
	serve := flag.Bool("serve", false, "Run the transcription and vault server")
	serverURL := flag.String("server", "", "Server base URL (client mode)")
	playFile := flag.String("play", "", "Play a beat file until Enter is pressed")
	insecureMode := flag.Bool("insecure", false, "Enable insecure mode (skip certificate verification)")
	serverCertFile := flag.String("cert", "", "Path to server certificate file")
	serverKeyFile := flag.String("key", "", "Path to server key file (server mode)")
	provider := flag.String("provider", "", "Transcription provider: openai or local")
	whisperPath := flag.String("whisper", "", "Path to whisper executable (local provider)")
	whisperModel := flag.String("model", "", "Whisper model (local provider)")
	listDevices := flag.Bool("list-devices", false, "List available audio input devices")
	deviceID := flag.Int("device", config.DefaultDevice, "Audio input device ID from -list-devices (-1 for the system default)")
	lesson := flag.String("lesson", "", "Lesson the saved lines are tagged with")
	beat := flag.String("beat", "", "Beat to play while recording")
	devFallback := flag.Bool("dev-fallback", false, "Show simulated lines when transcription fails")
	listVault := flag.Bool("vault", false, "List the Flow Vault and exit")
	vaultTag := flag.String("tag", "", "Filter the vault listing by tag")
	favorites := flag.Bool("favorites", false, "List only favorite vault lines")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags override the file
	if *serverURL != "" {
		cfg.Client.ServerURL = *serverURL
	}
	if *insecureMode {
		cfg.Client.Insecure = true
	}
	if *serverCertFile != "" {
		if *serve {
			cfg.Server.CertFile = *serverCertFile
		} else {
			cfg.Client.ServerCert = *serverCertFile
		}
	}
	if *serverKeyFile != "" {
		cfg.Server.KeyFile = *serverKeyFile
	}
	if *provider != "" {
		cfg.Transcription.Provider = *provider
	}
	if *whisperPath != "" {
		cfg.Transcription.WhisperPath = *whisperPath
	}
	if *whisperModel != "" {
		cfg.Transcription.WhisperModel = *whisperModel
	}
	if setFlags["device"] {
		cfg.Client.Device = *deviceID
	}
	if *lesson != "" {
		cfg.Client.Lesson = *lesson
	}
	if *beat != "" {
		cfg.Client.Beat = *beat
	}
	if *devFallback {
		cfg.Client.DevFallback = true
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(cfg.Logging.Handler(os.Stdout)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Debug("Received shutdown signal")
		cancel()
	}()

	var err error
	switch {
	case *listDevices:
		err = client.ListDevices(os.Stdout)
	case *playFile != "":
		err = playUntilEnter(ctx, cancel, *playFile)
	case *listVault:
		err = client.ListVault(ctx, os.Stdout, cfg.Client.ServerURL,
			cfg.Client.Insecure, cfg.Client.ServerCert, *vaultTag, *favorites)
	case *serve:
		err = runServer(ctx, cfg)
	default:
		err = client.Launch(ctx, client.Config{
			ServerURL:   cfg.Client.ServerURL,
			Insecure:    cfg.Client.Insecure,
			ServerCert:  cfg.Client.ServerCert,
			DeviceID:    cfg.Client.Device,
			LessonID:    cfg.Client.Lesson,
			BeatPath:    cfg.Client.Beat,
			LockFile:    cfg.Client.LockFile,
			DevFallback: cfg.Client.DevFallback,
			Countdown:   cfg.Client.Countdown,
			Ceiling:     cfg.Client.CeilingDuration(),
			In:          os.Stdin,
			Out:         os.Stdout,
		})
	}

	if err != nil {
		slog.Error("flowlab failed", "error", err)
		os.Exit(1)
	}
	slog.Debug("Program exiting")
}

func runServer(ctx context.Context, cfg *config.Config) error {
	provider, err := newProvider(&cfg.Transcription)
	if err != nil {
		return err
	}

	store, err := vault.Open(cfg.Server.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Failed to close vault store", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	scribeService, err := scribe.New(scribe.Config{
		CertFile:         cfg.Server.CertFile,
		KeyFile:          cfg.Server.KeyFile,
		HTTPAddr:         cfg.Server.Addr,
		BeatsDir:         cfg.Server.BeatsDir,
		Workers:          cfg.Server.Workers,
		QueueSize:        cfg.Server.QueueSize,
		MaxClipBytes:     cfg.Server.MaxClipBytes,
		RecordingsDir:    cfg.Server.RecordingsDir,
		RetainRecordings: time.Duration(cfg.Server.RetainDays) * 24 * time.Hour,
		ProviderTimeout:  cfg.Transcription.TimeoutDuration(),
		AllowedOrigins:   cfg.Server.AllowedOrigins,
	}, provider, store, reg)
	if err != nil {
		return fmt.Errorf("failed to initialize scribe: %w", err)
	}

	// Ensure Scribe is stopped on shutdown
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := scribeService.Stop(stopCtx); err != nil {
			slog.Error("Failed to stop Scribe service", "error", err)
		}
	}()

	return scribeService.Start(ctx)
}

func newProvider(cfg *config.TranscriptionConfig) (whisper.Provider, error) {
	switch cfg.Provider {
	case config.ProviderLocal:
		return whisper.NewLocalProvider(cfg.WhisperPath, cfg.WhisperModel, cfg.WorkDir), nil
	default:
		opts := []whisper.OpenAIOption{whisper.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, whisper.WithKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, whisper.WithBaseURL(cfg.BaseURL))
		}
		return whisper.NewOpenAIProvider(opts...)
	}
}

func playUntilEnter(ctx context.Context, cancel context.CancelFunc, path string) error {
	go func() {
		fmt.Println("Press Enter to stop playback")
		bufio.NewReader(os.Stdin).ReadString('\n')
		cancel()
	}()
	return recorder.PlayFile(ctx, path)
}
