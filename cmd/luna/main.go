// LunaEye - the ears and voice of the Luna agent
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Lefyd24/LunaEye/internal/assistant"
	"github.com/Lefyd24/LunaEye/internal/backend"
	"github.com/Lefyd24/LunaEye/internal/bus"
	"github.com/Lefyd24/LunaEye/internal/capture"
	"github.com/Lefyd24/LunaEye/internal/config"
	"github.com/Lefyd24/LunaEye/internal/discovery"
	"github.com/Lefyd24/LunaEye/internal/logging"
	"github.com/Lefyd24/LunaEye/internal/mood"
	"github.com/Lefyd24/LunaEye/internal/recognizer"
	"github.com/Lefyd24/LunaEye/internal/speech"
	"github.com/Lefyd24/LunaEye/internal/state"
	"github.com/Lefyd24/LunaEye/internal/wake"
)

// Global logger instance
var syslog *logging.Logger

// loadEnvFiles loads API keys from .env files into the process environment.
// Checks ~/.lunaeye/.env first, then the working directory.
func loadEnvFiles() {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".lunaeye", ".env"))
	}
	paths = append(paths, ".env")

	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			syslog.Warn("env", fmt.Sprintf("Could not load %s: %v", p, err))
			continue
		}
		syslog.Info("env", "Loaded environment from "+filepath.Base(p))
	}
}

// endpointURLs derives the socket and HTTP endpoints from the configured
// base URL and port.
func endpointURLs(cfg *config.Config) (wsURL, httpURL string, err error) {
	base := cfg.Backend.URL
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", "", fmt.Errorf("parse backend URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := cfg.Backend.Port
	if port == 0 {
		port = 8000
	}

	wsScheme := "ws"
	if u.Scheme == "https" {
		wsScheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/ws", wsScheme, host, port),
		fmt.Sprintf("%s://%s:%d", u.Scheme, host, port), nil
}

func main() {
	var err error
	syslog, err = logging.New(nil)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer syslog.Close()

	syslog.Info("main", "========================================")
	syslog.Info("main", "LunaEye starting...")
	syslog.Info("main", "========================================")

	loadEnvFiles()

	zlogger := syslog.Zerolog()

	cfg, err := config.Load()
	if err != nil {
		syslog.Warn("config", fmt.Sprintf("Failed to load config, using defaults: %v", err))
		cfg = config.DefaultConfig()
	}

	wsURL, httpURL, err := endpointURLs(cfg)
	if err != nil {
		syslog.Error("config", "Invalid backend URL", err)
		os.Exit(1)
	}
	syslog.Info("config", fmt.Sprintf("Agent service at %s (socket %s)", httpURL, wsURL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := bus.NewEventBus()
	machine := state.NewMachine(zlogger)

	moodCtrl := mood.NewController(machine, eventBus)
	moodCtrl.Start()
	defer moodCtrl.Stop()

	// Backend: live socket plus REST fallback plus offline canned replies.
	var channel *backend.Channel
	if cfg.Backend.Transport == config.TransportSocket {
		channel = backend.NewChannel(&backend.ChannelConfig{
			URL:             wsURL,
			ResponseTimeout: cfg.Backend.ResponseTimeout,
			ToolTimeout:     cfg.Backend.ToolTimeout,
			HeartbeatEvery:  cfg.Backend.HeartbeatEvery,
			ReconnectDelay:  cfg.Backend.ReconnectDelay,
		}, eventBus, zlogger)
		go channel.Run(ctx)
		defer channel.Close()
	}
	rest := backend.NewRESTClient(&backend.RESTConfig{
		BaseURL:  httpURL,
		Timeout:  cfg.Backend.ToolTimeout,
		UserName: cfg.User.Name,
	}, zlogger)
	local := backend.NewLocalResponder(zlogger)

	// Keep an eye on reachable agent services; the configured one first,
	// plus the usual local ports.
	discoCfg := discovery.DefaultConfig()
	discoCfg.CustomURLs = []string{httpURL}
	disco := discovery.NewService(discoCfg, zlogger)
	disco.SetOnUpdate(func(agents []*discovery.Agent) {
		best := disco.Best()
		if best == nil {
			syslog.Warn("backend", "No agent service reachable, running offline")
			return
		}
		syslog.Info("backend", fmt.Sprintf("Agent at %s ready, tools=%d, latency=%dms",
			best.URL, best.ToolsCount, best.Latency))
	})
	disco.Start()
	defer disco.Stop()

	// Recognition: streaming transcription with a volume-only fallback.
	primary := recognizer.NewDeepgramAdapter(cfg.Speech.DeepgramAPIKey, recognizer.Options{
		Continuous:      true,
		InterimResults:  cfg.Speech.InterimResults,
		Language:        cfg.Speech.Language,
		MaxAlternatives: cfg.Speech.MaxAlternatives,
		SampleRate:      cfg.Audio.SampleRate,
	}, zlogger)
	localDetect := recognizer.NewLocalDetector(recognizer.VADConfig{
		Threshold:       cfg.Audio.VADThreshold,
		SmoothingFrames: 5,
		MaxSilenceMs:    500,
	}, eventBus, zlogger)
	supervisor := recognizer.NewSupervisor(primary, localDetect, machine, eventBus, zlogger)

	// Microphone: one open device for the process lifetime, frames flowing
	// into whichever recognizer session is live. Frames arriving between
	// sessions are dropped on the floor.
	mic := capture.NewManager(capture.Config{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   1,
		FrameMs:    30,
	}, zlogger)
	mic.OnFrame(func(frame []byte) {
		_ = supervisor.SendAudio(frame)
	})
	mic.OnError(func(err error) {
		syslog.Error("audio", "Microphone capture failed", err)
	})
	if err := mic.Start(ctx); err != nil {
		syslog.Warn("audio", fmt.Sprintf("Microphone unavailable: %v", err))
	} else {
		defer mic.Stop()
	}

	// Speech output.
	synth := speech.NewOpenAISynthesizer(zlogger, &speech.OpenAIConfig{
		APIKey:       cfg.Speech.OpenAIAPIKey,
		DefaultVoice: cfg.Speech.Voice,
		Speed:        cfg.Speech.Rate,
		Timeout:      30 * time.Second,
	})
	speaker := speech.NewService(synth, nil, eventBus, zlogger)
	speaker.SetVoice(cfg.Speech.Voice)
	speaker.SetSpeed(cfg.Speech.Rate)

	detector := wake.NewDetector(cfg.Wake.Phrase, cfg.Wake.Alternatives)

	ctrl := assistant.New(assistant.Options{
		Machine:  machine,
		Recog:    supervisor,
		Speaker:  speaker,
		Detector: detector,
		Filter:   wake.NewFilter(nil),
		History:  assistant.NewHistory(assistant.DefaultHistoryConfig()),
		Events:   eventBus,
		Channel:  channel,
		Rest:     rest,
		Local:    local,
		Logger:   zlogger,
	})

	if err := ctrl.Start(ctx); err != nil {
		syslog.Error("main", "Assistant failed to start", err)
		os.Exit(1)
	}
	if cfg.Audio.Muted {
		ctrl.SetMuted(true)
	}

	// Live config: react to mute and voice edits without a restart.
	config.Watch(func(updated *config.Config) {
		syslog.Info("config", "Configuration reloaded")
		ctrl.SetMuted(updated.Audio.Muted)
		speaker.SetVoice(updated.Speech.Voice)
		speaker.SetSpeed(updated.Speech.Rate)
	})

	syslog.Info("main", fmt.Sprintf("Listening for %q", cfg.Wake.Phrase))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	syslog.Info("main", "Shutting down")
	ctrl.Stop()
	cancel()
}
