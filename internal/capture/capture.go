// Package capture reads microphone audio through the platform's recording
// tool and hands fixed-size PCM frames to its consumer. The process owns the
// device for its whole lifetime: the stream is opened once and shared, never
// reopened per utterance.
package capture

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
)

// Config describes the PCM stream the recognizer expects.
type Config struct {
	SampleRate int // Hz
	Channels   int
	FrameMs    int // duration of one delivered frame
}

// DefaultConfig matches the streaming recognizer: 16kHz mono linear16 in
// 30ms frames.
func DefaultConfig() Config {
	return Config{SampleRate: 16000, Channels: 1, FrameMs: 30}
}

// frameBytes is the size of one frame of 16-bit PCM.
func (c Config) frameBytes() int {
	return c.SampleRate * 2 * c.Channels * c.FrameMs / 1000
}

// Manager runs the platform recorder and pumps its output as frames.
// Starting an already-running manager is a no-op, so every consumer shares
// the one open device.
type Manager struct {
	config Config
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	onFrame func(pcm []byte)
	onError func(err error)

	// commandFn is swappable for tests.
	commandFn func(ctx context.Context, cfg Config) (*exec.Cmd, error)
}

// NewManager builds the capture manager.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	if cfg.SampleRate == 0 {
		cfg = DefaultConfig()
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.FrameMs == 0 {
		cfg.FrameMs = 30
	}
	return &Manager{
		config:    cfg,
		logger:    logger.With().Str("component", "capture").Logger(),
		commandFn: recordCommand,
	}
}

// OnFrame installs the PCM consumer. Must be set before Start.
func (m *Manager) OnFrame(fn func(pcm []byte)) {
	m.mu.Lock()
	m.onFrame = fn
	m.mu.Unlock()
}

// OnError installs the failure callback. It fires when the recorder dies on
// its own, never on a deliberate Stop.
func (m *Manager) OnError(fn func(err error)) {
	m.mu.Lock()
	m.onError = fn
	m.mu.Unlock()
}

// Running reports whether the recorder process is live.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// IsAvailable reports whether a usable recording tool is installed.
func (m *Manager) IsAvailable() bool {
	_, err := recordCommand(context.Background(), m.config)
	return err == nil
}

// Start opens the microphone and begins delivering frames. Calling it while
// already capturing is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	cmd, err := m.commandFn(runCtx, m.config)
	if err != nil {
		cancel()
		m.mu.Unlock()
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		m.mu.Unlock()
		return fmt.Errorf("recorder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		m.mu.Unlock()
		return fmt.Errorf("start recorder: %w", err)
	}
	m.running = true
	m.cancel = cancel
	m.mu.Unlock()

	m.logger.Info().Str("recorder", cmd.Path).
		Int("sample_rate", m.config.SampleRate).
		Int("frame_ms", m.config.FrameMs).
		Msg("Microphone capture started")

	go m.pump(runCtx, cmd, stdout)
	return nil
}

// Stop tears the recorder down. Safe to call repeatedly.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.running = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		m.logger.Info().Msg("Microphone capture stopped")
	}
}

// pump reads the recorder's stdout in whole frames until it ends.
func (m *Manager) pump(ctx context.Context, cmd *exec.Cmd, stdout io.Reader) {
	frame := make([]byte, m.config.frameBytes())
	var readErr error
	for {
		if _, err := io.ReadFull(stdout, frame); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				readErr = err
			} else {
				readErr = fmt.Errorf("recorder stream ended")
			}
			break
		}
		m.mu.Lock()
		fn := m.onFrame
		m.mu.Unlock()
		if fn != nil {
			out := make([]byte, len(frame))
			copy(out, frame)
			fn(out)
		}
	}
	_ = cmd.Wait()

	m.mu.Lock()
	wasRunning := m.running
	m.running = false
	errFn := m.onError
	m.mu.Unlock()

	// A Stop or context cancellation is not a failure.
	if !wasRunning || ctx.Err() != nil {
		return
	}
	m.logger.Error().Err(readErr).Msg("Microphone capture died")
	if errFn != nil {
		errFn(readErr)
	}
}

// recordCommand picks the platform recording tool. Output is raw signed
// 16-bit little-endian PCM on stdout.
func recordCommand(ctx context.Context, cfg Config) (*exec.Cmd, error) {
	rate := fmt.Sprintf("%d", cfg.SampleRate)
	channels := fmt.Sprintf("%d", cfg.Channels)

	switch runtime.GOOS {
	case "darwin":
		if path, err := exec.LookPath("sox"); err == nil {
			return exec.CommandContext(ctx, path,
				"-q", "-d",
				"-t", "raw", "-b", "16", "-e", "signed-integer", "-L",
				"-r", rate, "-c", channels, "-"), nil
		}
		if path, err := exec.LookPath("rec"); err == nil {
			return exec.CommandContext(ctx, path,
				"-q",
				"-t", "raw", "-b", "16", "-e", "signed-integer", "-L",
				"-r", rate, "-c", channels, "-"), nil
		}
	default:
		if path, err := exec.LookPath("arecord"); err == nil {
			return exec.CommandContext(ctx, path,
				"-q", "-f", "S16_LE",
				"-r", rate, "-c", channels,
				"-t", "raw", "-"), nil
		}
		if path, err := exec.LookPath("sox"); err == nil {
			return exec.CommandContext(ctx, path,
				"-q", "-d",
				"-t", "raw", "-b", "16", "-e", "signed-integer", "-L",
				"-r", rate, "-c", channels, "-"), nil
		}
	}
	return nil, fmt.Errorf("no recording tool found (install sox or arecord)")
}
