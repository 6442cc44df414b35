package capture

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// scriptedRecorder replaces the platform tool with a shell command.
func scriptedRecorder(script string) func(ctx context.Context, cfg Config) (*exec.Cmd, error) {
	return func(ctx context.Context, _ Config) (*exec.Cmd, error) {
		return exec.CommandContext(ctx, "sh", "-c", script), nil
	}
}

func newTestManager(t *testing.T, script string) *Manager {
	t.Helper()
	m := NewManager(DefaultConfig(), zerolog.Nop())
	m.commandFn = scriptedRecorder(script)
	t.Cleanup(m.Stop)
	return m
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManager_DeliversWholeFrames(t *testing.T) {
	// Ten 960-byte frames at 16kHz mono 30ms.
	m := newTestManager(t, "head -c 9600 /dev/zero")

	var mu sync.Mutex
	var frames [][]byte
	failed := make(chan error, 1)
	m.OnFrame(func(pcm []byte) {
		mu.Lock()
		frames = append(frames, pcm)
		mu.Unlock()
	})
	m.OnError(func(err error) { failed <- err })

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The stream ending counts as a capture failure.
	select {
	case <-failed:
	case <-time.After(3 * time.Second):
		t.Fatal("expected an error when the recorder stream ended")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(frames) != 10 {
		t.Fatalf("expected 10 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if len(f) != 960 {
			t.Errorf("frame %d: expected 960 bytes, got %d", i, len(f))
		}
	}
}

func TestManager_StartIsIdempotent(t *testing.T) {
	m := newTestManager(t, "cat")

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitUntil(t, "capture running", m.Running)

	// The device is opened once and shared.
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("second Start must be a no-op, got %v", err)
	}
}

func TestManager_StopKillsRecorderQuietly(t *testing.T) {
	m := newTestManager(t, "cat")

	failed := make(chan error, 1)
	m.OnError(func(err error) { failed <- err })

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitUntil(t, "capture running", m.Running)

	m.Stop()
	waitUntil(t, "capture stopped", func() bool { return !m.Running() })

	select {
	case err := <-failed:
		t.Errorf("deliberate Stop must not report a failure, got %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	// Stop again: safe no-op.
	m.Stop()
}

func TestManager_FrameSizeFollowsConfig(t *testing.T) {
	tests := []struct {
		cfg  Config
		want int
	}{
		{Config{SampleRate: 16000, Channels: 1, FrameMs: 30}, 960},
		{Config{SampleRate: 16000, Channels: 1, FrameMs: 20}, 640},
		{Config{SampleRate: 44100, Channels: 2, FrameMs: 10}, 1764},
	}
	for _, tc := range tests {
		if got := tc.cfg.frameBytes(); got != tc.want {
			t.Errorf("frameBytes(%+v) = %d, want %d", tc.cfg, got, tc.want)
		}
	}
}
