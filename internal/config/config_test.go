package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Backend.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Backend.Port)
	}
	if cfg.Backend.Transport != TransportSocket {
		t.Errorf("expected socket transport, got %s", cfg.Backend.Transport)
	}
	if cfg.Backend.ResponseTimeout != 15*time.Second {
		t.Errorf("expected 15s response timeout, got %v", cfg.Backend.ResponseTimeout)
	}
	if cfg.Backend.ToolTimeout != 60*time.Second {
		t.Errorf("expected 60s tool timeout, got %v", cfg.Backend.ToolTimeout)
	}
	if cfg.Wake.Phrase != "hey luna" {
		t.Errorf("expected wake phrase 'hey luna', got %q", cfg.Wake.Phrase)
	}
	if len(cfg.Wake.Alternatives) == 0 {
		t.Error("expected wake phrase alternatives")
	}
	if cfg.Speech.Voice != "nova" {
		t.Errorf("expected default voice 'nova', got %q", cfg.Speech.Voice)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("expected 16kHz sample rate, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Muted {
		t.Error("expected microphone unmuted by default")
	}
}

func TestDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir, err := Dir()
	if err != nil {
		t.Fatal(err)
	}
	if dir != filepath.Join(home, ".lunaeye") {
		t.Errorf("unexpected config dir %q", dir)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.Backend.Port = 9100
	cfg.Wake.Phrase = "hey nova"
	cfg.User.Name = "tester"

	if err := Save(cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Backend.Port != 9100 {
		t.Errorf("expected saved port 9100, got %d", loaded.Backend.Port)
	}
	if loaded.Wake.Phrase != "hey nova" {
		t.Errorf("expected saved wake phrase, got %q", loaded.Wake.Phrase)
	}
	if loaded.User.Name != "tester" {
		t.Errorf("expected saved user name, got %q", loaded.User.Name)
	}
}
