// Package config provides configuration management for LunaEye
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Transport selects how the backend channel talks to the assistant server.
type Transport string

const (
	TransportSocket Transport = "socket"
	TransportREST   Transport = "rest"
)

// Config holds all application configuration
type Config struct {
	Backend Backend `mapstructure:"backend"`
	Wake    Wake    `mapstructure:"wake"`
	Speech  Speech  `mapstructure:"speech"`
	Audio   Audio   `mapstructure:"audio"`
	User    User    `mapstructure:"user"`
}

// Backend configures the channel to the assistant server.
type Backend struct {
	URL             string        `mapstructure:"url"`
	Port            int           `mapstructure:"port"`
	Transport       Transport     `mapstructure:"transport"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	ToolTimeout     time.Duration `mapstructure:"tool_timeout"`
	HeartbeatEvery  time.Duration `mapstructure:"heartbeat_every"`
	ReconnectDelay  time.Duration `mapstructure:"reconnect_delay"`
}

// Wake configures wake-phrase detection.
type Wake struct {
	Phrase       string   `mapstructure:"phrase"`
	Alternatives []string `mapstructure:"alternatives"`
}

// Speech configures recognition and synthesis.
type Speech struct {
	Language        string  `mapstructure:"language"`
	InterimResults  bool    `mapstructure:"interim_results"`
	MaxAlternatives int     `mapstructure:"max_alternatives"`
	Voice           string  `mapstructure:"voice"`
	Rate            float64 `mapstructure:"rate"`
	Pitch           float64 `mapstructure:"pitch"`
	DeepgramAPIKey  string  `mapstructure:"deepgram_api_key"`
	OpenAIAPIKey    string  `mapstructure:"openai_api_key"`
}

// Audio configures the microphone path and the local fallback detector.
type Audio struct {
	SampleRate   int     `mapstructure:"sample_rate"`
	VADThreshold float64 `mapstructure:"vad_threshold"`
	Muted        bool    `mapstructure:"muted"`
}

// User identifies the speaker on backend requests.
type User struct {
	Name string `mapstructure:"name"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Backend: Backend{
			URL:             "http://localhost",
			Port:            8000,
			Transport:       TransportSocket,
			ResponseTimeout: 15 * time.Second,
			ToolTimeout:     60 * time.Second,
			HeartbeatEvery:  30 * time.Second,
			ReconnectDelay:  5 * time.Second,
		},
		Wake: Wake{
			Phrase: "hey luna",
			Alternatives: []string{
				"hey luna", "hey lana", "hey lona", "hey louna",
				"hailuna", "hey una", "a luna", "hey luma",
			},
		},
		Speech: Speech{
			Language:        "en-US",
			InterimResults:  true,
			MaxAlternatives: 1,
			Voice:           "nova",
			Rate:            1.0,
			Pitch:           1.0,
		},
		Audio: Audio{
			SampleRate:   16000,
			VADThreshold: 0.01,
			Muted:        false,
		},
		User: User{Name: "default-user"},
	}
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configDir, err := Dir()
	if err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("LUNAEYE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		// Config file not found, use defaults and create one
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Watch re-reads the config file whenever it changes on disk and invokes
// onChange with the freshly unmarshaled configuration.
func Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(_ fsnotify.Event) {
		cfg := DefaultConfig()
		if err := viper.Unmarshal(cfg); err != nil {
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}

// Save writes the configuration to file
func Save(cfg *Config) error {
	configDir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	viper.Set("backend", cfg.Backend)
	viper.Set("wake", cfg.Wake)
	viper.Set("speech", cfg.Speech)
	viper.Set("audio", cfg.Audio)
	viper.Set("user", cfg.User)

	return viper.WriteConfigAs(filepath.Join(configDir, "config.yaml"))
}

// Dir returns the configuration directory path
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".lunaeye"), nil
}
