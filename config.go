package livevoice

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/wtconnect/livevoice/shared"
	"github.com/wtconnect/livevoice/tools"
)

// Environment variable keys
const (
	EnvKeyAPIKey  string = "GEMINI_API_KEY"
	EnvKeyModel   string = "LIVEVOICE_MODEL"
	EnvKeyVoice   string = "LIVEVOICE_VOICE"
	EnvKeyBaseURL string = "LIVEVOICE_BASE_URL"
)

// Session defaults
const (
	DefaultModel             string = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice             string = "Zephyr"
	DefaultSystemInstruction string = "You are a helpful, witty voice assistant for WTConnect social network."
	DefaultBaseURL           string = "wss://generativelanguage.googleapis.com/ws"
)

// SessionConfig is sent once, as the setup message, when a session opens.
type SessionConfig struct {
	Model              string   `yaml:"model" json:"model"`
	ResponseModalities []string `yaml:"responseModalities" json:"responseModalities"`
	Voice              string   `yaml:"voice" json:"voice"`
	SystemInstruction  string   `yaml:"systemInstruction" json:"systemInstruction"`
	Transcribe         bool     `yaml:"transcribe" json:"transcribe"`
}

type AudioConfig struct {
	FrameSize int    `yaml:"frameSize" json:"frameSize"`
	Overflow  string `yaml:"overflow" json:"overflow"`
}

type MetricsConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

type LogConfig struct {
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB" json:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups" json:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays" json:"maxAgeDays"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

type Config struct {
	APIKey  string        `yaml:"-" json:"-"`
	BaseURL string        `yaml:"baseUrl" json:"baseUrl"`
	Session SessionConfig `yaml:"session" json:"session"`
	Audio   AudioConfig   `yaml:"audio" json:"audio"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Log     LogConfig     `yaml:"log" json:"log"`
}

func DefaultConfig() *Config {
	return &Config{
		BaseURL: DefaultBaseURL,
		Session: SessionConfig{
			Model:              DefaultModel,
			ResponseModalities: []string{"AUDIO"},
			Voice:              DefaultVoice,
			SystemInstruction:  DefaultSystemInstruction,
		},
		Audio: AudioConfig{
			FrameSize: tools.FrameSize,
			Overflow:  tools.OverflowClamp.String(),
		},
		Metrics: MetricsConfig{
			Namespace: "livevoice",
		},
		Log: LogConfig{
			File:       "cli/cli.log",
			MaxSizeMB:  10,
			MaxBackups: 2,
			MaxAgeDays: 3,
		},
	}
}

// LoadConfig starts from DefaultConfig, overlays the YAML file at path (if
// any) and then the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) ApplyEnv() (err error) {
	if c.APIKey, err = shared.Getenv(shared.GetenvString, EnvKeyAPIKey, false, c.APIKey); err != nil {
		return err
	}
	if c.BaseURL, err = shared.Getenv(shared.GetenvString, EnvKeyBaseURL, false, c.BaseURL); err != nil {
		return err
	}
	if c.Session.Model, err = shared.Getenv(shared.GetenvString, EnvKeyModel, false, c.Session.Model); err != nil {
		return err
	}
	if c.Session.Voice, err = shared.Getenv(shared.GetenvString, EnvKeyVoice, false, c.Session.Voice); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Session.Model == "" {
		errs = append(errs, errors.New("session.model is required"))
	}
	if !slices.ContainsFunc(c.Session.ResponseModalities, func(m string) bool {
		return strings.EqualFold(m, "AUDIO")
	}) {
		errs = append(errs, errors.New("session.responseModalities must include AUDIO"))
	}
	if c.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frameSize must be positive, got %d", c.Audio.FrameSize))
	}
	if _, err := ParseOverflowPolicy(c.Audio.Overflow); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) OverflowPolicy() tools.OverflowPolicy {
	p, _ := ParseOverflowPolicy(c.Audio.Overflow)
	return p
}

func ParseOverflowPolicy(s string) (tools.OverflowPolicy, error) {
	switch strings.ToLower(s) {
	case "", tools.OverflowClamp.String():
		return tools.OverflowClamp, nil
	case tools.OverflowStrict.String():
		return tools.OverflowStrict, nil
	default:
		return tools.OverflowClamp, fmt.Errorf("audio.overflow must be clamp or strict, got %q", s)
	}
}

// YAML renders the session config for display.
func (s *SessionConfig) YAML() ([]byte, error) {
	return yaml.MarshalWithOptions(s, yaml.UseJSONMarshaler())
}
