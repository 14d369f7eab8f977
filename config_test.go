package livevoice

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wtconnect/livevoice/tools"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultModel, cfg.Session.Model)
	assert.Equal(t, "Zephyr", cfg.Session.Voice)
	assert.Equal(t, tools.FrameSize, cfg.Audio.FrameSize)
	assert.Equal(t, tools.OverflowClamp, cfg.OverflowPolicy())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livevoice.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
session:
  voice: Puck
  transcribe: true
audio:
  overflow: strict
metrics:
  addr: ":9100"
`), 0o600))
	t.Setenv(EnvKeyAPIKey, "secret")
	t.Setenv(EnvKeyModel, "gemini-live-test")
	t.Setenv(EnvKeyVoice, "")
	t.Setenv(EnvKeyBaseURL, "")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, "gemini-live-test", cfg.Session.Model)
	assert.Equal(t, "Puck", cfg.Session.Voice)
	assert.True(t, cfg.Session.Transcribe)
	assert.Equal(t, DefaultSystemInstruction, cfg.Session.SystemInstruction)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, tools.OverflowStrict, cfg.OverflowPolicy())
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audio:\n  overflow: wrap\n  frameSize: 0\n"), 0o600))
	_, err = LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflow")
	assert.Contains(t, err.Error(), "frameSize")
}

func TestValidateRequiresAudioModality(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.ResponseModalities = []string{"TEXT"}
	assert.Error(t, cfg.Validate())

	cfg.Session.ResponseModalities = []string{"audio"}
	assert.NoError(t, cfg.Validate())

	cfg.Session.Model = ""
	assert.Error(t, cfg.Validate())
}

func TestSessionConfigYAML(t *testing.T) {
	cfg := DefaultConfig()
	out, err := cfg.Session.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "voice: Zephyr")
	assert.Contains(t, string(out), "model: "+DefaultModel)
}
