package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type radioSection struct {
	Enabled bool          `env:"TEST_RADIO_ENABLED" yaml:"enabled" default:"true"`
	Port    string        `env:"TEST_RADIO_PORT" yaml:"port"`
	Baud    int           `env:"TEST_RADIO_BAUD" yaml:"baud" default:"115200"`
	Timeout time.Duration `env:"TEST_RADIO_TIMEOUT" yaml:"timeout" default:"10s"`
	Channel uint32        `env:"TEST_RADIO_CHANNEL" yaml:"channel" default:"0"`
}

type testConfig struct {
	Radio   radioSection `yaml:"radio"`
	Model   string       `env:"TEST_MODEL" yaml:"model" required:"true"`
	Debug   bool         `env:"TEST_DEBUG" yaml:"debug" default:"false"`
	Origins []string     `env:"TEST_ORIGINS" yaml:"origins" default:"http://a,http://b"`
	Ratio   float64      `env:"TEST_RATIO" yaml:"ratio" default:"0.5"`
}

type validatedConfig struct {
	Port int `env:"TEST_VALIDATED_PORT" default:"8080"`
}

func (c *validatedConfig) Validate() error {
	if c.Port > 65535 {
		return errors.New("port out of range")
	}
	return nil
}

func TestGetConfigFromEnv(t *testing.T) {
	testCases := []struct {
		name    string
		envVars map[string]string
		want    testConfig
		wantErr bool
	}{
		{
			name:    "All defaults, except required field",
			envVars: map[string]string{"TEST_MODEL": "llama2"},
			want: testConfig{
				Radio:   radioSection{Enabled: true, Baud: 115200, Timeout: 10 * time.Second},
				Model:   "llama2",
				Origins: []string{"http://a", "http://b"},
				Ratio:   0.5,
			},
		},
		{
			name: "Override with environment variables",
			envVars: map[string]string{
				"TEST_MODEL":         "mistral",
				"TEST_RADIO_PORT":    "/dev/ttyUSB0",
				"TEST_RADIO_BAUD":    "921600",
				"TEST_RADIO_TIMEOUT": "250ms",
				"TEST_RADIO_CHANNEL": "2",
				"TEST_DEBUG":         "true",
				"TEST_ORIGINS":       "http://x, http://y ,http://z",
				"TEST_RATIO":         "1.25",
			},
			want: testConfig{
				Radio:   radioSection{Enabled: true, Port: "/dev/ttyUSB0", Baud: 921600, Timeout: 250 * time.Millisecond, Channel: 2},
				Model:   "mistral",
				Debug:   true,
				Origins: []string{"http://x", "http://y", "http://z"},
				Ratio:   1.25,
			},
		},
		{
			name:    "Missing required field",
			envVars: map[string]string{},
			want:    testConfig{},
			wantErr: true,
		},
		{
			name:    "Invalid duration",
			envVars: map[string]string{"TEST_MODEL": "llama2", "TEST_RADIO_TIMEOUT": "soon"},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.envVars {
				t.Setenv(k, v)
			}

			var cfg testConfig
			err := GetConfig(&cfg, "", false)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg)
		})
	}
}

func TestGetConfigYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model: phi3
radio:
  port: /dev/ttyACM0
  baud: 57600
`), 0o600))

	t.Setenv("TEST_RADIO_BAUD", "115200")

	var cfg testConfig
	require.NoError(t, GetConfig(&cfg, path, false))

	assert.Equal(t, "phi3", cfg.Model)
	assert.Equal(t, "/dev/ttyACM0", cfg.Radio.Port)
	assert.Equal(t, 115200, cfg.Radio.Baud, "env overrides file")
	assert.Equal(t, 10*time.Second, cfg.Radio.Timeout, "default fills gaps")
}

func TestGetConfigKeepsExplicitZeroFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model: phi3
ratio: 0
radio:
  enabled: false
  baud: 0
  timeout: ~
`), 0o600))

	var cfg testConfig
	require.NoError(t, GetConfig(&cfg, path, false))

	assert.False(t, cfg.Radio.Enabled)
	assert.Equal(t, 0, cfg.Radio.Baud)
	assert.Equal(t, 0.0, cfg.Ratio)
	assert.Equal(t, 10*time.Second, cfg.Radio.Timeout, "null falls back to the default")
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Origins, "absent keys get defaults")
}

func TestGetConfigEnvOverridesExplicitFileValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: phi3\nradio:\n  enabled: false\n"), 0o600))
	t.Setenv("TEST_RADIO_ENABLED", "true")

	var cfg testConfig
	require.NoError(t, GetConfig(&cfg, path, false))
	assert.True(t, cfg.Radio.Enabled)
}

func TestGetConfigRequiredEmptyInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`model: ""`), 0o600))

	var cfg testConfig
	assert.ErrorContains(t, GetConfig(&cfg, path, false), "required field")
}

func TestGetConfigMissingFile(t *testing.T) {
	t.Setenv("TEST_MODEL", "llama2")

	var cfg testConfig
	assert.Error(t, GetConfig(&cfg, "/nonexistent/relay.yaml", false))

	cfg = testConfig{}
	require.NoError(t, GetConfig(&cfg, "/nonexistent/relay.yaml", true))
	assert.Equal(t, "llama2", cfg.Model)
}

func TestValidatorIsCalled(t *testing.T) {
	t.Setenv("TEST_VALIDATED_PORT", "70000")

	var cfg validatedConfig
	err := GetConfig(&cfg, "", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port out of range")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TEST_DOTENV_MODEL=gemma\n"), 0o600))
	t.Setenv("TEST_DOTENV_MODEL", "")
	require.NoError(t, os.Unsetenv("TEST_DOTENV_MODEL"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "gemma", os.Getenv("TEST_DOTENV_MODEL"))
}
