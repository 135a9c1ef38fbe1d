package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8899, cfg.Server.Port)
	assert.Equal(t, 200, cfg.Session.HistoryLimit)
	assert.Equal(t, 30, cfg.Poller.IntervalSeconds)
	assert.Equal(t, 4, cfg.Poller.MaxWorkers)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessiond.toml")
	content := `
[server]
port = 9001

[database]
url = "postgres://localhost/sessiond_test"

[session]
history_limit = 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/sessiond_test", cfg.Database.URL)
	assert.Equal(t, 10, cfg.Session.HistoryLimit)
	// untouched keys keep their defaults
	assert.Equal(t, 4, cfg.Poller.MaxWorkers)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SESSIOND_SERVER_PORT", "9002")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 9002, cfg.Server.Port)
}

func TestInitConfigRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessiond.toml")

	require.NoError(t, InitConfig(path))
	assert.Error(t, InitConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		var cfg Config
		cfg.Server.Port = 8899
		cfg.Database.URL = "postgres://localhost/sessiond"
		cfg.Session.HistoryLimit = 100
		cfg.Poller.MaxWorkers = 4
		return &cfg
	}

	require.NoError(t, Validate(valid()))

	cfg := valid()
	cfg.Server.Port = -1
	assert.Error(t, Validate(cfg))

	cfg = valid()
	cfg.Database.URL = ""
	assert.Error(t, Validate(cfg))

	cfg = valid()
	cfg.Session.HistoryLimit = -5
	assert.Error(t, Validate(cfg))

	cfg = valid()
	cfg.Poller.MaxWorkers = 0
	assert.Error(t, Validate(cfg))
}
