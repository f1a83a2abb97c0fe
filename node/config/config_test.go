package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	c, err := LoadConfig(home)
	require.NoError(t, err)

	assert.Equal(t, home, c.Home)
	assert.Equal(t, "5000", c.HTTPPort)
	assert.False(t, c.MirrorEnabled())
	assert.Empty(t, c.GetDSN())
	assert.Equal(t, 5*time.Second, c.MirrorTimeout)
	assert.Equal(t, 30*time.Second, c.ConsensusTimeout)
	assert.NoError(t, c.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	home := t.TempDir()
	file := `
http_port = "7000"
db_host = "pg"
db_name = "market"
log_all_txs = true
mirror_timeout = "2s"
`
	require.NoError(t, os.WriteFile(filepath.Join(home, FileName), []byte(file), 0o600))
	t.Setenv("SKULL_HTTP_PORT", "7100")
	t.Setenv("SKULL_DB_PASS", "secret")

	c, err := LoadConfig(home)
	require.NoError(t, err)
	assert.Equal(t, "7100", c.HTTPPort)
	assert.True(t, c.LogAllTxs)
	assert.Equal(t, 2*time.Second, c.MirrorTimeout)
	assert.True(t, c.MirrorEnabled())
	assert.Equal(t, "host=pg port=5432 user=postgres password=secret dbname=market sslmode=disable", c.GetDSN())
	assert.NoError(t, c.Validate())
}

func TestHomeFromEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SKULL_HOME", home)
	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, home, c.Home)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Home: "h", HTTPPort: "5000", MirrorTimeout: time.Second, ConsensusTimeout: time.Second}
	}
	require.NoError(t, valid().Validate())

	for name, mutate := range map[string]func(*Config){
		"no home":          func(c *Config) { c.Home = "" },
		"bad port":         func(c *Config) { c.HTTPPort = "http" },
		"port range":       func(c *Config) { c.HTTPPort = "70000" },
		"mirror no db":     func(c *Config) { c.DatabaseHost = "pg" },
		"mirror timeout":   func(c *Config) { c.MirrorTimeout = 0 },
		"consensus window": func(c *Config) { c.ConsensusTimeout = -time.Second },
	} {
		c := valid()
		mutate(c)
		assert.Error(t, c.Validate(), name)
	}
}
