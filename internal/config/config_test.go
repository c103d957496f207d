package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/levelup/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
	}
	Sweep struct {
		Interval time.Duration
		MaxIdle  time.Duration
	}
	Redis struct {
		Addrs  []string
		Prefix string
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad(t *testing.T) {
	p := writeFile(t, `
http:
  port: 8080
sweep:
  interval: 2m
redis:
  addrs: [localhost:6379]
`)

	var c testConfig
	c.Sweep.MaxIdle = 14 * 24 * time.Hour
	c.Redis.Prefix = "levelup"

	require.NoError(t, config.Load(p, &c))
	assert.EqualValues(t, 8080, c.HTTP.Port)
	assert.Equal(t, 2*time.Minute, c.Sweep.Interval)
	assert.Equal(t, 14*24*time.Hour, c.Sweep.MaxIdle, "defaults survive")
	assert.Equal(t, []string{"localhost:6379"}, c.Redis.Addrs)
	assert.Equal(t, "levelup", c.Redis.Prefix)
}

func TestLoad_EnvOverrides(t *testing.T) {
	p := writeFile(t, "http:\n  port: 8080\n")
	t.Setenv("LEVELUP_HTTP_PORT", "9090")

	var c testConfig
	require.NoError(t, config.Load(p, &c))
	assert.EqualValues(t, 9090, c.HTTP.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	var c testConfig
	assert.Error(t, config.Load(filepath.Join(t.TempDir(), "nope.yaml"), &c))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	l, err := config.NewLogger(&buf, config.Log{Level: "warn", Format: "text"})
	require.NoError(t, err)
	l.Info("dropped")
	l.Warn("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")

	_, err = config.NewLogger(&buf, config.Log{Level: "loud"})
	assert.Error(t, err)

	_, err = config.NewLogger(&buf, config.Log{Format: "xml"})
	assert.Error(t, err)
}
