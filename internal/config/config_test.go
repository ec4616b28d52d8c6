package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Streaming.BatchSize)
	assert.Equal(t, 300*time.Millisecond, cfg.Streaming.FlushInterval)
	assert.NotEmpty(t, cfg.Addr)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{Addr: "0.0.0.0:9000", Streaming: StreamingConfig{BatchSize: 5, FlushInterval: 50 * time.Millisecond}}
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", got.Addr)
	assert.Equal(t, 5, got.Streaming.BatchSize)
}
