package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "nope")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 1, cfg.WorkerCount)
	assert.Equal(t, uint16(5004), cfg.RtpBasePort)
	assert.Equal(t, 2*time.Second, cfg.StopGrace)
	assert.Equal(t, "./hls_output", cfg.HlsDir)
}
