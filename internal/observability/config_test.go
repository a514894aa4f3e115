package observability

import (
	"testing"

	"github.com/smallbiznis/accessportal/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(config.Config{AppName: "portal", Environment: "development", AppVersion: "1.2.3"})

	assert.Equal(t, "portal", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.False(t, cfg.OtelEnabled)
	assert.True(t, cfg.Debug())
}

func TestLoadConfigClampsSamplingRatio(t *testing.T) {
	t.Setenv("OTEL_SAMPLING_RATIO", "7")
	cfg := LoadConfig(config.Config{Environment: "production"})

	assert.Equal(t, "accessportal", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())
}
