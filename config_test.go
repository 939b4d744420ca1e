package metricpipe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
snapshotInterval: 30s
flushInterval: 10s
maxRetries: 3
retryDelay: 5s
maxPayloadSize: 8000
maxPayloadCount: 240
defaultTags:
  env: prod
bosun:
  baseURI: http://bosun.example.com
  enableExternalCounters: true
datadog:
  baseURI: https://api.datadoghq.com
  apiKey: abc
statsd:
  addr: 127.0.0.1:8125
`

func TestLoadConfig_ParsesDurationsAndBlocks(t *testing.T) {
	cfg, err := LoadConfig([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.SnapshotInterval.Duration)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay.Duration)
	assert.Equal(t, "prod", cfg.DefaultTags["env"])
	require.NotNil(t, cfg.Bosun)
	assert.True(t, cfg.Bosun.EnableExternalCounters)
	require.NotNil(t, cfg.DataDog)
	assert.Equal(t, "abc", cfg.DataDog.APIKey)
	require.NotNil(t, cfg.StatsD)
	assert.Nil(t, cfg.SignalFx)
}

func TestLoadConfig_RejectsInvalidDuration(t *testing.T) {
	_, err := LoadConfig([]byte("snapshotInterval: not-a-duration\n"))
	require.Error(t, err)
}

func TestConfig_HandlersBuildsOnlyConfiguredBackends(t *testing.T) {
	cfg, err := LoadConfig([]byte(sampleYAML))
	require.NoError(t, err)

	handlers := cfg.Handlers()
	assert.Contains(t, handlers, "bosun")
	assert.Contains(t, handlers, "datadog")
	assert.Contains(t, handlers, "statsd")
	assert.NotContains(t, handlers, "signalfx")
}
