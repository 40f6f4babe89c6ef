package netfield

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"https endpoint", func(c *Config) { c.Endpoint = "https://api.netfield.io/v1" }, true},
		{"missing endpoint", func(c *Config) { c.Endpoint = " " }, false},
		{"bad scheme", func(c *Config) { c.Endpoint = "ftp://api.netfield.io" }, false},
		{"unparsable endpoint", func(c *Config) { c.Endpoint = "ws://[::1" }, false},
		{"missing authorization", func(c *Config) { c.Authorization = "" }, false},
		{"missing device", func(c *Config) { c.DeviceID = "" }, false},
		{"negative heartbeat", func(c *Config) { c.HeartbeatTimeout = -time.Second }, false},
		{"negative attempts", func(c *Config) { c.MaxReconnectAttempts = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Endpoint: "wss://x", Authorization: "a", DeviceID: "d"}
	cfg.defaults()

	assert.Equal(t, DefaultTopic, cfg.Topic)
	assert.Equal(t, DefaultService, cfg.Service)
	assert.Equal(t, DefaultHeartbeatTimeout, cfg.HeartbeatTimeout)
	assert.Equal(t, DefaultReconnectBaseDelay, cfg.ReconnectBaseDelay)
	assert.Equal(t, DefaultReconnectMaxDelay, cfg.ReconnectMaxDelay)
	assert.Equal(t, DefaultCloseGrace, cfg.CloseGrace)
	assert.Equal(t, DefaultShutdownGrace, cfg.ShutdownGrace)
	assert.Equal(t, DefaultUnsubscribeTimeout, cfg.UnsubscribeTimeout)
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	assert.EqualValues(t, DefaultReadLimit, cfg.ReadLimit)
	assert.False(t, cfg.DisableAutoReconnect)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/devices/d/platformconnector/Iw==", cfg.Target().Path())
}

func TestConfigDefaultsKeepExplicitValues(t *testing.T) {
	cfg := testConfig()
	cfg.Service = "opcua"
	cfg.CloseGrace = 5 * time.Second
	cfg.defaults()

	assert.Equal(t, "sensors/#", cfg.Topic)
	assert.Equal(t, "opcua", cfg.Service)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 5*time.Second, cfg.CloseGrace)
}
