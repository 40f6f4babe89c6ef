package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	netfield "github.com/netfield-io/netfield-go"
)

// sessionFlags override file values for one invocation.
type sessionFlags struct {
	endpoint string
	deviceID string
	topic    string
	service  string
	noRetry  bool
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "WebSocket endpoint (overrides default.endpoint)")
	cmd.Flags().StringVar(&f.deviceID, "device", "", "Device id (overrides subscription.device_id)")
	cmd.Flags().StringVar(&f.topic, "topic", "", "Topic filter (overrides subscription.topic)")
	cmd.Flags().StringVar(&f.service, "service", "", "Service namespace (overrides default.service)")
	cmd.Flags().BoolVar(&f.noRetry, "no-reconnect", false, "Exit instead of reconnecting after a disconnect")
}

// buildSessionConfig merges the config file with flags.
func buildSessionConfig(cfg *Config, f *sessionFlags) (netfield.Config, error) {
	sc := netfield.Config{
		Endpoint:      valueOrDefault(f.endpoint, cfg.Default.Endpoint),
		Authorization: cfg.Default.Authorization,
		DeviceID:      valueOrDefault(f.deviceID, cfg.Subscription.DeviceID),
		Topic:         valueOrDefault(f.topic, cfg.Subscription.Topic),
		Service:       valueOrDefault(f.service, cfg.Default.Service),
	}
	if sc.Endpoint == "" {
		sc.Endpoint = defaultEndpoint
	}
	if sc.Authorization == "" {
		return sc, fmt.Errorf("no authorization configured; run 'netfield init <authorization>' first")
	}
	if sc.DeviceID == "" {
		return sc, fmt.Errorf("no device id; pass --device or run 'netfield config set subscription.device_id <id>'")
	}
	if cfg.Default.HeartbeatTimeout != "" {
		d, err := time.ParseDuration(cfg.Default.HeartbeatTimeout)
		if err != nil {
			return sc, fmt.Errorf("invalid default.heartbeat_timeout: %w", err)
		}
		sc.HeartbeatTimeout = d
	}
	if cfg.Default.AutoReconnect != nil && !*cfg.Default.AutoReconnect {
		sc.DisableAutoReconnect = true
	}
	if f.noRetry {
		sc.DisableAutoReconnect = true
	}
	return sc, sc.Validate()
}

// maskKey shows the first and last 4 characters of a secret.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	if len(key) <= 16 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return key[:12] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
