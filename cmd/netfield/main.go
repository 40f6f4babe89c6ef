package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.netfield/config.toml.
type Config struct {
	Default      ConfigDefault      `toml:"default"`
	Subscription ConfigSubscription `toml:"subscription"`
	Forward      ConfigForward      `toml:"forward"`
}

// ConfigDefault holds connection settings.
type ConfigDefault struct {
	Endpoint         string `toml:"endpoint"`
	Authorization    string `toml:"authorization"`
	Service          string `toml:"service,omitempty"`
	HeartbeatTimeout string `toml:"heartbeat_timeout,omitempty"`
	AutoReconnect    *bool  `toml:"auto_reconnect,omitempty"`
}

// ConfigSubscription selects what to subscribe to.
type ConfigSubscription struct {
	DeviceID string `toml:"device_id"`
	Topic    string `toml:"topic,omitempty"`
}

// ConfigForward configures where publications are relayed.
type ConfigForward struct {
	WebhookURL    string `toml:"webhook_url,omitempty"`
	WebhookSecret string `toml:"webhook_secret,omitempty"`
	MQTTBroker    string `toml:"mqtt_broker,omitempty"`
	MQTTTopic     string `toml:"mqtt_topic,omitempty"`
	MQTTClientID  string `toml:"mqtt_client_id,omitempty"`
	MQTTUsername  string `toml:"mqtt_username,omitempty"`
	MQTTPassword  string `toml:"mqtt_password,omitempty"`
}

const defaultEndpoint = "wss://api.netfield.io/v1"

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.netfield, creating it if needed.
// NETFIELD_CONFIG_DIR overrides the location.
func configDir() (string, error) {
	dir := os.Getenv("NETFIELD_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".netfield")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.endpoint").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.endpoint)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "endpoint":
			cfg.Default.Endpoint = value
		case "authorization":
			cfg.Default.Authorization = value
		case "service":
			cfg.Default.Service = value
		case "heartbeat_timeout":
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid duration %q for heartbeat_timeout: %w", value, err)
			}
			cfg.Default.HeartbeatTimeout = value
		case "auto_reconnect":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid boolean %q for auto_reconnect", value)
			}
			cfg.Default.AutoReconnect = &b
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "subscription":
		switch field {
		case "device_id":
			cfg.Subscription.DeviceID = value
		case "topic":
			cfg.Subscription.Topic = value
		default:
			return fmt.Errorf("unknown field %q in section [subscription]", field)
		}
	case "forward":
		switch field {
		case "webhook_url":
			cfg.Forward.WebhookURL = value
		case "webhook_secret":
			cfg.Forward.WebhookSecret = value
		case "mqtt_broker":
			cfg.Forward.MQTTBroker = value
		case "mqtt_topic":
			cfg.Forward.MQTTTopic = value
		case "mqtt_client_id":
			cfg.Forward.MQTTClientID = value
		case "mqtt_username":
			cfg.Forward.MQTTUsername = value
		case "mqtt_password":
			cfg.Forward.MQTTPassword = value
		default:
			return fmt.Errorf("unknown field %q in section [forward]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, subscription, forward)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var logLevel string

var rootCmd = &cobra.Command{
	Use:          "netfield",
	Short:        "netFIELD subscription CLI",
	Long:         "Command-line interface for the netFIELD proxy WebSocket API.\nManage configuration, check connectivity, and stream device publications.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error, disabled (env "+envLogLevel+")")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
