package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	initEndpoint string
	initDeviceID string
)

func init() {
	initCmd.Flags().StringVar(&initEndpoint, "endpoint", "", "WebSocket endpoint (default "+defaultEndpoint+")")
	initCmd.Flags().StringVar(&initDeviceID, "device", "", "Device id to subscribe to")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <authorization>",
	Short: "Store credentials in ~/.netfield/config.toml",
	Long:  "Initialize the netfield CLI by storing your API key or bearer token in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.Authorization = args[0]
		if initEndpoint != "" {
			cfg.Default.Endpoint = initEndpoint
		}
		if cfg.Default.Endpoint == "" {
			cfg.Default.Endpoint = defaultEndpoint
		}
		if initDeviceID != "" {
			cfg.Subscription.DeviceID = initDeviceID
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Fprintf(cmd.OutOrStdout(), "Authorization saved to %s\n", path)
		return nil
	},
}
