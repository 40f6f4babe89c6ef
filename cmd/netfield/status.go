package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	netfield "github.com/netfield-io/netfield-go"
)

var (
	statusFlags   sessionFlags
	statusProbe   bool
	statusTimeout time.Duration
)

func init() {
	statusFlags.register(statusCmd)
	statusCmd.Flags().BoolVar(&statusProbe, "probe", false, "Connect and subscribe once to verify credentials and device")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 20*time.Second, "Probe timeout")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and connection status",
	Long:  "Display the current configuration and, with --probe, run one subscribe handshake against the endpoint.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Endpoint:      %s\n", valueOrDefault(cfg.Default.Endpoint, defaultEndpoint+" (default)"))
		if cfg.Default.Authorization != "" {
			fmt.Fprintf(out, "  Authorization: %s\n", maskKey(cfg.Default.Authorization))
		} else {
			fmt.Fprintln(out, "  Authorization: (not set)")
		}
		fmt.Fprintf(out, "  Service:       %s\n", valueOrDefault(cfg.Default.Service, netfield.DefaultService))
		fmt.Fprintf(out, "  Heartbeat:     %s\n", valueOrDefault(cfg.Default.HeartbeatTimeout, netfield.DefaultHeartbeatTimeout.String()))
		reconnect := "enabled"
		if cfg.Default.AutoReconnect != nil && !*cfg.Default.AutoReconnect {
			reconnect = "disabled"
		}
		fmt.Fprintf(out, "  Reconnect:     %s\n", reconnect)

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Subscription:")
		fmt.Fprintf(out, "  Device:        %s\n", valueOrDefault(cfg.Subscription.DeviceID, "(not set)"))
		fmt.Fprintf(out, "  Topic:         %s\n", valueOrDefault(cfg.Subscription.Topic, netfield.DefaultTopic))

		if cfg.Forward.WebhookURL != "" || cfg.Forward.MQTTBroker != "" {
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Forwarding:")
			if cfg.Forward.WebhookURL != "" {
				fmt.Fprintf(out, "  Webhook:       %s\n", cfg.Forward.WebhookURL)
			}
			if cfg.Forward.MQTTBroker != "" {
				fmt.Fprintf(out, "  MQTT:          %s (%s)\n", cfg.Forward.MQTTBroker, valueOrDefault(cfg.Forward.MQTTTopic, defaultMQTTTopic))
			}
		}

		if !statusProbe {
			return nil
		}
		sc, err := buildSessionConfig(cfg, &statusFlags)
		if err != nil {
			return err
		}
		sc.DisableAutoReconnect = true

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Live status:")
		ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
		defer cancel()
		return probe(ctx, out, sc, netfield.WithLogger(newLogger(cmd.ErrOrStderr())))
	},
}

// probe runs one session until it is subscribed or fails.
func probe(ctx context.Context, out io.Writer, sc netfield.Config, opts ...netfield.Option) error {
	s, err := netfield.NewSession(sc, opts...)
	if err != nil {
		return err
	}

	subscribed := make(chan struct{}, 1)
	failed := make(chan error, 1)
	s.OnStateChanged(func(next, prev netfield.State) {
		if next == netfield.StateSubscribed {
			select {
			case subscribed <- struct{}{}:
			default:
			}
		}
	})
	s.OnError(func(err error) {
		select {
		case failed <- err:
		default:
		}
	})

	start := time.Now()
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer func() {
		s.Close()
		wctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.Wait(wctx)
	}()

	select {
	case <-subscribed:
		fmt.Fprintf(out, "  Subscribed:    %s in %s\n", s.Target().Path(), time.Since(start).Round(time.Millisecond))
		fmt.Fprintf(out, "  Client ID:     %s\n", s.ClientID())
		return nil
	case err := <-failed:
		fmt.Fprintf(out, "  Failed:        %v\n", err)
		return err
	case <-s.Done():
		fmt.Fprintln(out, "  Failed:        connection closed")
		return fmt.Errorf("connection closed in state %s", s.State())
	case <-ctx.Done():
		fmt.Fprintf(out, "  Failed:        no subscription after %s (state %s)\n", statusTimeout, s.State())
		return ctx.Err()
	}
}
