package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	netfield "github.com/netfield-io/netfield-go"
)

const (
	forwardQueueSize = 256
	forwardTimeout   = 10 * time.Second
	shutdownTimeout  = 10 * time.Second
)

var (
	subscribeFlags   sessionFlags
	subscribeLimit   int
	subscribeQuiet   bool
	subscribeWebhook string
)

func init() {
	subscribeFlags.register(subscribeCmd)
	subscribeCmd.Flags().IntVar(&subscribeLimit, "limit", 0, "Exit after this many publications (0 = run until interrupted)")
	subscribeCmd.Flags().BoolVar(&subscribeQuiet, "quiet", false, "Do not print publications to stdout")
	subscribeCmd.Flags().StringVar(&subscribeWebhook, "webhook", "", "Webhook URL (overrides forward.webhook_url)")
	rootCmd.AddCommand(subscribeCmd)
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Stream publications of a device topic",
	Long: "Subscribe to a device topic and print every publication as one JSON line.\n" +
		"Publications are also forwarded to the configured webhook and MQTT broker.\n" +
		"Interrupt to unsubscribe and close the connection cleanly.",
	RunE: runSubscribe,
}

// forwarder delivers one publication to a sink.
type forwarder interface {
	Forward(ctx context.Context, payload *netfield.WebhookPayload) error
}

// jsonLines writes payloads as newline-delimited JSON.
type jsonLines struct {
	enc *json.Encoder
}

func (j jsonLines) Forward(_ context.Context, payload *netfield.WebhookPayload) error {
	return j.enc.Encode(payload)
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if subscribeWebhook != "" {
		cfg.Forward.WebhookURL = subscribeWebhook
	}
	sc, err := buildSessionConfig(cfg, &subscribeFlags)
	if err != nil {
		return err
	}

	log := newLogger(cmd.ErrOrStderr())
	sinks, closeSinks, err := buildForwarders(cmd.OutOrStdout(), cfg.Forward, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	s, err := netfield.NewSession(sc, netfield.WithLogger(log))
	if err != nil {
		return err
	}

	pubs := make(chan netfield.Publication, forwardQueueSize)
	s.OnData(func(p netfield.Publication) {
		select {
		case pubs <- p:
		default:
			log.Warn().Str("path", p.Path).Msg("forward queue full, publication dropped")
		}
	})
	s.OnStateChanged(func(next, prev netfield.State) {
		log.Info().Str("state", string(next)).Msg("status")
	})
	s.OnReconnect(func(remaining int) {
		log.Info().Int("seconds", remaining).Msg("reconnecting")
	})
	s.OnRevoke(func(reason string) {
		log.Warn().Str("reason", reason).Msg("subscription revoked")
	})
	s.OnError(func(err error) {
		log.Error().Err(err).Msg("session error")
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Start(context.Background()); err != nil {
		return err
	}

	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		delivered := 0
		for p := range pubs {
			payload := netfield.NewWebhookPayload(s, p, time.Now())
			for _, sink := range sinks {
				fctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
				if err := sink.Forward(fctx, payload); err != nil {
					log.Warn().Err(err).Msg("forward failed")
				}
				cancel()
			}
			delivered++
			if subscribeLimit > 0 && delivered == subscribeLimit {
				s.Close()
			}
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		s.Close()
	case <-s.Done():
	}

	wctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Wait(wctx); err != nil {
		return fmt.Errorf("session did not close cleanly: %w", err)
	}
	// The loop has exited, so OnData can no longer fire.
	close(pubs)
	<-pumped

	stats := s.Stats()
	log.Info().
		Int("messages", stats.Messages).
		Int("reconnects", stats.Reconnects).
		Int("ignored", stats.IgnoredFrames).
		Msg("session closed")
	return nil
}

// buildForwarders creates the configured sinks. The returned func releases
// them.
func buildForwarders(stdout io.Writer, cfg ConfigForward, log zerolog.Logger) ([]forwarder, func(), error) {
	var sinks []forwarder
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if !subscribeQuiet {
		sinks = append(sinks, jsonLines{enc: json.NewEncoder(stdout)})
	}
	if cfg.WebhookURL != "" {
		wf, err := netfield.NewWebhookForwarder(cfg.WebhookURL, cfg.WebhookSecret)
		if err != nil {
			return nil, closeAll, err
		}
		sinks = append(sinks, wf)
		log.Info().Str("url", cfg.WebhookURL).Bool("signed", cfg.WebhookSecret != "").Msg("forwarding to webhook")
	}
	if cfg.MQTTBroker != "" {
		mf, err := newMQTTForwarder(cfg, log)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		sinks = append(sinks, mf)
		closers = append(closers, mf.Close)
		log.Info().Str("broker", cfg.MQTTBroker).Str("topic", mf.template).Msg("forwarding to mqtt")
	}
	return sinks, closeAll, nil
}
