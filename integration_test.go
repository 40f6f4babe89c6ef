//go:build integration

package netfield_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	netfield "github.com/netfield-io/netfield-go"
)

// helpers ---------------------------------------------------------------

func requireEnv(t *testing.T, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s environment variable is required", key)
	}
	return v
}

func liveConfig(t *testing.T) netfield.Config {
	t.Helper()
	topic := os.Getenv("NETFIELD_TOPIC")
	if topic == "" {
		topic = "#"
	}
	return netfield.Config{
		Endpoint:      requireEnv(t, "NETFIELD_ENDPOINT"),
		Authorization: requireEnv(t, "NETFIELD_AUTHORIZATION"),
		DeviceID:      requireEnv(t, "NETFIELD_DEVICE_ID"),
		Topic:         topic,
	}
}

// tests -----------------------------------------------------------------

func TestLiveSubscribe(t *testing.T) {
	cfg := liveConfig(t)
	logger := zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()

	s, err := netfield.NewSession(cfg, netfield.WithLogger(logger))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	subscribed := make(chan struct{})
	s.OnStateChanged(func(next, prev netfield.State) {
		t.Logf("state %s -> %s", prev, next)
		if next == netfield.StateSubscribed {
			select {
			case <-subscribed:
			default:
				close(subscribed)
			}
		}
	})
	s.OnError(func(err error) { t.Logf("error: %v", err) })
	s.OnData(func(p netfield.Publication) { t.Logf("publication on %s: %s", p.Path, p.Message) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-subscribed:
	case <-ctx.Done():
		t.Fatalf("not subscribed, state %s", s.State())
	}

	// Give the device a moment to publish.
	time.Sleep(3 * time.Second)

	s.Close()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	t.Logf("stats: %+v", s.Stats())
}

func TestLiveInvalidAuthorization(t *testing.T) {
	cfg := liveConfig(t)
	cfg.Authorization = "invalid"
	cfg.DisableAutoReconnect = true

	s, err := netfield.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	errs := make(chan error, 8)
	s.OnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case err := <-errs:
		t.Logf("rejected: %v", err)
	case <-ctx.Done():
		t.Fatalf("no error reported, state %s", s.State())
	}
	s.Close()
	s.Wait(ctx)
}
