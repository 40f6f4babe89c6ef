package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	netfield "github.com/netfield-io/netfield-go"
)

const (
	// defaultMQTTTopic is used when forward.mqtt_topic is empty. {device}
	// expands to the device id.
	defaultMQTTTopic = "netfield/{device}/data"

	mqttConnectTimeout    = 10 * time.Second
	mqttPublishTimeout    = 5 * time.Second
	mqttDisconnectQuiesce = 250 // milliseconds
	mqttKeepAlive         = 60 * time.Second
	mqttQoS               = 1
)

var errMQTTNotConnected = errors.New("mqtt: not connected")

// mqttForwarder republishes publications on an MQTT broker.
type mqttForwarder struct {
	client   pahomqtt.Client
	template string
}

// buildMQTTOptions creates paho options from the [forward] section.
func buildMQTTOptions(cfg ConfigForward, log zerolog.Logger) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)

	clientID := cfg.MQTTClientID
	if clientID == "" {
		clientID = "netfield-cli"
	}
	opts.SetClientID(clientID)

	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(mqttKeepAlive)

	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		log.Info().Str("broker", cfg.MQTTBroker).Msg("mqtt connected")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.MQTTBroker).Msg("mqtt connection lost")
	})
	return opts
}

func newMQTTForwarder(cfg ConfigForward, log zerolog.Logger) (*mqttForwarder, error) {
	client := pahomqtt.NewClient(buildMQTTOptions(cfg, log))
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect: timeout after %v", mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	template := cfg.MQTTTopic
	if template == "" {
		template = defaultMQTTTopic
	}
	return &mqttForwarder{client: client, template: template}, nil
}

// Forward publishes the payload as JSON.
func (f *mqttForwarder) Forward(ctx context.Context, payload *netfield.WebhookPayload) error {
	if !f.client.IsConnected() {
		return errMQTTNotConnected
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mqtt: marshal payload: %w", err)
	}

	timeout := mqttPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	token := f.client.Publish(mqttTopic(f.template, payload), mqttQoS, false, body)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt publish: timeout after %v", timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

func (f *mqttForwarder) Close() {
	f.client.Disconnect(mqttDisconnectQuiesce)
}

func mqttTopic(template string, payload *netfield.WebhookPayload) string {
	return strings.ReplaceAll(template, "{device}", payload.DeviceID)
}
