package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Sender hands a fired alert to whatever physically presents it.
type Sender interface {
	Send(ctx context.Context, req Request) error
}

// LogSender only logs. Used when no broker is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, req Request) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Alert fired",
		"id", req.ID, "kind", req.Kind, "prayer", req.Payload.Prayer,
		"wants_sound", req.Payload.WantsSound, "title", req.Payload.Title)
	return nil
}

// MQTTSender publishes fired alerts as JSON to "<prefix>/alerts".
// Nil-safe: a nil sender is a no-op.
type MQTTSender struct {
	client mqtt.Client
	topic  string
	logger *slog.Logger
}

const publishTimeout = 5 * time.Second

// NewMQTTSender connects to brokerURL. Returns nil, nil when brokerURL is
// empty (publishing disabled).
func NewMQTTSender(brokerURL, clientID, topicPrefix string, logger *slog.Logger) (*MQTTSender, error) {
	if brokerURL == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("Connected to MQTT broker", "broker", brokerURL)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}
	return &MQTTSender{client: client, topic: topicPrefix + "/alerts", logger: logger}, nil
}

func (s *MQTTSender) Send(ctx context.Context, req Request) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	return s.Publish(ctx, s.topic, b)
}

// Publish sends a raw payload at QoS 1. Also used for stats pushes.
func (s *MQTTSender) Publish(ctx context.Context, topic string, payload []byte) error {
	if s == nil {
		return nil
	}
	token := s.client.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSender) Close() {
	if s == nil {
		return
	}
	s.client.Disconnect(250)
}
