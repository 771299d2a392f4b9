package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultMQTTPort      = 1883
	defaultMQTTRootTopic = "msh"
	mqttConnectTimeout   = 10 * time.Second
	mqttInboxCapacity    = 256
)

// MQTTConfig holds broker connection parameters.
type MQTTConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLS       bool
	RootTopic string
}

// MQTTTransport subscribes to a Meshtastic JSON gateway topic on a
// broker. Inbound publishes become frames; outbound frames are
// published on the downlink topic.
type MQTTTransport struct {
	cfg MQTTConfig

	mu     sync.Mutex
	client mqtt.Client
	inbox  chan []byte
}

func NewMQTTTransport(cfg MQTTConfig) *MQTTTransport {
	if cfg.Port <= 0 {
		cfg.Port = defaultMQTTPort
	}
	if cfg.RootTopic == "" {
		cfg.RootTopic = defaultMQTTRootTopic
	}
	return &MQTTTransport{cfg: cfg}
}

func (t *MQTTTransport) Name() string {
	return "mqtt"
}

func (t *MQTTTransport) Target() string {
	if t.cfg.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
}

func (t *MQTTTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := transportLogger("mqtt", "target", t.Target())
	if t.client != nil {
		logger.Debug("connect skipped: already connected")
		return nil
	}
	if t.cfg.Host == "" {
		return errors.New("mqtt host is empty")
	}

	scheme := "tcp"
	if t.cfg.TLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, t.cfg.Host, t.cfg.Port)).
		SetUsername(t.cfg.Username).
		SetPassword(t.cfg.Password).
		SetConnectTimeout(mqttConnectTimeout).
		SetAutoReconnect(false).
		SetCleanSession(true)

	inbox := make(chan []byte, mqttInboxCapacity)
	client := mqtt.NewClient(opts)

	logger.Info("connecting")
	if err := waitToken(ctx, client.Connect()); err != nil {
		return fmt.Errorf("connect mqtt broker: %w", err)
	}

	upTopic := t.cfg.RootTopic + "/+/json/+/+"
	token := client.Subscribe(upTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		payload := append([]byte(nil), msg.Payload()...)
		select {
		case inbox <- payload:
		default:
			// Reader stalled; drop rather than wedge the broker callback.
			logger.Warn("mqtt inbox full, dropping message", "topic", msg.Topic())
		}
	})
	if err := waitToken(ctx, token); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("subscribe %q: %w", upTopic, err)
	}

	t.client = client
	t.inbox = inbox
	logger.Info("connected", "topic", upTopic)

	return nil
}

func (t *MQTTTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	t.client.Disconnect(250)
	t.client = nil
	t.inbox = nil
	transportLogger("mqtt", "target", t.Target()).Info("closed")

	return nil
}

func (t *MQTTTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	client, inbox := t.client, t.inbox
	t.mu.Unlock()
	if client == nil {
		return nil, errors.New("transport is not connected")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case payload := <-inbox:
		return payload, nil
	}
}

func (t *MQTTTransport) WriteFrame(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return errors.New("transport is not connected")
	}

	downTopic := t.cfg.RootTopic + "/json/down"
	if err := waitToken(ctx, client.Publish(downTopic, 0, false, payload)); err != nil {
		return fmt.Errorf("publish %q: %w", downTopic, err)
	}
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}
