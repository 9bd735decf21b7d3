// Package mqtt implements broker.Transport on top of the Eclipse Paho client.
package mqtt

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"mqtt-subscriber/internal/broker"
	"mqtt-subscriber/internal/logger"
)

const (
	// disconnectQuiesce is the time in milliseconds paho waits for pending work on disconnect
	disconnectQuiesce = 250

	defaultConnectTimeout = 10 * time.Second
)

// Transport handles a single paho client connection
type Transport struct {
	client  mqtt.Client
	opts    broker.Options
	handler broker.MessageHandler
	logger  *logger.Logger
	closed  atomic.Bool
}

// New creates a paho transport. It matches broker.Factory.
func New(opts broker.Options, handler broker.MessageHandler) (broker.Transport, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("mqtt: broker host is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("mqtt: message handler is required")
	}

	t := newTransport(opts, handler)
	t.client = mqtt.NewClient(t.clientOptions())
	return t, nil
}

// NewWithClient creates a transport around a provided client (for testing)
func NewWithClient(opts broker.Options, handler broker.MessageHandler, client mqtt.Client) *Transport {
	t := newTransport(opts, handler)
	t.client = client
	return t
}

func newTransport(opts broker.Options, handler broker.MessageHandler) *Transport {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Transport{
		opts:    opts,
		handler: handler,
		logger:  log.With("transport", "mqtt", "clientId", opts.ClientID),
	}
}

// clientOptions builds the paho options. Reconnects are disabled: a lost
// connection is reported upward and ends the session.
func (t *Transport) clientOptions() *mqtt.ClientOptions {
	connectTimeout := t.opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	opts := mqtt.NewClientOptions().
		AddBroker(t.BrokerURL()).
		SetClientID(t.opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(connectTimeout).
		SetOrderMatters(true).
		SetDefaultPublishHandler(t.handleMessage)

	if t.opts.KeepAlive > 0 {
		opts.SetKeepAlive(t.opts.KeepAlive)
	}
	if t.opts.Username != "" {
		opts.SetUsername(t.opts.Username)
		opts.SetPassword(t.opts.Password)
	}
	if t.opts.TLS != nil {
		opts.SetTLSConfig(t.opts.TLS)
	}

	opts.OnConnect = t.handleConnect
	opts.OnConnectionLost = t.handleConnectionLost

	return opts
}

// BrokerURL returns the URL the client dials
func (t *Transport) BrokerURL() string {
	scheme := "tcp"
	if t.opts.TLS != nil {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, t.opts.Host, t.opts.Port)
}

// Connect establishes connection to the MQTT broker
func (t *Transport) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return broker.ErrNotConnected
	}

	t.logger.Debug("connecting to mqtt broker", "broker", t.BrokerURL())

	token := t.client.Connect()
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	return nil
}

// Subscribe subscribes to a topic filter. No per-topic callback is registered
// so every message reaches the default handler exactly once, even when
// filters overlap.
func (t *Transport) Subscribe(ctx context.Context, topic string, qos byte) error {
	if t.closed.Load() || !t.client.IsConnected() {
		return broker.ErrNotConnected
	}

	token := t.client.Subscribe(topic, qos, nil)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	t.logger.Debug("subscribed to topic", "topic", topic, "qos", qos)
	return nil
}

// IsConnected returns current connection status
func (t *Transport) IsConnected() bool {
	return !t.closed.Load() && t.client.IsConnected()
}

// Close cleanly disconnects from the MQTT broker
func (t *Transport) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	// Disconnect also aborts a handshake still in flight
	t.logger.Info("disconnecting from mqtt broker")
	t.client.Disconnect(disconnectQuiesce)
}

func (t *Transport) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	t.handler(broker.Message{
		Topic:    msg.Topic(),
		Payload:  msg.Payload(),
		QoS:      msg.Qos(),
		Retained: msg.Retained(),
	})
}

func (t *Transport) handleConnect(_ mqtt.Client) {
	t.logger.Info("mqtt client connected", "broker", t.BrokerURL())
}

func (t *Transport) handleConnectionLost(_ mqtt.Client, err error) {
	if t.closed.Load() {
		return
	}
	t.logger.Error("mqtt connection lost", "error", err)
	if t.opts.OnConnectionLost != nil {
		t.opts.OnConnectionLost(err)
	}
}

// waitToken blocks until the token completes or ctx is done
func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
