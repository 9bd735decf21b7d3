// Package nats implements broker.Transport on top of a NATS server. MQTT
// topic filters are mapped onto NATS subjects so the same subscription
// configuration works against either broker.
package nats

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"mqtt-subscriber/internal/broker"
	"mqtt-subscriber/internal/logger"
)

const defaultConnectTimeout = 10 * time.Second

// Transport handles a single NATS connection
type Transport struct {
	opts    broker.Options
	handler broker.MessageHandler
	logger  *logger.Logger

	conn   *nats.Conn
	subs   []*subscription
	mu     sync.Mutex
	closed atomic.Bool
}

// subscription ties a NATS subscription to the MQTT filter it serves
type subscription struct {
	filter  string
	subject string
	sub     *nats.Subscription
}

// New creates a NATS transport. It matches broker.Factory.
func New(opts broker.Options, handler broker.MessageHandler) (broker.Transport, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("nats: server host is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("nats: message handler is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	return &Transport{
		opts:    opts,
		handler: handler,
		logger:  log.With("transport", "nats", "clientId", opts.ClientID),
	}, nil
}

// ServerURL returns the URL the client dials
func (t *Transport) ServerURL() string {
	return fmt.Sprintf("nats://%s:%d", t.opts.Host, t.opts.Port)
}

// connectOptions builds the nats options. Reconnects are disabled to match
// the single-attempt policy of the subscriber.
func (t *Transport) connectOptions() []nats.Option {
	timeout := t.opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	opts := []nats.Option{
		nats.Name(t.opts.ClientID),
		nats.Timeout(timeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(t.handleDisconnect),
		nats.ClosedHandler(t.handleClosed),
	}

	if t.opts.KeepAlive > 0 {
		opts = append(opts, nats.PingInterval(t.opts.KeepAlive))
	}
	if t.opts.Username != "" {
		opts = append(opts, nats.UserInfo(t.opts.Username, t.opts.Password))
	}
	if t.opts.TLS != nil {
		opts = append(opts, nats.Secure(t.opts.TLS))
	}

	return opts
}

// Connect establishes connection to the NATS server
func (t *Transport) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return broker.ErrNotConnected
	}

	t.logger.Debug("connecting to nats server", "url", t.ServerURL())

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(t.ServerURL(), t.connectOptions()...)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("failed to connect to nats server: %w", r.err)
		}
		t.mu.Lock()
		if t.closed.Load() {
			t.mu.Unlock()
			r.conn.Close()
			return broker.ErrNotConnected
		}
		t.conn = r.conn
		t.mu.Unlock()
		t.logger.Info("connected to nats server", "url", r.conn.ConnectedUrl())
		return nil
	case <-ctx.Done():
		// Release a connection that completes after the caller gave up
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return ctx.Err()
	}
}

// Subscribe converts the MQTT topic filter to a NATS subject and subscribes.
// QoS is accepted for interface compatibility; core NATS is at-most-once.
func (t *Transport) Subscribe(ctx context.Context, topic string, qos byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() || t.conn == nil || !t.conn.IsConnected() {
		return broker.ErrNotConnected
	}

	subject := ToNATSSubject(topic)
	sub, err := t.conn.Subscribe(subject, t.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	if err := t.conn.FlushWithContext(ctx); err != nil {
		sub.Unsubscribe()
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	// Resubscribing the same filter keeps its position and drops the old subscription
	for _, s := range t.subs {
		if s.filter == topic {
			old := s.sub
			s.sub = sub
			old.Unsubscribe()
			t.logger.Debug("replaced subscription", "topic", topic, "subject", subject, "qos", qos)
			return nil
		}
	}
	t.subs = append(t.subs, &subscription{filter: topic, subject: subject, sub: sub})

	t.logger.Debug("subscribed to topic", "topic", topic, "subject", subject, "qos", qos)
	return nil
}

// IsConnected returns the current connection status
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed.Load() && t.conn != nil && t.conn.IsConnected()
}

// Close closes the connection without draining pending messages
func (t *Transport) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}

	t.mu.Lock()
	conn := t.conn
	t.subs = nil
	t.mu.Unlock()

	if conn != nil {
		t.logger.Info("disconnecting from nats server")
		conn.Close()
	}
}

// handleMessage forwards a message once even when several filters overlap:
// only the earliest registered filter matching the subject delivers it.
func (t *Transport) handleMessage(msg *nats.Msg) {
	t.mu.Lock()
	var owner *subscription
	for _, s := range t.subs {
		if subjectMatches(s.subject, msg.Subject) {
			owner = s
			break
		}
	}
	t.mu.Unlock()

	if owner == nil || (msg.Sub != nil && msg.Sub != owner.sub) {
		return
	}

	t.handler(broker.Message{
		Topic:   topicFor(owner.filter, msg.Subject),
		Payload: msg.Data,
	})
}

func (t *Transport) handleDisconnect(_ *nats.Conn, err error) {
	if t.closed.Load() || err == nil {
		return
	}
	t.logger.Error("disconnected from nats server", "error", err)
	if t.opts.OnConnectionLost != nil {
		t.opts.OnConnectionLost(err)
	}
}

func (t *Transport) handleClosed(_ *nats.Conn) {
	t.logger.Debug("nats connection closed")
}
