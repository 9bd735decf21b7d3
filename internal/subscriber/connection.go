// Package subscriber manages the lifecycle of a single broker connection:
// connect, subscribe, deliver inbound messages on a dedicated worker and
// shut down cleanly from either the controlling goroutine or the worker.
//
// Lifecycle:
//
//	Disconnected -> Connecting -> Running -> Stopping -> Stopped
//
// Open leaves the connection in Connecting with the handshake done, so
// filters can be registered before delivery starts. StartDelivery moves to
// Running. Stop may be called any number of times from any goroutine,
// including from inside a message handler.
package subscriber

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"mqtt-subscriber/internal/broker"
	"mqtt-subscriber/internal/logger"
	"mqtt-subscriber/internal/metrics"
	"mqtt-subscriber/internal/stats"
)

const (
	defaultQueueSize   = 1000
	defaultExitPayload = "exit"
)

// InboundMessage is a message handed to the application handler. It is only
// valid for the duration of the handler call.
type InboundMessage struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool

	// Value is the payload decoded per the connection's PayloadFormat:
	// []byte for raw, string for text, the JSON document for json.
	Value interface{}
}

// Handler processes delivered messages. Returned errors are logged and do
// not affect the connection.
type Handler func(msg *InboundMessage) error

// Config describes a connection
type Config struct {
	ClientID       string
	Host           string
	Port           int
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	Username       string
	Password       string
	TLS            *tls.Config

	// Transport creates the broker transport. Required.
	Transport broker.Factory

	// Handler receives every delivered message that is not the exit payload
	Handler Handler

	// QueueSize bounds the number of messages buffered for the worker
	QueueSize int

	// ExitPayload stops the connection when received. Defaults to "exit".
	ExitPayload string

	PayloadFormat PayloadFormat

	// OnStateChange is called after every lifecycle transition while the
	// connection lock is not held.
	OnStateChange func(from, to LifecycleState)

	Logger  *logger.Logger
	Metrics *metrics.Metrics
	Stats   *stats.StatsCollector
}

// Connection owns one logical connection to a broker
type Connection struct {
	clientID    string
	host        string
	port        int
	keepAlive   time.Duration
	handler     Handler
	exitPayload string
	format      PayloadFormat
	onChange    func(from, to LifecycleState)

	transport broker.Transport
	filters   *filterSet

	logger  *logger.Logger
	metrics *metrics.Metrics
	stats   *stats.StatsCollector

	inbox   chan broker.Message
	quit    chan struct{}
	stopped chan struct{}

	mu    sync.Mutex
	cond  *sync.Cond
	state LifecycleState
	cause error
}

// Open creates the transport, registers the delivery callback and performs
// the connect handshake. The returned connection is in StateConnecting. On
// failure the transport is released and an *InitError or *ConnectError is
// returned; no retry is attempted.
func Open(ctx context.Context, cfg Config) (*Connection, error) {
	c := newConnection(cfg)

	if cfg.Transport == nil {
		c.transition(StateStopped)
		return nil, &InitError{ClientID: cfg.ClientID, Err: fmt.Errorf("no transport factory configured")}
	}

	format, err := ParsePayloadFormat(string(cfg.PayloadFormat))
	if err != nil {
		c.transition(StateStopped)
		return nil, &InitError{ClientID: cfg.ClientID, Err: err}
	}
	c.format = format

	c.transition(StateConnecting)

	transport, err := cfg.Transport(broker.Options{
		ClientID:         cfg.ClientID,
		Host:             cfg.Host,
		Port:             cfg.Port,
		KeepAlive:        cfg.KeepAlive,
		ConnectTimeout:   cfg.ConnectTimeout,
		Username:         cfg.Username,
		Password:         cfg.Password,
		TLS:              cfg.TLS,
		Logger:           c.logger,
		OnConnectionLost: c.handleConnectionLost,
	}, c.enqueue)
	if err != nil {
		c.logger.Error("failed to initialize transport", "error", err)
		c.transition(StateStopped)
		return nil, &InitError{ClientID: cfg.ClientID, Err: err}
	}
	c.transport = transport

	if err := transport.Connect(ctx); err != nil {
		c.logger.Error("failed to connect to the broker", "host", c.host, "port", c.port, "error", err)
		transport.Close()
		c.transition(StateStopped)
		return nil, &ConnectError{Host: cfg.Host, Port: cfg.Port, Err: err}
	}

	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetMQTTConnectionStatus(true)
	})
	c.logger.Info("successfully connected to the broker", "host", c.host, "port", c.port, "keepAlive", c.keepAlive)

	return c, nil
}

func newConnection(cfg Config) *Connection {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	exitPayload := cfg.ExitPayload
	if exitPayload == "" {
		exitPayload = defaultExitPayload
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	st := cfg.Stats
	if st == nil {
		st = stats.NewStatsCollector()
	}

	c := &Connection{
		clientID:    cfg.ClientID,
		host:        cfg.Host,
		port:        cfg.Port,
		keepAlive:   cfg.KeepAlive,
		handler:     cfg.Handler,
		exitPayload: exitPayload,
		format:      FormatText,
		onChange:    cfg.OnStateChange,
		filters:     newFilterSet(),
		logger:      log.With("clientId", cfg.ClientID),
		metrics:     cfg.Metrics,
		stats:       st,
		inbox:       make(chan broker.Message, queueSize),
		quit:        make(chan struct{}),
		stopped:     make(chan struct{}),
		state:       StateDisconnected,
	}
	c.cond = sync.NewCond(&c.mu)
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetLifecycleState(StateDisconnected.String())
	})
	return c
}

// Subscribe registers interest in a topic filter. It may be called several
// times, before or after StartDelivery. After Stop it returns an
// *InvalidStateError.
func (c *Connection) Subscribe(ctx context.Context, topic string, qos byte) error {
	if err := ValidateFilter(topic); err != nil {
		return err
	}
	if qos > 2 {
		return ErrInvalidQoS
	}

	if state := c.State(); state != StateConnecting && state != StateRunning {
		return &InvalidStateError{Op: "subscribe", State: state}
	}

	// The filter is registered first so messages the broker sends while the
	// subscribe request is in flight, retained ones included, are not dropped
	prev, existed := c.filters.add(topic, qos)
	if err := c.transport.Subscribe(ctx, topic, qos); err != nil {
		if existed {
			c.filters.add(topic, prev)
		} else {
			c.filters.remove(topic)
		}
		if state := c.State(); state >= StateStopping {
			return &InvalidStateError{Op: "subscribe", State: state}
		}
		c.logger.Error("failed to subscribe to topic", "topic", topic, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	count := len(c.filters.list())
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetSubscriptionsActive(float64(count))
	})
	c.logger.Info("subscribed to topic", "topic", topic, "qos", qos)

	return nil
}

// StartDelivery starts the delivery worker and returns immediately. Calling
// it again while running has no effect.
func (c *Connection) StartDelivery() error {
	c.mu.Lock()
	switch c.state {
	case StateRunning:
		c.mu.Unlock()
		return nil
	case StateConnecting:
	default:
		state := c.state
		c.mu.Unlock()
		return &InvalidStateError{Op: "start delivery", State: state}
	}
	notify := c.transitionLocked(StateRunning)
	c.mu.Unlock()
	notify()

	go c.deliver()
	c.logger.Info("message delivery started")
	return nil
}

// Stop disconnects from the broker and halts the worker. It is safe to call
// concurrently and from inside a handler; every caller returns once the
// state is Stopped. A delivery already in progress on the worker may finish
// after Stop returns, but no new delivery starts.
func (c *Connection) Stop() {
	c.stop(nil)
}

func (c *Connection) stop(cause error) {
	c.mu.Lock()
	if c.state >= StateStopping {
		// Another caller owns the shutdown
		for c.state != StateStopped {
			c.cond.Wait()
		}
		c.mu.Unlock()
		return
	}
	c.cause = cause
	notify := c.transitionLocked(StateStopping)
	close(c.quit)
	c.mu.Unlock()
	notify()

	if c.transport != nil {
		c.transport.Close()
	}
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetMQTTConnectionStatus(false)
	})

	c.transition(StateStopped)

	if cause != nil {
		c.logger.Error("connection stopped", "error", cause)
	} else {
		c.logger.Info("connection stopped")
	}
}

// AwaitStopped blocks until the connection reaches Stopped. It returns
// immediately if Stop has already completed.
func (c *Connection) AwaitStopped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.state != StateStopped {
		c.cond.Wait()
	}
}

// Done returns a channel closed when the connection reaches Stopped
func (c *Connection) Done() <-chan struct{} {
	return c.stopped
}

// State returns the current lifecycle state
func (c *Connection) State() LifecycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns why the connection stopped. It is nil while running and after
// a clean stop.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// Subscriptions returns the registered filters in registration order
func (c *Connection) Subscriptions() []Subscription {
	return c.filters.list()
}

// QueueDepth returns the number of messages waiting for the worker
func (c *Connection) QueueDepth() int {
	return len(c.inbox)
}

// ClientID returns the client identifier
func (c *Connection) ClientID() string {
	return c.clientID
}

// enqueue is the delivery callback registered with the transport. Messages
// are buffered until the worker picks them up; once Stop has begun they are
// dropped.
func (c *Connection) enqueue(msg broker.Message) {
	c.stats.IncReceived()
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncMessagesTotal("received")
	})

	select {
	case <-c.quit:
		c.drop(msg)
		return
	default:
	}

	select {
	case c.inbox <- msg:
	case <-c.quit:
		c.drop(msg)
	}
}

func (c *Connection) drop(msg broker.Message) {
	c.stats.IncDropped()
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncMessagesTotal("dropped")
	})
	c.logger.Debug("message dropped after stop", "topic", msg.Topic)
}

// deliver is the worker loop. It never touches the transport. Messages still
// queued when the connection stops, for instance behind the exit payload, are
// counted as dropped and never reach the handler.
func (c *Connection) deliver() {
	for {
		select {
		case <-c.quit:
			c.drain()
			return
		case msg := <-c.inbox:
			// quit may have closed while a message was also ready
			if c.stopping() {
				c.drop(msg)
				c.drain()
				return
			}
			c.onMessageDelivered(msg)
		}
	}
}

func (c *Connection) drain() {
	for {
		select {
		case msg := <-c.inbox:
			c.drop(msg)
		default:
			return
		}
	}
}

func (c *Connection) stopping() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

// onMessageDelivered handles one inbound message on the worker
func (c *Connection) onMessageDelivered(msg broker.Message) {
	if !c.filters.matches(msg.Topic) {
		c.stats.IncFiltered()
		c.safeMetricsUpdate(func(m *metrics.Metrics) {
			m.IncMessagesTotal("filtered")
		})
		c.logger.Debug("message matches no subscription", "topic", msg.Topic)
		return
	}

	if string(msg.Payload) == c.exitPayload {
		c.logger.Info("exit payload received, stopping", "topic", msg.Topic)
		c.stop(nil)
		return
	}

	value, err := decode(c.format, msg.Topic, msg.Payload)
	if err != nil {
		c.stats.IncDecodeErrors()
		c.safeMetricsUpdate(func(m *metrics.Metrics) {
			m.IncMessagesTotal("decode_error")
		})
		c.logger.Error("failed to decode message", "topic", msg.Topic, "error", err)
		return
	}

	in := &InboundMessage{
		Topic:    msg.Topic,
		Payload:  msg.Payload,
		QoS:      msg.QoS,
		Retained: msg.Retained,
		Value:    value,
	}

	if err := c.invokeHandler(in); err != nil {
		c.stats.IncHandlerErrors()
		c.safeMetricsUpdate(func(m *metrics.Metrics) {
			m.IncMessagesTotal("handler_error")
		})
		c.logger.Error("message handler failed", "topic", msg.Topic, "error", err)
		return
	}

	c.stats.IncDelivered()
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncMessagesTotal("delivered")
	})
}

// invokeHandler runs the application handler, converting panics into errors
// so a faulty handler cannot kill the worker.
func (c *Connection) invokeHandler(msg *InboundMessage) (err error) {
	if c.handler == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(msg)
}

// handleConnectionLost is invoked by the transport when the link drops.
// The stop runs on its own goroutine so the transport callback never waits
// on its own shutdown.
func (c *Connection) handleConnectionLost(err error) {
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetMQTTConnectionStatus(false)
	})
	go c.stop(fmt.Errorf("%w: %w", ErrConnectionLost, err))
}

// transition moves to next if the move is monotonic
func (c *Connection) transition(next LifecycleState) {
	c.mu.Lock()
	notify := c.transitionLocked(next)
	c.mu.Unlock()
	notify()
}

// transitionLocked updates the state and wakes waiters. The returned
// function reports the change and must be called without the lock held.
func (c *Connection) transitionLocked(next LifecycleState) func() {
	prev := c.state
	if !prev.canTransition(next) {
		return func() {}
	}

	c.state = next
	if next == StateStopped {
		close(c.stopped)
	}
	c.cond.Broadcast()

	return func() {
		c.logger.Debug("lifecycle transition", "from", prev.String(), "to", next.String())
		c.safeMetricsUpdate(func(m *metrics.Metrics) {
			m.SetLifecycleState(next.String())
		})
		if c.onChange != nil {
			c.onChange(prev, next)
		}
	}
}

// safeMetricsUpdate safely updates metrics if they are enabled
func (c *Connection) safeMetricsUpdate(fn func(*metrics.Metrics)) {
	if c.metrics != nil {
		fn(c.metrics)
	}
}
