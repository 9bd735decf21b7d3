package subscriber

import (
	"context"
	"sync"

	"mqtt-subscriber/internal/broker"
)

// MockTransport is an in-memory broker.Transport
type MockTransport struct {
	mu           sync.Mutex
	opts         broker.Options
	handler      broker.MessageHandler
	connected    bool
	connectErr   error
	subscribeErr error
	subscribed   []string
	closes       int

	// onSubscribe runs before Subscribe returns, like a broker sending
	// retained messages ahead of the acknowledgement
	onSubscribe func(topic string)
}

// factory returns a broker.Factory that always hands out t
func (t *MockTransport) factory() broker.Factory {
	return func(opts broker.Options, handler broker.MessageHandler) (broker.Transport, error) {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.opts = opts
		t.handler = handler
		return t, nil
	}
}

func (t *MockTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connected = true
	return nil
}

func (t *MockTransport) Subscribe(ctx context.Context, topic string, qos byte) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return broker.ErrNotConnected
	}
	if t.subscribeErr != nil {
		err := t.subscribeErr
		t.mu.Unlock()
		return err
	}
	t.subscribed = append(t.subscribed, topic)
	onSubscribe := t.onSubscribe
	t.mu.Unlock()

	if onSubscribe != nil {
		onSubscribe(topic)
	}
	return nil
}

func (t *MockTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *MockTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.closes++
}

// publish simulates an inbound message from the broker
func (t *MockTransport) publish(topic, payload string) {
	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()
	handler(broker.Message{Topic: topic, Payload: []byte(payload)})
}

// loseConnection simulates the broker dropping the link
func (t *MockTransport) loseConnection(err error) {
	t.mu.Lock()
	t.connected = false
	onLost := t.opts.OnConnectionLost
	t.mu.Unlock()
	onLost(err)
}

func (t *MockTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// recorder collects handler deliveries
type recorder struct {
	mu       sync.Mutex
	messages []*InboundMessage
	notify   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 100)}
}

func (r *recorder) handle(msg *InboundMessage) error {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	r.notify <- struct{}{}
	return nil
}

func (r *recorder) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, string(m.Payload))
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}
