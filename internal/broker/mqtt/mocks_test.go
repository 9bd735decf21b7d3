package mqtt

import (
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MockToken implements mqtt.Token for testing
type MockToken struct {
	err  error
	done chan struct{}
}

// NewMockToken returns a token that has already completed with err
func NewMockToken(err error) *MockToken {
	t := &MockToken{
		err:  err,
		done: make(chan struct{}),
	}
	close(t.done)
	return t
}

// NewPendingToken returns a token that never completes
func NewPendingToken() *MockToken {
	return &MockToken{done: make(chan struct{})}
}

func (t *MockToken) Wait() bool                       { <-t.done; return true }
func (t *MockToken) WaitTimeout(d time.Duration) bool { return true }
func (t *MockToken) Error() error                     { return t.err }
func (t *MockToken) Done() <-chan struct{}            { return t.done }

// MockClient implements mqtt.Client for testing
type MockClient struct {
	connected      atomic.Bool
	connectFunc    func() mqtt.Token
	subscribeFunc  func(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	disconnects    atomic.Int32
	mu             sync.RWMutex
	subscribed     map[string]byte
	nonNilCallback bool
}

func NewMockClient() *MockClient {
	m := &MockClient{
		subscribed: make(map[string]byte),
	}
	m.connectFunc = func() mqtt.Token {
		m.connected.Store(true)
		return NewMockToken(nil)
	}
	m.subscribeFunc = func(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
		return NewMockToken(nil)
	}
	return m
}

func (m *MockClient) Connect() mqtt.Token { return m.connectFunc() }
func (m *MockClient) Disconnect(quiesce uint) {
	m.disconnects.Add(1)
	m.connected.Store(false)
}
func (m *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return NewMockToken(nil)
}
func (m *MockClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	token := m.subscribeFunc(topic, qos, callback)
	if token.Error() == nil {
		m.mu.Lock()
		m.subscribed[topic] = qos
		if callback != nil {
			m.nonNilCallback = true
		}
		m.mu.Unlock()
	}
	return token
}
func (m *MockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return NewMockToken(nil)
}
func (m *MockClient) Unsubscribe(topics ...string) mqtt.Token        { return NewMockToken(nil) }
func (m *MockClient) AddRoute(topic string, callback mqtt.MessageHandler) {}
func (m *MockClient) IsConnected() bool                               { return m.connected.Load() }
func (m *MockClient) IsConnectionOpen() bool                          { return m.connected.Load() }
func (m *MockClient) OptionsReader() mqtt.ClientOptionsReader         { return mqtt.ClientOptionsReader{} }

// MockMessage implements mqtt.Message for testing
type MockMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m *MockMessage) Duplicate() bool   { return false }
func (m *MockMessage) Qos() byte         { return m.qos }
func (m *MockMessage) Retained() bool    { return m.retained }
func (m *MockMessage) Topic() string     { return m.topic }
func (m *MockMessage) MessageID() uint16 { return 1 }
func (m *MockMessage) Payload() []byte   { return m.payload }
func (m *MockMessage) Ack()              {}
