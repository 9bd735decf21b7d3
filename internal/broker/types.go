// Package broker defines the transport a subscriber connection uses to reach
// its message broker. Implementations live in the mqtt and nats subpackages.
package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"mqtt-subscriber/internal/logger"
)

// ErrNotConnected is returned when an operation needs an open connection
var ErrNotConnected = errors.New("broker: not connected")

// Message is an inbound message as handed over by a transport
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// MessageHandler receives every inbound message of a transport. Transports
// may call it from their own goroutines; it must not block indefinitely.
type MessageHandler func(msg Message)

// Options configures a transport
type Options struct {
	ClientID       string
	Host           string
	Port           int
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	Username       string
	Password       string
	TLS            *tls.Config
	Logger         *logger.Logger

	// OnConnectionLost is invoked when an established connection drops for a
	// reason other than Close.
	OnConnectionLost func(err error)
}

// Transport is the network engine behind a subscriber connection
type Transport interface {
	// Connect performs the blocking connect handshake
	Connect(ctx context.Context) error

	// Subscribe registers interest in a topic filter. Matching messages are
	// passed to the handler given to the Factory.
	Subscribe(ctx context.Context, topic string, qos byte) error

	// IsConnected returns the current connection state
	IsConnected() bool

	// Close disconnects and releases the transport. Safe to call repeatedly.
	Close()
}

// Factory creates a transport and registers handler as its delivery callback
type Factory func(opts Options, handler MessageHandler) (Transport, error)
