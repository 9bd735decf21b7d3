package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mqtt-subscriber/config"
	"mqtt-subscriber/internal/broker"
	"mqtt-subscriber/internal/broker/mqtt"
	"mqtt-subscriber/internal/broker/nats"
	"mqtt-subscriber/internal/logger"
	"mqtt-subscriber/internal/metrics"
	"mqtt-subscriber/internal/stats"
	"mqtt-subscriber/internal/status"
	"mqtt-subscriber/internal/subscriber"
)

// CLI flags. Zero values leave the configuration untouched.
var CLI struct {
	Config string `help:"Path to config file, JSON or YAML. Built-in defaults when empty." type:"path" optional:""`
	Check  bool   `help:"Connect to the broker, report the result and exit."`

	Transport   string `help:"Override broker transport (mqtt or nats)."`
	Host        string `help:"Override broker host."`
	Port        int    `help:"Override broker port."`
	ClientID    string `name:"client-id" help:"Override client id."`
	Topic       string `help:"Subscribe to this topic only."`
	QoS         int    `name:"qos" help:"Override subscription QoS (-1 = use config)." default:"-1"`
	KeepAlive   int    `name:"keepalive" help:"Override keepalive in seconds."`
	LogLevel    string `name:"log-level" help:"Override log level."`
	MetricsAddr string `name:"metrics-addr" help:"Serve metrics and status on this address."`
}

func main() {
	kong.Parse(&CLI,
		kong.Name("mqtt-subscriber"),
		kong.Description("Subscribe to broker topics and log every message until the exit payload arrives."))

	os.Exit(run())
}

func run() int {
	// Load configuration
	cfg := config.Default()
	if CLI.Config != "" {
		var err error
		cfg, err = config.Load(CLI.Config)
		if err != nil {
			log.Printf("failed to load config: %v", err)
			return 1
		}
	}

	if err := cfg.ApplyOverrides(config.Overrides{
		Transport:   CLI.Transport,
		Host:        CLI.Host,
		Port:        CLI.Port,
		ClientID:    CLI.ClientID,
		Topic:       CLI.Topic,
		QoS:         CLI.QoS,
		KeepAlive:   CLI.KeepAlive,
		LogLevel:    CLI.LogLevel,
		MetricsAddr: CLI.MetricsAddr,
	}); err != nil {
		log.Printf("invalid command line: %v", err)
		return 1
	}
	if err := config.Validate(cfg); err != nil {
		log.Printf("invalid configuration: %v", err)
		return 1
	}

	// Initialize logger
	logger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Printf("failed to initialize logger: %v", err)
		return 1
	}
	defer logger.Close()

	factory, err := transportFactory(cfg.Broker.Transport)
	if err != nil {
		logger.Error("failed to select transport", "error", err)
		return 1
	}

	var tlsConfig *tls.Config
	if cfg.Broker.TLS.Enable {
		tlsConfig, err = broker.NewTLSConfig(cfg.Broker.TLS.CertFile, cfg.Broker.TLS.KeyFile, cfg.Broker.TLS.CAFile)
		if err != nil {
			logger.Error("failed to load tls configuration", "error", err)
			return 1
		}
	}

	statsCollector := stats.NewStatsCollector()

	// Setup metrics if enabled
	var reg *prometheus.Registry
	var metricsService *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		metricsService, err = metrics.NewMetrics(reg)
		if err != nil {
			logger.Error("failed to create metrics service", "error", err)
			return 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Broker.ConnectTimeoutDuration())
	defer cancel()

	conn, err := subscriber.Open(ctx, subscriber.Config{
		ClientID:       cfg.Broker.ClientID,
		Host:           cfg.Broker.Host,
		Port:           cfg.Broker.Port,
		KeepAlive:      cfg.Broker.KeepAliveDuration(),
		ConnectTimeout: cfg.Broker.ConnectTimeoutDuration(),
		Username:       cfg.Broker.Username,
		Password:       cfg.Broker.Password,
		TLS:            tlsConfig,
		Transport:      factory,
		Handler:        printMessage(logger),
		QueueSize:      cfg.Delivery.QueueSize,
		ExitPayload:    cfg.Delivery.ExitPayload,
		PayloadFormat:  subscriber.PayloadFormat(cfg.Delivery.PayloadFormat),
		Logger:         logger,
		Metrics:        metricsService,
		Stats:          statsCollector,
	})
	if err != nil {
		logger.Error("failed to open connection",
			"transport", cfg.Broker.Transport,
			"host", cfg.Broker.Host,
			"port", cfg.Broker.Port,
			"error", err)
		return 1
	}

	if CLI.Check {
		logger.Info("broker is reachable",
			"transport", cfg.Broker.Transport,
			"host", cfg.Broker.Host,
			"port", cfg.Broker.Port)
		conn.Stop()
		return 0
	}

	if cfg.Metrics.Enabled {
		updateInterval, err := time.ParseDuration(cfg.Metrics.UpdateInterval)
		if err != nil {
			logger.Error("invalid metrics update interval", "error", err)
			conn.Stop()
			return 1
		}

		metricsCollector := metrics.NewMetricsCollector(metricsService, updateInterval, func(m *metrics.Metrics) {
			m.SetUptime(time.Since(statsCollector.StartTime))
			m.SetDeliveryRate(statsCollector.CalculateRate())
			m.SetQueueDepth(float64(conn.QueueDepth()))
		})
		metricsCollector.Start()
		defer metricsCollector.Stop()

		router := status.NewRouter(conn, statsCollector, cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			Registry:          reg,
			EnableOpenMetrics: true,
		}))

		metricsServer := &http.Server{
			Addr:    cfg.Metrics.Address,
			Handler: router,
		}

		go func() {
			logger.Info("starting metrics server",
				"address", cfg.Metrics.Address,
				"path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()

		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown metrics server", "error", err)
			}
		}()
	}

	if err := subscribeAll(conn, cfg.Subscriptions, cfg.Broker.ConnectTimeoutDuration()); err != nil {
		logger.Error("failed to subscribe", "error", err)
		conn.Stop()
		return 1
	}

	if err := conn.StartDelivery(); err != nil {
		logger.Error("failed to start delivery", "error", err)
		conn.Stop()
		return 1
	}

	logger.Info("mqtt-subscriber started",
		"transport", cfg.Broker.Transport,
		"clientId", cfg.Broker.ClientID,
		"subscriptions", len(cfg.Subscriptions),
		"exitPayload", cfg.Delivery.ExitPayload,
		"metricsEnabled", cfg.Metrics.Enabled)

	// Setup signal handlers
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

wait:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, ignoring")
				continue
			}
			logger.Info("shutting down...", "signal", sig.String())
			break wait
		case <-conn.Done():
			break wait
		}
	}

	conn.Stop()
	conn.AwaitStopped()

	if statsJSON, err := statsCollector.GetStatsJSON(); err == nil {
		logger.Info("final statistics", "stats", string(statsJSON))
	}

	if err := conn.Err(); err != nil {
		logger.Error("subscriber stopped with error", "error", err)
		return 1
	}

	return 0
}

func transportFactory(name string) (broker.Factory, error) {
	switch name {
	case config.TransportNATS:
		return nats.New, nil
	case config.TransportMQTT:
		return mqtt.New, nil
	default:
		return nil, fmt.Errorf("unknown transport: %s", name)
	}
}

// topicSubscriber is the part of the connection subscribeAll needs
type topicSubscriber interface {
	Subscribe(ctx context.Context, topic string, qos byte) error
}

// subscribeAll registers every configured filter. The subscribe requests get
// their own deadline; the one used for connecting may already be spent.
func subscribeAll(conn topicSubscriber, subs []config.SubscriptionConfig, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, sub := range subs {
		if err := conn.Subscribe(ctx, sub.Topic, sub.QoS); err != nil {
			return fmt.Errorf("topic %s: %w", sub.Topic, err)
		}
	}
	return nil
}

// printMessage logs each delivered message
func printMessage(l *logger.Logger) subscriber.Handler {
	return func(msg *subscriber.InboundMessage) error {
		l.Info("received message",
			"topic", msg.Topic,
			"qos", msg.QoS,
			"retained", msg.Retained,
			"payload", msg.Value)
		return nil
	}
}
