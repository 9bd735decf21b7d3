package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mqtt_subscriber"

// Lifecycle states exported on the state gauge
var lifecycleStates = []string{"disconnected", "connecting", "running", "stopping", "stopped"}

// Metrics holds the prometheus collectors of the subscriber
type Metrics struct {
	connectionStatus    prometheus.Gauge
	lifecycleState      *prometheus.GaugeVec
	messagesTotal       *prometheus.CounterVec
	subscriptionsActive prometheus.Gauge
	queueDepth          prometheus.Gauge
	deliveryRate        prometheus.Gauge
	uptime              prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer yields working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "Broker connection status (1 connected, 0 disconnected)",
		}),
		lifecycleState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lifecycle_state",
			Help:      "Current lifecycle state of the connection (1 for the active state)",
		}, []string{"state"}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages by outcome",
		}, []string{"status"}),
		subscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_active",
			Help:      "Number of registered topic filters",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Messages waiting for the delivery worker",
		}),
		deliveryRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delivery_rate",
			Help:      "Messages delivered per second since start",
		}),
		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the subscriber started",
		}),
	}

	if reg != nil {
		collectors := []prometheus.Collector{
			m.connectionStatus,
			m.lifecycleState,
			m.messagesTotal,
			m.subscriptionsActive,
			m.queueDepth,
			m.deliveryRate,
			m.uptime,
		}
		for _, c := range collectors {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

// SetMQTTConnectionStatus records whether the broker connection is up
func (m *Metrics) SetMQTTConnectionStatus(connected bool) {
	if connected {
		m.connectionStatus.Set(1)
	} else {
		m.connectionStatus.Set(0)
	}
}

// SetLifecycleState marks state as the active lifecycle state
func (m *Metrics) SetLifecycleState(state string) {
	for _, s := range lifecycleStates {
		if s == state {
			m.lifecycleState.WithLabelValues(s).Set(1)
		} else {
			m.lifecycleState.WithLabelValues(s).Set(0)
		}
	}
}

// IncMessagesTotal increments the message counter for status
func (m *Metrics) IncMessagesTotal(status string) {
	m.messagesTotal.WithLabelValues(status).Inc()
}

// SetSubscriptionsActive sets the number of registered filters
func (m *Metrics) SetSubscriptionsActive(count float64) {
	m.subscriptionsActive.Set(count)
}

// SetQueueDepth sets the number of undelivered messages
func (m *Metrics) SetQueueDepth(depth float64) {
	m.queueDepth.Set(depth)
}

// SetDeliveryRate sets the delivery rate gauge
func (m *Metrics) SetDeliveryRate(rate float64) {
	m.deliveryRate.Set(rate)
}

// SetUptime sets the uptime gauge
func (m *Metrics) SetUptime(d time.Duration) {
	m.uptime.Set(d.Seconds())
}

// MetricsCollector periodically samples runtime values into Metrics
type MetricsCollector struct {
	metrics  *Metrics
	interval time.Duration
	sample   func(*Metrics)

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a collector calling sample every interval
func NewMetricsCollector(m *Metrics, interval time.Duration, sample func(*Metrics)) *MetricsCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &MetricsCollector{
		metrics:  m,
		interval: interval,
		sample:   sample,
		stop:     make(chan struct{}),
	}
}

// Start begins periodic collection
func (c *MetricsCollector) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stop:
				c.collect()
				return
			}
		}
	}()
}

// Stop halts collection after a final sample
func (c *MetricsCollector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
}

func (c *MetricsCollector) collect() {
	if c.sample != nil {
		c.sample(c.metrics)
	}
}
