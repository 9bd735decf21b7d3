// Package status serves the subscriber's HTTP endpoints: prometheus metrics
// and a JSON status report of the connection.
package status

import (
	"net/http"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"mqtt-subscriber/internal/stats"
	"mqtt-subscriber/internal/subscriber"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Source is the connection being reported on
type Source interface {
	ClientID() string
	State() subscriber.LifecycleState
	Subscriptions() []subscriber.Subscription
	QueueDepth() int
}

// Subscription is a filter as shown in the report
type Subscription struct {
	Topic string `json:"topic"`
	QoS   byte   `json:"qos"`
}

// Report is the body of GET /status
type Report struct {
	ClientID      string                 `json:"clientId"`
	State         string                 `json:"state"`
	Subscriptions []Subscription         `json:"subscriptions"`
	QueueDepth    int                    `json:"queueDepth"`
	Stats         map[string]interface{} `json:"stats"`
}

// NewRouter returns the HTTP routes. metricsHandler is mounted at
// metricsPath when not nil.
func NewRouter(src Source, st *stats.StatsCollector, metricsPath string, metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	if metricsHandler != nil {
		r.Handle(metricsPath, metricsHandler).Methods(http.MethodGet)
	}
	r.HandleFunc("/status", statusHandler(src, st)).Methods(http.MethodGet)
	return r
}

// statusHandler reports 200 while the connection is running and 503 in any
// other state, so the endpoint doubles as a health check.
func statusHandler(src Source, st *stats.StatsCollector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := src.State()

		report := Report{
			ClientID:      src.ClientID(),
			State:         state.String(),
			Subscriptions: []Subscription{},
			QueueDepth:    src.QueueDepth(),
		}
		for _, sub := range src.Subscriptions() {
			report.Subscriptions = append(report.Subscriptions, Subscription{Topic: sub.Topic, QoS: sub.QoS})
		}
		if st != nil {
			report.Stats = st.GetStats()
		}

		code := http.StatusOK
		if state != subscriber.StateRunning {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(report)
	}
}
