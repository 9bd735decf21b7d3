package stats

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// StatsCollector counts inbound message outcomes for one connection
type StatsCollector struct {
	StartTime time.Time

	received      atomic.Uint64
	delivered     atomic.Uint64
	filtered      atomic.Uint64
	decodeErrors  atomic.Uint64
	handlerErrors atomic.Uint64
	dropped       atomic.Uint64
	lastUpdate    atomic.Int64
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	Uptime        time.Duration
	Received      uint64
	Delivered     uint64
	Filtered      uint64
	DecodeErrors  uint64
	HandlerErrors uint64
	Dropped       uint64
	LastUpdate    time.Time
}

// NewStatsCollector creates a new stats collector
func NewStatsCollector() *StatsCollector {
	s := &StatsCollector{StartTime: time.Now()}
	s.touch()
	return s
}

func (s *StatsCollector) touch() {
	s.lastUpdate.Store(time.Now().UnixNano())
}

func (s *StatsCollector) IncReceived()      { s.received.Add(1); s.touch() }
func (s *StatsCollector) IncDelivered()     { s.delivered.Add(1); s.touch() }
func (s *StatsCollector) IncFiltered()      { s.filtered.Add(1); s.touch() }
func (s *StatsCollector) IncDecodeErrors()  { s.decodeErrors.Add(1); s.touch() }
func (s *StatsCollector) IncHandlerErrors() { s.handlerErrors.Add(1); s.touch() }
func (s *StatsCollector) IncDropped()       { s.dropped.Add(1); s.touch() }

// Snapshot returns the current counter values
func (s *StatsCollector) Snapshot() Snapshot {
	return Snapshot{
		Uptime:        time.Since(s.StartTime),
		Received:      s.received.Load(),
		Delivered:     s.delivered.Load(),
		Filtered:      s.filtered.Load(),
		DecodeErrors:  s.decodeErrors.Load(),
		HandlerErrors: s.handlerErrors.Load(),
		Dropped:       s.dropped.Load(),
		LastUpdate:    time.Unix(0, s.lastUpdate.Load()),
	}
}

// GetStats returns current statistics
func (s *StatsCollector) GetStats() map[string]interface{} {
	snap := s.Snapshot()
	return map[string]interface{}{
		"uptime":             snap.Uptime.String(),
		"messages_received":  snap.Received,
		"messages_delivered": snap.Delivered,
		"messages_filtered":  snap.Filtered,
		"decode_errors":      snap.DecodeErrors,
		"handler_errors":     snap.HandlerErrors,
		"messages_dropped":   snap.Dropped,
		"last_update":        snap.LastUpdate,
	}
}

// GetStatsJSON returns stats as JSON
func (s *StatsCollector) GetStatsJSON() ([]byte, error) {
	return json.Marshal(s.GetStats())
}

// CalculateRate calculates the delivery rate in messages per second
func (s *StatsCollector) CalculateRate() float64 {
	uptime := time.Since(s.StartTime).Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(s.delivered.Load()) / uptime
}
