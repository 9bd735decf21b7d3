package stats

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewStatsCollector verifies the initialization of a new StatsCollector
func TestNewStatsCollector(t *testing.T) {
	collector := NewStatsCollector()

	assert.NotNil(t, collector, "StatsCollector should be created")
	assert.WithinDuration(t, time.Now(), collector.StartTime, 100*time.Millisecond, "StartTime should be close to current time")

	snap := collector.Snapshot()
	assert.WithinDuration(t, time.Now(), snap.LastUpdate, 100*time.Millisecond, "LastUpdate should be close to current time")
	assert.Zero(t, snap.Received, "Received should be zero")
	assert.Zero(t, snap.Delivered, "Delivered should be zero")
	assert.Zero(t, snap.Filtered, "Filtered should be zero")
	assert.Zero(t, snap.DecodeErrors, "DecodeErrors should be zero")
	assert.Zero(t, snap.HandlerErrors, "HandlerErrors should be zero")
	assert.Zero(t, snap.Dropped, "Dropped should be zero")
}

// TestIncrements verifies every counter moves independently
func TestIncrements(t *testing.T) {
	collector := NewStatsCollector()

	collector.IncReceived()
	collector.IncReceived()
	collector.IncReceived()
	collector.IncDelivered()
	collector.IncDelivered()
	collector.IncFiltered()
	collector.IncDecodeErrors()
	collector.IncHandlerErrors()
	collector.IncDropped()

	snap := collector.Snapshot()
	assert.Equal(t, uint64(3), snap.Received)
	assert.Equal(t, uint64(2), snap.Delivered)
	assert.Equal(t, uint64(1), snap.Filtered)
	assert.Equal(t, uint64(1), snap.DecodeErrors)
	assert.Equal(t, uint64(1), snap.HandlerErrors)
	assert.Equal(t, uint64(1), snap.Dropped)
}

// TestConcurrentIncrements verifies counters are safe under concurrent use
func TestConcurrentIncrements(t *testing.T) {
	collector := NewStatsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				collector.IncReceived()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(5000), collector.Snapshot().Received)
}

// TestGetStatsJSON verifies the JSON snapshot
func TestGetStatsJSON(t *testing.T) {
	collector := NewStatsCollector()
	collector.IncReceived()
	collector.IncDelivered()

	data, err := collector.GetStatsJSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, float64(1), decoded["messages_received"])
	assert.Equal(t, float64(1), decoded["messages_delivered"])
	assert.Contains(t, decoded, "uptime")
	assert.Contains(t, decoded, "last_update")
}

// TestCalculateRate verifies the delivery rate
func TestCalculateRate(t *testing.T) {
	collector := NewStatsCollector()
	collector.StartTime = time.Now().Add(-10 * time.Second)

	for i := 0; i < 20; i++ {
		collector.IncDelivered()
	}

	rate := collector.CalculateRate()
	assert.InDelta(t, 2.0, rate, 0.1)
}
