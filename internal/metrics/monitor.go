package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nimafallahian/go-indexflow/internal/domain"
)

// IndexMonitor counts documents added to one index.
type IndexMonitor struct {
	counter prometheus.Counter
}

// DocumentsAdded implements domain.Monitor.
func (m *IndexMonitor) DocumentsAdded(count int64) {
	m.counter.Add(float64(count))
}

var monitors sync.Map // map[string]*IndexMonitor

// MonitorFor returns the monitor of the given index. Calls with the same
// index return the same instance, so increments coalesce per index.
func MonitorFor(index string) domain.Monitor {
	if m, ok := monitors.Load(index); ok {
		return m.(*IndexMonitor)
	}
	m, _ := monitors.LoadOrStore(index, &IndexMonitor{
		counter: DocumentsAdded.WithLabelValues(index),
	})
	return m.(*IndexMonitor)
}
