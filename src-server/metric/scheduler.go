package metric

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"edusched/src-server/conflict"
)

// Pinger runs an empty store read and reports how long it took.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Scheduler holds the engine and store metrics. Latency gauges are in
// microseconds.
type Scheduler struct {
	operations *prometheus.HistogramVec
	conflicts  *prometheus.CounterVec
	instances  prometheus.Counter

	storeEmptyRead prometheus.Gauge
	storeRead      prometheus.Gauge
	storeWrite     prometheus.Gauge

	// set by each store sample, cleared by Run so an idle store reads 0
	sawRead  atomic.Bool
	sawWrite atomic.Bool
}

// NewScheduler registers every collector on reg.
func NewScheduler(reg prometheus.Registerer) *Scheduler {
	factory := promauto.With(reg)
	return &Scheduler{
		operations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "edusched_operation_duration_microsec",
			Help:    "The latency of a scheduling operation in microseconds",
			Buckets: prometheus.ExponentialBuckets(100, 4, 9),
		}, []string{"operation", "outcome"}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "edusched_conflicts_total",
			Help: "The number of conflicts found, by type and severity",
		}, []string{"type", "severity"}),
		instances: factory.NewCounter(prometheus.CounterOpts{
			Name: "edusched_instances_generated_total",
			Help: "The number of event instances materialised",
		}),
		storeEmptyRead: factory.NewGauge(prometheus.GaugeOpts{
			Name: "edusched_store_empty_read_microsec",
			Help: "The latency of an empty store read in microseconds",
		}),
		storeRead: factory.NewGauge(prometheus.GaugeOpts{
			Name: "edusched_store_read_microsec",
			Help: "The latency of the last store read in microseconds",
		}),
		storeWrite: factory.NewGauge(prometheus.GaugeOpts{
			Name: "edusched_store_write_microsec",
			Help: "The latency of the last store write in microseconds",
		}),
	}
}

func (m *Scheduler) ObserveOperation(operation, outcome string, d time.Duration) {
	m.operations.WithLabelValues(operation, outcome).Observe(float64(d.Microseconds()))
}

func (m *Scheduler) ObserveConflicts(conflicts []conflict.Conflict) {
	for _, c := range conflicts {
		m.conflicts.WithLabelValues(string(c.Type), string(c.Severity)).Inc()
	}
}

func (m *Scheduler) AddInstances(n int) {
	if n > 0 {
		m.instances.Add(float64(n))
	}
}

func (m *Scheduler) ObserveStoreRead(d time.Duration) {
	m.storeRead.Set(float64(d.Microseconds()))
	m.sawRead.Store(true)
}

func (m *Scheduler) ObserveStoreWrite(d time.Duration) {
	m.storeWrite.Set(float64(d.Microseconds()))
	m.sawWrite.Store(true)
}

// Run probes the store every interval and zeroes the read/write gauges when
// no sample arrived in the last interval. It returns when ctx is done.
func (m *Scheduler) Run(ctx context.Context, p Pinger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("store metrics probe stopped")
			return
		case <-ticker.C:
			m.tick(ctx, p)
		}
	}
}

func (m *Scheduler) tick(ctx context.Context, p Pinger) {
	if !m.sawRead.Swap(false) {
		m.storeRead.Set(0)
	}
	if !m.sawWrite.Swap(false) {
		m.storeWrite.Set(0)
	}
	latency, err := p.Ping(ctx)
	if err != nil {
		slog.Error("can't get store latency", "error", err)
		return
	}
	m.storeEmptyRead.Set(float64(latency.Microseconds()))
}
