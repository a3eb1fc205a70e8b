// Package metrics provides Prometheus instrumentation for sensor tasks and the aggregator.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives sensor pipeline events. Sources are passed by name so that this package does
// not depend on the sensor package.
type Recorder interface {
	RecordReading(source string)
	RecordReadFailure(source string)
	RecordTaskCompleted(source string)
	SetLiveTasks(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordReading(string)       {}
func (nopRecorder) RecordReadFailure(string)   {}
func (nopRecorder) RecordTaskCompleted(string) {}
func (nopRecorder) SetLiveTasks(int)           {}

// NoOp returns a Recorder that discards everything.
func NoOp() Recorder {
	return nopRecorder{}
}

// OrNoOp returns `r`, or a no-op recorder when `r` is nil.
func OrNoOp(r Recorder) Recorder {
	if r == nil {
		return NoOp()
	}
	return r
}

// Manager owns a Prometheus registry holding the sensorhub metrics.
type Manager struct {
	registry *prometheus.Registry

	readings     *prometheus.CounterVec
	readFailures *prometheus.CounterVec
	completions  *prometheus.CounterVec
	liveTasks    prometheus.Gauge
}

// NewManager creates a Manager with its own registry, including Go runtime and process
// collectors.
func NewManager() *Manager {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensorhub",
			Name:      "readings_total",
			Help:      "Readings delivered to the aggregator, by source.",
		}, []string{"source"}),
		readFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensorhub",
			Name:      "read_failures_total",
			Help:      "Poll cycles whose reading was dropped because the device read failed.",
		}, []string{"source"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensorhub",
			Name:      "task_completions_total",
			Help:      "Sensor tasks that acknowledged cancellation, by source.",
		}, []string{"source"}),
		liveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensorhub",
			Name:      "tasks_live",
			Help:      "Sensor tasks that have not completed shutdown.",
		}),
	}
	registry.MustRegister(m.readings, m.readFailures, m.completions, m.liveTasks)
	return m
}

// RecordReading counts a reading emitted by the aggregator.
func (m *Manager) RecordReading(source string) {
	m.readings.WithLabelValues(source).Inc()
}

// RecordReadFailure counts a dropped reading.
func (m *Manager) RecordReadFailure(source string) {
	m.readFailures.WithLabelValues(source).Inc()
}

// RecordTaskCompleted counts a task completion.
func (m *Manager) RecordTaskCompleted(source string) {
	m.completions.WithLabelValues(source).Inc()
}

// SetLiveTasks sets the number of tasks still running.
func (m *Manager) SetLiveTasks(n int) {
	m.liveTasks.Set(float64(n))
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve serves `/metrics` on `addr` until ctx is done.
func (m *Manager) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		//nolint:errcheck
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "metrics server on %s", addr)
	}
	return nil
}
