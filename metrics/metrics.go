package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Ereignisnamen der Pipeline-Zähler.
const (
	EventAttempt     = "attempt"
	EventSuccess     = "success"
	EventDuplicate   = "duplicate"
	EventFailed      = "failed"
	EventIndexFailed = "index_failed"
)

// Sink ist die injizierte Metrik-Senke der Pipeline. Tests können eine
// No-Op- oder Recording-Implementierung einsetzen; es gibt keinen
// prozessweiten Zustand.
type Sink interface {
	IncCounter(event string)
	ObserveDuration(stage string, seconds float64)
}

// PrometheusSink exportiert Pipeline-Ereignisse über eine Prometheus-Registry.
type PrometheusSink struct {
	events    *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// NewPrometheusSink erstellt eine Senke und registriert ihre Collector.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tender_pipeline_events_total",
				Help: "Total number of normalization pipeline events by outcome.",
			},
			[]string{"event"},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tender_pipeline_duration_seconds",
				Help:    "Duration of normalization pipeline stages.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
	}
	reg.MustRegister(s.events, s.durations)
	return s
}

func (s *PrometheusSink) IncCounter(event string) {
	s.events.WithLabelValues(event).Inc()
}

func (s *PrometheusSink) ObserveDuration(stage string, seconds float64) {
	s.durations.WithLabelValues(stage).Observe(seconds)
}

// Noop verwirft alle Messwerte.
type Noop struct{}

func (Noop) IncCounter(string)               {}
func (Noop) ObserveDuration(string, float64) {}

// Recording sammelt Messwerte im Speicher, für Tests.
type Recording struct {
	mu        sync.Mutex
	Counters  map[string]int
	Durations map[string][]float64
}

func NewRecording() *Recording {
	return &Recording{
		Counters:  map[string]int{},
		Durations: map[string][]float64{},
	}
}

func (r *Recording) IncCounter(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Counters[event]++
}

func (r *Recording) ObserveDuration(stage string, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Durations[stage] = append(r.Durations[stage], seconds)
}

// Count liefert den Zählerstand eines Ereignisses.
func (r *Recording) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Counters[event]
}
