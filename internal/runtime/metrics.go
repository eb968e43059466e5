package runtime

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors of one application. A nil
// *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	phaseTotal     *prometheus.CounterVec
	phaseDuration  *prometheus.HistogramVec
	eventsTotal    *prometheus.CounterVec
	eventDuration  *prometheus.HistogramVec
	inFlight       *prometheus.GaugeVec
	listenerErrors *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg gets a private
// registry. Collectors that are already registered are reused.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	var gatherer prometheus.Gatherer
	switch r := reg.(type) {
	case nil:
		registry := prometheus.NewRegistry()
		reg, gatherer = registry, registry
	case prometheus.Gatherer:
		gatherer = r
	default:
		gatherer = prometheus.DefaultGatherer
	}

	m := &Metrics{gatherer: gatherer}
	var err error
	if m.phaseTotal, err = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lifecycle_phase_total",
		Help:      "Lifecycle phases run, by phase and status.",
	}, []string{"phase", "status"})); err != nil {
		return nil, err
	}
	if m.phaseDuration, err = registerCollector(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "lifecycle_phase_duration_seconds",
		Help:      "Duration of lifecycle phases.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"phase"})); err != nil {
		return nil, err
	}
	if m.eventsTotal, err = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "kernel_events_total",
		Help:      "Events handled by kernels, by kernel and status.",
	}, []string{"kernel", "status"})); err != nil {
		return nil, err
	}
	if m.eventDuration, err = registerCollector(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "kernel_event_duration_seconds",
		Help:      "Time spent handling one event.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kernel"})); err != nil {
		return nil, err
	}
	if m.inFlight, err = registerCollector(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "kernel_in_flight",
		Help:      "Events currently being handled.",
	}, []string{"kernel"})); err != nil {
		return nil, err
	}
	if m.listenerErrors, err = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_listener_errors_total",
		Help:      "Emissions where at least one listener failed.",
	}, []string{"event"})); err != nil {
		return nil, err
	}
	return m, nil
}

func registerCollector[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// Gatherer exposes the registry the collectors live in.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.DefaultGatherer
	}
	return m.gatherer
}

func (m *Metrics) observePhase(phase string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.phaseTotal.WithLabelValues(phase, statusLabel(err)).Inc()
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Metrics) observeEvent(kernel string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kernel, statusLabel(err)).Inc()
	m.eventDuration.WithLabelValues(kernel).Observe(d.Seconds())
}

func (m *Metrics) trackInFlight(kernel string) func() {
	if m == nil {
		return func() {}
	}
	g := m.inFlight.WithLabelValues(kernel)
	g.Inc()
	return g.Dec
}

func (m *Metrics) listenerFailed(event string) {
	if m == nil {
		return
	}
	m.listenerErrors.WithLabelValues(event).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
