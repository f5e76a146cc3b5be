package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters and gauges for booking, waitlist and streaming
// flows. A nil *Metrics is valid and records nothing.
type Metrics struct {
	lockTotal       *prometheus.CounterVec
	bookingTotal    *prometheus.CounterVec
	bookingLatency  prometheus.Histogram
	transitionTotal *prometheus.CounterVec
	waitlistTotal   *prometheus.CounterVec
	sweepTotal      *prometheus.CounterVec
	publishTotal    *prometheus.CounterVec
	streamSessions  *prometheus.GaugeVec
	streamEvents    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lockTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "lock",
			Name:      "acquire_total",
			Help:      "Lock acquisition attempts by result",
		}, []string{"result"}),
		bookingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by result",
		}, []string{"result"}),
		bookingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "latency_seconds",
			Help:      "Latency of booking attempts",
			Buckets:   prometheus.DefBuckets,
		}),
		transitionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointment",
			Name:      "transitions_total",
			Help:      "Appointment status transitions",
		}, []string{"from", "to"}),
		waitlistTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "waitlist",
			Name:      "operations_total",
			Help:      "Waitlist operations by action and result",
		}, []string{"action", "result"}),
		sweepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "worker",
			Name:      "swept_total",
			Help:      "Records transitioned by background sweeps",
		}, []string{"kind"}),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "events",
			Name:      "publish_total",
			Help:      "Domain event publishes by backend and result",
		}, []string{"backend", "event_type", "result"}),
		streamSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clinic",
			Subsystem: "stream",
			Name:      "sessions_active",
			Help:      "Open change-feed sessions",
		}, []string{"feed"}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Change-feed events emitted",
		}, []string{"feed", "type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.lockTotal, m.bookingTotal, m.bookingLatency, m.transitionTotal,
		m.waitlistTotal, m.sweepTotal, m.publishTotal, m.streamSessions, m.streamEvents)
	return m
}

func (m *Metrics) ObserveLock(result string) {
	if m == nil {
		return
	}
	m.lockTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveBooking(result string, seconds float64) {
	if m == nil {
		return
	}
	m.bookingTotal.WithLabelValues(result).Inc()
	m.bookingLatency.Observe(seconds)
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveWaitlist(action, result string) {
	if m == nil {
		return
	}
	m.waitlistTotal.WithLabelValues(action, result).Inc()
}

func (m *Metrics) ObserveSweep(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepTotal.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) ObservePublish(backend, eventType, result string) {
	if m == nil {
		return
	}
	m.publishTotal.WithLabelValues(backend, eventType, result).Inc()
}

func (m *Metrics) StreamOpened(feed string) {
	if m == nil {
		return
	}
	m.streamSessions.WithLabelValues(feed).Inc()
}

func (m *Metrics) StreamClosed(feed string) {
	if m == nil {
		return
	}
	m.streamSessions.WithLabelValues(feed).Dec()
}

func (m *Metrics) ObserveStreamEvent(feed, eventType string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(feed, eventType).Inc()
}
