package metrics

import "github.com/prometheus/client_golang/prometheus"

// TriageMetrics exposes counters/histograms for the triage pipeline.
type TriageMetrics struct {
	jobsTotal       *prometheus.CounterVec
	oracleCalls     *prometheus.CounterVec
	oracleLatency   *prometheus.HistogramVec
	gatekeeperTotal *prometheus.CounterVec
	deadLetters     prometheus.Counter
	draftsEnqueued  prometheus.Counter
	passDuration    prometheus.Histogram
}

func NewTriageMetrics(reg prometheus.Registerer) *TriageMetrics {
	m := &TriageMetrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanebird",
			Subsystem: "triage",
			Name:      "jobs_total",
			Help:      "Classify jobs handled, by outcome",
		}, []string{"outcome"}),
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanebird",
			Subsystem: "triage",
			Name:      "oracle_calls_total",
			Help:      "Oracle batch classification calls",
		}, []string{"provider", "status"}),
		oracleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lanebird",
			Subsystem: "triage",
			Name:      "oracle_latency_seconds",
			Help:      "Latency of oracle batch calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		gatekeeperTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanebird",
			Subsystem: "triage",
			Name:      "gatekeeper_total",
			Help:      "Messages resolved without the oracle, by source",
		}, []string{"source"}),
		deadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lanebird",
			Subsystem: "triage",
			Name:      "dead_letters_total",
			Help:      "Jobs moved to the dead-letter store",
		}),
		draftsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lanebird",
			Subsystem: "triage",
			Name:      "drafts_enqueued_total",
			Help:      "Draft jobs enqueued by the mutator",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lanebird",
			Subsystem: "triage",
			Name:      "pass_duration_seconds",
			Help:      "Wall-clock duration of one worker pass",
			Buckets:   []float64{1, 5, 10, 20, 30, 45, 60},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.jobsTotal, m.oracleCalls, m.oracleLatency, m.gatekeeperTotal, m.deadLetters, m.draftsEnqueued, m.passDuration)
	return m
}

func (m *TriageMetrics) ObserveJob(outcome string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(outcome).Inc()
}

func (m *TriageMetrics) ObserveOracleCall(provider, status string, seconds float64) {
	if m == nil {
		return
	}
	m.oracleCalls.WithLabelValues(provider, status).Inc()
	m.oracleLatency.WithLabelValues(provider).Observe(seconds)
}

func (m *TriageMetrics) ObserveGatekeeper(source string) {
	if m == nil {
		return
	}
	m.gatekeeperTotal.WithLabelValues(source).Inc()
}

func (m *TriageMetrics) ObserveDeadLetter() {
	if m == nil {
		return
	}
	m.deadLetters.Inc()
}

func (m *TriageMetrics) ObserveDraftEnqueued() {
	if m == nil {
		return
	}
	m.draftsEnqueued.Inc()
}

func (m *TriageMetrics) ObservePassDuration(seconds float64) {
	if m == nil {
		return
	}
	m.passDuration.Observe(seconds)
}
