package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	SessionsCreated  prometheus.Counter
	SubmitsTotal     *prometheus.CounterVec
	AnalysesTotal    *prometheus.CounterVec
	AnalysisDuration *prometheus.HistogramVec
	EmergenciesTotal *prometheus.CounterVec
	MatchesTotal     *prometheus.CounterVec
	AnalysesInFlight prometheus.Gauge
	StaleResults     prometheus.Counter
	ResetsTotal      prometheus.Counter
	NotifyFailures   prometheus.Counter
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medtriage_sessions_created_total",
			Help: "Total triage sessions created.",
		}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_submits_total",
			Help: "Total message submissions by result.",
		}, []string{"result"}),
		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_analyses_total",
			Help: "Total pipeline runs by outcome.",
		}, []string{"outcome"}),
		AnalysisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medtriage_analysis_duration_seconds",
			Help:    "Duration of pipeline runs in seconds, excluding think delay.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8), // 10us .. ~164ms
		}, []string{"outcome"}),
		EmergenciesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_emergencies_total",
			Help: "Total emergency classifications by source and level.",
		}, []string{"source", "level"}),
		MatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_knowledge_matches_total",
			Help: "Total knowledge base matches by entry key.",
		}, []string{"entry"}),
		AnalysesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medtriage_analyses_in_flight",
			Help: "Analyses dispatched and not yet resolved.",
		}),
		StaleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medtriage_stale_results_total",
			Help: "Analysis results discarded because the session was reset or deleted.",
		}),
		ResetsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medtriage_resets_total",
			Help: "Total session resets.",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medtriage_notify_failures_total",
			Help: "Escalation notifications that failed to send.",
		}),
	}

	reg.MustRegister(
		m.SessionsCreated,
		m.SubmitsTotal,
		m.AnalysesTotal,
		m.AnalysisDuration,
		m.EmergenciesTotal,
		m.MatchesTotal,
		m.AnalysesInFlight,
		m.StaleResults,
		m.ResetsTotal,
		m.NotifyFailures,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnAnalyze: func(e *AnalyzeEvent) {
			m.AnalysesTotal.WithLabelValues(string(e.Kind)).Inc()
			m.AnalysisDuration.WithLabelValues(string(e.Kind)).Observe(e.Duration)
			if e.Kind == OutcomeEmergency {
				m.EmergenciesTotal.WithLabelValues(string(e.Source), string(e.Level)).Inc()
			}
			if e.EntryKey != "" {
				m.MatchesTotal.WithLabelValues(e.EntryKey).Inc()
			}
		},
	}
}

func (m *Metrics) sessionCreated() {
	if m != nil {
		m.SessionsCreated.Inc()
	}
}

func (m *Metrics) submit(result string) {
	if m != nil {
		m.SubmitsTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) inFlight(delta float64) {
	if m != nil {
		m.AnalysesInFlight.Add(delta)
	}
}

func (m *Metrics) stale() {
	if m != nil {
		m.StaleResults.Inc()
	}
}

func (m *Metrics) reset() {
	if m != nil {
		m.ResetsTotal.Inc()
	}
}

func (m *Metrics) notifyFailed() {
	if m != nil {
		m.NotifyFailures.Inc()
	}
}
