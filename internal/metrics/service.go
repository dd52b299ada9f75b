package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ Metrics = (*Service)(nil)

// Service holds the Prometheus collectors for the scoring backend.
type Service struct {
	PointsRecorded      *prometheus.CounterVec
	PointsUndone        prometheus.Counter
	Transitions         *prometheus.CounterVec
	Failures            *prometheus.CounterVec
	PersistenceDuration *prometheus.HistogramVec
	ScoreRepairs        prometheus.Counter
	ReconcileRuns       prometheus.Counter
}

// NewMetricsHandler returns an http.Handler for the given Gatherer.
// If no gatherer is provided, it uses the default one.
func NewMetricsHandler(gatherer ...prometheus.Gatherer) http.Handler {
	gath := prometheus.DefaultGatherer
	if len(gatherer) > 0 {
		gath = gatherer[0]
	}
	return promhttp.HandlerFor(gath, promhttp.HandlerOpts{})
}

// NewService creates and registers the collectors.
// If no registerer is provided, it uses the default Prometheus registerer.
func NewService(registerer ...prometheus.Registerer) *Service {
	reg := prometheus.DefaultRegisterer
	if len(registerer) > 0 {
		reg = registerer[0]
	}

	s := &Service{
		PointsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchday_points_recorded_total",
			Help: "Points appended to match logs, by side.",
		}, []string{"side"}),
		PointsUndone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchday_points_undone_total",
			Help: "Points marked as undone.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchday_match_transitions_total",
			Help: "Successful match lifecycle transitions, by action.",
		}, []string{"action"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchday_operation_failures_total",
			Help: "Failed scoring operations, by operation and failure kind.",
		}, []string{"operation", "kind"}),
		PersistenceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matchday_persistence_duration_seconds",
			Help:    "Duration of the per-match critical section.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation"}),
		ScoreRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchday_score_repairs_total",
			Help: "Materialized scores that disagreed with the point log and were rewritten.",
		}),
		ReconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchday_reconcile_runs_total",
			Help: "Completed score reconciliation sweeps.",
		}),
	}

	reg.MustRegister(
		s.PointsRecorded,
		s.PointsUndone,
		s.Transitions,
		s.Failures,
		s.PersistenceDuration,
		s.ScoreRepairs,
		s.ReconcileRuns,
	)

	return s
}

func (s *Service) IncPointsRecorded(side string) {
	s.PointsRecorded.WithLabelValues(side).Inc()
}

func (s *Service) IncPointsUndone() {
	s.PointsUndone.Inc()
}

func (s *Service) IncTransitions(action string) {
	s.Transitions.WithLabelValues(action).Inc()
}

func (s *Service) IncFailures(operation, kind string) {
	s.Failures.WithLabelValues(operation, kind).Inc()
}

func (s *Service) ObservePersistenceDuration(operation string, seconds float64) {
	s.PersistenceDuration.WithLabelValues(operation).Observe(seconds)
}

func (s *Service) AddScoreRepairs(count int) {
	if count <= 0 {
		return
	}
	s.ScoreRepairs.Add(float64(count))
}

func (s *Service) IncReconcileRuns() {
	s.ReconcileRuns.Inc()
}
