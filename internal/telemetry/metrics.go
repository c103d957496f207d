package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Outcomes counts evaluation outcomes by terminal state.
	Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "levelup",
		Name:      "evaluation_outcomes_total",
		Help:      "Quiz report evaluations by terminal state.",
	}, []string{"state"})

	ReportFetches = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "levelup",
		Name:      "report_fetch_seconds",
		Help:      "Duration of quiz report fetches, including the settling delay.",
		Buckets:   []float64{.5, 1, 2, 2.5, 3, 5, 10, 30},
	}, []string{"result"})

	ReportCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "levelup",
		Name:      "report_cache_total",
		Help:      "Quiz report cache lookups by result.",
	}, []string{"result"})

	WorkspacesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "levelup",
		Name:      "workspaces_swept_total",
		Help:      "Idle workspaces deleted by the sweeper.",
	})

	EventHandlers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "levelup",
		Name:      "event_handlers_total",
		Help:      "Event handler runs by event and result.",
	}, []string{"event", "result"})
)

// ObserveEventHandler records a finished event handler run.
func ObserveEventHandler(name string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventHandlers.WithLabelValues(name, result).Inc()
}
