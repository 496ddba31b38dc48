package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "alarming_"

const (
	ResultOK               = "ok"
	ResultAlarm            = "alarm"
	ResultInsufficientData = "insufficient-data"
	ResultNoVerdict        = "no-verdict"
	ResultFailure          = "failure"
	ResultSuccess          = "success"

	SkipCycle    = "dependency-cycle"
	SkipNotDue   = "not-due"
	SkipInflight = "inflight"
)

var (
	registerOnce sync.Once

	cyclesTotal   prometheus.Counter
	cycleLatency  prometheus.Histogram
	evaluations   *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	conflicts     prometheus.Counter
	backendErrors *prometheus.CounterVec
	notifications *prometheus.CounterVec
	notifyDropped prometheus.Counter
)

// Init registers engine metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		cyclesTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "cycles_total",
				Help: "Total evaluation cycles run",
			},
		)
		cycleLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "cycle_latency_seconds",
				Help:    "Evaluation cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		evaluations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluations_total",
				Help: "Total alarm evaluations by result",
			},
			[]string{"result"},
		)
		transitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "state_transitions_total",
				Help: "Total accepted state transitions by target state",
			},
			[]string{"state"},
		)
		skipped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluations_skipped_total",
				Help: "Total evaluations skipped by reason",
			},
			[]string{"reason"},
		)
		conflicts = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "state_conflicts_total",
				Help: "Total state writes lost to a concurrent writer",
			},
		)
		backendErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "backend_unavailable_total",
				Help: "Total unavailable-backend observations by backend",
			},
			[]string{"backend"},
		)
		notifications = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total notification dispatches by result",
			},
			[]string{"result"},
		)
		notifyDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_dropped_total",
				Help: "Total notifications dropped on a full queue",
			},
		)

		prometheus.MustRegister(
			cyclesTotal,
			cycleLatency,
			evaluations,
			transitions,
			skipped,
			conflicts,
			backendErrors,
			notifications,
			notifyDropped,
		)
	})
}

// ObserveCycle records one completed cycle.
func ObserveCycle(duration time.Duration) {
	if cyclesTotal != nil {
		cyclesTotal.Inc()
	}
	if cycleLatency != nil {
		cycleLatency.Observe(duration.Seconds())
	}
}

// IncEvaluation counts one finished evaluation by result.
func IncEvaluation(result string) {
	if result == "" {
		result = "unknown"
	}
	if evaluations != nil {
		evaluations.WithLabelValues(result).Inc()
	}
}

// IncTransition counts one accepted transition by target state.
func IncTransition(state string) {
	if transitions != nil {
		transitions.WithLabelValues(state).Inc()
	}
}

// IncSkipped counts one skipped evaluation by reason.
func IncSkipped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if skipped != nil {
		skipped.WithLabelValues(reason).Inc()
	}
}

// IncStateConflict counts one compare-and-set loss.
func IncStateConflict() {
	if conflicts != nil {
		conflicts.Inc()
	}
}

// IncBackendUnavailable counts one unreachable-backend observation.
func IncBackendUnavailable(backend string) {
	if backend == "" {
		backend = "unknown"
	}
	if backendErrors != nil {
		backendErrors.WithLabelValues(backend).Inc()
	}
}

// IncNotification counts one finished dispatch by result.
func IncNotification(result string) {
	if result == "" {
		result = "unknown"
	}
	if notifications != nil {
		notifications.WithLabelValues(result).Inc()
	}
}

// IncNotificationDropped counts one notification lost to a full queue.
func IncNotificationDropped() {
	if notifyDropped != nil {
		notifyDropped.Inc()
	}
}
