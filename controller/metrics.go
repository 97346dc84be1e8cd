package controller

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/liamcoop/timecontrol/internal/logger"
)

// Metrics holds the Prometheus metrics shared by all controllers of a process.
type Metrics struct {
	evaluationsTotal    *prometheus.CounterVec
	evaluationDuration  *prometheus.HistogramVec
	selectedRule        *prometheus.GaugeVec
	overwriteActive     *prometheus.GaugeVec
	timersScheduled     *prometheus.CounterVec
	resolutionFallbacks prometheus.CounterFunc
	windowErrors        prometheus.CounterFunc
}

// NewMetrics creates and registers the metrics. A nil registerer disables metrics and
// returns nil; all methods accept a nil receiver.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timecontrol",
			Subsystem: "node",
			Name:      "evaluations_total",
			Help:      "Evaluations performed, by outcome reason",
		}, []string{"node", "reason"}),

		evaluationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "timecontrol",
			Subsystem: "node",
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent in one evaluation",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"node"}),

		selectedRule: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "timecontrol",
			Subsystem: "node",
			Name:      "selected_rule",
			Help:      "Position of the selected rule, 0 for the default",
		}, []string{"node"}),

		overwriteActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "timecontrol",
			Subsystem: "node",
			Name:      "overwrite_active",
			Help:      "1 while a manual override is active",
		}, []string{"node"}),

		timersScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timecontrol",
			Subsystem: "node",
			Name:      "timers_scheduled_total",
			Help:      "Timers scheduled, by kind",
		}, []string{"node", "kind"}),

		resolutionFallbacks: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "timecontrol",
			Subsystem: "resolve",
			Name:      "fallbacks_total",
			Help:      "Values served from the last known value cache",
		}, func() float64 { return float64(logger.ResolutionFallbacks.Load()) }),

		windowErrors: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "timecontrol",
			Subsystem: "rules",
			Name:      "window_errors_total",
			Help:      "Rules skipped because their time window could not be computed",
		}, func() float64 { return float64(logger.WindowErrors.Load()) }),
	}

	reg.MustRegister(
		m.evaluationsTotal,
		m.evaluationDuration,
		m.selectedRule,
		m.overwriteActive,
		m.timersScheduled,
		m.resolutionFallbacks,
		m.windowErrors,
	)
	return m
}

func (m *Metrics) observe(node string, res *Result, took time.Duration) {
	if m == nil {
		return
	}
	m.evaluationsTotal.WithLabelValues(node, res.Reason.Code).Inc()
	m.evaluationDuration.WithLabelValues(node).Observe(took.Seconds())
	m.selectedRule.WithLabelValues(node).Set(float64(res.Diagnostics.RuleID))
	active := 0.0
	if res.Diagnostics.Overwrite.Active {
		active = 1
	}
	m.overwriteActive.WithLabelValues(node).Set(active)
}

func (m *Metrics) timer(node, kind string) {
	if m == nil {
		return
	}
	m.timersScheduled.WithLabelValues(node, kind).Inc()
}

func (m *Metrics) forget(node string) {
	if m == nil {
		return
	}
	m.evaluationsTotal.DeletePartialMatch(prometheus.Labels{"node": node})
	m.evaluationDuration.DeleteLabelValues(node)
	m.selectedRule.DeleteLabelValues(node)
	m.overwriteActive.DeleteLabelValues(node)
	m.timersScheduled.DeletePartialMatch(prometheus.Labels{"node": node})
}
