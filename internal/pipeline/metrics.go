package pipeline

import (
	"errors"
	"time"

	"github.com/book-expert/narration-service/internal/ratelimit"
	"github.com/book-expert/narration-service/internal/synthesis"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "narration"

// Outcome label of a run that produced its final file.
const outcomeDone = "done"

// Metrics records pipeline activity. A nil *Metrics discards everything.
type Metrics struct {
	runsTotal       *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	submitAttempts  *prometheus.CounterVec
	admissionsTotal prometheus.Counter
	admissionWait   prometheus.Histogram
	runsInFlight    prometheus.Gauge
	registerer      prometheus.Registerer
}

// NewMetrics creates the pipeline collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_total",
				Help:      "Pipeline runs labeled by outcome (done or failure kind)",
			},
			[]string{"outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each pipeline stage in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		),
		submitAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "submit_attempts_total",
				Help:      "Synthesis submit attempts labeled by result",
			},
			[]string{"result"},
		),
		admissionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limit_admissions_total",
				Help:      "Calls admitted by the rate limiter",
			},
		),
		admissionWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limit_wait_seconds",
				Help:      "Time callers spent waiting for rate limit admission",
				Buckets:   []float64{0, 0.1, 1, 5, 15, 30, 60},
			},
		),
		runsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "runs_in_flight",
				Help:      "Pipeline runs currently in progress",
			},
		),
		registerer: reg,
	}

	collectors := []prometheus.Collector{
		metrics.runsTotal,
		metrics.stageDuration,
		metrics.submitAttempts,
		metrics.admissionsTotal,
		metrics.admissionWait,
		metrics.runsInFlight,
	}

	for _, collector := range collectors {
		err := reg.Register(collector)
		if err != nil {
			return nil, err
		}
	}

	return metrics, nil
}

// WatchRateLimitWindow exports occupancy, the number of admissions inside
// the current rate limit window, as a gauge read on every scrape.
func (m *Metrics) WatchRateLimitWindow(occupancy func() float64) error {
	if m == nil {
		return nil
	}

	return m.registerer.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limit_window_occupancy",
			Help:      "Admissions inside the current rate limit window",
		},
		occupancy,
	))
}

// AdmitHook returns a limiter hook feeding the admission metrics.
func (m *Metrics) AdmitHook() ratelimit.AdmitHook {
	return func(_ time.Time, waited time.Duration) {
		if m == nil {
			return
		}

		m.admissionsTotal.Inc()
		m.admissionWait.Observe(waited.Seconds())
	}
}

// AttemptHook returns a submitter hook counting attempts by result.
func (m *Metrics) AttemptHook() synthesis.AttemptHook {
	return func(_ int, err error) {
		if m == nil {
			return
		}

		m.submitAttempts.WithLabelValues(attemptResult(err)).Inc()
	}
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}

	m.runsInFlight.Inc()
}

func (m *Metrics) runFinished(outcome string) {
	if m == nil {
		return
	}

	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeStage(stage synthesis.State, d time.Duration) {
	if m == nil {
		return
	}

	m.stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func attemptResult(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, synthesis.ErrQuotaExhausted):
		return "quota_exhausted"
	default:
		return "rejected"
	}
}
