package recorder

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks ingestion. A nil *Metrics is valid and records nothing.
type Metrics struct {
	cycles          *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	recordsFetched  prometheus.Counter
	recordsSkipped  prometheus.Counter
	recordsSaved    prometheus.Counter
	recordsCreated  prometheus.Counter
	rowsFailed      prometheus.Counter
	cycleDuration   prometheus.Histogram
	lastSuccessTime prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dice_recorder_cycles_total",
			Help: "Ingestion cycles by final state",
		}, []string{"state"}), // success, given_up
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dice_recorder_attempts_total",
			Help: "Fetch attempts by outcome",
		}, []string{"outcome"}), // ok, transport, shape, auth, store, error
		recordsFetched: f.NewCounter(prometheus.CounterOpts{
			Name: "dice_recorder_records_fetched_total",
			Help: "Records received from upstream in successful attempts",
		}),
		recordsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "dice_recorder_records_skipped_total",
			Help: "Records rejected by the parser",
		}),
		recordsSaved: f.NewCounter(prometheus.CounterOpts{
			Name: "dice_recorder_records_saved_total",
			Help: "Records presented to the store without a write error",
		}),
		recordsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "dice_recorder_records_created_total",
			Help: "Records that were new to the store",
		}),
		rowsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "dice_recorder_rows_failed_total",
			Help: "Rows skipped because of a write error",
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dice_recorder_cycle_duration_seconds",
			Help:    "Wall time of an ingestion cycle including retry waits",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16),
		}),
		lastSuccessTime: f.NewGauge(prometheus.GaugeOpts{
			Name: "dice_recorder_last_success_timestamp_seconds",
			Help: "Unix time of the last successful cycle",
		}),
	}
}

func attemptOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUpstreamAuth):
		return "auth"
	case errors.Is(err, ErrUpstreamShape):
		return "shape"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrStoreUnavailable):
		return "store"
	default:
		return "error"
	}
}

func (m *Metrics) observeAttempt(err error) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(attemptOutcome(err)).Inc()
}

func (m *Metrics) observeCycle(res CycleResult) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(string(res.State)).Inc()
	m.cycleDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	if res.State != CycleSuccess {
		return
	}
	m.recordsFetched.Add(float64(res.Fetched))
	m.recordsSkipped.Add(float64(res.Skipped))
	m.recordsSaved.Add(float64(res.Saved))
	m.recordsCreated.Add(float64(res.Created))
	m.rowsFailed.Add(float64(res.Failed))
	m.lastSuccessTime.Set(float64(res.FinishedAt.Unix()))
}
