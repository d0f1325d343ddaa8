// Package metrics holds the Prometheus collectors of the reconciler. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
)

const (
	OutcomeOK        = "ok"
	OutcomeDenied    = "denied"
	OutcomeError     = "error"
	OutcomeExhausted = "exhausted"
)

type Metrics struct {
	quotaReservations *prometheus.CounterVec
	duplicates        *prometheus.CounterVec
	resolutions       *prometheus.CounterVec
	extractions       *prometheus.CounterVec
	keysBackfilled    prometheus.Counter
	scanDuration      *prometheus.HistogramVec
}

// New registers the collectors on registerer (the default registerer when nil).
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	quotaReservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "receipts_quota_reservations_total",
		Help: "Metered call reservations by plan and outcome.",
	}, []string{"plan", "outcome"})
	duplicates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "receipts_duplicates_transitioned_total",
		Help: "Receipts moved out of settled by the duplicate scanner, by scan mode.",
	}, []string{"mode"})
	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "receipts_resolutions_total",
		Help: "Duplicate pair resolutions by action and outcome.",
	}, []string{"action", "outcome"})
	extractions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "receipts_extractions_total",
		Help: "AI receipt extractions by outcome.",
	}, []string{"outcome"})
	keysBackfilled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "receipts_keys_backfilled_total",
		Help: "Canonical keys rewritten by backfill runs.",
	})
	scanDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "receipts_scan_duration_seconds",
		Help:    "Wall time of full-collection duplicate scans and backfills.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"op"})

	registerer.MustRegister(
		quotaReservations,
		duplicates,
		resolutions,
		extractions,
		keysBackfilled,
		scanDuration,
	)

	return &Metrics{
		quotaReservations: quotaReservations,
		duplicates:        duplicates,
		resolutions:       resolutions,
		extractions:       extractions,
		keysBackfilled:    keysBackfilled,
		scanDuration:      scanDuration,
	}
}

// ObserveReservation records the result of one quota reservation.
func (m *Metrics) ObserveReservation(plan string, err error) {
	if m == nil {
		return
	}
	m.quotaReservations.WithLabelValues(plan, outcome(err)).Inc()
}

func (m *Metrics) AddDuplicates(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.duplicates.WithLabelValues(mode).Add(float64(n))
}

func (m *Metrics) ObserveResolution(action string, err error) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(action, outcome(err)).Inc()
}

func (m *Metrics) ObserveExtraction(err error) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) AddKeysBackfilled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.keysBackfilled.Add(float64(n))
}

// ObserveScan records how long op ("scan" or "backfill") took.
func (m *Metrics) ObserveScan(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.scanDuration.WithLabelValues(op).Observe(d.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, common.ErrExtractionExhausted):
		return OutcomeExhausted
	case errors.Is(err, common.ErrQuotaExceeded):
		return OutcomeDenied
	default:
		return OutcomeError
	}
}
