// Package metrics exposes Prometheus collectors for the redemption path.
// Each Observe method matches the observer hook of the package it reports on.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"teaminvite/cmd/internal/booking"
	"teaminvite/cmd/internal/upstream"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "teaminvite"

// Metrics holds the collectors. The zero value is not usable; use New.
type Metrics struct {
	gatherer prometheus.Gatherer

	reservations     *prometheus.CounterVec
	redemptions      *prometheus.CounterVec
	refreshes        *prometheus.CounterVec
	upstreamCalls    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	seatCorrections  *prometheus.CounterVec
	seatDelta        *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWith(reg, reg)
}

// NewWith registers the collectors on reg and serves from g.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: g,
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reservations_total",
			Help: "Seat reservation attempts by result.",
		}, []string{"result"}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "redemptions_total",
			Help: "Completed redemptions by final booking status.",
		}, []string{"status"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "credential_refreshes_total",
			Help: "Credential refresh attempts by result.",
		}, []string{"result"}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "upstream_requests_total",
			Help: "External API calls by operation and result.",
		}, []string{"op", "result"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "upstream_request_duration_seconds",
			Help:    "External API call latency.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),
		seatCorrections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "seat_corrections_total",
			Help: "Seat counter corrections by source.",
		}, []string{"source"}),
		seatDelta: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "seat_correction_seats_total",
			Help: "Absolute seats moved by corrections, by source.",
		}, []string{"source"}),
	}
	reg.MustRegister(m.reservations, m.redemptions, m.refreshes,
		m.upstreamCalls, m.upstreamDuration, m.seatCorrections, m.seatDelta)
	return m
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveReservation matches allocation.Observer.
func (m *Metrics) ObserveReservation(result string) {
	m.reservations.WithLabelValues(result).Inc()
}

// ObserveRedemption matches redeem.Observer.
func (m *Metrics) ObserveRedemption(status booking.Status) {
	m.redemptions.WithLabelValues(string(status)).Inc()
}

// ObserveRefresh matches credential.Observer.
func (m *Metrics) ObserveRefresh(_ string, err error) {
	m.refreshes.WithLabelValues(Result(err)).Inc()
}

// ObserveUpstream matches upstream.Observer.
func (m *Metrics) ObserveUpstream(op string, err error, elapsed time.Duration) {
	m.upstreamCalls.WithLabelValues(op, Result(err)).Inc()
	m.upstreamDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveSeatCorrection matches accounting.Observer.
func (m *Metrics) ObserveSeatCorrection(_ string, source string, from, to int) {
	m.seatCorrections.WithLabelValues(source).Inc()
	d := to - from
	if d < 0 {
		d = -d
	}
	m.seatDelta.WithLabelValues(source).Add(float64(d))
}

// Result maps an error to a low-cardinality label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, upstream.ErrAuthorizationExpired):
		return upstream.ErrAuthorizationExpired.Error()
	case errors.Is(err, upstream.ErrChallengeBlocked):
		return upstream.ErrChallengeBlocked.Error()
	case errors.Is(err, upstream.ErrCredentialInvalid):
		return upstream.ErrCredentialInvalid.Error()
	case errors.Is(err, upstream.ErrRejected):
		return upstream.ErrRejected.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, upstream.ErrUnavailable):
		return upstream.ErrUnavailable.Error()
	}
	return "error"
}
