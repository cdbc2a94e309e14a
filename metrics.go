/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Seednode/dungeonhonor/internal/behavior"
	"github.com/Seednode/dungeonhonor/internal/store"
)

type metrics struct {
	registry *prometheus.Registry

	lookups      *prometheus.CounterVec
	writes       *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec
	liveViewers  prometheus.Gauge
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &metrics{
		registry: reg,
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dungeonhonor_lookups_total",
			Help: "Behavior lookups by outcome",
		}, []string{"outcome"}),
		writes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dungeonhonor_writes_total",
			Help: "Feedback writes by kind and outcome",
		}, []string{"kind", "outcome"}),
		storeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dungeonhonor_store_duration_seconds",
			Help:    "Duration of behavior store operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),
		liveViewers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dungeonhonor_live_viewers",
			Help: "Currently connected live report viewers",
		}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}

	return "ok"
}

// instrumentedStore records counts and latency for every store call.
type instrumentedStore struct {
	store.Store
	m *metrics
}

func (s *instrumentedStore) Lookup(ctx context.Context, id behavior.Identity) ([]behavior.Record, error) {
	timer := prometheus.NewTimer(s.m.storeLatency.WithLabelValues("lookup"))
	defer timer.ObserveDuration()

	records, err := s.Store.Lookup(ctx, id)
	s.m.lookups.WithLabelValues(outcome(err)).Inc()

	return records, err
}

func (s *instrumentedStore) SaveBehavior(ctx context.Context, sub behavior.FeedbackSubmission) error {
	timer := prometheus.NewTimer(s.m.storeLatency.WithLabelValues("save_behavior"))
	defer timer.ObserveDuration()

	err := s.Store.SaveBehavior(ctx, sub)
	s.m.writes.WithLabelValues("behavior", outcome(err)).Inc()

	return err
}

func (s *instrumentedStore) SaveRejoinRating(ctx context.Context, r behavior.RejoinRating) error {
	timer := prometheus.NewTimer(s.m.storeLatency.WithLabelValues("save_rejoin_rating"))
	defer timer.ObserveDuration()

	err := s.Store.SaveRejoinRating(ctx, r)
	s.m.writes.WithLabelValues("rejoin_rating", outcome(err)).Inc()

	return err
}

func registerMetricsHandler(cfg *Config, m *metrics, mux *httprouter.Router) {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})

	mux.Handler(http.MethodGet, cfg.prefix+"/metrics", h)
}
