// Package metrics exposes server counters over a Prometheus endpoint.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsAdmitted counts successful admissions into the registry.
	ConnectionsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seabattle_connections_admitted_total",
		Help: "Connections admitted into the client registry.",
	})

	// ConnectionsRejected counts refused connections by reason.
	ConnectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seabattle_connections_rejected_total",
		Help: "Connections refused before admission.",
	}, []string{"reason"})

	// ClientsConnected tracks the current registry size.
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "seabattle_clients_connected",
		Help: "Clients currently in the registry.",
	})

	// MatchesStarted counts matches that reached the placement phase.
	MatchesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seabattle_matches_started_total",
		Help: "Matches started.",
	})

	// MatchesFinished counts finished matches by terminal reason.
	MatchesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seabattle_matches_finished_total",
		Help: "Matches finished, labelled by terminal reason.",
	}, []string{"reason"})

	// ShotsFired counts resolved shots by outcome.
	ShotsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seabattle_shots_fired_total",
		Help: "Shots resolved on a board, labelled by outcome.",
	}, []string{"outcome"})

	// DecodeErrors counts protocol decode failures that were tolerated.
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seabattle_decode_errors_total",
		Help: "Inbound frames dropped due to decode errors.",
	})

	// RateLimited counts inbound events dropped by the per-client limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seabattle_rate_limited_total",
		Help: "Inbound events dropped by per-client rate limiting.",
	})
)

// Serve runs the /metrics endpoint on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listener started", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
