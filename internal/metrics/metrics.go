// Package metrics holds the Prometheus collectors of the mailer.
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
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventmailer_notifications_sent_total",
			Help: "Notifications accepted by the mail transport",
		},
		[]string{"kind", "timing"}, // timing: on_time, late
	)

	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventmailer_notifications_failed_total",
			Help: "Notification attempts that failed and will be retried",
		},
		[]string{"kind"},
	)

	EventsPlanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventmailer_events_planned_total",
			Help: "Events seen by the weekly check",
		},
		[]string{"result"}, // result: new, existing, skipped
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventmailer_tick_duration_seconds",
			Help:    "Duration of one due-check",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)
)

func RecordSent(kind, timing string) {
	NotificationsSent.WithLabelValues(kind, timing).Inc()
}

func RecordFailed(kind string) {
	NotificationsFailed.WithLabelValues(kind).Inc()
}

func RecordPlanned(result string) {
	EventsPlanned.WithLabelValues(result).Inc()
}

func RecordTick(d time.Duration) {
	TickDuration.Observe(d.Seconds())
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, logger *slog.Logger, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
