package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heartmarshall/wdfetch/internal/adapter/httpclient"
	"github.com/heartmarshall/wdfetch/internal/transport/middleware"
	"github.com/heartmarshall/wdfetch/internal/transport/rest"
)

// MetricsHandler serves the network counters in Prometheus format on
// /metrics, next to the Go runtime collectors, plus /live and /health endpoints
// over checks.
func MetricsHandler(logger *slog.Logger, namespace string, m *httpclient.NetworkMetrics, checks ...rest.Check) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		httpclient.NewCollector(namespace, m),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	health := rest.NewHealthHandler(BuildVersion(), checks...)
	mux.HandleFunc("GET /live", health.Live)
	mux.HandleFunc("GET /health", health.Health)

	return middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logger(logger),
	)(mux)
}

// ServeMetrics starts the metrics endpoint when metrics.addr is set. The
// returned stop function shuts it down; it is a no-op when nothing started.
func (a *App) ServeMetrics(ctx context.Context) (stop func(context.Context) error, err error) {
	addr := a.Config.Metrics.Addr
	if addr == "" {
		return func(context.Context) error { return nil }, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("app: metrics listen %s: %w", addr, err)
	}

	var checks []rest.Check
	if a.FetchLog != nil {
		checks = append(checks, rest.Check{Name: "fetch_log", Pinger: a.FetchLog})
	}
	srv := &http.Server{
		Handler:           MetricsHandler(a.Log, a.Config.Metrics.Namespace, a.HTTP.Metrics(), checks...),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.ErrorContext(ctx, "metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	a.Log.InfoContext(ctx, "serving metrics", slog.String("addr", ln.Addr().String()))

	return srv.Shutdown, nil
}
