package main

import (
	"bufio"
	"context"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sweepwatch/internal/api"
	"sweepwatch/internal/config"
	"sweepwatch/internal/dataset"
	"sweepwatch/internal/metrics"
	"sweepwatch/internal/store"
)

func main() {
	cfg := config.Load()
	metrics.RegisterDefault()

	srv, err := api.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	// Migrations and first dataset load are dev conveniences; production runs
	// them out of band.
	if pg, ok := srv.Store.(*store.Postgres); ok {
		if err := pg.MigrateDir("db/migrations"); err != nil {
			log.Printf("migrate: %v", err)
		}
	}
	if n, err := srv.Store.RestrictionCount(context.Background()); err == nil && n == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		if res, err := srv.Loader.Load(ctx); err != nil {
			log.Printf("initial dataset load: %v", err)
		} else {
			log.Printf("loaded %d sweeping restrictions (batch %s)", res.Loaded, res.Batch)
		}
		cancel()
	}
	if cfg.DatasetRefresh > 0 {
		dataset.NewRefresher(srv.Loader, cfg.DatasetRefresh).Start()
	}

	mux := http.NewServeMux()

	// Inbound events
	mux.HandleFunc("/v1/traccar/webhook", srv.TraccarWebhookHandler)

	// Devices
	mux.HandleFunc("/v1/devices/", srv.DeviceByIDHandler) // /parking, /stream

	// Ad-hoc checks and token registry
	mux.HandleFunc("/v1/parking/check", srv.CheckParkingHandler)
	mux.HandleFunc("/v1/push-tokens", srv.PushTokensHandler)

	// Admin
	mux.HandleFunc("/v1/admin/dataset/reload", srv.DatasetReloadHandler)
	mux.HandleFunc("/v1/admin/dataset/stats", srv.DatasetStatsHandler)

	// Health and metrics
	mux.HandleFunc("/healthz", srv.HealthHandler)
	mux.HandleFunc("/readyz", srv.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("API listening on :%s", cfg.HTTPPort)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps WebSocket upgrades working through the wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := r.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(dur.Seconds())
		log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, rec.status, dur)
	})
}
