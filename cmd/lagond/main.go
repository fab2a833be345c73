// Command lagond runs one edge serverless runtime node: it accepts inbound
// HTTP requests on behalf of many tenant deployments, dispatches them to
// per-deployment sandboxed isolates, and reacts to a control-plane bus
// broadcasting deploy/undeploy/promote events.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/lagonhq/lagon-node/internal/analytics"
	"github.com/lagonhq/lagon-node/internal/artifact"
	"github.com/lagonhq/lagon-node/internal/config"
	"github.com/lagonhq/lagon-node/internal/controlplane"
	"github.com/lagonhq/lagon-node/internal/cronreg"
	"github.com/lagonhq/lagon-node/internal/dispatcher"
	"github.com/lagonhq/lagon-node/internal/isolate"
	"github.com/lagonhq/lagon-node/internal/metrics"
	"github.com/lagonhq/lagon-node/internal/pool"
	"github.com/lagonhq/lagon-node/internal/reactor"
	"github.com/lagonhq/lagon-node/internal/registry"
	"github.com/lagonhq/lagon-node/pkg/logger"
)

func main() {
	addrFlag := flag.String("addr", "", "HTTP listen address (overrides config/env)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if *addrFlag != "" {
		cfg.HTTP.Addr = *addrFlag
	}

	log := logger.New(cfg.Logging)
	entry := log.WithField("component", "lagond")

	reg := registry.New()

	store, err := artifact.New(cfg.Runtime.DeploymentsDir)
	if err != nil {
		entry.WithError(err).Fatal("init artifact store")
	}

	spawner := &pool.RegistrySpawner{Registry: reg, Store: store}
	workers := pool.New(isolate.NewGoja, spawner, cfg.Runtime.IdleTTL, entry)

	cron := cronreg.New(entry)
	cron.Start()
	defer cron.Stop()

	sink := &analytics.LoggingSink{Log: entry}
	batcher := analytics.New(sink, sink, cfg.Analytics.FlushInterval, entry)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go batcher.Run(ctx)
	go evictIdleLoop(ctx, workers, cfg.Runtime.IdleTTL)

	downloader := artifact.NewHTTPDownloader(os.Getenv("LAGON_ARTIFACT_ORIGIN"))

	re := &reactor.Reactor{
		Registry:   reg,
		Store:      store,
		Downloader: downloader,
		Pool:       workers,
		Cron:       cron,
		Region:     cfg.Runtime.Region,
		RootDomain: cfg.Runtime.RootDomain,
		Log:        entry,
		OnCron:     triggerCron(ctx, workers, entry),
	}
	re.SeedCron()

	listener := controlplane.NewRedisListener(cfg.ControlPlane.RedisAddr, cfg.ControlPlane.Channel, entry)
	go re.Run(ctx, listener)
	defer listener.Close()

	disp := &dispatcher.Dispatcher{
		Registry:  reg,
		Pool:      workers,
		Store:     store,
		Analytics: batcher,
		Region:    cfg.Runtime.Region,
		Log:       entry,
	}

	var handler http.Handler = disp
	if cfg.HTTP.RateLimitRPS > 0 {
		handler = rateLimit(handler, cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
	}

	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.PathPrefix("/").Handler(handler)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		entry.WithField("addr", cfg.HTTP.Addr).Info("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			entry.WithError(err).Fatal("http server error")
		}
	}()

	<-ctx.Done()
	entry.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}

// triggerCron fires a synthetic request through a cron deployment's worker
// so the scheduled script runs; nothing is done with the response beyond
// draining it.
func triggerCron(ctx context.Context, workers *pool.Pool, log interface{ Warnf(string, ...any) }) func(deploymentID string) {
	return func(deploymentID string) {
		reply := make(chan isolate.ResponseEvent, 1)
		req := isolate.IsolateRequest{
			Method: http.MethodGet,
			URL:    "/",
			Header: http.Header{},
			Reply:  reply,
		}
		if err := workers.Send(ctx, deploymentID, isolate.RequestEvent{Request: req}); err != nil {
			log.Warnf("cron trigger failed for %s: %v", deploymentID, err)
			return
		}
		select {
		case <-reply:
		case <-ctx.Done():
		}
	}
}

func rateLimit(next http.Handler, rps float64, burst int) http.Handler {
	if burst <= 0 {
		burst = int(rps)
		if burst <= 0 {
			burst = 1
		}
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func evictIdleLoop(ctx context.Context, workers *pool.Pool, idleTTL time.Duration) {
	if idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			workers.EvictIdle()
		}
	}
}
