package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"waitline/internal/aggregate"
	"waitline/internal/config"
	"waitline/internal/httpapi"
	"waitline/internal/notify"
	"waitline/internal/queue"
	"waitline/internal/store/postgres"
	"waitline/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	shutdownTracing := telemetry.Setup("waitline")

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	aggregator := aggregate.New(st, cfg.LookbackWindow)
	queues := queue.NewManager(st, aggregator, cfg.DefaultEstimateMinutes)
	handler := httpapi.NewHandler(st, aggregator, queues, httpapi.Options{
		NotifyThreshold: cfg.NotifyThreshold,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:   cfg.RateLimitPerMinute,
		IPBurst:       cfg.RateLimitBurst,
		UserPerMinute: cfg.UserRateLimitPerMinute,
		UserBurst:     cfg.UserRateLimitBurst,
	})

	root := httpapi.LoggingMiddleware(limiter.Middleware(handler.Routes()))
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(root, "waitline"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("waitline listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	if cfg.SweepInterval > 0 {
		worker := notify.New(st, notify.Config{
			Threshold: cfg.SweepThreshold,
			BatchSize: cfg.SweepBatchSize,
			Provider:  cfg.SweepProvider,
		})
		go notify.Start(sweepCtx, cfg.SweepInterval, worker)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancelSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Printf("tracing shutdown error: %v", err)
	}
}
