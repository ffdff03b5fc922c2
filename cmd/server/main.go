package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelq/modelq/internal/alert"
	"github.com/modelq/modelq/internal/api"
	"github.com/modelq/modelq/internal/completion"
	"github.com/modelq/modelq/internal/config"
	"github.com/modelq/modelq/internal/dispatch"
	"github.com/modelq/modelq/internal/middleware"
	"github.com/modelq/modelq/internal/pool"
	"github.com/modelq/modelq/internal/report"
	"github.com/modelq/modelq/internal/repository"
	"github.com/modelq/modelq/internal/store"
	"github.com/modelq/modelq/internal/task"
)

const shutdownGrace = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	client, err := completion.NewHTTPClient(completion.HTTPClientConfig{
		BaseURL: cfg.Completion.BaseURL,
		APIKey:  cfg.Completion.APIKey,
		Timeout: cfg.Timeout(),
	})
	if err != nil {
		log.Fatal(err)
	}

	taskStore := openStore(cfg)
	defer func() {
		if err := taskStore.Close(); err != nil {
			log.Printf("failed to close task store: %v", err)
		}
	}()

	recorder := pool.MultiRecorder{taskStore}
	var history repository.TaskHistory
	if cfg.Postgres.DSN != "" {
		pg, err := repository.NewPostgresTaskHistory(cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
		defer func() {
			if err := pg.Close(); err != nil {
				log.Printf("failed to close task history: %v", err)
			}
		}()
		history = pg
		recorder = append(recorder, pg)
		log.Printf("Task history enabled")
	}

	pools := buildPools(cfg, client, recorder)
	for _, p := range pools {
		p.Start()
	}

	dispatcher := dispatch.New(pools)
	reporter := report.New(pools)

	var monitor *alert.Monitor
	if cfg.Alert.Enabled {
		monitor = alert.NewMonitor(alert.NewSendGridSender(cfg.Alert), cfg.Alert)
		log.Printf("Failure alerts enabled, notifying %s", cfg.Alert.ToAddress)
	}
	go startMetricsCollector(reporter, monitor)

	mux := http.NewServeMux()
	mux.Handle("/api/", middleware.MetricsMiddleware(api.NewAPI(dispatcher, reporter, taskStore, history)))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	go func() {
		log.Printf("Server starting on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	for _, p := range pools {
		p.Stop(ctx)
	}
}

func openStore(cfg config.Config) store.Store {
	if cfg.Redis.Addr == "" {
		log.Printf("No Redis address configured, using in-memory task store")
		return store.NewMemoryStore()
	}

	taskStore, err := store.NewTaskStore(cfg.Redis.Addr)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Connected to Redis at %s", cfg.Redis.Addr)
	return taskStore
}

func buildPools(cfg config.Config, client completion.Client, recorder pool.Recorder) []*pool.Pool {
	pools := make([]*pool.Pool, 0, len(task.Specializations()))
	for _, spec := range task.Specializations() {
		pc := cfg.Pools[string(spec)]
		pools = append(pools, pool.New(pool.Config{
			Specialization: spec,
			Workers:        pc.Workers,
			QueueCapacity:  pc.QueueCapacity,
			Model:          pc.Model,
			SystemPrompt:   pc.SystemPrompt,
			MaxAttempts:    cfg.Completion.MaxAttempts,
			RetryBackoff:   cfg.RetryBackoff(),
			RateLimit:      pc.RateLimit,
			Client:         client,
			Recorder:       recorder,
		}))
	}
	return pools
}
