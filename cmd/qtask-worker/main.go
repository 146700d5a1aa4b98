// Command qtask-worker runs one QTask instance: it connects to the
// configured store, registers a handler against its statically assigned
// partitions, and serves health and metrics endpoints until signaled to
// stop. Wiring order: load config, init logger, dial dependencies, start
// workers, serve HTTP, wait for signal, shut down in reverse order.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clu-ai/qtask/internal/config"
	"github.com/clu-ai/qtask/internal/logging"
	"github.com/clu-ai/qtask/qtask"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(cfg.AsLoggingConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()
	logger := logging.Get()

	logger.Info("starting qtask worker",
		logging.String("service", cfg.ServiceName),
		logging.Int("total_partitions", cfg.TotalPartitions),
		logging.Int("instance_id", cfg.Fleet.InstanceID),
		logging.Int("instance_count", cfg.Fleet.InstanceCount),
	)

	q, err := qtask.New(qtask.Options{
		RedisHost:       cfg.Redis.Host,
		RedisPort:       cfg.Redis.Port,
		RedisUsername:   cfg.Redis.Username,
		RedisPassword:   cfg.Redis.Password,
		RedisDB:         cfg.Redis.DB,
		TotalPartitions: cfg.TotalPartitions,
		LogLevel:        logging.LevelFromString(cfg.Logging.Level),
		LogServiceName:  cfg.ServiceName,
		LogUseColors:    cfg.Logging.UseColors,
		Fleet: qtask.Fleet{
			InstanceID:    cfg.Fleet.InstanceID,
			InstanceCount: cfg.Fleet.InstanceCount,
		},
	})
	if err != nil {
		logger.Fatal("failed to construct qtask facade", logging.ErrorField(err))
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = q.Connect(connectCtx)
	cancel()
	if err != nil {
		logger.Fatal("failed to connect qtask facade", logging.ErrorField(err))
	}

	baseTopic := getenvDefault("QTASK_TOPIC", "tasks")
	group := getenvDefault("QTASK_GROUP", "qtask-worker")

	var processed, failed int64
	var statsMu sync.Mutex

	keys, err := q.Register(context.Background(), qtask.RegisterOptions{
		BaseTopic:      baseTopic,
		Group:          group,
		ConsumerIDBase: cfg.ConsumerIDBase,
		BlockTimeout:   int64(cfg.BlockTimeoutMs),
		ClaimInterval:  int64(cfg.ClaimIntervalMs),
		MinIdleTime:    int64(cfg.MinIdleTimeMs),
		Handler: func(ctx context.Context, entryID string, fields []qtask.HandlerFields) error {
			logger.Debug("handling entry", logging.String("entry_id", entryID), logging.Int("field_count", len(fields)))
			statsMu.Lock()
			processed++
			statsMu.Unlock()
			return nil
		},
		ErrorHook: func(err error, errContext string) {
			statsMu.Lock()
			failed++
			statsMu.Unlock()
			logger.Error("qtask consumer error", logging.String("context", errContext), logging.ErrorField(err))
		},
	})
	if err != nil {
		logger.Fatal("failed to register consumer group", logging.ErrorField(err))
	}
	logger.Info("registered partition consumers", logging.Int("count", len(keys)))

	router := setupHealthAndMetricsServer(cfg, q, &statsMu, &processed, &failed)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HealthPort),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting health and metrics server", logging.Int("port", cfg.HealthPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health and metrics server failed", logging.ErrorField(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down qtask worker")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown failed", logging.ErrorField(err))
	}
	shutdownCancel()

	if err := q.Stop(context.Background()); err != nil {
		logger.Error("qtask stop failed", logging.ErrorField(err))
	}

	wg.Wait()
	logger.Info("qtask worker stopped")
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func setupHealthAndMetricsServer(cfg *config.Config, q *qtask.QTask, mu *sync.Mutex, processed, failed *int64) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":         "UP",
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
			"instance_id":    cfg.Fleet.InstanceID,
			"instance_count": cfg.Fleet.InstanceCount,
		})
	}).Methods("GET")

	router.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		p, f := *processed, *failed
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"processed": p,
			"failed":    f,
		})
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler())

	return router
}
