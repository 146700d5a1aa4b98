// Command qtask-bench is a tiny publish-loop smoke-test driver: it connects
// to the configured store and publishes N synthetic messages across the
// configured partitions, then exits. Useful for exercising a running
// qtask-worker fleet without a full producer application.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/clu-ai/qtask/internal/config"
	"github.com/clu-ai/qtask/internal/logging"
	"github.com/clu-ai/qtask/qtask"
)

func main() {
	count := flag.Int("count", 100, "number of messages to publish")
	topic := flag.String("topic", "tasks", "base topic to publish to")
	flag.Parse()

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

	q, err := qtask.New(qtask.Options{
		RedisHost:       cfg.Redis.Host,
		RedisPort:       cfg.Redis.Port,
		RedisUsername:   cfg.Redis.Username,
		RedisPassword:   cfg.Redis.Password,
		RedisDB:         cfg.Redis.DB,
		TotalPartitions: cfg.TotalPartitions,
		LogLevel:        logging.LevelFromString(cfg.Logging.Level),
		LogServiceName:  "qtask-bench",
	})
	if err != nil {
		logger.Fatal("failed to construct qtask facade", logging.ErrorField(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = q.Connect(ctx)
	cancel()
	if err != nil {
		logger.Fatal("failed to connect qtask facade", logging.ErrorField(err))
	}
	defer q.Stop(context.Background())

	start := time.Now()
	for i := 0; i < *count; i++ {
		key := uuid.New().String()
		payload := qtask.OrderedFields{
			{Key: "seq", Value: i},
			{Key: "key", Value: key},
		}
		id, err := q.Publish(context.Background(), *topic, &key, payload, nil)
		if err != nil {
			logger.Error("publish failed", logging.Int("seq", i), logging.ErrorField(err))
			continue
		}
		logger.Debug("published", logging.String("entry_id", id), logging.Int("partition", q.PartitionFor(key)))
	}

	logger.Info("bench run complete",
		logging.Int("count", *count),
		logging.Duration("elapsed", time.Since(start)),
	)
}
