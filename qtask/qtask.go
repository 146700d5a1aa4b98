// Package qtask is the QTask facade (spec.md §4.5): it composes the
// Partitioner, Publisher, ConsumerManager and StreamClient behind a
// minimal lifecycle of Connect, Register, Publish, Stop.
package qtask

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clu-ai/qtask/internal/consumer"
	"github.com/clu-ai/qtask/internal/logging"
	"github.com/clu-ai/qtask/internal/manager"
	"github.com/clu-ai/qtask/internal/partition"
	"github.com/clu-ai/qtask/internal/publisher"
	"github.com/clu-ai/qtask/internal/qerrors"
	"github.com/clu-ai/qtask/internal/streamclient"
)

// Field is re-exported so callers publishing an ordered mapping don't need
// to import internal/publisher directly.
type Field = publisher.Field

// OrderedFields is re-exported for the same reason.
type OrderedFields = publisher.OrderedFields

// HandlerFields is one reconstructed message field, re-exported from
// internal/consumer for callers registering a Handler.
type HandlerFields = consumer.Field

// Handler processes one reconstructed message; see internal/consumer.Handler.
type Handler = consumer.Handler

// ErrorHook observes a tagged error; see internal/consumer.ErrorHook.
type ErrorHook = consumer.ErrorHook

// Options constructs a QTask instance (spec.md §6, "Facade configuration").
type Options struct {
	RedisHost     string
	RedisPort     int
	RedisUsername string
	RedisPassword string
	RedisDB       int
	// RedisOptions passes through driver-level tuning not otherwise exposed.
	RedisOptions func(*redis.Options)

	TotalPartitions int

	LogLevel           logging.Level
	LogServiceName     string
	LogUseColors       bool
	LogTimestampFormat string

	Fleet manager.Fleet
}

// RegisterOptions configures one PartitionConsumer group (spec.md §4.4,
// "register").
type RegisterOptions struct {
	BaseTopic      string
	Group          string
	ConsumerIDBase string
	Handler        Handler
	ErrorHook      ErrorHook
	BlockTimeout   int64 // milliseconds; 0 uses the PartitionConsumer default
	ClaimInterval  int64 // milliseconds
	MinIdleTime    int64 // milliseconds
}

// PublishOptions are per-publish overrides.
type PublishOptions = publisher.Options

// QTask is the top-level facade. Construct with New, then Connect before
// Register/Publish.
type QTask struct {
	opts      Options
	partition *partition.Partitioner

	client    streamclient.StreamClient
	publisher *publisher.Publisher
	manager   *manager.ConsumerManager

	connected bool
}

// New validates opts.TotalPartitions and builds the logger and Partitioner
// eagerly, per spec.md §4.5. Connect must still be called before any I/O.
func New(opts Options) (*QTask, error) {
	if opts.TotalPartitions <= 0 {
		return nil, qerrors.New(qerrors.ClassConfiguration, fmt.Sprintf("totalPartitions must be positive, got %d", opts.TotalPartitions))
	}
	if opts.RedisHost == "" {
		return nil, qerrors.New(qerrors.ClassConfiguration, "redisHost is required")
	}
	if opts.Fleet.InstanceCount == 0 {
		opts.Fleet.InstanceCount = 1
	}

	if err := logging.Init(logging.Config{
		Level:           opts.LogLevel,
		ServiceName:     opts.LogServiceName,
		UseColors:       opts.LogUseColors,
		TimestampFormat: opts.LogTimestampFormat,
	}); err != nil {
		return nil, fmt.Errorf("qtask: failed to initialize logger: %w", err)
	}

	pt, err := partition.New("", opts.TotalPartitions)
	if err != nil {
		return nil, err
	}

	return &QTask{opts: opts, partition: pt}, nil
}

// Connect dials the store and builds the Publisher and ConsumerManager.
// Register and Publish fail with NotConnected until this succeeds.
func (q *QTask) Connect(ctx context.Context) error {
	client, err := streamclient.Dial(ctx, streamclient.Options{
		Host:     q.opts.RedisHost,
		Port:     q.opts.RedisPort,
		Username: q.opts.RedisUsername,
		Password: q.opts.RedisPassword,
		DB:       q.opts.RedisDB,
		Extra:    q.opts.RedisOptions,
	})
	if err != nil {
		return err
	}

	pub, err := publisher.New(client, q.opts.TotalPartitions)
	if err != nil {
		_ = client.Close()
		return err
	}

	mgr, err := manager.New(client, q.opts.TotalPartitions, q.opts.Fleet)
	if err != nil {
		_ = client.Close()
		return err
	}

	q.client = client
	q.publisher = pub
	q.manager = mgr
	q.connected = true
	return nil
}

// Register subscribes a Handler to every partition this instance owns for
// (opts.BaseTopic, opts.Group), starting a PartitionConsumer per partition.
func (q *QTask) Register(ctx context.Context, opts RegisterOptions) ([]string, error) {
	if !q.connected {
		return nil, qerrors.Wrap(qerrors.ClassConfiguration, "qtask: register called before connect", qerrors.NotConnected)
	}
	if opts.Handler == nil {
		return nil, qerrors.Wrap(qerrors.ClassConfiguration, "qtask: register requires a handler", qerrors.InvalidArgument)
	}

	cfg := consumer.DefaultConfig("", opts.Group, "")
	if opts.BlockTimeout > 0 {
		cfg.BlockTimeout = time.Duration(opts.BlockTimeout) * time.Millisecond
	}
	if opts.ClaimInterval > 0 {
		cfg.ClaimInterval = time.Duration(opts.ClaimInterval) * time.Millisecond
	}
	if opts.MinIdleTime > 0 {
		cfg.MinIdleTime = time.Duration(opts.MinIdleTime) * time.Millisecond
	}

	return q.manager.Register(ctx, manager.RegisterOptions{
		BaseTopic:      opts.BaseTopic,
		Group:          opts.Group,
		ConsumerIDBase: opts.ConsumerIDBase,
		ConsumerConfig: cfg,
		Handler:        opts.Handler,
		ErrorHook:      opts.ErrorHook,
	})
}

// Publish encodes payload and appends it to the stream selected by
// (baseTopic, partitionKey).
func (q *QTask) Publish(ctx context.Context, baseTopic string, partitionKey *string, payload interface{}, opts *PublishOptions) (string, error) {
	if !q.connected {
		return "", qerrors.Wrap(qerrors.ClassConfiguration, "qtask: publish called before connect", qerrors.NotConnected)
	}
	return q.publisher.Publish(ctx, baseTopic, partitionKey, payload, opts)
}

// PartitionFor returns the partition index a key would be routed to,
// without publishing anything.
func (q *QTask) PartitionFor(key string) int {
	return q.partition.PartitionFor(key)
}

// Stop stops the ConsumerManager's consumers then closes the StreamClient.
// Subsequent Register/Publish calls fail with NotConnected.
func (q *QTask) Stop(ctx context.Context) error {
	if !q.connected {
		return qerrors.Wrap(qerrors.ClassConfiguration, "qtask: stop called before connect", qerrors.NotConnected)
	}
	q.manager.StopAll()
	err := q.client.Close()
	q.connected = false
	return err
}
