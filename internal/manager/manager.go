// Package manager implements ConsumerManager (spec.md §5): the static
// per-process fleet-assignment layer that derives which partitions this
// instance owns, registers a PartitionConsumer per owned partition, and
// manages their shared lifecycle. The ownership-set bookkeeping generalizes
// from a single flat keyspace to (baseTopic, group) pairs, each with its own
// PartitionConsumer set.
package manager

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/clu-ai/qtask/internal/consumer"
	"github.com/clu-ai/qtask/internal/logging"
	"github.com/clu-ai/qtask/internal/metrics"
	"github.com/clu-ai/qtask/internal/partition"
	"github.com/clu-ai/qtask/internal/qerrors"
	"github.com/clu-ai/qtask/internal/streamclient"
)

// Fleet describes the static assignment of partitions to the current
// process (spec.md §5, "Assignment resolver").
type Fleet struct {
	InstanceID    int
	InstanceCount int
}

func (f Fleet) validate() error {
	if f.InstanceCount <= 0 {
		return qerrors.New(qerrors.ClassConfiguration, fmt.Sprintf("instanceCount must be positive, got %d", f.InstanceCount))
	}
	if f.InstanceID < 0 || f.InstanceID >= f.InstanceCount {
		return qerrors.New(qerrors.ClassConfiguration, fmt.Sprintf("instanceId (%d) must be in [0, %d)", f.InstanceID, f.InstanceCount))
	}
	return nil
}

// ownedPartitions returns the indices in [0, totalPartitions) this instance
// owns under i mod instanceCount == instanceId (spec.md §5, "Ownership
// rule"). An empty result is valid: more instances than partitions leaves
// some instances with nothing to do.
func ownedPartitions(totalPartitions int, f Fleet) []int {
	return lo.Filter(lo.Range(totalPartitions), func(i, _ int) bool {
		return i%f.InstanceCount == f.InstanceID
	})
}

// RegisterOptions configures one group of owned PartitionConsumers.
type RegisterOptions struct {
	BaseTopic      string
	Group          string
	ConsumerIDBase string // optional; defaults to "consumer-<group>"
	ConsumerConfig consumer.Config
	Handler        consumer.Handler
	ErrorHook      consumer.ErrorHook
}

// ConsumerManager owns every PartitionConsumer this process runs, keyed by
// "<stream>:<group>:<consumerId>" so a duplicate Register is a detectable,
// recoverable no-op rather than a silent double-subscription.
type ConsumerManager struct {
	client          streamclient.StreamClient
	totalPartitions int
	fleet           Fleet
	processIdentity string

	consumers map[string]*consumer.PartitionConsumer
}

// New constructs a ConsumerManager bound to client, validating fleet
// up front so a misconfigured instanceId/instanceCount fails at startup
// rather than silently owning the wrong partitions.
func New(client streamclient.StreamClient, totalPartitions int, fleet Fleet) (*ConsumerManager, error) {
	if client == nil {
		return nil, qerrors.New(qerrors.ClassConfiguration, "manager: stream client is required")
	}
	if totalPartitions <= 0 {
		return nil, qerrors.New(qerrors.ClassConfiguration, fmt.Sprintf("totalPartitions must be positive, got %d", totalPartitions))
	}
	if err := fleet.validate(); err != nil {
		return nil, err
	}
	return &ConsumerManager{
		client:          client,
		totalPartitions: totalPartitions,
		fleet:           fleet,
		processIdentity: uuid.New().String(),
		consumers:       make(map[string]*consumer.PartitionConsumer),
	}, nil
}

// OwnedPartitions returns the partition indices this instance owns.
func (m *ConsumerManager) OwnedPartitions() []int {
	return ownedPartitions(m.totalPartitions, m.fleet)
}

// Register creates one PartitionConsumer per partition this instance owns
// for (opts.BaseTopic, opts.Group), idempotently creates each partition's
// consumer group, wires opts.Handler with the framework-performed-ack
// contract, and starts every consumer. It returns the registration keys so
// callers can target Stop at a specific group later.
func (m *ConsumerManager) Register(ctx context.Context, opts RegisterOptions) ([]string, error) {
	if opts.BaseTopic == "" || opts.Group == "" {
		return nil, qerrors.Wrap(qerrors.ClassConfiguration, "manager: baseTopic and group are required", qerrors.InvalidArgument)
	}

	owned := m.OwnedPartitions()
	if len(owned) == 0 {
		logging.Get().Warn("instance owns no partitions for this registration",
			logging.String("base_topic", opts.BaseTopic),
			logging.String("group", opts.Group),
			logging.Int("instance_id", m.fleet.InstanceID),
			logging.Int("instance_count", m.fleet.InstanceCount),
			logging.Int("total_partitions", m.totalPartitions),
		)
		metrics.SetOwnedPartitions(opts.BaseTopic, opts.Group, 0)
		return nil, nil
	}

	consumerIDBase := opts.ConsumerIDBase
	if consumerIDBase == "" {
		consumerIDBase = fmt.Sprintf("consumer-%s", opts.Group)
	}

	var keys []string
	for _, idx := range owned {
		stream, err := partition.StreamName(opts.BaseTopic, idx, m.totalPartitions)
		if err != nil {
			return keys, err
		}

		if err := m.client.XGroupCreateMkStream(ctx, stream, opts.Group); err != nil {
			if qerrors.Is(err, qerrors.ClassConnectivity) {
				// A transport failure aborts registration entirely: the
				// other partitions would fail identically.
				return keys, err
			}
			logging.Get().Warn("skipping partition: group creation failed",
				logging.String("stream", stream), logging.String("group", opts.Group), logging.ErrorField(err))
			continue
		}

		consumerID := fmt.Sprintf("%s-%s-%d", consumerIDBase, m.processIdentity, idx)
		key := fmt.Sprintf("%s:%s:%s", stream, opts.Group, consumerID)
		if _, exists := m.consumers[key]; exists {
			logging.Get().Warn("duplicate registration ignored", logging.String("key", key))
			continue
		}

		cfg := opts.ConsumerConfig
		cfg.Stream = stream
		cfg.Group = opts.Group
		cfg.ConsumerID = consumerID

		pc := consumer.New(m.client, cfg)
		pc.OnMessage(opts.Handler)
		if opts.ErrorHook != nil {
			pc.OnError(opts.ErrorHook)
		}
		pc.Start()

		m.consumers[key] = pc
		keys = append(keys, key)
	}

	metrics.SetOwnedPartitions(opts.BaseTopic, opts.Group, len(owned))
	return keys, nil
}

// Stop stops a single registered consumer by its registration key.
func (m *ConsumerManager) Stop(key string) {
	if pc, ok := m.consumers[key]; ok {
		pc.Stop()
		delete(m.consumers, key)
	}
}

// StopAll stops every PartitionConsumer this manager owns.
func (m *ConsumerManager) StopAll() {
	for key, pc := range m.consumers {
		pc.Stop()
		delete(m.consumers, key)
	}
}
