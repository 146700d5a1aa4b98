// Package publisher implements the Publisher component of spec.md §4.2:
// it encodes a user payload into a field/value record and appends it to the
// correct partition stream.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clu-ai/qtask/internal/logging"
	"github.com/clu-ai/qtask/internal/metrics"
	"github.com/clu-ai/qtask/internal/partition"
	"github.com/clu-ai/qtask/internal/qerrors"
	"github.com/clu-ai/qtask/internal/streamclient"
)

// Options are per-publish overrides (spec.md §4.2, "options?").
type Options struct {
	// ID pins the entry id instead of letting the store assign one ("*").
	ID string
}

// Publisher encodes payloads and appends them to the partition stream
// derived from (baseTopic, partitionKey).
type Publisher struct {
	client          streamclient.StreamClient
	totalPartitions int
}

// New constructs a Publisher bound to client, partitioning every topic it
// publishes to across totalPartitions streams.
func New(client streamclient.StreamClient, totalPartitions int) (*Publisher, error) {
	if client == nil {
		return nil, qerrors.New(qerrors.ClassConfiguration, "publisher: stream client is required")
	}
	if totalPartitions <= 0 {
		return nil, qerrors.New(qerrors.ClassConfiguration, fmt.Sprintf("totalPartitions must be positive, got %d", totalPartitions))
	}
	return &Publisher{client: client, totalPartitions: totalPartitions}, nil
}

// Publish encodes payload and appends it to the stream selected by
// (baseTopic, partitionKey), returning the assigned entry id.
//
// partitionKey must be non-nil: an explicit *string, including one pointing
// at the empty string (which hashes to partition 0). A nil partitionKey is a
// missing argument, not a request for load spreading, and fails with
// InvalidArgument.
func (p *Publisher) Publish(ctx context.Context, baseTopic string, partitionKey *string, payload interface{}, opts *Options) (string, error) {
	if baseTopic == "" {
		return "", qerrors.Wrap(qerrors.ClassConfiguration, "publish: baseTopic is required", qerrors.InvalidArgument)
	}
	if partitionKey == nil {
		return "", qerrors.Wrap(qerrors.ClassConfiguration, "publish: partitionKey is required", qerrors.InvalidArgument)
	}
	if payload == nil {
		return "", qerrors.Wrap(qerrors.ClassConfiguration, "publish: payload is required", qerrors.InvalidArgument)
	}

	pt, err := partition.New(baseTopic, p.totalPartitions)
	if err != nil {
		return "", err
	}

	index := pt.PartitionFor(*partitionKey)

	target, err := pt.StreamName(index)
	if err != nil {
		return "", err
	}

	fields, err := encode(payload)
	if err != nil {
		return "", err
	}

	id := "*"
	if opts != nil && opts.ID != "" {
		id = opts.ID
	}

	start := time.Now()
	entryID, err := p.client.XAdd(ctx, target, id, fields)
	metrics.ObservePublishLatency(target, time.Since(start))
	if err != nil {
		metrics.IncPublishError(target)
		// Per spec.md §9 open question: always log the topic/stream that
		// was actually targeted, never an undefined placeholder.
		logging.Get().Error("publish failed",
			logging.String("base_topic", baseTopic),
			logging.String("stream", target),
			logging.ErrorField(err),
		)
		return "", err
	}

	metrics.IncPublished(target)
	logging.Get().Debug("published entry",
		logging.String("base_topic", baseTopic),
		logging.String("stream", target),
		logging.String("entry_id", entryID),
	)
	return entryID, nil
}

// Field is one key/value pair of an ordered mapping payload. Go's builtin
// map type cannot preserve insertion order, so callers that care about field
// order (spec.md §3, "insertion-order-preserving string pairs") should
// publish an OrderedFields value rather than a plain map.
type Field struct {
	Key   string
	Value interface{}
}

// OrderedFields is a string-keyed mapping payload that preserves the order
// its fields were appended in, end to end through XADD.
type OrderedFields []Field

// encode implements the payload encoding rules of spec.md §4.2.
func encode(payload interface{}) ([]string, error) {
	switch v := payload.(type) {
	case string:
		return []string{"message", v}, nil
	case OrderedFields:
		return encodeOrdered(v)
	case map[string]interface{}:
		return encodeOrdered(toOrderedFields(v))
	case map[string]string:
		m := make(OrderedFields, 0, len(v))
		for k, val := range v {
			m = append(m, Field{Key: k, Value: val})
		}
		return encodeOrdered(m)
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("publisher: failed to marshal payload: %w", err)
		}
		return []string{"message", string(data)}, nil
	}
}

func toOrderedFields(m map[string]interface{}) OrderedFields {
	out := make(OrderedFields, 0, len(m))
	for k, v := range m {
		out = append(out, Field{Key: k, Value: v})
	}
	return out
}

func encodeOrdered(fields OrderedFields) ([]string, error) {
	if len(fields) == 0 {
		return []string{"_placeholder", "empty_object"}, nil
	}

	out := make([]string, 0, len(fields)*2)
	for _, f := range fields {
		if f.Value == nil {
			// Any null/absent value abandons flattening entirely.
			m := make(map[string]interface{}, len(fields))
			for _, f2 := range fields {
				m[f2.Key] = f2.Value
			}
			data, err := json.Marshal(m)
			if err != nil {
				return nil, fmt.Errorf("publisher: failed to marshal payload: %w", err)
			}
			return []string{"message", string(data)}, nil
		}
		out = append(out, f.Key, fmt.Sprintf("%v", f.Value))
	}
	return out, nil
}
