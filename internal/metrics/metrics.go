// Package metrics registers the Prometheus metrics QTask's components
// emit, one counter/gauge/histogram per publish, consume, ack, and
// reclaim event. Publish metrics are labeled by stream, consumer-side
// metrics by (stream, group), and the owned-partitions gauge by
// (base_topic, group).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qtask_messages_published_total",
			Help: "Total number of entries appended to a partition stream.",
		},
		[]string{"stream"},
	)

	publishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qtask_publish_errors_total",
			Help: "Total number of failed publish attempts.",
		},
		[]string{"stream"},
	)

	publishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qtask_publish_latency_seconds",
			Help:    "XADD latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"stream"},
	)

	messagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qtask_messages_consumed_total",
			Help: "Total number of entries delivered to a handler (new + reclaimed).",
		},
		[]string{"stream", "group"},
	)

	messagesAcked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qtask_messages_acked_total",
			Help: "Total number of entries acknowledged after a successful handler call.",
		},
		[]string{"stream", "group"},
	)

	messagesReclaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qtask_messages_reclaimed_total",
			Help: "Total number of pending entries reclaimed via XAUTOCLAIM.",
		},
		[]string{"stream", "group"},
	)

	consumerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qtask_consumer_errors_total",
			Help: "Total number of errors observed by a PartitionConsumer, labeled by context.",
		},
		[]string{"stream", "group", "context"},
	)

	readLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qtask_read_latency_seconds",
			Help:    "XREADGROUP call latency in seconds.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"stream", "group"},
	)

	ownedPartitions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qtask_owned_partitions",
			Help: "Number of partitions this process instance currently owns for a given topic/group.",
		},
		[]string{"base_topic", "group"},
	)
)

func IncPublished(stream string) { messagesPublished.WithLabelValues(stream).Inc() }
func IncPublishError(stream string) { publishErrors.WithLabelValues(stream).Inc() }
func ObservePublishLatency(stream string, d time.Duration) {
	publishLatency.WithLabelValues(stream).Observe(d.Seconds())
}

func IncConsumed(stream, group string) { messagesConsumed.WithLabelValues(stream, group).Inc() }
func IncAcked(stream, group string)    { messagesAcked.WithLabelValues(stream, group).Inc() }
func AddReclaimed(stream, group string, n int) {
	if n <= 0 {
		return
	}
	messagesReclaimed.WithLabelValues(stream, group).Add(float64(n))
}
func IncConsumerError(stream, group, context string) {
	consumerErrors.WithLabelValues(stream, group, context).Inc()
}
func ObserveReadLatency(stream, group string, d time.Duration) {
	readLatency.WithLabelValues(stream, group).Observe(d.Seconds())
}
func SetOwnedPartitions(baseTopic, group string, n int) {
	ownedPartitions.WithLabelValues(baseTopic, group).Set(float64(n))
}
