// Package partition implements the deterministic (topic, key) -> partition
// index mapping and the physical stream naming scheme described in
// spec.md §4.1. The hash must reproduce the classic Java String.hashCode
// recurrence bit-for-bit so that producers and consumers written in any
// language agree on which partition a key belongs to.
package partition

import (
	"fmt"
	"math/rand"
	"unicode/utf16"

	"github.com/clu-ai/qtask/internal/qerrors"
)

// Partitioner maps partition keys to a fixed number of partitions and
// derives the physical stream name for each partition index.
type Partitioner struct {
	baseTopic       string
	totalPartitions int
}

// New constructs a Partitioner for baseTopic with totalPartitions disjoint
// partitions. totalPartitions must be a positive integer; construction fails
// otherwise per spec.md §4.1.
func New(baseTopic string, totalPartitions int) (*Partitioner, error) {
	if totalPartitions <= 0 {
		return nil, qerrors.Wrap(qerrors.ClassConfiguration,
			fmt.Sprintf("totalPartitions must be positive, got %d", totalPartitions),
			qerrors.Configuration)
	}
	return &Partitioner{baseTopic: baseTopic, totalPartitions: totalPartitions}, nil
}

// TotalPartitions returns the fleet-wide partition count this Partitioner
// was constructed with.
func (p *Partitioner) TotalPartitions() int {
	return p.totalPartitions
}

// HashKey computes the reference 32-bit Java-string-hashCode-compatible hash
// of a key's textual representation: h = 0, then for each UTF-16 code unit c
// (as Java's char), h = h*31 + c, with wraparound 32-bit signed arithmetic.
func HashKey(key string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(key)) {
		h = 31*h + int32(c)
	}
	return h
}

// PartitionFor returns the partition index in [0, totalPartitions) for a
// non-empty key. Use PartitionForKey to additionally handle the
// null/absent-key load-spreading case.
func (p *Partitioner) PartitionFor(key string) int {
	h := HashKey(key)
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return int(abs % int64(p.totalPartitions))
}

// PartitionForKey mirrors PartitionFor but additionally implements the
// null/absent-key edge case from spec.md §4.1: when hasKey is false, the
// index is spread uniformly at random across [0, totalPartitions) instead of
// hashing, since there is no key to hash consistently against.
func (p *Partitioner) PartitionForKey(key string, hasKey bool) int {
	if !hasKey {
		return rand.Intn(p.totalPartitions)
	}
	return p.PartitionFor(key)
}

// StreamName returns the physical stream name for the given partition index,
// "{baseTopic}:{index}". Index outside [0, totalPartitions) fails with
// InvalidPartitionIndex.
func (p *Partitioner) StreamName(index int) (string, error) {
	return StreamName(p.baseTopic, index, p.totalPartitions)
}

// StreamName is the package-level, stateless form of the naming scheme: it
// is how a ConsumerManager (which enumerates every partition of a topic up
// front) derives names without constructing a full Partitioner.
func StreamName(baseTopic string, index, totalPartitions int) (string, error) {
	if index < 0 || index >= totalPartitions {
		return "", qerrors.Wrap(qerrors.ClassConfiguration,
			fmt.Sprintf("partition index %d out of range [0,%d)", index, totalPartitions),
			qerrors.InvalidPartitionIndex)
	}
	return fmt.Sprintf("%s:%d", baseTopic, index), nil
}
