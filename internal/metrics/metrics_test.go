package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestIncPublishedIncrementsCounter(t *testing.T) {
	IncPublished("T:0")
	before := testutil.ToFloat64(messagesPublished.WithLabelValues("T:0"))
	IncPublished("T:0")
	after := testutil.ToFloat64(messagesPublished.WithLabelValues("T:0"))
	assert.Equal(t, before+1, after)
}

func TestAddReclaimedIgnoresNonPositive(t *testing.T) {
	before := testutil.ToFloat64(messagesReclaimed.WithLabelValues("T:1", "g"))
	AddReclaimed("T:1", "g", 0)
	AddReclaimed("T:1", "g", -5)
	after := testutil.ToFloat64(messagesReclaimed.WithLabelValues("T:1", "g"))
	assert.Equal(t, before, after)

	AddReclaimed("T:1", "g", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(messagesReclaimed.WithLabelValues("T:1", "g")))
}

func TestObserveLatencyDoesNotPanic(t *testing.T) {
	ObservePublishLatency("T:2", 5*time.Millisecond)
	ObserveReadLatency("T:2", "g", 10*time.Millisecond)
}

func TestSetOwnedPartitions(t *testing.T) {
	SetOwnedPartitions("T", "g", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(ownedPartitions.WithLabelValues("T", "g")))
}
