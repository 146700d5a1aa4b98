package manager

import (
	"context"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clu-ai/qtask/internal/consumer"
	"github.com/clu-ai/qtask/internal/streamclient"
)

func TestOwnedPartitionsNoOverlapAndFullCover(t *testing.T) {
	const totalPartitions = 7
	for instanceCount := 1; instanceCount <= 5; instanceCount++ {
		var all []int
		for id := 0; id < instanceCount; id++ {
			owned := ownedPartitions(totalPartitions, Fleet{InstanceID: id, InstanceCount: instanceCount})
			for _, o := range owned {
				assert.False(t, lo.Contains(all, o), "partition %d owned by more than one instance", o)
			}
			all = append(all, owned...)
		}
		assert.ElementsMatch(t, lo.Range(totalPartitions), lo.Uniq(all))
	}
}

func TestNewRejectsInvalidFleet(t *testing.T) {
	mock := streamclient.NewMock()
	_, err := New(mock, 4, Fleet{InstanceID: 4, InstanceCount: 4})
	assert.Error(t, err)

	_, err = New(mock, 4, Fleet{InstanceID: 0, InstanceCount: 0})
	assert.Error(t, err)
}

func TestRegisterEmptyAssignmentIsNotAnError(t *testing.T) {
	mock := streamclient.NewMock()
	// instanceCount larger than totalPartitions: instance 2 (the third) owns nothing.
	m, err := New(mock, 2, Fleet{InstanceID: 2, InstanceCount: 3})
	require.NoError(t, err)

	keys, err := m.Register(context.Background(), RegisterOptions{
		BaseTopic: "T",
		Group:     "g",
		Handler:   func(ctx context.Context, id string, fields []consumer.Field) error { return nil },
	})
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRegisterCreatesOneConsumerPerOwnedPartition(t *testing.T) {
	mock := streamclient.NewMock()
	m, err := New(mock, 4, Fleet{InstanceID: 0, InstanceCount: 2})
	require.NoError(t, err)

	keys, err := m.Register(context.Background(), RegisterOptions{
		BaseTopic: "T",
		Group:     "g",
		Handler:   func(ctx context.Context, id string, fields []consumer.Field) error { return nil },
	})
	require.NoError(t, err)
	assert.Len(t, keys, 2) // instance 0 of 2 owns partitions 0 and 2

	m.StopAll()
}

func TestRegisterDuplicateIsNoOp(t *testing.T) {
	mock := streamclient.NewMock()
	m, err := New(mock, 2, Fleet{InstanceID: 0, InstanceCount: 1})
	require.NoError(t, err)

	opts := RegisterOptions{
		BaseTopic:      "T",
		Group:          "g",
		ConsumerIDBase: "fixed-base",
		Handler:        func(ctx context.Context, id string, fields []consumer.Field) error { return nil },
	}
	first, err := m.Register(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.ElementsMatch(t, []string{
		"T:0:g:fixed-base-" + m.processIdentity + "-0",
		"T:1:g:fixed-base-" + m.processIdentity + "-1",
	}, first) // consumerId = consumerIdBase + "-" + processIdentity + "-" + i, always, per spec.md:111

	second, err := m.Register(context.Background(), opts)
	require.NoError(t, err)
	assert.Empty(t, second) // same keys already registered

	m.StopAll()
}

func TestRegisterRequiresBaseTopicAndGroup(t *testing.T) {
	mock := streamclient.NewMock()
	m, err := New(mock, 2, Fleet{InstanceID: 0, InstanceCount: 1})
	require.NoError(t, err)

	_, err = m.Register(context.Background(), RegisterOptions{Group: "g"})
	assert.Error(t, err)
}

func TestRegisterSkipsPartitionOnProtocolErrorButContinues(t *testing.T) {
	mock := streamclient.NewMock()
	m, err := New(mock, 2, Fleet{InstanceID: 0, InstanceCount: 1})
	require.NoError(t, err)

	calls := 0
	origErr := mock.XGroupCreateMkStreamErr
	_ = origErr
	mock.XGroupCreateMkStreamErr = assertableErr{}

	keys, err := m.Register(context.Background(), RegisterOptions{
		BaseTopic: "T",
		Group:     "g",
		Handler:   func(ctx context.Context, id string, fields []consumer.Field) error { calls++; return nil },
	})
	require.NoError(t, err) // non-connectivity errors don't abort registration
	assert.Empty(t, keys)
}

type assertableErr struct{}

func (assertableErr) Error() string { return "some non-connectivity failure" }
