package qtask

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clu-ai/qtask/internal/qerrors"
)

func TestNewRejectsInvalidOptions(t *testing.T) {
	_, err := New(Options{RedisHost: "localhost", TotalPartitions: 0})
	assert.Error(t, err)

	_, err = New(Options{RedisHost: "", TotalPartitions: 4})
	assert.Error(t, err)
}

func TestNewDefaultsFleetToSingleInstance(t *testing.T) {
	q, err := New(Options{RedisHost: "localhost", TotalPartitions: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, q.opts.Fleet.InstanceCount)
}

func TestPartitionForAvailableBeforeConnect(t *testing.T) {
	q, err := New(Options{RedisHost: "localhost", TotalPartitions: 4})
	require.NoError(t, err)
	idx := q.PartitionFor("abc")
	assert.Equal(t, 2, idx) // 96354 mod 4 = 2, spec.md S1
}

func TestRegisterPublishStopFailBeforeConnect(t *testing.T) {
	q, err := New(Options{RedisHost: "localhost", TotalPartitions: 4})
	require.NoError(t, err)

	ctx := context.Background()

	_, err = q.Register(ctx, RegisterOptions{
		BaseTopic: "T",
		Group:     "g",
		Handler:   func(ctx context.Context, id string, fields []HandlerFields) error { return nil },
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, qerrors.NotConnected))

	_, err = q.Publish(ctx, "T", nil, "hello", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, qerrors.NotConnected))

	err = q.Stop(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, qerrors.NotConnected))
}
