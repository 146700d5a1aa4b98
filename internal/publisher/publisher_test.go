package publisher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clu-ai/qtask/internal/streamclient"
)

func strPtr(s string) *string { return &s }

func TestPublishStringPayload(t *testing.T) {
	mock := streamclient.NewMock()
	pub, err := New(mock, 4)
	require.NoError(t, err)

	ctx := context.Background()
	id, err := pub.Publish(ctx, "T", strPtr("abc"), "hello", nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entries, err := mock.XReadGroup(ctx, "T:2", "g", "c1", 0)
	require.True(t, streamclient.IsNoGroup(err))
	require.Empty(t, entries) // no group created yet

	require.NoError(t, mock.XGroupCreateMkStream(ctx, "T:2", "g"))
	entries, err = mock.XReadGroup(ctx, "T:2", "g", "c1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"message", "hello"}, entries[0].Fields)
}

func TestPublishOrderedMapPayload(t *testing.T) {
	mock := streamclient.NewMock()
	pub, err := New(mock, 4)
	require.NoError(t, err)

	ctx := context.Background()
	payload := OrderedFields{{Key: "a", Value: 1}, {Key: "b", Value: 2}}
	_, err = pub.Publish(ctx, "T", strPtr("abc"), payload, nil)
	require.NoError(t, err)

	require.NoError(t, mock.XGroupCreateMkStream(ctx, "T:2", "g"))
	entries, err := mock.XReadGroup(ctx, "T:2", "g", "c1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"a", "1", "b", "2"}, entries[0].Fields)
}

func TestPublishEmptyObjectSentinel(t *testing.T) {
	mock := streamclient.NewMock()
	pub, err := New(mock, 4)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = pub.Publish(ctx, "T", strPtr("abc"), OrderedFields{}, nil)
	require.NoError(t, err)

	require.NoError(t, mock.XGroupCreateMkStream(ctx, "T:2", "g"))
	entries, err := mock.XReadGroup(ctx, "T:2", "g", "c1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"_placeholder", "empty_object"}, entries[0].Fields)
}

func TestPublishNullValueFallsBackToJSON(t *testing.T) {
	mock := streamclient.NewMock()
	pub, err := New(mock, 4)
	require.NoError(t, err)

	ctx := context.Background()
	payload := OrderedFields{{Key: "a", Value: 1}, {Key: "b", Value: nil}}
	_, err = pub.Publish(ctx, "T", strPtr("abc"), payload, nil)
	require.NoError(t, err)

	require.NoError(t, mock.XGroupCreateMkStream(ctx, "T:2", "g"))
	entries, err := mock.XReadGroup(ctx, "T:2", "g", "c1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Fields, 2)
	assert.Equal(t, "message", entries[0].Fields[0])
	assert.Contains(t, entries[0].Fields[1], `"a":1`)
}

func TestPublishOtherTypeMarshalsJSON(t *testing.T) {
	mock := streamclient.NewMock()
	pub, err := New(mock, 4)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = pub.Publish(ctx, "T", strPtr("abc"), []int{1, 2, 3}, nil)
	require.NoError(t, err)

	require.NoError(t, mock.XGroupCreateMkStream(ctx, "T:2", "g"))
	entries, err := mock.XReadGroup(ctx, "T:2", "g", "c1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "message", entries[0].Fields[0])
	assert.Equal(t, "[1,2,3]", entries[0].Fields[1])
}

func TestPublishMissingArgumentsFail(t *testing.T) {
	mock := streamclient.NewMock()
	pub, err := New(mock, 4)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = pub.Publish(ctx, "", strPtr("k"), "v", nil)
	assert.Error(t, err)

	_, err = pub.Publish(ctx, "T", strPtr("k"), nil, nil)
	assert.Error(t, err)

	_, err = pub.Publish(ctx, "T", nil, "v", nil)
	assert.Error(t, err) // nil partitionKey is a missing argument, not load spreading
}

func TestPublishExplicitEntryID(t *testing.T) {
	mock := streamclient.NewMock()
	pub, err := New(mock, 4)
	require.NoError(t, err)

	ctx := context.Background()
	id, err := pub.Publish(ctx, "T", strPtr("abc"), "hi", &Options{ID: "5-0"})
	require.NoError(t, err)
	assert.Equal(t, "5-0", id)
}

// S1 from spec.md §8: "abc"'s hash is 96354 mod 4 = 2 -> stream "T:2".
func TestScenarioS1StreamSelection(t *testing.T) {
	mock := streamclient.NewMock()
	pub, err := New(mock, 4)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = pub.Publish(ctx, "T", strPtr("abc"), OrderedFields{{Key: "to", Value: "x"}}, nil)
	require.NoError(t, err)

	require.NoError(t, mock.XGroupCreateMkStream(ctx, "T:2", "g"))
	entries, err := mock.XReadGroup(ctx, "T:2", "g", "c1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"to", "x"}, entries[0].Fields)
}
