package partition

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashKeyReferenceVectors(t *testing.T) {
	cases := map[string]int32{
		"":      0,
		"a":     97,
		"abc":   96354,
		"hello": 99162322,
	}
	for key, want := range cases {
		assert.Equal(t, want, HashKey(key), "hash(%q)", key)
	}
}

func TestPartitionForInRange(t *testing.T) {
	p, err := New("T", 4)
	require.NoError(t, err)

	for _, key := range []string{"", "a", "abc", "hello", "xyz123"} {
		idx := p.PartitionFor(key)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 4)
	}

	assert.Equal(t, 0, p.PartitionFor(""))
	assert.Equal(t, 96354%4, p.PartitionFor("abc"))
}

func TestPartitionDeterminism(t *testing.T) {
	p1, err := New("T", 8)
	require.NoError(t, err)
	p2, err := New("T", 8)
	require.NoError(t, err)

	keys := []string{"abc", "AAPL", "order-123", ""}
	for _, k := range keys {
		assert.Equal(t, p1.PartitionFor(k), p2.PartitionFor(k))
	}
}

func TestAssignmentCover(t *testing.T) {
	totalPartitions := 7
	for instanceCount := 1; instanceCount <= 5; instanceCount++ {
		var all []int
		for instanceID := 0; instanceID < instanceCount; instanceID++ {
			var owned []int
			for i := 0; i < totalPartitions; i++ {
				if i%instanceCount == instanceID {
					owned = append(owned, i)
				}
			}
			for _, idx := range owned {
				assert.False(t, lo.Contains(all, idx), "partition %d double-owned", idx)
			}
			all = append(all, owned...)
		}
		assert.ElementsMatch(t, lo.Range(totalPartitions), lo.Uniq(all))
	}
}

func TestConstructionRejectsNonPositivePartitions(t *testing.T) {
	_, err := New("T", 0)
	assert.Error(t, err)

	_, err = New("T", -1)
	assert.Error(t, err)
}

func TestStreamName(t *testing.T) {
	p, err := New("orders", 4)
	require.NoError(t, err)

	name, err := p.StreamName(2)
	require.NoError(t, err)
	assert.Equal(t, "orders:2", name)

	_, err = p.StreamName(4)
	assert.Error(t, err)
	_, err = p.StreamName(-1)
	assert.Error(t, err)
}

func TestPartitionForKeyNullSpread(t *testing.T) {
	p, err := New("T", 4)
	require.NoError(t, err)

	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		idx := p.PartitionForKey("", false)
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, 4)
		seen[idx] = true
	}
	// With 200 draws across 4 partitions we expect to observe more than one.
	assert.Greater(t, len(seen), 1)
}
