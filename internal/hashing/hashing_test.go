package hashing

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJumpRange(t *testing.T) {
	assert.Equal(t, 0, Jump(12345, 0))
	assert.Equal(t, 0, Jump(12345, 1))

	for key := uint64(0); key < 1000; key++ {
		b := Jump(key, 257)
		require.GreaterOrEqual(t, b, 0)
		require.Less(t, b, 257)
	}
}

func TestJumpStableOnGrowth(t *testing.T) {
	const keys = 10000
	moved := 0
	for k := 0; k < keys; k++ {
		key := strconv.Itoa(k)
		before := String(key, 10)
		after := String(key, 11)
		if before != after {
			require.Equal(t, 10, after, "a key may only move to the new bucket")
			moved++
		}
	}
	// about 1/11 of the keys move
	assert.InDelta(t, keys/11, moved, keys/50)
}

func TestBytesMatchesString(t *testing.T) {
	for _, key := range []string{"", "a", "some-key", "☃"} {
		assert.Equal(t, String(key, 31), Bytes([]byte(key), 31))
	}
}

func TestDistribution(t *testing.T) {
	counts := make([]int, 8)
	for k := 0; k < 8000; k++ {
		counts[String("key-"+strconv.Itoa(k), 8)]++
	}
	for b, n := range counts {
		assert.InDelta(t, 1000, n, 200, "bucket %d", b)
	}
}
