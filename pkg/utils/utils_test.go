package utils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint64Bytes(t *testing.T) {
	b := Uint64ToBytes(258)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 1, 2}, b)

	v, err := BytesToUint64(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(258), v)

	_, err = BytesToUint64([]byte{1})
	assert.Error(t, err)
}

func TestSortableInt64(t *testing.T) {
	values := []int64{-5, -1, 0, 1, 14, 1 << 40}
	for i := 1; i < len(values); i++ {
		a, b := Int64ToSortableBytes(values[i-1]), Int64ToSortableBytes(values[i])
		assert.Equal(t, -1, bytes.Compare(a, b), "%d < %d", values[i-1], values[i])
	}
	for _, v := range values {
		got, err := SortableBytesToInt64(Int64ToSortableBytes(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}
