package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAll(t *testing.T) map[string]Storage {
	t.Helper()
	dbs := map[string]Storage{}
	for _, kind := range Backends() {
		db, err := Open(kind)
		require.NoError(t, err, kind)
		t.Cleanup(func() { db.Close() })
		dbs[kind] = db
	}
	return dbs
}

func TestPutGet(t *testing.T) {
	for kind, db := range openAll(t) {
		require.NoError(t, db.Put([]byte{0xf1}, []byte{1, 2, 3}), kind)

		val, err := db.Get([]byte{0xf1})
		require.NoError(t, err, kind)
		assert.Equal(t, []byte{1, 2, 3}, val, kind)

		_, err = db.Get([]byte{0xf2})
		assert.ErrorIs(t, err, ErrNotFound, kind)

		assert.True(t, db.Has([]byte{0xf1}), kind)
		assert.False(t, db.Has([]byte{0xf2}), kind)
	}
}

func TestDelete(t *testing.T) {
	for kind, db := range openAll(t) {
		require.NoError(t, db.Put([]byte("a"), []byte("1")), kind)
		require.NoError(t, db.Delete([]byte("a")), kind)
		assert.False(t, db.Has([]byte("a")), kind)
	}
}

func TestIteratePrefixInOrder(t *testing.T) {
	for kind, db := range openAll(t) {
		require.NoError(t, db.BatchPut([][2][]byte{
			{[]byte("p/3"), []byte("c")},
			{[]byte("p/1"), []byte("a")},
			{[]byte("q/1"), []byte("x")},
			{[]byte("p/2"), []byte("b")},
		}), kind)

		var keys, values []string
		err := db.Iterate([]byte("p/"), func(k, v []byte) error {
			keys = append(keys, string(k))
			values = append(values, string(v))
			return nil
		})
		require.NoError(t, err, kind)
		assert.Equal(t, []string{"p/1", "p/2", "p/3"}, keys, kind)
		assert.Equal(t, []string{"a", "b", "c"}, values, kind)
	}
}

func TestClear(t *testing.T) {
	for kind, db := range openAll(t) {
		require.NoError(t, db.Put([]byte("k1"), []byte("v")), kind)
		require.NoError(t, db.Put([]byte("k2"), []byte("v")), kind)
		require.NoError(t, db.Clear(), kind)

		n := 0
		require.NoError(t, db.Iterate(nil, func(_, _ []byte) error { n++; return nil }), kind)
		assert.Zero(t, n, kind)
	}
}

func TestMemoryDBCopiesValues(t *testing.T) {
	db := NewMemoryDb()
	v := []byte{1}
	require.NoError(t, db.Put([]byte("k"), v))
	v[0] = 9

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, got)
	assert.Equal(t, 1, db.Size())
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open("rocks")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
