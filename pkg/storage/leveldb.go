package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	lvstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB là goleveldb trên MemStorage, không ghi ra đĩa.
type LevelDB struct {
	db     *leveldb.DB
	closed bool
	mu     sync.Mutex
}

func NewLevelDB() (*LevelDB, error) {
	options := &opt.Options{
		BlockCacheCapacity: 8 * opt.MiB,
	}
	db, err := leveldb.Open(lvstorage.NewMemStorage(), options)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LevelDB: %w", err)
	}
	return &LevelDB{db: db}, nil
}

func (lvDb *LevelDB) Get(key []byte) ([]byte, error) {
	v, err := lvDb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("[LevelDB] %w", ErrNotFound)
	}
	return v, err
}

func (lvDb *LevelDB) Put(key, value []byte) error {
	return lvDb.db.Put(key, value, nil)
}

func (lvDb *LevelDB) Has(key []byte) bool {
	ok, err := lvDb.db.Has(key, nil)
	return err == nil && ok
}

func (lvDb *LevelDB) Delete(key []byte) error {
	return lvDb.db.Delete(key, nil)
}

func (lvDb *LevelDB) BatchPut(kvs [][2][]byte) error {
	batch := new(leveldb.Batch)
	for _, kv := range kvs {
		batch.Put(kv[0], kv[1])
	}
	return lvDb.db.Write(batch, nil)
}

func (lvDb *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter := lvDb.db.NewIterator(util.BytesPrefix(prefix), nil)
	type pair struct{ k, v []byte }
	var pairs []pair
	for iter.Next() {
		// iterator tái sử dụng buffer nên phải copy
		k := append([]byte(nil), iter.Key()...)
		v := append([]byte(nil), iter.Value()...)
		pairs = append(pairs, pair{k: k, v: v})
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := fn(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

func (lvDb *LevelDB) Clear() error {
	iter := lvDb.db.NewIterator(nil, nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	return lvDb.db.Write(batch, nil)
}

func (lvDb *LevelDB) Close() error {
	lvDb.mu.Lock()
	defer lvDb.mu.Unlock()
	if lvDb.closed {
		return nil
	}
	lvDb.closed = true
	return lvDb.db.Close()
}
