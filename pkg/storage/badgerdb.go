package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BadgerV4DB chạy badger ở chế độ in-memory.
type BadgerV4DB struct {
	db     *badger.DB
	closed bool
	mu     sync.Mutex
}

func NewBadgerV4DB() (*BadgerV4DB, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerV4DB: %w", err)
	}
	return &BadgerV4DB{db: db}, nil
}

func (db *BadgerV4DB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("[BadgerV4DB] %w", ErrNotFound)
	}
	return value, err
}

func (db *BadgerV4DB) Put(key, value []byte) error {
	return db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (db *BadgerV4DB) Delete(key []byte) error {
	return db.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (db *BadgerV4DB) BatchPut(kvs [][2][]byte) error {
	// Sử dụng WriteBatch để tối ưu ghi hàng loạt
	wb := db.db.NewWriteBatch()
	defer wb.Cancel()
	for _, kv := range kvs {
		if err := wb.Set(kv[0], kv[1]); err != nil {
			return fmt.Errorf("failed to set key %x: %w", kv[0], err)
		}
	}
	return wb.Flush()
}

func (db *BadgerV4DB) Has(key []byte) bool {
	err := db.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	return err == nil
}

func (db *BadgerV4DB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	type pair struct{ k, v []byte }
	var pairs []pair
	err := db.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			pairs = append(pairs, pair{k: item.KeyCopy(nil), v: v})
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if err := fn(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

func (db *BadgerV4DB) Clear() error {
	return db.db.DropAll()
}

func (db *BadgerV4DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	return db.db.Close()
}
