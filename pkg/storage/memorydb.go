package storage

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
)

type MemoryDB struct {
	db map[string][]byte
	sync.RWMutex
}

func NewMemoryDb() *MemoryDB {
	return &MemoryDB{
		db: make(map[string][]byte),
	}
}

func (kv *MemoryDB) Get(key []byte) ([]byte, error) {
	kv.RLock()
	defer kv.RUnlock()
	if v, ok := kv.db[string(key)]; ok {
		return bytes.Clone(v), nil
	}
	return nil, fmt.Errorf("[MemKV] %w: %s", ErrNotFound, hex.EncodeToString(key))
}

func (kv *MemoryDB) Put(key, value []byte) error {
	kv.Lock()
	defer kv.Unlock()
	kv.db[string(key)] = bytes.Clone(value)
	return nil
}

func (kv *MemoryDB) Has(key []byte) bool {
	kv.RLock()
	defer kv.RUnlock()
	_, ok := kv.db[string(key)]
	return ok
}

func (kv *MemoryDB) Delete(key []byte) error {
	kv.Lock()
	defer kv.Unlock()
	if _, ok := kv.db[string(key)]; !ok {
		return fmt.Errorf("[MemKV] %w: %s", ErrNotFound, hex.EncodeToString(key))
	}
	delete(kv.db, string(key))
	return nil
}

func (kv *MemoryDB) BatchPut(kvs [][2][]byte) error {
	kv.Lock()
	defer kv.Unlock()
	for i := range kvs {
		kv.db[string(kvs[i][0])] = bytes.Clone(kvs[i][1])
	}
	return nil
}

// Iterate lấy danh sách key đã sắp xếp rồi gọi fn ngoài khoá,
// nên fn có thể ghi lại vào chính kho này.
func (kv *MemoryDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	kv.RLock()
	keys := make([]string, 0, len(kv.db))
	for key := range kv.db {
		if bytes.HasPrefix([]byte(key), prefix) {
			keys = append(keys, key)
		}
	}
	values := make(map[string][]byte, len(keys))
	for _, key := range keys {
		values[key] = kv.db[key]
	}
	kv.RUnlock()

	sort.Strings(keys)
	for _, key := range keys {
		if err := fn([]byte(key), values[key]); err != nil {
			return err
		}
	}
	return nil
}

func (kv *MemoryDB) Clear() error {
	kv.Lock()
	defer kv.Unlock()
	kv.db = make(map[string][]byte)
	return nil
}

func (kv *MemoryDB) Close() error {
	return nil
}

func (kv *MemoryDB) Size() int {
	kv.RLock()
	defer kv.RUnlock()
	return len(kv.db)
}
