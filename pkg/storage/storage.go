package storage

import (
	"errors"
	"fmt"
)

const (
	STORAGE_TYPE_LEVEL_DB  = "level"
	STORAGE_TYPE_BADGER_DB = "badger"
	STORAGE_TYPE_MEMORY_DB = "memory"
)

var (
	ErrNotFound       = errors.New("key not found")
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// Storage là kho key/value dùng làm nền cho vote log.
// Iterate duyệt các key có tiền tố prefix theo thứ tự byte tăng dần.
type Storage interface {
	Get([]byte) ([]byte, error)
	Put([]byte, []byte) error
	Has([]byte) bool
	Delete([]byte) error
	BatchPut([][2][]byte) error
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	Clear() error
	Close() error
}

// Open tạo một kho trong bộ nhớ theo loại backend. No backend writes to disk.
func Open(kind string) (Storage, error) {
	switch kind {
	case "", STORAGE_TYPE_MEMORY_DB:
		return NewMemoryDb(), nil
	case STORAGE_TYPE_BADGER_DB:
		return NewBadgerV4DB()
	case STORAGE_TYPE_LEVEL_DB:
		return NewLevelDB()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
	}
}

// Backends lists every backend name Open accepts.
func Backends() []string {
	return []string{STORAGE_TYPE_MEMORY_DB, STORAGE_TYPE_BADGER_DB, STORAGE_TYPE_LEVEL_DB}
}
