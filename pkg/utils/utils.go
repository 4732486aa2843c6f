package utils

import (
	"encoding/binary"
	"fmt"
)

// Uint64ToBytes encodes value big-endian, so byte order matches numeric order.
func Uint64ToBytes(value uint64) []byte {
	bytes := make([]byte, 8)
	binary.BigEndian.PutUint64(bytes, value)
	return bytes
}

// BytesToUint64 is the inverse of Uint64ToBytes; input must be 8 bytes.
func BytesToUint64(bytes []byte) (uint64, error) {
	if len(bytes) != 8 {
		return 0, fmt.Errorf("byte array must be 8 bytes long")
	}
	return binary.BigEndian.Uint64(bytes), nil
}

// Int64ToSortableBytes mã hoá int64 sao cho thứ tự byte trùng với thứ tự số,
// kể cả số âm (lật bit dấu).
func Int64ToSortableBytes(value int64) []byte {
	return Uint64ToBytes(uint64(value) ^ (1 << 63))
}

func SortableBytesToInt64(bytes []byte) (int64, error) {
	u, err := BytesToUint64(bytes)
	if err != nil {
		return 0, err
	}
	return int64(u ^ (1 << 63)), nil
}
