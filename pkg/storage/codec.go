package storage

import (
	"encoding/binary"
	"fmt"
)

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("corrupt uint64 value: %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func encodeFlag(ok bool) []byte {
	if ok {
		return []byte{1}
	}
	return []byte{0}
}

func decodeFlag(b []byte) bool { return len(b) == 1 && b[0] == 1 }
