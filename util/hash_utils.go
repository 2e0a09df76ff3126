package util

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
)

// HashCode hashes an arbitrary key, used to stripe physical page numbers
// across flash channels.
func HashCode(key []byte) uint64 {
	h := xxhash.New64()
	h.Write(key)
	return h.Sum64()
}

// Uint64Bytes renders v as its big-endian byte representation, the form
// HashCode expects for integer keys (ppn, m_vpn, ...).
func Uint64Bytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
