package metadata

import (
	"encoding/binary"
	"hash/fnv"
	"math"
)

/** @brief Hash of the semantic content of a description. Used as cache key. */
type StructuralHash uint64

/**
 * @brief Implemented by every description that can key a resource cache.
 * HashInto must write a canonical encoding: two descriptions compare equal iff
 * they produce identical bytes.
 */
type Hashable interface {
	HashInto(h *Hasher)
}

/**
 * @brief Builds the canonical little-endian byte encoding of a description.
 */
type Hasher struct {
	buf []byte
}

func NewHasher() *Hasher {
	return &Hasher{buf: make([]byte, 0, 256)}
}

func (h *Hasher) Uint8(v uint8) *Hasher {
	h.buf = append(h.buf, v)
	return h
}

func (h *Hasher) Uint16(v uint16) *Hasher {
	h.buf = binary.LittleEndian.AppendUint16(h.buf, v)
	return h
}

func (h *Hasher) Uint32(v uint32) *Hasher {
	h.buf = binary.LittleEndian.AppendUint32(h.buf, v)
	return h
}

func (h *Hasher) Uint64(v uint64) *Hasher {
	h.buf = binary.LittleEndian.AppendUint64(h.buf, v)
	return h
}

func (h *Hasher) Int32(v int32) *Hasher {
	return h.Uint32(uint32(v))
}

func (h *Hasher) Float32(v float32) *Hasher {
	return h.Uint32(math.Float32bits(v))
}

func (h *Hasher) Bool(v bool) *Hasher {
	if v {
		return h.Uint8(1)
	}
	return h.Uint8(0)
}

// Bytes writes a length prefix so adjacent variable sized fields can't alias.
func (h *Hasher) Bytes(b []byte) *Hasher {
	h.Uint64(uint64(len(b)))
	h.buf = append(h.buf, b...)
	return h
}

func (h *Hasher) Text(s string) *Hasher {
	h.Uint64(uint64(len(s)))
	h.buf = append(h.buf, s...)
	return h
}

// Len writes a slice length ahead of its elements.
func (h *Hasher) Len(n int) *Hasher {
	return h.Uint64(uint64(n))
}

func (h *Hasher) Write(d Hashable) *Hasher {
	d.HashInto(h)
	return h
}

// Encoding returns the canonical bytes written so far.
func (h *Hasher) Encoding() []byte {
	return h.buf
}

func (h *Hasher) Sum() StructuralHash {
	f := fnv.New64a()
	f.Write(h.buf)
	return StructuralHash(f.Sum64())
}

func hashSlice[T Hashable](h *Hasher, items []T) {
	h.Len(len(items))
	for _, item := range items {
		item.HashInto(h)
	}
}

/**
 * @brief Returns the structural hash of d together with its canonical encoding.
 */
func HashOf(d Hashable) (StructuralHash, []byte) {
	h := NewHasher()
	d.HashInto(h)
	return h.Sum(), h.Encoding()
}
