// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
//
// BytePool is the allocator fiber.Spawn draws its stack buffers from.

package pool

import "github.com/momentics/fiberrt/api"

var _ api.BytePool = (*BytePool)(nil)

// BytePool is compatible with NUMA-pool if enabled.
type BytePool struct {
	npool *NUMAPool // If set, use NUMA-aware pool, fallback to plain make.
	size  int
}

func NewBytePool(size int, node int, useNUMA bool) *BytePool {
	return &BytePool{
		npool: NewNUMAPool(node, size, useNUMA),
		size:  size,
	}
}

// GetBuffer returns a buffer from the pool. The backing NUMAPool falls
// back to plain slices when node-local allocation is unavailable, so
// stacks are recycled either way.
func (b *BytePool) GetBuffer() []byte {
	if b.npool != nil {
		return b.npool.Get()
	}
	return make([]byte, b.size)
}

// PutBuffer returns a buffer to the pool.
func (b *BytePool) PutBuffer(buf []byte) {
	if b.npool != nil {
		b.npool.Put(buf)
	}
}

// Acquire implements api.BytePool. n is advisory: stack buffers are fixed
// size for a fiber's lifetime, so a pool sized for n==size is reused
// verbatim; any other n falls back to a fresh allocation.
func (b *BytePool) Acquire(n int) []byte {
	if n == b.size {
		return b.GetBuffer()
	}
	return make([]byte, n)
}

// Release implements api.BytePool.
func (b *BytePool) Release(buf []byte) {
	if len(buf) == b.size {
		b.PutBuffer(buf)
	}
}
