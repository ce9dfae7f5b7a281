// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Pooling contracts for the runtime's one allocation-heavy hot path:
// fiber stack buffers and recycled fiber objects.

package api

// BytePool supplies reusable []byte buffers. Fiber spawn draws its stack
// buffer here; release returns the buffer once the fiber is done.
type BytePool interface {
	// Acquire returns a slice of at least n bytes.
	Acquire(n int) []byte

	// Release returns a buffer to the pool.
	Release(buf []byte)
}

// ObjectPool recycles transiently allocated objects, such as terminated
// fibers awaiting reuse through reset.
type ObjectPool[T any] interface {
	// Get returns an available instance from the pool.
	Get() T

	// Put returns an instance for reuse.
	Put(obj T)
}
