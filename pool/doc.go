// Package pool
// Author: momentics <momentics@gmail.com>
//
// NUMA-aware buffer and object pooling for fiberrt. Backs fiber stack
// allocation (BytePool) and fiber-object reuse across reset (ObjectPool),
// so the hot spawn/reset path does not hit the allocator or the NUMA-local
// page fault it would otherwise take on first touch.
// See bytepool.go, numapool.go, objpool.go for implementation details.
package pool
