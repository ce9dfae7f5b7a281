// File: pool/numapool.go
// Author: momentics <momentics@gmail.com>
//
// NUMA-aware pool for fixed-size buffers. Fiber stacks come from here
// when NUMA placement is enabled, so a worker pinned to a node faults
// its stacks into node-local memory. Concrete allocators are selected by
// the platform-specific factories in separate files.

package pool

import (
	"sync"
)

// NUMAAllocator defines interface for NUMA-aware memory allocators.
type NUMAAllocator interface {
	Alloc(size int, node int) ([]byte, error)
	Free([]byte)
	Nodes() (int, error)
}

// NUMAPool recycles same-size buffers allocated on one NUMA node.
type NUMAPool struct {
	alloc  NUMAAllocator
	size   int
	pool   sync.Pool
	node   int
	enable bool
}

// NewNUMAPool creates a pool of size-byte buffers on the target node.
// Without platform NUMA support the pool falls back to plain slices.
func NewNUMAPool(node int, size int, enable bool) *NUMAPool {
	na := createNUMAAllocator()
	return &NUMAPool{
		alloc:  na,
		size:   size,
		node:   node,
		enable: enable && na != nil,
		pool: sync.Pool{
			New: func() interface{} {
				if na == nil || !enable {
					return make([]byte, size)
				}
				b, err := na.Alloc(size, node)
				if err != nil {
					return make([]byte, size)
				}
				return b
			},
		},
	}
}

// Enabled reports whether buffers really come from NUMA-local memory.
func (p *NUMAPool) Enabled() bool { return p.enable }

// Get returns a buffer from the pool.
func (p *NUMAPool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns a buffer to the pool for reuse. NUMA-backed blocks are kept
// alive for the process lifetime: stacks cycle through the pool at high
// rate and re-faulting node-local pages on every spawn would defeat the
// point of placing them.
func (p *NUMAPool) Put(buf []byte) {
	if len(buf) < p.size {
		return
	}
	p.pool.Put(buf[:p.size])
}
