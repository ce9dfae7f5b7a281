// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import (
	"sync"

	"github.com/momentics/fiberrt/api"
)

// ObjectPool is a generic object pool. It mirrors api.ObjectPool so
// callers inside the module can depend on either.
type ObjectPool[T any] interface {
	Get() T
	Put(T)
}

// SyncPool wraps sync.Pool for generic usage. The scheduler keeps one
// over terminated fibers so a callable task can reuse a fiber and its
// stack instead of allocating fresh ones.
type SyncPool[T any] struct {
	pool *sync.Pool
}

var _ api.ObjectPool[int] = (*SyncPool[int])(nil)

// NewSyncPool creates a new SyncPool with a creator function.
func NewSyncPool[T any](creator func() T) *SyncPool[T] {
	return &SyncPool[T]{
		pool: &sync.Pool{New: func() any { return creator() }},
	}
}

func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	sp.pool.Put(obj)
}
