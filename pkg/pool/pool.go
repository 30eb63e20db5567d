// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

// Package pool provides reusable relay buffers.
//
// Every live session runs two relay loops, each of which needs a scratch
// buffer for the duration of a read. Pooling them keeps allocation constant
// as the number of concurrent sessions grows.
package pool

import (
	"sync"
)

// DefaultBufferSize is used when no size is configured.
const DefaultBufferSize = 32 * 1024

// BufferPool hands out fixed-size byte slices backed by a sync.Pool.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool creates a pool of buffers of the given size.
// A non-positive size falls back to DefaultBufferSize.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	p := &BufferPool{size: size}
	p.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// Size returns the length of buffers managed by this pool.
func (p *BufferPool) Size() int {
	return p.size
}

// Get retrieves a buffer from the pool.
func (p *BufferPool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool. Buffers of the wrong size (e.g. a
// caller-resized slice) are dropped rather than recycled.
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}
