// Package bufpool implements the fixed-size buffer pool (spec §4.1):
// a sync.Pool of reclaimed byte arrays used for serialization and
// send framing. The pool has no upper bound on the arrays it retains,
// and the runtime may discard idle arrays at garbage collection.
// Acquire never blocks; under exhaustion it allocates a fresh array. Grounded on the sync.Pool size-class buffers in
// src/buffer.go and go-server/pkg/websocket/message_pool.go, collapsed
// to the single fixed chunk size spec §3 describes for a pooled
// buffer.
package bufpool

import (
	"sync"

	"github.com/adred-codev/remotecore/internal/coremetrics"
)

// Buffer is a checked-out byte region with a writable slice view.
// Double-returning a Buffer to its pool is a program error (same
// discipline as any sync.Pool-backed object).
type Buffer struct {
	arr  []byte
	pool *Pool
}

// Bytes returns the full backing array, capacity ChunkSize.
func (b *Buffer) Bytes() []byte { return b.arr }

// Pool is a thread-safe pool of fixed-capacity byte arrays.
type Pool struct {
	chunkSize int
	sp        sync.Pool
	metrics   *coremetrics.Registry
}

// New creates a buffer pool whose arrays have capacity chunkSize
// (nominally 64 KiB per spec §6's bufferPoolChunkSize default).
func New(chunkSize int, metrics *coremetrics.Registry) *Pool {
	if chunkSize <= 0 {
		chunkSize = 65536
	}
	p := &Pool{chunkSize: chunkSize, metrics: metrics}
	p.sp.New = func() any {
		if p.metrics != nil {
			p.metrics.BufferExhausted.Inc()
		}
		return make([]byte, p.chunkSize)
	}
	return p
}

// ChunkSize returns the fixed capacity of arrays handed out by this pool.
func (p *Pool) ChunkSize() int { return p.chunkSize }

// Acquire checks out a buffer. It never blocks: under exhaustion the
// underlying sync.Pool's New allocates a fresh array.
func (p *Pool) Acquire() *Buffer {
	if p.metrics != nil {
		p.metrics.BufferAcquires.Inc()
	}
	arr := p.sp.Get().([]byte)
	return &Buffer{arr: arr, pool: p}
}

// Release returns a buffer to the pool for reuse. The caller must not
// use buf after calling Release, and must not call Release twice on
// the same Buffer.
func (p *Pool) Release(buf *Buffer) {
	if buf == nil || buf.pool == nil {
		return
	}
	owner := buf.pool
	buf.pool = nil
	owner.sp.Put(buf.arr[:cap(buf.arr)])
}

// Scoped acquires a buffer, runs fn with it, and releases it on every
// exit path including a panic in fn — the "scoped buffer acquisition"
// construct called for in spec §9 to guarantee return-on-every-exit.
func (p *Pool) Scoped(fn func(buf *Buffer)) {
	buf := p.Acquire()
	defer p.Release(buf)
	fn(buf)
}
