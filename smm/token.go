// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smm

import (
	"sync"
	"sync/atomic"

	"github.com/usbarmory/tamago-smm/internal/reg"
)

// Token is a completion token: a spin-lock held while running is nonzero,
// paired with an atomic reference count. A dispatched procedure's completion
// decrements running; the last decrement releases lock.
type Token struct {
	lock    reg.SpinLock
	running uint32
}

// Ready reports whether every CPU holding this token has completed, without
// blocking. It implements the token probe (is_ap_ready).
func (t *Token) Ready() bool {
	if t.lock.TryAcquire() {
		t.lock.Release()
		return true
	}
	return false
}

// complete records one CPU's completion, releasing lock on the last one.
func (t *Token) complete() {
	if atomic.AddUint32(&t.running, ^uint32(0)) == 0 {
		t.lock.Release()
	}
}

// tokenPool is a chunked free list of tokens with a free-frontier index.
// Chunks are appended, never shrunk; reset rewinds the frontier to the head
// without reclaiming grown chunks, matching the original's lazy,
// amortized-at-exit reset policy (see DESIGN.md).
type tokenPool struct {
	mu        sync.Mutex
	chunkSize int
	chunks    [][]Token
	frontier  int
}

func newTokenPool(chunkSize int) *tokenPool {
	if chunkSize <= 0 {
		chunkSize = DefaultTokenChunkSize
	}
	return &tokenPool{
		chunkSize: chunkSize,
		chunks:    [][]Token{make([]Token, chunkSize)},
	}
}

// get returns a fresh token initialized with running count n, its lock held.
func (p *tokenPool) get(n uint32) *Token {
	p.mu.Lock()
	defer p.mu.Unlock()

	chunkIdx := p.frontier / p.chunkSize
	offset := p.frontier % p.chunkSize

	if chunkIdx >= len(p.chunks) {
		p.chunks = append(p.chunks, make([]Token, p.chunkSize))
	}

	tok := &p.chunks[chunkIdx][offset]
	p.frontier++

	atomic.StoreUint32(&tok.running, n)
	tok.lock.Acquire()

	return tok
}

// reset rewinds the free-frontier to the head. Idempotent: calling it twice
// in succession leaves the frontier unchanged the second time.
func (p *tokenPool) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frontier = 0
}
