// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smm

import "testing"

func TestTokenReadyAfterAllCompletions(t *testing.T) {
	p := newTokenPool(4)
	tok := p.get(3)

	if tok.Ready() {
		t.Fatal("token should not be ready before any completion")
	}

	tok.complete()
	tok.complete()
	if tok.Ready() {
		t.Fatal("token should not be ready before its final completion")
	}

	tok.complete()
	if !tok.Ready() {
		t.Fatal("token should be ready after its final completion")
	}
}

func TestTokenPoolGrowsAcrossChunks(t *testing.T) {
	p := newTokenPool(2)

	a := p.get(1)
	b := p.get(1)
	c := p.get(1)

	if len(p.chunks) != 2 {
		t.Fatalf("chunks = %d after 3 gets with chunkSize 2, want 2", len(p.chunks))
	}
	if a == b || b == c || a == c {
		t.Fatal("tokenPool.get returned the same token twice")
	}
}

func TestTokenPoolResetRewindsFrontier(t *testing.T) {
	p := newTokenPool(4)

	p.get(1)
	p.get(1)
	if p.frontier != 2 {
		t.Fatalf("frontier = %d after 2 gets, want 2", p.frontier)
	}

	p.reset()
	if p.frontier != 0 {
		t.Fatalf("frontier = %d after reset, want 0", p.frontier)
	}

	p.reset()
	if p.frontier != 0 {
		t.Fatalf("frontier = %d after a second reset, want 0", p.frontier)
	}
}

func TestTokenPoolDefaultsChunkSize(t *testing.T) {
	p := newTokenPool(0)
	if p.chunkSize != DefaultTokenChunkSize {
		t.Fatalf("chunkSize = %d with a zero request, want %d", p.chunkSize, DefaultTokenChunkSize)
	}
}
