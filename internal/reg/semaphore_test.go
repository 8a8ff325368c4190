// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package reg

import (
	"sync"
	"testing"
)

func TestSemaphoreWaitRelease(t *testing.T) {
	s := NewSemaphore(0)

	if got := s.Release(); got != 1 {
		t.Fatalf("Release() = %d, want 1", got)
	}

	if got := s.Wait(); got != 0 {
		t.Fatalf("Wait() = %d, want 0", got)
	}
}

func TestSemaphoreWaitBlocksUntilRelease(t *testing.T) {
	s := NewSemaphore(0)

	done := make(chan uint32, 1)
	go func() {
		done <- s.Wait()
	}()

	s.Release()

	if got := <-done; got != 0 {
		t.Fatalf("Wait() = %d, want 0", got)
	}
}

func TestSemaphoreReleaseOnLockedReturnsZeroImmediately(t *testing.T) {
	s := NewSemaphore(0)
	s.Lockdown()

	got := s.Release()
	if got != 0 {
		t.Fatalf("Release() on a Locked semaphore = %d, want 0", got)
	}
	if s.Load() != Locked {
		t.Fatalf("Release on a Locked semaphore must not mutate it, got %#x", s.Load())
	}
}

func TestSemaphoreLockdownReturnsPriorValue(t *testing.T) {
	s := NewSemaphore(3)

	prior := s.Lockdown()
	if prior != 3 {
		t.Fatalf("Lockdown() = %d, want 3", prior)
	}
	if s.Load() != Locked {
		t.Fatalf("Load() after Lockdown = %#x, want Locked", s.Load())
	}

	if got := s.Release(); got != 0 {
		t.Fatalf("Release() after Lockdown = %d, want 0", got)
	}
}

func TestSemaphoreConcurrentReleaseAccumulates(t *testing.T) {
	s := NewSemaphore(0)

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			s.Release()
		}()
	}

	wg.Wait()

	if got := s.Load(); got != n {
		t.Fatalf("Load() after %d concurrent Release = %d, want %d", n, got, n)
	}
}

func TestSpinLockAcquireRelease(t *testing.T) {
	var l SpinLock

	if !l.TryAcquire() {
		t.Fatal("TryAcquire on a free lock should succeed")
	}
	if l.TryAcquire() {
		t.Fatal("TryAcquire on a held lock should fail")
	}
	if !l.Locked() {
		t.Fatal("Locked() should report true while held")
	}

	l.Release()

	if l.Locked() {
		t.Fatal("Locked() should report false after Release")
	}
	if !l.TryAcquire() {
		t.Fatal("TryAcquire should succeed again after Release")
	}
}

func TestSpinLockAcquireBlocksUntilRelease(t *testing.T) {
	var l SpinLock
	l.Acquire()

	acquired := make(chan struct{})
	go func() {
		l.Acquire()
		close(acquired)
	}()

	l.Release()
	<-acquired
}
