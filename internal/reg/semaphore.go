// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package reg

import (
	"runtime"
	"sync/atomic"
)

// Locked is the sentinel value a Semaphore holds once Lockdown has been
// called on it. No further Release succeeds once a Semaphore reads Locked.
const Locked uint32 = 0xffffffff

// Pause yields the calling goroutine between compare-and-swap attempts. It
// stands in for the `pause` instruction hint the original firmware issues
// between retries of a contended atomic operation; under `GOOS=tamago` the
// scheduler is cooperative (see internal/reg's own Wait/WaitFor), so
// runtime.Gosched is the equivalent back-off.
func Pause() {
	runtime.Gosched()
}

// Semaphore is a 32-bit counter mutated only through atomic compare-and-swap
// retry loops, matching WaitForSemaphore/ReleaseSemaphore/LockdownSemaphore.
type Semaphore struct {
	v uint32
}

// NewSemaphore returns a Semaphore initialized to v.
func NewSemaphore(v uint32) *Semaphore {
	return &Semaphore{v: v}
}

// Load returns the current value without mutating it.
func (s *Semaphore) Load() uint32 {
	return atomic.LoadUint32(&s.v)
}

// Store sets the value unconditionally. Used only at allocation time and at
// the end of a run, when no other CPU can be contending on the semaphore.
func (s *Semaphore) Store(v uint32) {
	atomic.StoreUint32(&s.v, v)
}

// Wait decrements the semaphore, spinning until a decrement succeeds. It
// never decrements a value of 0 and never returns a negative result.
func (s *Semaphore) Wait() uint32 {
	for {
		v := atomic.LoadUint32(&s.v)

		if v != 0 && atomic.CompareAndSwapUint32(&s.v, v, v-1) {
			return v - 1
		}

		Pause()
	}
}

// Release increments the semaphore, spinning until an increment succeeds.
// If the semaphore is Locked, it returns 0 immediately without spinning:
// the wraparound of Locked+1 doubles as "lockdown already in effect" to
// the caller.
func (s *Semaphore) Release() uint32 {
	for {
		v := atomic.LoadUint32(&s.v)

		if v+1 == 0 {
			return 0
		}

		if atomic.CompareAndSwapUint32(&s.v, v, v+1) {
			return v + 1
		}

		Pause()
	}
}

// Lockdown sets the semaphore to Locked regardless of its prior value and
// returns that prior value. Once locked, Release never succeeds again until
// Store is called to reset the semaphore for the next run.
func (s *Semaphore) Lockdown() uint32 {
	for {
		v := atomic.LoadUint32(&s.v)

		if atomic.CompareAndSwapUint32(&s.v, v, Locked) {
			return v
		}

		Pause()
	}
}

// SpinLock is a binary CAS-based lock: 0 is released, 1 is acquired.
type SpinLock struct {
	v uint32
}

// Acquire spins until the lock is obtained.
func (l *SpinLock) Acquire() {
	for !l.TryAcquire() {
		Pause()
	}
}

// TryAcquire attempts a single acquire and reports whether it succeeded.
func (l *SpinLock) TryAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.v, 0, 1)
}

// Release unlocks the lock, independently of who acquired it.
func (l *SpinLock) Release() {
	atomic.StoreUint32(&l.v, 0)
}

// Locked reports whether the lock is currently held, without acquiring it.
func (l *SpinLock) Locked() bool {
	return atomic.LoadUint32(&l.v) == 1
}
