// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smm

import (
	"sync/atomic"

	"github.com/usbarmory/tamago-smm/internal/reg"
)

// unelected is the bsp_index sentinel meaning no CPU has won election yet.
const unelected uint32 = 0xffffffff

// cpuData is the per-CPU state block. present is written only by the
// owning CPU; every other field is written only while busy is held, except
// run, which is mutated solely through the semaphore primitives.
type cpuData struct {
	present uint32 // atomic bool
	removed uint32 // atomic bool: scheduled for removal, rejects dispatch

	run  reg.Semaphore
	busy reg.SpinLock

	procedure Procedure
	parameter interface{}
	status    *interface{}
	token     *Token
}

func (c *cpuData) isPresent() bool    { return atomic.LoadUint32(&c.present) != 0 }
func (c *cpuData) setPresent(v bool)  { atomic.StoreUint32(&c.present, b2u32(v)) }
func (c *cpuData) isRemoved() bool    { return atomic.LoadUint32(&c.removed) != 0 }
func (c *cpuData) setRemoved(v bool)  { atomic.StoreUint32(&c.removed, b2u32(v)) }

func b2u32(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}

// syncData is the global sync block, shared by all CPUs for one SMI run.
type syncData struct {
	counter reg.Semaphore

	insideSMM                  uint32 // atomic bool
	allCPUsInSync              uint32 // atomic bool
	allAPsArrivedWithException uint32 // atomic bool

	bspIndex uint32 // atomic; unelected until a CPU wins the CAS race

	effectiveSyncMode SyncMode

	// candidateBSP supports an optional platform-driven BSP-switch flow
	// (spec data model only; no handler state transitions reference it
	// the way run/busy/counter do — see DESIGN.md).
	candidateBSP []uint32
}

func (s *syncData) isInsideSMM() bool   { return atomic.LoadUint32(&s.insideSMM) != 0 }
func (s *syncData) setInsideSMM(v bool) { atomic.StoreUint32(&s.insideSMM, b2u32(v)) }

func (s *syncData) isAllCPUsInSync() bool   { return atomic.LoadUint32(&s.allCPUsInSync) != 0 }
func (s *syncData) setAllCPUsInSync(v bool) { atomic.StoreUint32(&s.allCPUsInSync, b2u32(v)) }

func (s *syncData) setArrivedWithException(v bool) {
	atomic.StoreUint32(&s.allAPsArrivedWithException, b2u32(v))
}

func (s *syncData) bsp() uint32 { return atomic.LoadUint32(&s.bspIndex) }

// electBSP attempts to CAS bspIndex from unelected to cpu. It returns true
// for exactly one caller per SMI run.
func (s *syncData) electBSP(cpu uint32) bool {
	return atomic.CompareAndSwapUint32(&s.bspIndex, unelected, cpu)
}

func (s *syncData) resetBSP() { atomic.StoreUint32(&s.bspIndex, unelected) }

// forceBSP records cpu as BSP unconditionally, for when the platform's own
// election hook decides the winner instead of the default CAS race.
func (s *syncData) forceBSP(cpu uint32) { atomic.StoreUint32(&s.bspIndex, cpu) }
