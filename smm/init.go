// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smm

import "github.com/usbarmory/tamago-smm/smm/platform"

// Core is the rendezvous and dispatch state for one SMM handler instance.
// It is a singleton with a lifetime equal to the handler's: all per-CPU and
// global blocks are allocated once by New and reused across every SMI run.
type Core struct {
	cfg      Config
	platform platform.Platform

	cpus   []cpuData
	sync   syncData
	tokens *tokenPool
}

// New builds a Core for cfg.MaxCPUs logical CPUs backed by platform p. It
// allocates the per-CPU and global state blocks and the first token chunk;
// nothing else is touched until the first Rendezvous call.
func New(cfg Config, p platform.Platform) *Core {
	if cfg.MaxCPUs <= 0 {
		panic("smm: MaxCPUs must be positive")
	}

	c := &Core{
		cfg:      cfg,
		platform: p,
		cpus:     make([]cpuData, cfg.MaxCPUs),
		tokens:   newTokenPool(cfg.tokenChunkSize()),
	}

	c.sync.resetBSP()
	c.sync.candidateBSP = make([]uint32, cfg.MaxCPUs)

	if p.NeedsConfigureMTRRs() {
		c.sync.effectiveSyncMode = SyncTraditional
	} else {
		c.sync.effectiveSyncMode = SyncRelaxed
	}

	return c
}

// SetSyncMode overrides the effective sync mode New derived from
// Platform.NeedsConfigureMTRRs. Traditional gates the arrival gate before
// foundation dispatch; Relaxed defers it until after, when MTRR
// reconfiguration isn't required.
func (c *Core) SetSyncMode(mode SyncMode) {
	c.sync.effectiveSyncMode = mode
}

// MarkRemoved flags cpu as scheduled for removal: dispatch targets rejected,
// hot-plug bookkeeping the foundation may act on. Removal/add mechanics
// beyond this flag are out of scope.
func (c *Core) MarkRemoved(cpu int, removed bool) {
	c.cpus[cpu].setRemoved(removed)
}

// Present reports whether cpu is currently checked into this SMI run.
func (c *Core) Present(cpu int) bool {
	return c.cpus[cpu].isPresent()
}

// BSPIndex returns the CPU elected BSP for the current or most recent run,
// or false if none is currently elected.
func (c *Core) BSPIndex() (int, bool) {
	bsp := c.sync.bsp()
	if bsp == unelected {
		return 0, false
	}
	return int(bsp), true
}
