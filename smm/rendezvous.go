// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smm

import "github.com/usbarmory/tamago-smm/internal/reg"

// Rendezvous is the single entry point every logical CPU calls on SMI. It
// classifies the caller as BSP or AP for this run, drives the
// corresponding handler, and returns once the run has fully exited.
func (c *Core) Rendezvous(cpu int) {
	cr2 := c.platform.SaveCR2()

	if c.cfg.StartupProcedure != nil {
		c.cfg.StartupProcedure(cpu, c.cfg.StartupArgs)
	}

	c.platform.RendezvousEntry(cpu)
	valid := c.platform.ValidSMI()
	bspInProgress := c.sync.isInsideSMM()

	if !bspInProgress && !valid {
		c.platform.RendezvousExit(cpu)
		c.platform.RestoreCR2(cr2)
		return
	}

	if c.sync.counter.Release() == 0 {
		// BSP already locked the counter down: we arrived too late
		// for this run. Wait it out and leave without touching
		// present.
		for c.sync.isAllCPUsInSync() {
			reg.Pause()
		}
		c.platform.RendezvousExit(cpu)
		c.platform.RestoreCR2(cr2)
		return
	}

	if bspInProgress {
		c.runAP(cpu, int(c.sync.bsp()))
	} else if c.electBSP(cpu) {
		c.runBSP(cpu)
	} else {
		c.runAP(cpu, int(c.sync.bsp()))
	}

	for c.sync.isAllCPUsInSync() {
		reg.Pause()
	}

	c.platform.RendezvousExit(cpu)
	c.platform.RestoreCR2(cr2)
}

// electBSP decides whether cpu is this run's bootstrap processor: the
// platform's own election hook takes precedence; if it declines, the first
// CPU to win the CAS race on bspIndex is BSP.
func (c *Core) electBSP(cpu int) bool {
	if isBSP, ok := c.platform.BSPElection(); ok {
		if isBSP {
			c.sync.forceBSP(uint32(cpu))
		}
		return isBSP
	}
	return c.sync.electBSP(uint32(cpu))
}
