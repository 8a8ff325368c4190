// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smm

import (
	"github.com/usbarmory/tamago-smm/internal/reg"
	"github.com/usbarmory/tamago-smm/smm/mtrr"
)

// runAP drives a demoted CPU through one full SMI run as an application
// processor: it waits for the BSP to show up, exchanges arrival and MTRR
// notifications, serves dispatched work, then exchanges exit and reset
// notifications before returning.
func (c *Core) runAP(cpu, bsp int) {
	assertInvariant(cpu != bsp, "an application processor never runs as its own bootstrap processor")

	if !c.timeoutWaitForBSP(bsp) {
		// BSP never entered SMM; give up cleanly.
		c.sync.counter.Wait()
		return
	}

	c.cpus[cpu].setPresent(true)

	needMTRR := c.platform.NeedsConfigureMTRRs()
	traditional := c.sync.effectiveSyncMode == SyncTraditional

	if traditional || needMTRR {
		c.cpus[bsp].run.Release()
	}

	var saved mtrr.Settings
	if needMTRR {
		saved = c.exchangeMTRRsAsAP(cpu, bsp)
	}

	c.serveDispatchedWork(cpu)

	if needMTRR {
		c.cpus[bsp].run.Release()
		c.cpus[cpu].run.Wait()
		c.platform.ReenableSMRR()
		mtrr.Set(c.platform, saved)
	}

	c.cpus[bsp].run.Release()
	c.cpus[cpu].run.Wait()
	c.cpus[cpu].setPresent(false)
	c.cpus[bsp].run.Release()
}

// timeoutWaitForBSP spins until InsideSMM goes true or the sync timer
// expires. On first timeout it sends the known BSP an SMI and tries once
// more; it gives up if the BSP index is unknown or the second attempt also
// times out.
func (c *Core) timeoutWaitForBSP(bsp int) bool {
	if c.pollForInsideSMM() {
		return true
	}

	if uint32(bsp) == unelected {
		return false
	}

	if apicID, ok := c.platform.ProcessorID(bsp); ok {
		c.platform.SendSMIIPI(apicID)
	}

	return c.pollForInsideSMM()
}

func (c *Core) pollForInsideSMM() bool {
	timer := c.platform.StartSyncTimer()
	for !timer.Expired() {
		if c.sync.isInsideSMM() {
			return true
		}
		reg.Pause()
	}
	return c.sync.isInsideSMM()
}

// exchangeMTRRsAsAP mirrors the BSP's three MTRR phases from the AP side:
// wait-save-notify, then wait-apply-notify. It returns this CPU's saved
// settings for later restoration.
func (c *Core) exchangeMTRRsAsAP(cpu, bsp int) mtrr.Settings {
	c.cpus[cpu].run.Wait()
	saved := mtrr.Get(c.platform)
	c.cpus[bsp].run.Release()

	c.cpus[cpu].run.Wait()
	c.platform.ApplySMIMTRRs()
	c.cpus[bsp].run.Release()

	return saved
}

// serveDispatchedWork is the AP's work loop: wait for a pulse on its own
// run semaphore, exit if the BSP has signaled InsideSMM false, otherwise
// invoke the dispatched procedure and release the completion token.
func (c *Core) serveDispatchedWork(cpu int) {
	for {
		c.cpus[cpu].run.Wait()

		if !c.sync.isInsideSMM() {
			return
		}

		cd := &c.cpus[cpu]
		var result interface{}
		if cd.procedure != nil {
			result = cd.procedure(cpu, cd.parameter)
		}
		if cd.status != nil {
			*cd.status = result
		}
		if cd.token != nil {
			cd.token.complete()
			cd.token = nil
		}

		cd.busy.Release()
	}
}
