// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smm

import "github.com/usbarmory/tamago-smm/smm/mtrr"

// runBSP drives the elected bootstrap processor through one full SMI run.
// Each phase is a separate method so a test can exercise it in isolation;
// together they run in the fixed order the AP handler's exchanges assume.
func (c *Core) runBSP(cpu int) {
	assertInvariant(c.sync.bsp() == uint32(cpu), "exactly one BSP is elected per SMI run")

	c.sync.setInsideSMM(true)
	c.cpus[cpu].setPresent(true)

	if !c.platform.ClearTopLevelSMIStatus() {
		panic("smm: platform failed to clear top-level SMI status")
	}

	needMTRR := c.platform.NeedsConfigureMTRRs()
	traditional := c.sync.effectiveSyncMode == SyncTraditional

	var apCount int
	if traditional || needMTRR {
		apCount = c.lockdownAndCountAPs(cpu, true)
	}

	var saved mtrr.Settings
	if needMTRR {
		saved = c.exchangeMTRRs(cpu, apCount)
	}

	c.cpus[cpu].busy.Acquire()
	c.runFoundation(cpu)
	c.waitAllAPsNotBusy(cpu)

	if !traditional && !needMTRR {
		apCount = c.lockdownAndCountAPs(cpu, false)
		c.drainRelaxedLateArrivals(apCount)
	}

	c.signalExit(cpu, apCount)

	if needMTRR {
		c.restoreMTRRs(cpu, apCount, saved)
	}

	c.resetForNextSMI(cpu, apCount)
}

// lockdownAndCountAPs runs the arrival gate, locks the check-in counter
// down, and returns the number of APs that checked in (excluding the BSP
// itself). When drainArrivalPulses is true it also consumes each counted
// AP's arrival acknowledgement on run[cpu] (ap.go's "traditional ||
// needMTRR" release) — the AP only sends that pulse when the BSP is gating
// on it before foundation dispatch; the relaxed late-call site accounts for
// arrivals via drainRelaxedLateArrivals instead, since no pulse is ever
// sent in that mode.
func (c *Core) lockdownAndCountAPs(cpu int, drainArrivalPulses bool) int {
	c.waitForAPArrival()
	c.sync.setAllCPUsInSync(true)
	prior := c.sync.counter.Lockdown()
	assertInvariant(int(prior) <= c.cfg.MaxCPUs, "checked-in CPU count does not exceed MaxCPUs")
	apCount := int(prior) - 1

	if drainArrivalPulses {
		c.waitForAllAPs(cpu, apCount)
	}

	return apCount
}

// exchangeMTRRs runs the three-phase MTRR save/replace choreography:
// release the APs into their save phase, save the current MTRRs, then
// release them into their apply phase and replace them with the platform's
// SMI-safe template. It returns the saved settings for restoreMTRRs to
// replay at exit.
func (c *Core) exchangeMTRRs(cpu, apCount int) mtrr.Settings {
	c.releaseAllAPs(cpu)

	saved := mtrr.Get(c.platform)
	c.waitForAllAPs(cpu, apCount)
	c.releaseAllAPs(cpu)

	c.platform.DisableSMRR()
	c.platform.ApplySMIMTRRs()
	c.waitForAllAPs(cpu, apCount)

	return saved
}

// runFoundation invokes the SMM foundation entry point with busy[cpu]
// already held. The foundation may itself call StartupThisAP or
// StartupAllAPs.
func (c *Core) runFoundation(cpu int) {
	if c.cfg.Foundation != nil {
		c.cfg.Foundation(cpu, nil)
	}
}

// waitAllAPsNotBusy blocks until every present AP other than cpu has
// released its busy lock, i.e. any work dispatched during runFoundation has
// completed.
func (c *Core) waitAllAPsNotBusy(cpu int) {
	for i := 0; i < c.cfg.MaxCPUs; i++ {
		if i == cpu || !c.cpus[i].isPresent() {
			continue
		}
		c.cpus[i].busy.Acquire()
		c.cpus[i].busy.Release()
	}
}

// drainRelaxedLateArrivals polls the present count until it exceeds
// apCount, ensuring every counted AP's present flag is visible before the
// BSP proceeds to exit. Only used in relaxed sync mode without MTRR
// reconfiguration, where lockdown happens after foundation dispatch.
func (c *Core) drainRelaxedLateArrivals(apCount int) {
	for {
		present := 0
		for i := 0; i < c.cfg.MaxCPUs; i++ {
			if c.cpus[i].isPresent() {
				present++
			}
		}
		if present > apCount {
			return
		}
	}
}

// signalExit tells every present AP that InsideSMM has gone false and waits
// for their acknowledgement.
func (c *Core) signalExit(cpu, apCount int) {
	c.sync.setInsideSMM(false)
	c.releaseAllAPs(cpu)
	c.waitForAllAPs(cpu, apCount)
}

// restoreMTRRs signals APs to restore their own OS MTRRs, re-enables SMRR,
// restores the BSP's saved settings, and waits for AP completion.
func (c *Core) restoreMTRRs(cpu, apCount int, saved mtrr.Settings) {
	c.releaseAllAPs(cpu)
	c.platform.ReenableSMRR()
	mtrr.Set(c.platform, saved)
	c.waitForAllAPs(cpu, apCount)
}

// resetForNextSMI signals APs to clear their per-CPU state, clears the
// BSP's own present flag, waits for the APs' final acknowledgement, and
// resets the global and token-pool state for the next SMI.
func (c *Core) resetForNextSMI(cpu, apCount int) {
	c.releaseAllAPs(cpu)
	c.cpus[cpu].setPresent(false)
	c.waitForAllAPs(cpu, apCount)

	c.tokens.reset()
	c.sync.resetBSP()
	c.sync.counter.Store(0)
	c.sync.setAllCPUsInSync(false)
	c.sync.setArrivedWithException(false)
}

// releaseAllAPs increments the run semaphore of every present CPU other
// than cpu.
func (c *Core) releaseAllAPs(cpu int) {
	for i := 0; i < c.cfg.MaxCPUs; i++ {
		if i == cpu || !c.cpus[i].isPresent() {
			continue
		}
		c.cpus[i].run.Release()
	}
}

// waitForAllAPs consumes n notifications from cpu's own run semaphore,
// the channel APs release into to acknowledge a phase.
func (c *Core) waitForAllAPs(cpu, n int) {
	for i := 0; i < n; i++ {
		c.cpus[cpu].run.Wait()
	}
}
