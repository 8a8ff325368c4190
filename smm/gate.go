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
	"github.com/usbarmory/tamago-smm/smm/platform"
)

// waitForAPArrival runs the two-phase bounded arrival gate. It returns true
// if every CPU was accounted for (present, blocked, or disabled) before
// either phase's timer expired, and records the same result on sync for
// diagnostic purposes.
func (c *Core) waitForAPArrival() bool {
	if c.pollUntilArrivedOrTimeout(true) {
		c.sync.setArrivedWithException(true)
		return true
	}

	c.sendArrivalIPIs()

	arrived := c.pollUntilArrivedOrTimeout(false)
	if !arrived {
		blocked, disabled := c.blockedDisabledCount()
		println("smm: arrival gate timed out:", c.sync.counter.Load(), "checked in,",
			blocked, "blocked,", disabled, "disabled, of", c.cfg.MaxCPUs)
	}
	c.sync.setArrivedWithException(arrived)
	return arrived
}

// pollUntilArrivedOrTimeout polls until every CPU has checked in or the
// phase's sync timer expires. checkLMCE gates whether a local machine-check
// exception on this CPU aborts the poll immediately: the first phase bails
// out early on LMCE so the BSP can fall through to directed SMIs without
// waiting out the full timeout, but the second phase (after
// sendArrivalIPIs) always runs to completion, since by then a directed SMI
// is already pending for every CPU that still needs one.
func (c *Core) pollUntilArrivedOrTimeout(checkLMCE bool) bool {
	timer := c.platform.StartSyncTimer()

	for !timer.Expired() {
		if checkLMCE && c.lmceSignaled() {
			return false
		}
		if c.allCPUsArrived() {
			return true
		}
		reg.Pause()
	}

	return c.allCPUsArrived()
}

// sendArrivalIPIs directs an SMI to every CPU not yet present, guaranteeing
// a CPU later emerging from a blocked or delayed state has a pending SMI
// and never executes normal-mode code.
func (c *Core) sendArrivalIPIs() {
	for i := 0; i < c.cfg.MaxCPUs; i++ {
		if c.cpus[i].isPresent() {
			continue
		}
		if apicID, ok := c.platform.ProcessorID(i); ok {
			c.platform.SendSMIIPI(apicID)
		}
	}
}

func (c *Core) allCPUsArrived() bool {
	n := c.cfg.MaxCPUs
	if int(c.sync.counter.Load()) >= n {
		return true
	}

	blocked, disabled := c.blockedDisabledCount()
	return int(c.sync.counter.Load())+blocked+disabled >= n
}

// blockedDisabledCount sums blocked/disabled CPUs once per package: a
// platform's blocked/disabled status is a package-wide property, so
// querying every thread would double-count.
func (c *Core) blockedDisabledCount() (blocked, disabled int) {
	seen := make(map[uint32]bool)

	for i := 0; i < c.cfg.MaxCPUs; i++ {
		pkg := c.platform.PackageID(i)
		if seen[pkg] {
			continue
		}
		seen[pkg] = true

		if c.platform.GetSMMRegister(i, platform.RegBlocked) {
			blocked++
		}
		if c.platform.GetSMMRegister(i, platform.RegDisabled) {
			disabled++
		}
	}

	return
}

func (c *Core) lmceSignaled() bool {
	return c.platform.CPUHasMCA() && c.platform.IsLMCESignaled()
}
