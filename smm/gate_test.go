// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smm

import (
	"testing"

	"github.com/usbarmory/tamago-smm/smm/platform"
)

func TestWaitForAPArrivalLMCESkipsFirstPollButStillSendsIPIs(t *testing.T) {
	sim := platform.NewSimulated(2)
	sim.TimeoutPolls = 5
	sim.SetMCA(true)
	sim.SetLMCESignaled(true)

	core := New(Config{MaxCPUs: 2}, sim)

	if core.waitForAPArrival() {
		t.Fatal("waitForAPArrival should time out: neither CPU ever checks in")
	}

	sent := sim.IPIsSent()
	if len(sent) != 2 {
		t.Fatalf("IPIsSent() = %v, want a directed SMI to both apic ids: an LMCE only skips the first poll, the directed-IPI phase still runs", sent)
	}
}

func TestWaitForAPArrivalLMCEStillSucceedsIfAllArriveDuringIPIPhase(t *testing.T) {
	sim := platform.NewSimulated(2)
	sim.TimeoutPolls = 1000
	sim.SetMCA(true)
	sim.SetLMCESignaled(true)

	core := New(Config{MaxCPUs: 2}, sim)
	core.cpus[0].setPresent(true)
	core.sync.counter.Release()
	core.cpus[1].setPresent(true)
	core.sync.counter.Release()

	if !core.waitForAPArrival() {
		t.Fatal("waitForAPArrival should succeed: the second poll phase does not re-check LMCE")
	}
}

func TestWaitForAPArrivalSucceedsWithoutIPIsWhenAllPresent(t *testing.T) {
	sim := platform.NewSimulated(2)
	sim.TimeoutPolls = 1000

	core := New(Config{MaxCPUs: 2}, sim)
	core.cpus[0].setPresent(true)
	core.sync.counter.Release()
	core.cpus[1].setPresent(true)
	core.sync.counter.Release()

	if !core.waitForAPArrival() {
		t.Fatal("waitForAPArrival should succeed once every CPU has checked in")
	}
	if len(sim.IPIsSent()) != 0 {
		t.Fatal("no directed SMI should be sent when every CPU arrives within the first phase")
	}
}

func TestWaitForAPArrivalSendsDirectedIPIOnTimeout(t *testing.T) {
	sim := platform.NewSimulated(2)
	sim.TimeoutPolls = 5

	core := New(Config{MaxCPUs: 2}, sim)
	core.cpus[0].setPresent(true)
	core.sync.counter.Release()

	if core.waitForAPArrival() {
		t.Fatal("waitForAPArrival should time out: cpu 1 never checks in")
	}

	sent := sim.IPIsSent()
	if len(sent) != 1 || sent[0] != 1 {
		t.Fatalf("IPIsSent() = %v, want a single directed SMI to apic id 1", sent)
	}
}

func TestAllCPUsArrivedCountsBlockedAndDisabled(t *testing.T) {
	sim := platform.NewSimulated(3)
	sim.SetBlocked(1, true)
	sim.SetDisabled(2, true)

	core := New(Config{MaxCPUs: 3}, sim)
	core.cpus[0].setPresent(true)
	core.sync.counter.Release()

	if !core.allCPUsArrived() {
		t.Fatal("allCPUsArrived should count a blocked and a disabled CPU toward the total")
	}
}
