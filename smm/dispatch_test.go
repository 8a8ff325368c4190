// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smm

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/usbarmory/tamago-smm/smm/platform"
)

func TestStartupThisAPToAbsentCPUFails(t *testing.T) {
	sim := platform.NewSimulated(2)
	sim.TimeoutPolls = 5

	var foundationErr error
	var core *Core

	cfg := Config{
		MaxCPUs: 2,
		Foundation: func(cpu int, _ interface{}) interface{} {
			foundationErr = core.StartupThisAP(cpu, 1, DispatchRequest{
				Procedure: func(int, interface{}) interface{} { return nil },
			})
			return nil
		},
	}
	core = New(cfg, sim)

	core.Rendezvous(0)

	if !errors.Is(foundationErr, ErrInvalidParameter) {
		t.Fatalf("StartupThisAP to an absent CPU = %v, want ErrInvalidParameter", foundationErr)
	}
}

func TestStartupAllAPsWithTokenThreeOfFourPresent(t *testing.T) {
	sim := platform.NewSimulated(4)
	sim.TimeoutPolls = 50

	status := make([]interface{}, 4)
	var tok *Token
	var dispatchErr error

	var core *Core
	cfg := Config{
		MaxCPUs: 4,
		Foundation: func(cpu int, _ interface{}) interface{} {
			tok, dispatchErr = core.StartupAllAPsAsync(cpu, DispatchRequest{
				Procedure: func(cpu int, _ interface{}) interface{} { return cpu },
			}, status)
			if dispatchErr != nil {
				return nil
			}

			deadline := time.Now().Add(5 * time.Second)
			for core.IsAPReady(tok) != nil {
				if time.Now().After(deadline) {
					panic("token never became ready")
				}
				runtime.Gosched()
			}
			return nil
		},
	}
	core = New(cfg, sim)
	core.SetSyncMode(SyncTraditional)

	var wg sync.WaitGroup
	for _, cpu := range []int{0, 1, 2} {
		cpu := cpu
		wg.Add(1)
		go func() {
			defer wg.Done()
			core.Rendezvous(cpu)
		}()
	}
	wg.Wait()

	if dispatchErr != nil {
		t.Fatalf("StartupAllAPsAsync returned %v, want nil", dispatchErr)
	}
	if status[1] != 1 {
		t.Fatalf("status[1] = %v, want 1", status[1])
	}
	if status[2] != 2 {
		t.Fatalf("status[2] = %v, want 2", status[2])
	}
	if !errors.Is(status[3].(error), ErrNotStarted) {
		t.Fatalf("status[3] = %v, want ErrNotStarted (cpu 3 never arrived)", status[3])
	}
	if !errors.Is(status[0].(error), ErrNotStarted) {
		t.Fatalf("status[0] = %v, want ErrNotStarted (the executing CPU is never a dispatch target)", status[0])
	}
}

func TestStartupAllAPsReturnsErrNotStartedWithNoEligibleAPs(t *testing.T) {
	sim := platform.NewSimulated(1)
	sim.TimeoutPolls = 5

	var dispatchErr error
	var core *Core
	cfg := Config{
		MaxCPUs: 1,
		Foundation: func(cpu int, _ interface{}) interface{} {
			dispatchErr = core.StartupAllAPs(cpu, DispatchRequest{
				Procedure: func(int, interface{}) interface{} { return nil },
			}, nil)
			return nil
		},
	}
	core = New(cfg, sim)

	core.Rendezvous(0)

	if !errors.Is(dispatchErr, ErrNotStarted) {
		t.Fatalf("StartupAllAPs with no other CPUs present = %v, want ErrNotStarted", dispatchErr)
	}
}
