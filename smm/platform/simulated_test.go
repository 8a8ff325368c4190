// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package platform

import "testing"

func TestNewSimulatedDefaults(t *testing.T) {
	s := NewSimulated(4)

	for i := 0; i < 4; i++ {
		id, ok := s.ProcessorID(i)
		if !ok || id != uint32(i) {
			t.Fatalf("ProcessorID(%d) = (%d, %v), want (%d, true)", i, id, ok, i)
		}
		if pkg := s.PackageID(i); pkg != uint32(i) {
			t.Fatalf("PackageID(%d) = %d, want %d (one CPU per package)", i, pkg, i)
		}
		if s.GetSMMRegister(i, RegBlocked) || s.GetSMMRegister(i, RegDisabled) {
			t.Fatalf("cpu %d should start neither blocked nor disabled", i)
		}
	}

	if !s.ValidSMI() {
		t.Fatal("ValidSMI should default to true")
	}
	if !s.ClearTopLevelSMIStatus() {
		t.Fatal("ClearTopLevelSMIStatus should default to succeeding")
	}
}

func TestSetPackageGroupsCPUs(t *testing.T) {
	s := NewSimulated(4)
	s.SetPackage(0, 0)
	s.SetPackage(1, 0)
	s.SetPackage(2, 1)
	s.SetPackage(3, 1)

	if s.PackageID(0) != s.PackageID(1) {
		t.Fatal("cpus 0 and 1 should share a package")
	}
	if s.PackageID(0) == s.PackageID(2) {
		t.Fatal("cpus 0 and 2 should not share a package")
	}
}

func TestSendSMIIPIRecordsAndInvokesCallback(t *testing.T) {
	s := NewSimulated(2)

	var got []uint32
	s.OnSMIIPI = func(apicID uint32) {
		got = append(got, apicID)
	}

	s.SendSMIIPI(7)
	s.SendSMIIPI(3)

	if len(got) != 2 || got[0] != 7 || got[1] != 3 {
		t.Fatalf("OnSMIIPI callback saw %v, want [7 3]", got)
	}

	sent := s.IPIsSent()
	if len(sent) != 2 || sent[0] != 7 || sent[1] != 3 {
		t.Fatalf("IPIsSent() = %v, want [7 3]", sent)
	}
}

func TestSetNoAPICRejectsProcessorID(t *testing.T) {
	s := NewSimulated(2)
	s.SetNoAPIC(1, true)

	if _, ok := s.ProcessorID(1); ok {
		t.Fatal("ProcessorID should fail for a CPU marked SetNoAPIC")
	}
	if _, ok := s.ProcessorID(0); !ok {
		t.Fatal("ProcessorID should still succeed for an unaffected CPU")
	}
}

func TestFakeTimerExpiresAfterLimit(t *testing.T) {
	s := &Simulated{TimeoutPolls: 3}
	timer := s.StartSyncTimer()

	for i := 0; i < 3; i++ {
		if timer.Expired() {
			t.Fatalf("timer expired early on poll %d", i+1)
		}
	}

	if !timer.Expired() {
		t.Fatal("timer should be expired after exceeding TimeoutPolls")
	}
}

func TestClearTopLevelSMIStatusFailure(t *testing.T) {
	s := NewSimulated(1)
	s.SetClearTopLevelSMIStatusFails(true)

	if s.ClearTopLevelSMIStatus() {
		t.Fatal("ClearTopLevelSMIStatus should report failure once forced")
	}
}
