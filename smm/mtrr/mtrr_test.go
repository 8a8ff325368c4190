// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mtrr

import (
	"testing"

	"github.com/usbarmory/tamago-smm/smm/platform"
)

func TestGetSetRoundTrip(t *testing.T) {
	p := platform.NewSimulated(1)

	var want Settings
	want[0] = 0x11
	want[platform.MTRRSettingsSize-1] = 0xff

	Set(p, want)
	got := Get(p)

	if !got.Equal(want) {
		t.Fatalf("Get() after Set(want) = %v, want %v", got, want)
	}
}

func TestEqual(t *testing.T) {
	var a, b Settings
	a[3] = 7

	if a.Equal(b) {
		t.Fatal("differing snapshots reported Equal")
	}

	b[3] = 7
	if !a.Equal(b) {
		t.Fatal("identical snapshots reported not Equal")
	}
}

func TestApplySMIMTRRsChangesSnapshot(t *testing.T) {
	p := platform.NewSimulated(1)

	before := Get(p)
	p.ApplySMIMTRRs()
	after := Get(p)

	if before.Equal(after) {
		t.Fatal("ApplySMIMTRRs left the MTRR snapshot unchanged")
	}
}
