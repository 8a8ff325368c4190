// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mtrr gives a byte-comparable value shape to the opaque MTRR
// snapshot a Platform exchanges with the SMM rendezvous core, so the
// save/replace/restore round-trip can be asserted directly in tests
// without touching real MSRs.
package mtrr

import "github.com/usbarmory/tamago-smm/smm/platform"

// Settings is a fixed-size snapshot of Memory Type Range Registers: fixed
// ranges, variable ranges, and the default-type register, packed into the
// platform-defined opaque slot (see platform.MTRRSettingsSize).
type Settings [platform.MTRRSettingsSize]byte

// Get reads the current MTRR settings from p.
func Get(p platform.Platform) Settings {
	return Settings(p.ReadMTRRs())
}

// Set writes s to p.
func Set(p platform.Platform, s Settings) {
	p.WriteMTRRs([platform.MTRRSettingsSize]byte(s))
}

// Equal reports whether two snapshots hold identical register values.
func (s Settings) Equal(other Settings) bool {
	return s == other
}
