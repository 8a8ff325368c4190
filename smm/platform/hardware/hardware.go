// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package hardware is a Platform implementation backed by real AMD64
// registers (MSRs, the Local APIC, CPUID), for an SMM handler running on
// actual hardware rather than under package smm's tests or cmd/smmsim.
//
// Topology (APIC IDs, package IDs) and SMI source clearing are chipset- and
// board-specific; this package takes them as a static table and an
// optional callback rather than discovering them, the way tamago board
// packages take compile-time constants instead of probing ACPI tables.
package hardware

import (
	"encoding/binary"
	"time"

	"github.com/usbarmory/tamago-smm/amd64"
	"github.com/usbarmory/tamago-smm/internal/reg"
	"github.com/usbarmory/tamago-smm/smm/platform"
)

// Memory Type Range Register MSRs
// (Intel SDM Vol. 3A, 11.11 Memory Type Range Registers (MTRRs))
const (
	msrMTRRCap     = 0xfe
	msrMTRRDefType = 0x2ff

	msrMTRRFix64K00000 = 0x250
	msrMTRRFix16K80000 = 0x258
	msrMTRRFix16KA0000 = 0x259
	msrMTRRFix4KC0000  = 0x268 // 0x268-0x26f, 8 consecutive MSRs

	msrMTRRPhysBase0 = 0x200 // even offsets from here are PhysBase, odd PhysMask
)

// SMRR MSRs (SDM Vol. 3C, 34.13 SMI Handler Execution Environment)
const (
	msrSMRRPhysBase = 0x1f2
	msrSMRRPhysMask = 0x1f3

	smrrPhysMaskValid = 1 << 11
)

// Machine-check MSRs (SDM Vol. 3B, 15 Machine-Check Architecture)
const (
	msrFeatureControl  = 0x3a
	featureControlLMCE = 1 << 20

	msrMCGStatus   = 0x17a
	mcgStatusLMCES = 1 << 3
)

// CPUID.01H:EDX machine-check feature bits (SDM Vol. 2A, Table 3-11)
const (
	cpuidEdxMCE = 1 << 7
	cpuidEdxMCA = 1 << 14
)

// maxVariableMTRRs bounds how many variable-range MTRR pairs fit in the
// fixed-size platform.MTRRSettingsSize snapshot alongside IA32_MTRR_DEF_TYPE
// and the fixed-range set: (256 - 8 - 11*8) / 16 = 10.
const maxVariableMTRRs = 10

// Config wires a Platform to one board's topology and clock.
type Config struct {
	// CPU is the executing processor, used for CPUID and its Local APIC.
	// The sync timer is a wall-clock deadline and does not use it.
	CPU *amd64.CPU

	// LAPICBase is the Local APIC's MMIO base address.
	LAPICBase uint32

	// APICIDs maps a logical CPU index to its APIC ID.
	APICIDs []uint32

	// PackageIDs maps a logical CPU index to its physical package. Nil
	// defaults every CPU to its own package (one thread per package).
	PackageIDs []uint32

	// SyncTimeout bounds one arrival-gate phase.
	SyncTimeout time.Duration

	// SMIMTRRTemplate is the board's precomputed SMI-safe MTRR snapshot,
	// captured once at initialization (see spec.md's Initialization
	// module) and replayed by ApplySMIMTRRs on every SMI.
	SMIMTRRTemplate [platform.MTRRSettingsSize]byte

	// IsBlocked/IsDisabled, if set, report the chipset-specific blocked
	// and SMI-disabled status for a CPU; nil means neither is ever true.
	IsBlocked  func(cpu int) bool
	IsDisabled func(cpu int) bool

	// ClearSMIStatus acknowledges the platform's top-level SMI source;
	// nil is treated as always succeeding (e.g. edge-triggered chipsets
	// with nothing to acknowledge).
	ClearSMIStatus func() bool

	// IsValidSMI distinguishes a genuine SMM entry from a spurious trap;
	// nil is treated as always valid.
	IsValidSMI func() bool
}

// Platform implements smm/platform.Platform on real AMD64 hardware.
type Platform struct {
	cfg Config
	io  lapicIPI
}

// lapicIPI is the subset of *lapic.LAPIC this package drives, narrowed so
// tests can substitute a fake without touching real MMIO.
type lapicIPI interface {
	SendSMI(apicid int)
}

// New builds a Platform from cfg. cfg.CPU must already be initialized
// (CPU.Init called) so its LAPIC and Features are populated.
func New(cfg Config) *Platform {
	if cfg.PackageIDs == nil {
		cfg.PackageIDs = make([]uint32, len(cfg.APICIDs))
		for i := range cfg.PackageIDs {
			cfg.PackageIDs[i] = uint32(i)
		}
	}

	return &Platform{cfg: cfg, io: cfg.CPU.LAPIC}
}

func (p *Platform) StartSyncTimer() platform.Timer {
	timeout := p.cfg.SyncTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}
	return platform.NewRealTimer(timeout)
}

func (p *Platform) SendSMIIPI(apicID uint32) {
	p.io.SendSMI(int(apicID))
}

func (p *Platform) ClearTopLevelSMIStatus() bool {
	if p.cfg.ClearSMIStatus == nil {
		return true
	}
	return p.cfg.ClearSMIStatus()
}

func (p *Platform) ValidSMI() bool {
	if p.cfg.IsValidSMI == nil {
		return true
	}
	return p.cfg.IsValidSMI()
}

// BSPElection declines: this package relies on the core's default CAS race
// among the CPUs that actually entered SMM.
func (p *Platform) BSPElection() (isBSP bool, ok bool) {
	return false, false
}

func (p *Platform) GetSMMRegister(cpu int, which platform.SMMRegister) bool {
	switch which {
	case platform.RegBlocked:
		return p.cfg.IsBlocked != nil && p.cfg.IsBlocked(cpu)
	case platform.RegDisabled:
		return p.cfg.IsDisabled != nil && p.cfg.IsDisabled(cpu)
	default:
		return false
	}
}

// NeedsConfigureMTRRs always reports true on real hardware: MTRRs are
// per-core state and SMRAM requires an SMI-safe caching template.
func (p *Platform) NeedsConfigureMTRRs() bool {
	return true
}

func (p *Platform) ReadMTRRs() [platform.MTRRSettingsSize]byte {
	var buf [platform.MTRRSettingsSize]byte

	off := 0
	putMSR := func(addr uint64) {
		binary.LittleEndian.PutUint64(buf[off:], reg.ReadMSR(addr))
		off += 8
	}

	putMSR(msrMTRRDefType)
	putMSR(msrMTRRFix64K00000)
	putMSR(msrMTRRFix16K80000)
	putMSR(msrMTRRFix16KA0000)
	for i := 0; i < 8; i++ {
		putMSR(msrMTRRFix4KC0000 + uint64(i))
	}

	n := variableMTRRCount()
	for i := 0; i < n; i++ {
		putMSR(msrMTRRPhysBase0 + uint64(2*i))
		putMSR(msrMTRRPhysBase0 + uint64(2*i) + 1)
	}

	return buf
}

func (p *Platform) WriteMTRRs(s [platform.MTRRSettingsSize]byte) {
	off := 0
	getMSR := func() uint64 {
		v := binary.LittleEndian.Uint64(s[off:])
		off += 8
		return v
	}

	reg.WriteMSR(msrMTRRDefType, getMSR())
	reg.WriteMSR(msrMTRRFix64K00000, getMSR())
	reg.WriteMSR(msrMTRRFix16K80000, getMSR())
	reg.WriteMSR(msrMTRRFix16KA0000, getMSR())
	for i := 0; i < 8; i++ {
		reg.WriteMSR(msrMTRRFix4KC0000+uint64(i), getMSR())
	}

	n := variableMTRRCount()
	for i := 0; i < n; i++ {
		reg.WriteMSR(msrMTRRPhysBase0+uint64(2*i), getMSR())
		reg.WriteMSR(msrMTRRPhysBase0+uint64(2*i)+1, getMSR())
	}
}

func (p *Platform) ApplySMIMTRRs() {
	p.WriteMTRRs(p.cfg.SMIMTRRTemplate)
}

func (p *Platform) DisableSMRR() {
	mask := reg.ReadMSR(msrSMRRPhysMask)
	reg.WriteMSR(msrSMRRPhysMask, mask&^smrrPhysMaskValid) // clear Valid bit
}

func (p *Platform) ReenableSMRR() {
	mask := reg.ReadMSR(msrSMRRPhysMask)
	reg.WriteMSR(msrSMRRPhysMask, mask|smrrPhysMaskValid) // set Valid bit
}

func (p *Platform) RendezvousEntry(cpu int) {}
func (p *Platform) RendezvousExit(cpu int)  {}

func (p *Platform) SaveCR2() uint64 {
	return amd64.ReadCR2()
}

func (p *Platform) RestoreCR2(v uint64) {
	amd64.WriteCR2(v)
}

func (p *Platform) CPUHasMCA() bool {
	_, _, _, edx := p.cfg.CPU.CPUID(amd64.CPUID_INFO, 0)
	return edx&cpuidEdxMCA != 0 && edx&cpuidEdxMCE != 0
}

func (p *Platform) IsLMCESignaled() bool {
	fc := reg.ReadMSR(msrFeatureControl)
	if fc&featureControlLMCE == 0 {
		return false
	}
	return reg.ReadMSR(msrMCGStatus)&mcgStatusLMCES != 0
}

func (p *Platform) ProcessorID(cpu int) (apicID uint32, ok bool) {
	if cpu < 0 || cpu >= len(p.cfg.APICIDs) {
		return 0, false
	}
	return p.cfg.APICIDs[cpu], true
}

func (p *Platform) PackageID(cpu int) uint32 {
	if cpu < 0 || cpu >= len(p.cfg.PackageIDs) {
		return uint32(cpu)
	}
	return p.cfg.PackageIDs[cpu]
}

// variableMTRRCount is how many variable-range MTRR pairs this package
// tracks, bounded by what the fixed-size snapshot can hold regardless of
// IA32_MTRRCAP's reported count.
func variableMTRRCount() int {
	mtrrCap := reg.ReadMSR(msrMTRRCap)
	n := int(mtrrCap & 0xff)
	if n > maxVariableMTRRs {
		n = maxVariableMTRRs
	}
	return n
}
