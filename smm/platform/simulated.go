// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package platform

import "sync"

// fakeTimer expires after a fixed number of polls rather than wall-clock
// time, so tests driving the arrival gate are deterministic and fast.
type fakeTimer struct {
	calls int
	limit int
}

func (t *fakeTimer) Expired() bool {
	t.calls++
	return t.calls > t.limit
}

// Simulated is a goroutine-safe Platform implementation backed by plain Go
// state instead of real hardware, for use by package smm's tests and by
// cmd/smmsim. It models blocked/disabled/delayed CPUs, a deterministic
// poll-counted timer, and records directed SMIs (see IPIsSent) along with
// rendezvous entry/exit and SMRR disable/re-enable calls.
type Simulated struct {
	mu sync.Mutex

	// TimeoutPolls bounds how many Expired() polls an arrival-gate phase
	// tolerates before timing out. Zero selects a default.
	TimeoutPolls int

	// MaxCPUs is the number of logical CPUs this platform models.
	MaxCPUs int

	blocked  map[int]bool
	disabled map[int]bool
	apicID   map[int]uint32
	noAPIC   map[int]bool
	pkgID    map[int]uint32

	needMTRR  bool
	mtrr      [MTRRSettingsSize]byte
	mtrrSet   bool
	smrrDis   int
	smrrRen   int
	validSMI  bool
	bspOK     bool
	bspIsBSP  bool
	mca       bool
	lmce      bool
	clearTLS  bool
	clearFail bool

	ipisSent  []uint32
	OnSMIIPI  func(apicID uint32)
	rvEntries []int
	rvExits   []int
}

// NewSimulated returns a Simulated platform for n CPUs, all present with
// valid APIC IDs equal to their index, SMI validity true, and no blocked,
// disabled, or MCA-capable CPUs.
func NewSimulated(n int) *Simulated {
	s := &Simulated{
		MaxCPUs:  n,
		blocked:  make(map[int]bool),
		disabled: make(map[int]bool),
		apicID:   make(map[int]uint32, n),
		noAPIC:   make(map[int]bool),
		pkgID:    make(map[int]uint32, n),
		validSMI: true,
		clearTLS: true,
	}

	for i := 0; i < n; i++ {
		s.apicID[i] = uint32(i)
		// Default: one CPU per package, so every CPU is its own
		// package-first thread.
		s.pkgID[i] = uint32(i)
	}

	return s
}

// SetPackage assigns cpu to physical package pkg, for modeling multiple
// threads sharing one package's blocked/disabled accounting.
func (s *Simulated) SetPackage(cpu int, pkg uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pkgID[cpu] = pkg
}

func (s *Simulated) PackageID(cpu int) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pkgID[cpu]
}

func (s *Simulated) StartSyncTimer() Timer {
	limit := s.TimeoutPolls
	if limit == 0 {
		limit = 200
	}
	return &fakeTimer{limit: limit}
}

func (s *Simulated) SendSMIIPI(apicID uint32) {
	s.mu.Lock()
	s.ipisSent = append(s.ipisSent, apicID)
	cb := s.OnSMIIPI
	s.mu.Unlock()

	if cb != nil {
		cb(apicID)
	}
}

// IPIsSent returns the APIC IDs that have received a directed SMI so far.
func (s *Simulated) IPIsSent() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.ipisSent...)
}

func (s *Simulated) ClearTopLevelSMIStatus() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.clearFail
}

// SetClearTopLevelSMIStatusFails forces ClearTopLevelSMIStatus to report
// failure, for exercising the BSP handler's fatal assertion path.
func (s *Simulated) SetClearTopLevelSMIStatusFails(fails bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearFail = fails
}

func (s *Simulated) ValidSMI() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validSMI
}

// SetValidSMI controls the boolean ValidSMI returns.
func (s *Simulated) SetValidSMI(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validSMI = v
}

func (s *Simulated) BSPElection() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bspIsBSP, s.bspOK
}

// SetBSPElection configures the platform election hook's return values.
func (s *Simulated) SetBSPElection(isBSP, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bspIsBSP, s.bspOK = isBSP, ok
}

func (s *Simulated) GetSMMRegister(cpu int, which SMMRegister) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch which {
	case RegBlocked:
		return s.blocked[cpu]
	case RegDisabled:
		return s.disabled[cpu]
	default:
		// RegDelayed has no persistent state in the simulation: a
		// delayed CPU simply has not called Rendezvous yet, which
		// already shows up as Present == false.
		return false
	}
}

// SetBlocked marks cpu as blocked (or not) from entering SMM.
func (s *Simulated) SetBlocked(cpu int, blocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[cpu] = blocked
}

// SetDisabled marks cpu as SMI-disabled (or not).
func (s *Simulated) SetDisabled(cpu int, disabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[cpu] = disabled
}

func (s *Simulated) NeedsConfigureMTRRs() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needMTRR
}

// SetNeedsConfigureMTRRs toggles whether the simulated platform requires
// the MTRR save/replace/restore choreography.
func (s *Simulated) SetNeedsConfigureMTRRs(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.needMTRR = v
}

func (s *Simulated) ReadMTRRs() [MTRRSettingsSize]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mtrr
}

func (s *Simulated) WriteMTRRs(v [MTRRSettingsSize]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mtrr = v
	s.mtrrSet = true
}

// ApplySMIMTRRs writes a fixed, recognizable pattern standing in for a
// board's SMI-safe MTRR template, so tests can assert the save/restore
// round-trip without modeling real MSR encodings.
func (s *Simulated) ApplySMIMTRRs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.mtrr {
		s.mtrr[i] = 0xaa
	}
	s.mtrrSet = true
}

func (s *Simulated) DisableSMRR() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.smrrDis++
}

func (s *Simulated) ReenableSMRR() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.smrrRen++
}

func (s *Simulated) RendezvousEntry(cpu int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rvEntries = append(s.rvEntries, cpu)
}

func (s *Simulated) RendezvousExit(cpu int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rvExits = append(s.rvExits, cpu)
}

func (s *Simulated) SaveCR2() uint64 {
	return 0
}

func (s *Simulated) RestoreCR2(uint64) {}

func (s *Simulated) CPUHasMCA() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mca
}

// SetMCA toggles machine-check architecture support.
func (s *Simulated) SetMCA(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mca = v
}

func (s *Simulated) IsLMCESignaled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lmce
}

// SetLMCESignaled toggles whether a local machine-check is pending.
func (s *Simulated) SetLMCESignaled(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lmce = v
}

func (s *Simulated) ProcessorID(cpu int) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.noAPIC[cpu] {
		return 0, false
	}

	id, ok := s.apicID[cpu]
	return id, ok
}

// SetNoAPIC marks cpu as having no valid APIC ID (e.g. an unpopulated slot).
func (s *Simulated) SetNoAPIC(cpu int, noAPIC bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noAPIC[cpu] = noAPIC
}
