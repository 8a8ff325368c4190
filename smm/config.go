// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smm

// SyncMode selects when the arrival gate runs relative to the foundation
// dispatch.
type SyncMode int

const (
	// SyncTraditional runs the arrival gate before foundation dispatch.
	SyncTraditional SyncMode = iota
	// SyncRelaxed defers lockdown until after foundation dispatch, when
	// MTRR reconfiguration is not required.
	SyncRelaxed
)

// DefaultTokenChunkSize mirrors PcdCpuSmmMpTokenCountPerChunk's usual
// firmware default: small enough to keep SMRAM pressure low, large enough
// that a broadcast dispatch rarely grows the pool mid-run.
const DefaultTokenChunkSize = 64

// Procedure is a caller-supplied routine dispatched onto an AP. args is
// opaque to this package; the return value is written to the caller's
// status slot, if one was supplied.
type Procedure func(cpu int, args interface{}) interface{}

// Config holds the compile-time-ish tunables a Core is built with. There is
// no env/file/flag parsing in this package: callers construct Config
// explicitly, the way board packages wire compile-time constants elsewhere
// in this tree.
type Config struct {
	// MaxCPUs is the number of logical CPUs this Core tracks, fixed for
	// the Core's lifetime.
	MaxCPUs int

	// TokenChunkSize is the number of completion tokens allocated per
	// token-pool growth. Zero selects DefaultTokenChunkSize.
	TokenChunkSize int

	// Foundation is the opaque SMM foundation entry point, invoked once
	// per SMI by the BSP after the MTRR choreography (if any) completes.
	// It runs with busy[bsp] held and may itself call StartupThisAP or
	// StartupAllAPs.
	Foundation Procedure

	// StartupProcedure, if non-nil, runs on every CPU immediately on SMI
	// entry, before BSP/AP role assignment.
	StartupProcedure Procedure
	// StartupArgs is passed to StartupProcedure.
	StartupArgs interface{}
}

func (c Config) tokenChunkSize() int {
	if c.TokenChunkSize > 0 {
		return c.TokenChunkSize
	}
	return DefaultTokenChunkSize
}
