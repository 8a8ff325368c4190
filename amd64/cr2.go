// AMD64 processor support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package amd64

// defined in cr2.s

// ReadCR2 returns the CR2 control register, the linear address that
// faulted on the most recent page fault.
func ReadCR2() uint64

// WriteCR2 restores CR2. A page fault taken inside SMM can clobber CR2
// before the interrupted context resumes, so SMM entry/exit saves and
// restores it explicitly instead of relying on the fault handler.
func WriteCR2(v uint64)
