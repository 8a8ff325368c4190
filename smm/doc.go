// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package smm implements the multiprocessor rendezvous and dispatch core of
// a System Management Mode (SMM) handler: every logical CPU traps into a
// shared entry point, one is elected bootstrap processor (BSP) and the rest
// become application processors (APs), and the BSP may dispatch caller
// procedures onto any AP while all of them are gathered in SMM.
//
// The core is platform independent: SMI delivery, timers, MTRR access and
// BSP election policy are supplied by a platform.Platform implementation
// (see package github.com/usbarmory/tamago-smm/smm/platform). This package
// is only concerned with the synchronization protocol, not with how a given
// board traps into it.
package smm
