// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smm

import "time"

// DispatchRequest describes a procedure to run on one or more APs.
type DispatchRequest struct {
	// Procedure is the routine to invoke; required.
	Procedure Procedure
	// Args is passed to Procedure unchanged.
	Args interface{}
	// Status, if non-nil, receives Procedure's return value on
	// completion. It is set to ErrNotReady immediately before dispatch.
	Status *interface{}
	// Timeout is rejected unless zero: this port advertises no
	// per-procedure timeout support.
	Timeout time.Duration
}

func (r DispatchRequest) validate() error {
	if r.Procedure == nil || r.Timeout != 0 {
		return ErrInvalidParameter
	}
	return nil
}

// StartupThisAP schedules req.Procedure on cpu and blocks until it
// completes. executingCPU is the caller's own index.
func (c *Core) StartupThisAP(executingCPU, cpu int, req DispatchRequest) error {
	_, err := c.startupThisAP(executingCPU, cpu, req, true)
	return err
}

// StartupThisAPAsync schedules req.Procedure on cpu and returns immediately
// with a completion token; Ready() or waiting on *Token.lock reports
// completion.
func (c *Core) StartupThisAPAsync(executingCPU, cpu int, req DispatchRequest) (*Token, error) {
	return c.startupThisAP(executingCPU, cpu, req, false)
}

func (c *Core) startupThisAP(executingCPU, cpu int, req DispatchRequest, blocking bool) (*Token, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := c.validateTarget(executingCPU, cpu); err != nil {
		return nil, err
	}

	cd := &c.cpus[cpu]
	cd.busy.Acquire()

	cd.procedure = req.Procedure
	cd.parameter = req.Args
	cd.status = req.Status
	if cd.status != nil {
		var notReady interface{} = ErrNotReady
		*cd.status = notReady
	}

	var tok *Token
	if !blocking {
		tok = c.tokens.get(1)
		cd.token = tok
	}

	cd.run.Release()

	if blocking {
		cd.busy.Acquire()
		cd.busy.Release()
	}

	return tok, nil
}

// validateTarget checks cpu as a dispatch target for executingCPU: it must
// be a different, present, non-removed CPU with a valid APIC ID.
func (c *Core) validateTarget(executingCPU, cpu int) error {
	if cpu < 0 || cpu >= c.cfg.MaxCPUs || cpu == executingCPU {
		return ErrInvalidParameter
	}
	if _, ok := c.platform.ProcessorID(cpu); !ok {
		return ErrInvalidParameter
	}
	if !c.cpus[cpu].isPresent() {
		return ErrInvalidParameter
	}
	if c.cpus[cpu].isRemoved() {
		return ErrInvalidParameter
	}
	return nil
}

// StartupAllAPs schedules req.Procedure on every present AP other than
// executingCPU. With status non-nil, status[i] receives each CPU's result
// (ErrNotStarted for excluded indices); req.Status is not used by the
// broadcast forms. The call blocks until every
// dispatched AP completes. Use StartupAllAPsAsync for the non-blocking
// form.
func (c *Core) StartupAllAPs(executingCPU int, req DispatchRequest, status []interface{}) error {
	_, err := c.startupAllAPs(executingCPU, req, status, true)
	return err
}

// StartupAllAPsAsync is the non-blocking broadcast form; it returns a
// single completion token shared by every dispatched AP.
func (c *Core) StartupAllAPsAsync(executingCPU int, req DispatchRequest, status []interface{}) (*Token, error) {
	return c.startupAllAPs(executingCPU, req, status, false)
}

func (c *Core) startupAllAPs(executingCPU int, req DispatchRequest, status []interface{}, blocking bool) (*Token, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	count := 0
	for i := 0; i < c.cfg.MaxCPUs; i++ {
		if i == executingCPU || !c.cpus[i].isPresent() {
			continue
		}
		if c.cpus[i].isRemoved() {
			return nil, ErrInvalidParameter
		}
		if !c.cpus[i].busy.TryAcquire() {
			return nil, ErrNotReady
		}
		c.cpus[i].busy.Release()
		count++
	}

	if count == 0 {
		return nil, ErrNotStarted
	}

	var tok *Token
	if !blocking {
		tok = c.tokens.get(uint32(c.cfg.MaxCPUs))
	}

	for i := 0; i < c.cfg.MaxCPUs; i++ {
		if i == executingCPU || !c.cpus[i].isPresent() {
			continue
		}
		c.cpus[i].busy.Acquire()
	}

	for i := 0; i < c.cfg.MaxCPUs; i++ {
		present := i != executingCPU && c.cpus[i].isPresent()

		if present {
			cd := &c.cpus[i]
			cd.procedure = req.Procedure
			cd.parameter = req.Args
			if tok != nil {
				cd.token = tok
			}
			if status != nil {
				var notReady interface{} = ErrNotReady
				status[i] = notReady
				cd.status = &status[i]
			}
			continue
		}

		if status != nil {
			status[i] = ErrNotStarted
		}
		if tok != nil {
			tok.complete()
		}
	}

	c.releaseAllAPs(executingCPU)

	if blocking {
		c.waitAllAPsNotBusy(executingCPU)
	}

	return tok, nil
}

// IsAPReady is the token probe: it reports completion without blocking.
func (c *Core) IsAPReady(tok *Token) error {
	if tok.Ready() {
		return nil
	}
	return ErrNotReady
}
