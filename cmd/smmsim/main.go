// AMD64 System Management Mode support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command smmsim drives a simulated multiprocessor SMI rendezvous on the
// host, with each logical CPU modeled as a goroutine calling smm.Core.
// Rendezvous. It exists to make the rendezvous core runnable and
// observable outside of a real SMM handler.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	_ "github.com/mkevac/debugcharts"

	"github.com/usbarmory/tamago-smm/smm"
	"github.com/usbarmory/tamago-smm/smm/platform"
)

func main() {
	cpus := flag.Int("cpus", 4, "number of simulated logical CPUs")
	runs := flag.Int("runs", 1, "number of simulated SMI runs")
	delayed := flag.Int("delay-cpu", -1, "CPU index to delay past the first arrival-gate phase (-1 disables)")
	blocked := flag.Int("block-cpu", -1, "CPU index to mark blocked for the whole run (-1 disables)")
	charts := flag.String("charts-addr", "", "if set, serve debugcharts on this address (e.g. :1234)")
	flag.Parse()

	if *cpus < 1 {
		log.Fatalf("smmsim: -cpus must be positive, got %d", *cpus)
	}

	if *charts != "" {
		go func() {
			log.Printf("smmsim: debugcharts listening on %s/debug/charts", *charts)
			if err := http.ListenAndServe(*charts, nil); err != nil {
				log.Printf("smmsim: debugcharts server exited: %v", err)
			}
		}()
	}

	sim := platform.NewSimulated(*cpus)

	if *blocked >= 0 {
		sim.SetBlocked(*blocked, true)
	}

	var trace traceLog

	cfg := smm.Config{
		MaxCPUs: *cpus,
		Foundation: func(cpu int, _ interface{}) interface{} {
			trace.record(cpu, "foundation")
			return nil
		},
	}

	core := smm.New(cfg, sim)

	for run := 1; run <= *runs; run++ {
		trace.reset()
		log.Printf("smmsim: run %d/%d starting with %d CPUs", run, *runs, *cpus)

		var wg sync.WaitGroup

		for cpu := 0; cpu < *cpus; cpu++ {
			cpu := cpu
			wg.Add(1)
			go func() {
				defer wg.Done()
				if cpu == *delayed {
					time.Sleep(50 * time.Millisecond)
				}
				core.Rendezvous(cpu)
			}()
		}

		wg.Wait()

		bsp, ok := core.BSPIndex()
		if ok {
			fmt.Printf("run %d: elected BSP cpu=%d, trace=%v\n", run, bsp, trace.entries())
		} else {
			fmt.Printf("run %d: no BSP elected, trace=%v\n", run, trace.entries())
		}
	}
}

// traceLog records foundation-procedure invocations across one SMI run, for
// printing a human-readable summary. It is not part of the smm package's
// own API: it exists purely to make a simulated run observable.
type traceLog struct {
	mu   sync.Mutex
	rows []string
}

func (t *traceLog) record(cpu int, what string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = append(t.rows, fmt.Sprintf("cpu%d:%s", cpu, what))
}

func (t *traceLog) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = nil
}

func (t *traceLog) entries() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.rows...)
}
