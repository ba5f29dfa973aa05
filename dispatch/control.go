package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/sarchlab/n64jit/codecache"
	"github.com/sarchlab/n64jit/emu"
)

// State is the dispatcher state.
type State int32

// Dispatcher states.
const (
	Idle State = iota
	Running
	HandlingException
	Halted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case HandlingException:
		return "handling-exception"
	case Halted:
		return "halted"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a snapshot of the dispatcher counters.
type Status struct {
	State       State  `json:"state"`
	PC          uint64 `json:"pc"`
	Retired     uint64 `json:"retired"`
	Blocks      uint64 `json:"blocks"`
	Exceptions  uint64 `json:"exceptions"`
	Interpreted uint64 `json:"interpreted"`
	Halt        string `json:"halt,omitempty"`
}

// State returns the current state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

func (d *Dispatcher) setState(s State) {
	d.state.Store(int32(s))
}

// Status returns the counters. The PC is the one at the last block
// boundary.
func (d *Dispatcher) Status() Status {
	s := Status{
		State:       d.State(),
		PC:          d.pc.Load(),
		Retired:     d.retired.Load(),
		Blocks:      d.blocks.Load(),
		Exceptions:  d.exceptions.Load(),
		Interpreted: d.interpreted.Load(),
	}
	if err := d.Halted(); err != nil {
		s.Halt = err.Error()
	}
	return s
}

// Snapshot returns a copy of the CPU state taken between blocks.
func (d *Dispatcher) Snapshot(ctx context.Context) (emu.CpuState, error) {
	var snap emu.CpuState
	err := d.do(ctx, func() {
		snap = *d.cpu
	})
	return snap, err
}

// ClearCache drops every compiled block.
func (d *Dispatcher) ClearCache(ctx context.Context) error {
	return d.do(ctx, d.cache.Clear)
}

// CacheStats returns the code cache statistics.
func (d *Dispatcher) CacheStats() codecache.Statistics {
	return d.cache.Stats()
}

// CacheBlocks describes the compiled blocks.
func (d *Dispatcher) CacheBlocks() []codecache.BlockInfo {
	return d.cache.Blocks()
}

// Reset performs a cold reset: the CPU and TLB are reinitialized, the code
// cache is cleared and a previous halt is forgotten. Memory is untouched.
func (d *Dispatcher) Reset(ctx context.Context) error {
	return d.do(ctx, func() {
		d.cpu.PowerOnReset()
		d.bridge.TLB().Reset()
		d.bridge.MicroTLB().Flush()
		d.cache.Clear()
		d.lines.Store(0)
		d.resume()
		d.log.Info("cold reset")
	})
}

// SoftReset restarts execution at the reset vector keeping registers and
// compiled code.
func (d *Dispatcher) SoftReset(ctx context.Context) error {
	return d.do(ctx, func() {
		d.cpu.SoftReset()
		d.resume()
		d.log.Info("soft reset")
	})
}

func (d *Dispatcher) resume() {
	d.haltMu.Lock()
	d.haltErr = nil
	d.haltMu.Unlock()

	d.stop.Store(false)
	d.pc.Store(d.cpu.PC)
	if d.State() == Halted {
		d.setState(Idle)
	}
}

const requestRetry = time.Millisecond

// do runs fn while no guest code executes: directly when the dispatcher is
// idle, otherwise between two blocks of Run.
func (d *Dispatcher) do(ctx context.Context, fn func()) error {
	for {
		if d.mu.TryLock() {
			fn()
			d.mu.Unlock()
			return nil
		}

		req := request{fn: fn, done: make(chan struct{})}
		select {
		case d.requests <- req:
			<-req.done
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(requestRetry):
		}
	}
}

func (d *Dispatcher) serveRequests() {
	for {
		select {
		case req := <-d.requests:
			req.fn()
			close(req.done)
		default:
			return
		}
	}
}
