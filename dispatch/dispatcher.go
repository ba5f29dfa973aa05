// Package dispatch drives compiled guest code. The Dispatcher takes the
// guest PC, looks up or compiles the block starting there, runs it and
// delivers whatever exception or interrupt stopped it, until it is stopped
// or halts on an error the guest cannot recover from.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/sarchlab/n64jit/codecache"
	"github.com/sarchlab/n64jit/config"
	"github.com/sarchlab/n64jit/emu"
	"github.com/sarchlab/n64jit/hostisa"
	"github.com/sarchlab/n64jit/insts"
	"github.com/sarchlab/n64jit/jit"
	"github.com/sarchlab/n64jit/mmu"
)

// ErrInstructionLimit is returned by Run when the instruction limit is hit.
var ErrInstructionLimit = emu.ErrInstructionLimit

// ErrStopped is the halt reason after Stop.
var ErrStopped = errors.New("dispatcher stopped")

// HaltError reports an error that stopped guest execution for good.
type HaltError struct {
	PC   uint64
	Word uint32 // instruction word, if the error concerns one
	Err  error
}

func (e *HaltError) Error() string {
	if e.Word != 0 {
		return fmt.Sprintf("halted at PC=0x%016X (word 0x%08X): %v", e.PC, e.Word, e.Err)
	}
	return fmt.Sprintf("halted at PC=0x%016X: %v", e.PC, e.Err)
}

func (e *HaltError) Unwrap() error {
	return e.Err
}

// Dispatcher runs one guest CPU. Guest execution happens on the goroutine
// calling Run or Step; the remaining methods may be called from anywhere.
type Dispatcher struct {
	cpu      *emu.CpuState
	bridge   *mmu.Bridge
	cache    *codecache.Cache
	compiler *jit.Compiler
	machine  *hostisa.Machine
	interp   *emu.Emulator

	// prev is the block that last exited normally; its links are tried
	// before a lookup.
	prev *codecache.Block

	cfg *config.Config
	log logr.Logger

	breakpoints     map[uint64]bool
	maxInstructions uint64

	// mu is held while guest code runs
	mu       sync.Mutex
	requests chan request

	lines atomic.Uint32
	stop  atomic.Bool

	state       atomic.Int32
	pc          atomic.Uint64
	retired     atomic.Uint64
	blocks      atomic.Uint64
	exceptions  atomic.Uint64
	interpreted atomic.Uint64

	haltMu  sync.RWMutex
	haltErr error
}

type request struct {
	fn   func()
	done chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConfig sets the configuration. The default is config.Default().
func WithConfig(cfg *config.Config) Option {
	return func(d *Dispatcher) {
		d.cfg = cfg.Clone()
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// WithMaxInstructions makes Run return ErrInstructionLimit once max guest
// instructions have retired. The limit is checked between blocks.
func WithMaxInstructions(max uint64) Option {
	return func(d *Dispatcher) {
		d.maxInstructions = max
	}
}

// WithBreakpoint makes Run return when PC reaches addr.
func WithBreakpoint(addr uint64) Option {
	return func(d *Dispatcher) {
		d.breakpoints[addr] = true
	}
}

// New creates a dispatcher for cpu, accessing memory through bridge.
func New(cpu *emu.CpuState, bridge *mmu.Bridge, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		cpu:         cpu,
		bridge:      bridge,
		cfg:         config.Default(),
		log:         logr.Discard(),
		breakpoints: make(map[uint64]bool),
		requests:    make(chan request),
	}

	for _, opt := range opts {
		opt(d)
	}

	if err := d.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	d.cache = codecache.New(
		codecache.WithBudget(d.cfg.CodeCacheBytes),
		codecache.WithCodeTracker(bridge),
		codecache.WithLogger(d.log.WithName("codecache")),
	)
	bridge.SetInvalidator(d.cache)
	bridge.SetMappingObserver(d.cache)

	stops := make([]uint64, 0, len(d.breakpoints))
	for addr := range d.breakpoints {
		stops = append(stops, addr)
	}
	d.compiler = jit.NewCompiler(bridge,
		jit.WithMaxBlock(d.cfg.MaxBlockInstructions),
		jit.WithPollInterval(d.cfg.PollInterval),
		jit.WithTrapIllegal(d.cfg.TrapIllegal()),
		jit.WithFastMemory(d.cfg.FastMemory),
		jit.WithStopBefore(stops...),
		jit.WithLogger(d.log.WithName("jit")),
	)

	d.interp = emu.NewEmulator(cpu, bridge,
		emu.WithTrapIllegal(d.cfg.TrapIllegal()),
		emu.WithLogger(d.log.WithName("interp")),
	)

	d.machine = hostisa.NewMachine(cpu, bridge)
	d.machine.SetPoller(func() bool {
		d.syncLines()
		return cpu.InterruptPending()
	})

	d.pc.Store(cpu.PC)
	return d, nil
}

// Cache returns the code cache.
func (d *Dispatcher) Cache() *codecache.Cache {
	return d.cache
}

// Config returns a copy of the configuration.
func (d *Dispatcher) Config() *config.Config {
	return d.cfg.Clone()
}

// Run executes guest code until ctx is done, a breakpoint or the
// instruction limit is reached, Stop is called or execution halts.
// Exceptions are delivered and execution continues at the vector.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.Halted(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.log.V(1).Info("dispatcher running", "pc", d.cpu.PC)
	d.setState(Running)
	defer d.idle()

	for first := true; ; first = false {
		d.serveRequests()

		if d.stop.Load() {
			return d.setHalt(ErrStopped)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !first && d.breakpoints[d.cpu.PC] {
			return nil
		}
		if d.maxInstructions > 0 && d.retired.Load() >= d.maxInstructions {
			return ErrInstructionLimit
		}

		if err := d.step(); err != nil {
			return err
		}
	}
}

// Step executes one block.
func (d *Dispatcher) Step() error {
	if err := d.Halted(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.setState(Running)
	defer d.idle()
	return d.step()
}

func (d *Dispatcher) idle() {
	if d.State() != Halted {
		d.setState(Idle)
	}
}

func (d *Dispatcher) step() error {
	cpu := d.cpu
	defer func() { d.pc.Store(cpu.PC) }()

	d.syncLines()
	if cpu.InterruptPending() {
		d.deliver(&emu.Exception{Code: emu.ExcInt, PC: cpu.PC}, 0)
		return nil
	}

	pc := cpu.PC
	prev := d.prev
	d.prev = nil
	if bypass(cpu, pc) {
		return d.interpret()
	}

	b, ok := d.cache.Follow(prev, pc)
	if !ok {
		var err error
		b, err = d.cache.GetOrCompile(pc, func() (*codecache.Translation, error) {
			return d.compiler.Compile(pc)
		})
		if err != nil {
			var ce *jit.CompileError
			var f *mmu.Fault
			if errors.As(err, &ce) && errors.As(ce.Err, &f) {
				d.deliver(emu.FromFault(ce.Err, pc, false), 0)
				return nil
			}
			return d.halt(pc, err)
		}
		d.cache.Link(prev, b)
	}
	defer d.cache.Release(b)

	exit, err := d.machine.Run(b.Code(), b.Start, b)
	if err != nil {
		return d.halt(pc, err)
	}
	d.blocks.Add(1)

	switch exit.Reason {
	case hostisa.ExitException:
		d.deliver(exit.Exception, exit.Retired)
	case hostisa.ExitSelfModified:
		d.retire(exit.Retired)
		cpu.PC = exit.PC
		d.cache.Remove(b)
	case hostisa.ExitNormal:
		d.retire(exit.Retired)
		cpu.PC = exit.PC
		d.prev = b
	default:
		d.retire(exit.Retired)
		cpu.PC = exit.PC
	}
	return nil
}

// bypass reports whether the instruction at pc must be interpreted.
// Blocks are cached by address alone, so code outside KUSEG runs compiled
// only in kernel mode where no segment check can fail.
func bypass(cpu *emu.CpuState, pc uint64) bool {
	return cpu.CP0.Mode() != mmu.ModeKernel && mmu.SegmentOf(pc) != mmu.SegKUSEG
}

func (d *Dispatcher) interpret() error {
	pc := d.cpu.PC
	res := d.interp.Step()
	if res.Err != nil {
		return d.halt(pc, res.Err)
	}
	if res.Exception != nil {
		d.exceptions.Add(1)
	}
	d.retired.Add(res.Retired)
	d.interpreted.Add(res.Retired)
	return nil
}

func (d *Dispatcher) deliver(exc *emu.Exception, retired uint64) {
	d.setState(HandlingException)
	d.retire(retired)
	d.cpu.EnterException(exc)
	d.exceptions.Add(1)
	d.log.V(1).Info("exception", "code", exc.Code.String(), "pc", exc.PC,
		"delaySlot", exc.InDelaySlot, "vector", d.cpu.PC)
	d.setState(Running)
}

func (d *Dispatcher) retire(n uint64) {
	d.cpu.Retire(n)
	d.retired.Add(n)
}

func (d *Dispatcher) halt(pc uint64, err error) error {
	he := &HaltError{PC: pc, Err: err}

	var ce *jit.CompileError
	if errors.As(err, &ce) {
		he.PC = ce.PC
		he.Word = ce.Word
	}
	var de *insts.DecodeError
	if he.Word == 0 && errors.As(err, &de) {
		he.Word = de.Word
	}

	return d.setHalt(he)
}

func (d *Dispatcher) setHalt(err error) error {
	d.haltMu.Lock()
	d.haltErr = err
	d.haltMu.Unlock()

	d.setState(Halted)
	d.log.Info("dispatcher halted", "reason", err.Error())
	return err
}

// Halted returns the reason execution halted, or nil.
func (d *Dispatcher) Halted() error {
	d.haltMu.RLock()
	defer d.haltMu.RUnlock()
	return d.haltErr
}

// Stop halts the dispatcher. A running Run returns ErrStopped before the
// next block.
func (d *Dispatcher) Stop() {
	d.stop.Store(true)
	if d.mu.TryLock() {
		d.setHalt(ErrStopped)
		d.mu.Unlock()
	}
}

// RaiseInterrupt asserts external interrupt line (2 to 6). The line stays
// asserted until ClearInterrupt.
func (d *Dispatcher) RaiseInterrupt(line int) error {
	if err := checkLine(line); err != nil {
		return err
	}
	d.lines.Or(1 << line)
	return nil
}

// ClearInterrupt deasserts external interrupt line.
func (d *Dispatcher) ClearInterrupt(line int) error {
	if err := checkLine(line); err != nil {
		return err
	}
	d.lines.And(^uint32(1 << line))
	return nil
}

func checkLine(line int) error {
	if line < 2 || line > 6 {
		return fmt.Errorf("interrupt line %d out of range 2-6", line)
	}
	return nil
}

func (d *Dispatcher) syncLines() {
	d.cpu.CP0.SetExternalLines(uint8(d.lines.Load()))
}
