// Package jit compiles guest basic blocks into HX host code.
//
// A block starts at a guest PC and extends until a branch or jump and its
// delay slot, an instruction that always raises an exception or changes the
// translation context, the end of a 4 KiB page, or the configured maximum
// length. Every emitted instruction that can fault carries its position in
// the block so that compiled code reports the same EPC, BD bit and retired
// count as the reference interpreter.
package jit

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/sarchlab/n64jit/codecache"
	"github.com/sarchlab/n64jit/emu"
	"github.com/sarchlab/n64jit/hostisa"
	"github.com/sarchlab/n64jit/insts"
	"github.com/sarchlab/n64jit/mmu"
)

// Defaults for the compiler options.
const (
	DefaultMaxBlock     = 128
	DefaultPollInterval = 32
)

const pageMask = 1<<mmu.PageShift - 1

// CompileError reports a block that could not be compiled: the first
// instruction could not be fetched, or it is illegal under the halt policy.
type CompileError struct {
	PC   uint64
	Word uint32
	Err  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("cannot compile block at PC=0x%016X: %v", e.PC, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// Compiler translates guest code fetched through a memory bridge.
type Compiler struct {
	bridge  *mmu.Bridge
	decoder *insts.Decoder
	log     logr.Logger

	maxBlock     int
	pollInterval int
	trapIllegal  bool
	fastMemory   bool
	stops        map[uint64]struct{}

	blocks atomic.Uint64
	guest  atomic.Uint64
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithMaxBlock sets the maximum number of guest instructions per block.
// A branch is never separated from its delay slot, so a block may exceed
// the limit by one.
func WithMaxBlock(n int) Option {
	return func(c *Compiler) {
		c.maxBlock = n
	}
}

// WithPollInterval sets how many guest instructions may run between
// interrupt polls. Zero disables polling inside blocks.
func WithPollInterval(n int) Option {
	return func(c *Compiler) {
		c.pollInterval = n
	}
}

// WithTrapIllegal compiles illegal instructions into reserved-instruction
// or coprocessor-unusable exceptions instead of failing.
func WithTrapIllegal(trap bool) Option {
	return func(c *Compiler) {
		c.trapIllegal = trap
	}
}

// WithFastMemory lets the compiler turn accesses through a known KSEG0 or
// KSEG1 address into direct RAM accesses.
func WithFastMemory(enabled bool) Option {
	return func(c *Compiler) {
		c.fastMemory = enabled
	}
}

// WithStopBefore ends blocks before any of addrs so that the caller can
// stop there. A block starting at one of them still compiles.
func WithStopBefore(addrs ...uint64) Option {
	return func(c *Compiler) {
		if c.stops == nil {
			c.stops = make(map[uint64]struct{}, len(addrs))
		}
		for _, a := range addrs {
			c.stops[a] = struct{}{}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(c *Compiler) {
		c.log = log
	}
}

// NewCompiler creates a compiler fetching guest code through bridge.
func NewCompiler(bridge *mmu.Bridge, opts ...Option) *Compiler {
	c := &Compiler{
		bridge:       bridge,
		decoder:      insts.NewDecoder(),
		log:          logr.Discard(),
		maxBlock:     DefaultMaxBlock,
		pollInterval: DefaultPollInterval,
		fastMemory:   true,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.maxBlock < 1 {
		c.maxBlock = 1
	}
	return c
}

// Compiled returns the number of blocks and guest instructions compiled.
func (c *Compiler) Compiled() (blocks, guestInsts uint64) {
	return c.blocks.Load(), c.guest.Load()
}

// Compile translates the block starting at start.
func (c *Compiler) Compile(start uint64) (*codecache.Translation, error) {
	asm := hostisa.NewAssembler()
	b := &block{
		c:      c,
		start:  start,
		asm:    asm,
		regs:   NewRegisterModel(asm),
		direct: isDirect(start),
	}

	if err := b.build(); err != nil {
		return nil, err
	}

	code := asm.Bytes()
	if err := hostisa.Validate(code); err != nil {
		return nil, fmt.Errorf("block at 0x%016X produced invalid code: %w", start, err)
	}

	c.blocks.Add(1)
	c.guest.Add(uint64(b.n))
	c.log.V(2).Info("block compiled", "start", start, "insts", b.n,
		"hostInsts", asm.Len(), "mapped", b.mapped)

	return &codecache.Translation{
		Start:      start,
		Code:       code,
		GuestInsts: b.n,
		Ranges:     b.ranges,
		Mapped:     b.mapped,
	}, nil
}

func (c *Compiler) stopsAt(pc uint64) bool {
	_, ok := c.stops[pc]
	return ok
}

func isDirect(vaddr uint64) bool {
	seg := mmu.SegmentOf(vaddr)
	return seg == mmu.SegKSEG0 || seg == mmu.SegKSEG1
}

// block holds the state of one compilation.
type block struct {
	c     *Compiler
	start uint64
	asm   *hostisa.Assembler
	regs  *RegisterModel

	// n is the number of guest instructions consumed so far.
	n      int
	ranges []codecache.PhysRange
	mapped bool
	direct bool
}

// fetched is a guest instruction read during compilation.
type fetched struct {
	inst  *insts.Instruction
	word  uint32
	fault error
	bad   *insts.DecodeError
}

func (b *block) fetch(pc uint64) fetched {
	word, ref, err := b.c.bridge.FetchWord(pc)
	if err != nil {
		if mmu.SegmentOf(pc).Mapped() {
			b.mapped = true
		}
		return fetched{fault: err}
	}
	b.record(ref)

	inst, err := b.c.decoder.Decode(word)
	if err != nil {
		var de *insts.DecodeError
		if !errors.As(err, &de) {
			de = &insts.DecodeError{Word: word}
		}
		return fetched{word: word, bad: de}
	}
	return fetched{inst: inst, word: word}
}

func (b *block) record(ref mmu.PhysicalRef) {
	if ref.Mapped {
		b.mapped = true
	}
	if k := len(b.ranges) - 1; k >= 0 && b.ranges[k].Hi == ref.Addr {
		b.ranges[k].Hi += 4
		return
	}
	b.ranges = append(b.ranges, codecache.PhysRange{Lo: ref.Addr, Hi: ref.Addr + 4})
}

// unrecord drops the range of the most recently fetched word.
func (b *block) unrecord() {
	k := len(b.ranges) - 1
	b.ranges[k].Hi -= 4
	if b.ranges[k].Hi == b.ranges[k].Lo {
		b.ranges = b.ranges[:k]
	}
}

func (b *block) pc() uint64 {
	return b.start + 4*uint64(b.n)
}

func (b *block) build() error {
	c := b.c
	for {
		pc := b.pc()
		if b.n > 0 {
			if b.n >= c.maxBlock || pc&pageMask == 0 || c.stopsAt(pc) {
				b.asm.Exit(pc, b.n)
				return nil
			}
			if c.pollInterval > 0 && b.n%c.pollInterval == 0 {
				b.asm.Poll(pc, b.n)
			}
		}

		f := b.fetch(pc)
		switch {
		case f.fault != nil:
			if b.n == 0 {
				return &CompileError{PC: pc, Err: f.fault}
			}
			b.asm.Exit(pc, b.n)
			return nil

		case f.bad != nil && !c.trapIllegal:
			if b.n == 0 {
				return &CompileError{PC: pc, Word: f.word, Err: f.bad}
			}
			b.unrecord()
			b.asm.Exit(pc, b.n)
			return nil

		case f.bad != nil:
			b.raiseIllegal(f.bad, hostisa.At(b.n, false))
			b.n++
			return nil

		case f.inst.HasDelaySlot():
			return b.branch(f.inst, pc)
		}

		b.regs.Begin()
		end := b.emit(f.inst, pc, b.n, false)
		b.n++

		switch end {
		case terminated:
			return nil
		case endAfter:
			b.asm.Exit(b.pc(), b.n)
			return nil
		}
	}
}

func (b *block) raiseIllegal(de *insts.DecodeError, pos hostisa.Position) {
	exc := emu.FromDecodeError(de, 0, false)
	b.asm.Raise(uint8(exc.Code), exc.Unit, pos)
}

// branch compiles a branch or jump at pc together with its delay slot and
// ends the block.
func (b *block) branch(inst *insts.Instruction, pc uint64) error {
	slotPC := pc + 4
	slot := b.fetch(slotPC)

	if slot.bad != nil && !b.c.trapIllegal {
		if b.n == 0 {
			return &CompileError{PC: slotPC, Word: slot.word, Err: slot.bad}
		}
		// Leave the branch to a block of its own so that the error is
		// reported with the branch as the next instruction.
		b.unrecord()
		b.unrecord()
		b.asm.Exit(pc, b.n)
		return nil
	}

	i := b.n
	a := b.asm
	r := b.regs
	r.Begin()

	switch inst.Op {
	case insts.OpJ, insts.OpJAL:
	case insts.OpJR, insts.OpJALR:
		r.ReadInto(regTarget, inst.Rs)
	case insts.OpBEQ, insts.OpBEQL, insts.OpBNE, insts.OpBNEL:
		op := hostisa.OpSetEq
		if inst.Op == insts.OpBNE || inst.Op == insts.OpBNEL {
			op = hostisa.OpSetNe
		}
		a.ALU(op, regCond, r.Read(inst.Rs), r.Read(inst.Rt))
	default:
		a.ALU(zeroCompare(inst.Op), regCond, r.Read(inst.Rs), 0)
	}
	if inst.Links() {
		r.SetConst(inst.LinkRegister(), pc+8)
	}

	likely := inst.IsLikely()
	var notTaken hostisa.Label
	if likely {
		notTaken = a.SkipIfZero(regCond)
	}

	slotPos := hostisa.At(i+1, true)
	switch {
	case slot.fault != nil:
		a.FetchCheck(slotPC, slotPos)
	case slot.bad != nil:
		b.raiseIllegal(slot.bad, slotPos)
	case slot.inst.HasDelaySlot() || slot.inst.Op == insts.OpERET:
		a.Raise(uint8(emu.ExcRI), 0, slotPos)
	default:
		r.Begin()
		b.emit(slot.inst, slotPC, i+1, true)
	}

	b.n = i + 2
	if slot.fault != nil {
		b.n = i + 1
	}

	switch inst.Op {
	case insts.OpJ, insts.OpJAL:
		a.Exit(inst.JumpTarget(pc), i+2)
		return nil
	case insts.OpJR, insts.OpJALR:
		a.ExitReg(regTarget, i+2)
		return nil
	}

	if !likely {
		notTaken = a.SkipIfZero(regCond)
	}
	a.Exit(inst.BranchTarget(pc), i+2)
	a.Bind(notTaken)
	if likely {
		a.Exit(pc+8, i+1)
	} else {
		a.Exit(pc+8, i+2)
	}
	return nil
}

func zeroCompare(op insts.Op) hostisa.Op {
	switch op {
	case insts.OpBLEZ, insts.OpBLEZL:
		return hostisa.OpSetLez
	case insts.OpBGTZ, insts.OpBGTZL:
		return hostisa.OpSetGtz
	case insts.OpBLTZ, insts.OpBLTZL, insts.OpBLTZAL, insts.OpBLTZALL:
		return hostisa.OpSetLtz
	}
	return hostisa.OpSetGez
}
