package emu

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sarchlab/n64jit/insts"
	"github.com/sarchlab/n64jit/mmu"
)

// ErrInstructionLimit is returned by Run when the instruction limit is hit.
var ErrInstructionLimit = errors.New("instruction limit reached")

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Retired is the number of instructions that completed: 2 for a branch
	// and its delay slot, 1 for a nullified likely branch.
	Retired uint64

	// Exception is the exception taken, if any. It has already been
	// delivered: PC points at the exception vector.
	Exception *Exception

	// Err is set if the instruction could not be executed at all. The
	// state is left as before the instruction.
	Err error
}

// Emulator is the reference interpreter. It executes one instruction at a
// time (a branch together with its delay slot) and defines the behaviour
// compiled code must reproduce.
type Emulator struct {
	state   *CpuState
	bridge  *mmu.Bridge
	decoder *insts.Decoder
	log     logr.Logger

	trapIllegal bool
	breakpoints map[uint64]bool

	instructionCount uint64
	maxInstructions  uint64 // 0 means no limit
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithLogger sets the logger.
func WithLogger(log logr.Logger) EmulatorOption {
	return func(e *Emulator) {
		e.log = log
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// WithTrapIllegal makes illegal instructions raise a reserved-instruction
// or coprocessor-unusable exception instead of stopping the interpreter.
func WithTrapIllegal(trap bool) EmulatorOption {
	return func(e *Emulator) {
		e.trapIllegal = trap
	}
}

// WithBreakpoint makes Run return when PC reaches addr.
func WithBreakpoint(addr uint64) EmulatorOption {
	return func(e *Emulator) {
		e.breakpoints[addr] = true
	}
}

// NewEmulator creates an interpreter over state, performing memory accesses
// through bridge. The bridge translates with the privilege of state.
func NewEmulator(state *CpuState, bridge *mmu.Bridge, opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		state:       state,
		bridge:      bridge,
		decoder:     insts.NewDecoder(),
		log:         logr.Discard(),
		breakpoints: make(map[uint64]bool),
	}

	for _, opt := range opts {
		opt(e)
	}

	bridge.SetPrivilege(&state.CP0)
	return e
}

// State returns the CPU state.
func (e *Emulator) State() *CpuState {
	return e.state
}

// Bridge returns the memory bridge.
func (e *Emulator) Bridge() *mmu.Bridge {
	return e.bridge
}

// InstructionCount returns the number of instructions retired.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// Step executes the instruction at PC, together with its delay slot if it
// is a branch or jump.
func (e *Emulator) Step() StepResult {
	s := e.state
	pc := s.PC

	if s.InterruptPending() {
		exc := &Exception{Code: ExcInt, PC: pc}
		return e.deliver(exc, 0)
	}

	inst, exc, err := e.fetch(pc, false)
	if err != nil {
		return StepResult{Err: err}
	}
	if exc != nil {
		return e.deliver(exc, 0)
	}

	if !inst.HasDelaySlot() {
		next := pc + 4
		if exc := e.execute(inst, pc, false, &next); exc != nil {
			return e.deliver(exc, 0)
		}
		s.PC = next
		return e.retire(1)
	}

	rs := s.ReadReg(inst.Rs)
	taken := BranchTaken(inst.Op, rs, s.ReadReg(inst.Rt))
	target := branchTarget(inst, pc, rs)
	if inst.Links() {
		s.WriteReg(inst.LinkRegister(), pc+8)
	}

	if inst.IsLikely() && !taken {
		s.PC = pc + 8
		return e.retire(1)
	}

	slotPC := pc + 4
	slot, exc, err := e.fetch(slotPC, true)
	if err != nil {
		return StepResult{Err: err}
	}
	if exc != nil {
		return e.deliver(exc, 1)
	}

	next := slotPC + 4
	if exc := e.execute(slot, slotPC, true, &next); exc != nil {
		return e.deliver(exc, 1)
	}

	if taken {
		s.PC = target
	} else {
		s.PC = pc + 8
	}
	return e.retire(2)
}

// Run executes instructions until a breakpoint, the instruction limit or an
// error. Exceptions are delivered and execution continues at the vector.
func (e *Emulator) Run() error {
	for {
		if e.breakpoints[e.state.PC] {
			return nil
		}
		if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
			return ErrInstructionLimit
		}

		result := e.Step()
		if result.Err != nil {
			return result.Err
		}
	}
}

func (e *Emulator) retire(n uint64) StepResult {
	e.instructionCount += n
	e.state.Retire(n)
	return StepResult{Retired: n}
}

func (e *Emulator) deliver(exc *Exception, retired uint64) StepResult {
	if retired > 0 {
		e.instructionCount += retired
		e.state.Retire(retired)
	}
	e.log.V(1).Info("exception", "code", exc.Code.String(), "pc", exc.PC,
		"delaySlot", exc.InDelaySlot)
	e.state.EnterException(exc)
	return StepResult{Retired: retired, Exception: exc}
}

// fetch reads and decodes the instruction at pc. A fetch fault or an
// illegal instruction under the trap policy becomes an exception; under the
// halt policy an illegal instruction is an error.
func (e *Emulator) fetch(pc uint64, inDelay bool) (*insts.Instruction, *Exception, error) {
	word, _, err := e.bridge.FetchWord(pc)
	if err != nil {
		return nil, FromFault(err, pc, inDelay), nil
	}

	inst, err := e.decoder.Decode(word)
	if err != nil {
		var de *insts.DecodeError
		if e.trapIllegal && errors.As(err, &de) {
			return nil, FromDecodeError(de, pc, inDelay), nil
		}
		return nil, nil, fmt.Errorf("PC=0x%016X: %w", pc, err)
	}

	if inDelay && (inst.HasDelaySlot() || inst.Op == insts.OpERET) {
		return nil, &Exception{Code: ExcRI, PC: pc, InDelaySlot: true}, nil
	}
	return inst, nil, nil
}

// execute performs a non-branch instruction. next holds the address of the
// following instruction and may be redirected (ERET).
func (e *Emulator) execute(inst *insts.Instruction, pc uint64, inDelay bool, next *uint64) *Exception {
	s := e.state
	rs := s.ReadReg(inst.Rs)
	rt := s.ReadReg(inst.Rt)
	simm := uint64(inst.SImm())

	raise := func(code ExcCode) *Exception {
		return &Exception{Code: code, PC: pc, InDelaySlot: inDelay}
	}
	checked := func(dst uint8, v uint64, ovf bool) *Exception {
		if ovf {
			return raise(ExcOv)
		}
		s.WriteReg(dst, v)
		return nil
	}

	switch inst.Op {
	case insts.OpNOP, insts.OpSYNC, insts.OpCACHE:

	// Immediate arithmetic
	case insts.OpADDI:
		v, ovf := Add32(rs, simm)
		return checked(inst.Rt, v, ovf)
	case insts.OpADDIU:
		v, _ := Add32(rs, simm)
		s.WriteReg(inst.Rt, v)
	case insts.OpDADDI:
		v, ovf := Add64(rs, simm)
		return checked(inst.Rt, v, ovf)
	case insts.OpDADDIU:
		v, _ := Add64(rs, simm)
		s.WriteReg(inst.Rt, v)
	case insts.OpSLTI:
		s.WriteReg(inst.Rt, SetLess(rs, simm))
	case insts.OpSLTIU:
		s.WriteReg(inst.Rt, SetLessUnsigned(rs, simm))
	case insts.OpANDI:
		s.WriteReg(inst.Rt, rs&inst.ZImm())
	case insts.OpORI:
		s.WriteReg(inst.Rt, rs|inst.ZImm())
	case insts.OpXORI:
		s.WriteReg(inst.Rt, rs^inst.ZImm())
	case insts.OpLUI:
		s.WriteReg(inst.Rt, SignExtend32(inst.ZImm()<<16))

	// Register arithmetic
	case insts.OpADD:
		v, ovf := Add32(rs, rt)
		return checked(inst.Rd, v, ovf)
	case insts.OpADDU:
		v, _ := Add32(rs, rt)
		s.WriteReg(inst.Rd, v)
	case insts.OpSUB:
		v, ovf := Sub32(rs, rt)
		return checked(inst.Rd, v, ovf)
	case insts.OpSUBU:
		v, _ := Sub32(rs, rt)
		s.WriteReg(inst.Rd, v)
	case insts.OpDADD:
		v, ovf := Add64(rs, rt)
		return checked(inst.Rd, v, ovf)
	case insts.OpDADDU:
		s.WriteReg(inst.Rd, rs+rt)
	case insts.OpDSUB:
		v, ovf := Sub64(rs, rt)
		return checked(inst.Rd, v, ovf)
	case insts.OpDSUBU:
		s.WriteReg(inst.Rd, rs-rt)
	case insts.OpAND:
		s.WriteReg(inst.Rd, rs&rt)
	case insts.OpOR:
		s.WriteReg(inst.Rd, rs|rt)
	case insts.OpXOR:
		s.WriteReg(inst.Rd, rs^rt)
	case insts.OpNOR:
		s.WriteReg(inst.Rd, ^(rs | rt))
	case insts.OpSLT:
		s.WriteReg(inst.Rd, SetLess(rs, rt))
	case insts.OpSLTU:
		s.WriteReg(inst.Rd, SetLessUnsigned(rs, rt))

	// Shifts
	case insts.OpSLL, insts.OpSRL, insts.OpSRA:
		s.WriteReg(inst.Rd, Shift32(shiftKind(inst.Op), rt, uint64(inst.Sa)))
	case insts.OpSLLV, insts.OpSRLV, insts.OpSRAV:
		s.WriteReg(inst.Rd, Shift32(shiftKind(inst.Op), rt, rs))
	case insts.OpDSLL, insts.OpDSRL, insts.OpDSRA:
		s.WriteReg(inst.Rd, Shift64(shiftKind(inst.Op), rt, uint64(inst.Sa)))
	case insts.OpDSLL32, insts.OpDSRL32, insts.OpDSRA32:
		s.WriteReg(inst.Rd, Shift64(shiftKind(inst.Op), rt, uint64(inst.Sa)+32))
	case insts.OpDSLLV, insts.OpDSRLV, insts.OpDSRAV:
		s.WriteReg(inst.Rd, Shift64(shiftKind(inst.Op), rt, rs))

	// Multiply and divide
	case insts.OpMFHI:
		s.WriteReg(inst.Rd, s.HI)
	case insts.OpMFLO:
		s.WriteReg(inst.Rd, s.LO)
	case insts.OpMTHI:
		s.HI = rs
	case insts.OpMTLO:
		s.LO = rs
	case insts.OpMULT, insts.OpMULTU, insts.OpDIV, insts.OpDIVU,
		insts.OpDMULT, insts.OpDMULTU, insts.OpDDIV, insts.OpDDIVU:
		s.HI, s.LO = MulDiv(inst.Op, rs, rt)

	// Traps
	case insts.OpTGE, insts.OpTGEU, insts.OpTLT, insts.OpTLTU, insts.OpTEQ, insts.OpTNE:
		if TrapTaken(inst.Op, rs, rt) {
			return raise(ExcTr)
		}
	case insts.OpTGEI, insts.OpTGEIU, insts.OpTLTI, insts.OpTLTIU, insts.OpTEQI, insts.OpTNEI:
		if TrapTaken(inst.Op, rs, simm) {
			return raise(ExcTr)
		}
	case insts.OpSYSCALL:
		return raise(ExcSys)
	case insts.OpBREAK:
		return raise(ExcBp)

	// Coprocessor 0
	case insts.OpMFC0:
		s.WriteReg(inst.Rt, s.MoveFromCP0(inst.Rd, false))
	case insts.OpDMFC0:
		s.WriteReg(inst.Rt, s.MoveFromCP0(inst.Rd, true))
	case insts.OpMTC0:
		s.MoveToCP0(e.bridge, inst.Rd, rt, false)
	case insts.OpDMTC0:
		s.MoveToCP0(e.bridge, inst.Rd, rt, true)
	case insts.OpTLBR:
		s.TLBRead(e.bridge)
	case insts.OpTLBWI:
		s.TLBWriteIndexed(e.bridge)
	case insts.OpTLBWR:
		s.TLBWriteRandom(e.bridge)
	case insts.OpTLBP:
		s.TLBProbe(e.bridge)
	case insts.OpERET:
		s.ReturnFromException()
		*next = s.PC
		s.PC = pc

	default:
		a, ok := MemAccessOf(inst.Op)
		if !ok {
			return raise(ExcRI)
		}
		if err := e.loadStore(inst, a); err != nil {
			return FromFault(err, pc, inDelay)
		}
	}
	return nil
}

func shiftKind(op insts.Op) uint8 {
	switch op {
	case insts.OpSLL, insts.OpSLLV, insts.OpDSLL, insts.OpDSLL32, insts.OpDSLLV:
		return 0
	case insts.OpSRL, insts.OpSRLV, insts.OpDSRL, insts.OpDSRL32, insts.OpDSRLV:
		return 1
	}
	return 2
}

// MulDiv returns HI and LO for a multiply or divide opcode.
func MulDiv(op insts.Op, rs, rt uint64) (hi, lo uint64) {
	switch op {
	case insts.OpMULT:
		return Mult(rs, rt)
	case insts.OpMULTU:
		return Multu(rs, rt)
	case insts.OpDIV:
		return Div(rs, rt)
	case insts.OpDIVU:
		return Divu(rs, rt)
	case insts.OpDMULT:
		return Dmult(rs, rt)
	case insts.OpDMULTU:
		return Dmultu(rs, rt)
	case insts.OpDDIV:
		return Ddiv(rs, rt)
	}
	return Ddivu(rs, rt)
}
