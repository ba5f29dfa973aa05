// Package insts provides VR4300 instruction definitions and decoding.
package insts

import (
	"errors"
	"fmt"
)

// Op represents a VR4300 opcode.
type Op uint16

// VR4300 opcodes.
const (
	OpUnknown Op = iota
	OpNOP

	// Immediate arithmetic and logic
	OpADDI
	OpADDIU
	OpSLTI
	OpSLTIU
	OpANDI
	OpORI
	OpXORI
	OpLUI
	OpDADDI
	OpDADDIU

	// Register arithmetic and logic
	OpADD
	OpADDU
	OpSUB
	OpSUBU
	OpAND
	OpOR
	OpXOR
	OpNOR
	OpSLT
	OpSLTU
	OpDADD
	OpDADDU
	OpDSUB
	OpDSUBU

	// Shifts
	OpSLL
	OpSRL
	OpSRA
	OpSLLV
	OpSRLV
	OpSRAV
	OpDSLL
	OpDSRL
	OpDSRA
	OpDSLL32
	OpDSRL32
	OpDSRA32
	OpDSLLV
	OpDSRLV
	OpDSRAV

	// Multiply and divide
	OpMFHI
	OpMTHI
	OpMFLO
	OpMTLO
	OpMULT
	OpMULTU
	OpDIV
	OpDIVU
	OpDMULT
	OpDMULTU
	OpDDIV
	OpDDIVU

	// Loads
	OpLB
	OpLBU
	OpLH
	OpLHU
	OpLW
	OpLWU
	OpLWL
	OpLWR
	OpLD
	OpLDL
	OpLDR
	OpLL
	OpLLD

	// Stores
	OpSB
	OpSH
	OpSW
	OpSWL
	OpSWR
	OpSD
	OpSDL
	OpSDR
	OpSC
	OpSCD

	// Branches
	OpBEQ
	OpBNE
	OpBLEZ
	OpBGTZ
	OpBEQL
	OpBNEL
	OpBLEZL
	OpBGTZL
	OpBLTZ
	OpBGEZ
	OpBLTZL
	OpBGEZL
	OpBLTZAL
	OpBGEZAL
	OpBLTZALL
	OpBGEZALL

	// Jumps
	OpJ
	OpJAL
	OpJR
	OpJALR

	// Coprocessor 0
	OpMFC0
	OpDMFC0
	OpMTC0
	OpDMTC0
	OpTLBR
	OpTLBWI
	OpTLBWR
	OpTLBP
	OpERET

	// System and traps
	OpSYSCALL
	OpBREAK
	OpSYNC
	OpCACHE
	OpTGE
	OpTGEU
	OpTLT
	OpTLTU
	OpTEQ
	OpTNE
	OpTGEI
	OpTGEIU
	OpTLTI
	OpTLTIU
	OpTEQI
	OpTNEI

	opCount
)

// Format represents an instruction encoding format.
type Format uint8

// Instruction formats.
const (
	FormatUnknown Format = iota
	FormatI              // op rs rt immediate
	FormatJ              // op target
	FormatR              // op rs rt rd sa funct
)

// Class is the closed set of instruction kinds the block compiler matches on.
type Class uint8

// Instruction classes.
const (
	ClassArithmetic Class = iota
	ClassLoadStore
	ClassBranch
	ClassJump
	ClassCoprocessor
	ClassSystem
)

func (c Class) String() string {
	switch c {
	case ClassArithmetic:
		return "arithmetic"
	case ClassLoadStore:
		return "load/store"
	case ClassBranch:
		return "branch"
	case ClassJump:
		return "jump"
	case ClassCoprocessor:
		return "coprocessor"
	case ClassSystem:
		return "system"
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// Instruction represents a decoded VR4300 instruction.
type Instruction struct {
	Word   uint32 // Raw machine word
	Op     Op     // Operation code
	Class  Class  // Instruction class
	Format Format // Encoding format

	Rs     uint8  // Source register (base register for loads and stores)
	Rt     uint8  // Target register
	Rd     uint8  // Destination register (CP0 register for MFC0/MTC0)
	Sa     uint8  // Shift amount
	Funct  uint8  // Function field (R format)
	Imm    uint16 // Raw 16-bit immediate
	Target uint32 // 26-bit jump target
}

// SImm returns the immediate sign-extended to 64 bits.
func (i *Instruction) SImm() int64 {
	return int64(int16(i.Imm))
}

// ZImm returns the immediate zero-extended to 64 bits.
func (i *Instruction) ZImm() uint64 {
	return uint64(i.Imm)
}

// HasDelaySlot reports whether the instruction is followed by a delay slot.
func (i *Instruction) HasDelaySlot() bool {
	return i.Class == ClassBranch || i.Class == ClassJump
}

// IsLikely reports whether the instruction is a branch-likely, which
// nullifies its delay slot when the branch is not taken.
func (i *Instruction) IsLikely() bool {
	switch i.Op {
	case OpBEQL, OpBNEL, OpBLEZL, OpBGTZL, OpBLTZL, OpBGEZL, OpBLTZALL, OpBGEZALL:
		return true
	}
	return false
}

// Links reports whether the instruction writes a return address.
func (i *Instruction) Links() bool {
	switch i.Op {
	case OpJAL, OpJALR, OpBLTZAL, OpBGEZAL, OpBLTZALL, OpBGEZALL:
		return true
	}
	return false
}

// LinkRegister returns the register receiving the return address.
func (i *Instruction) LinkRegister() uint8 {
	if i.Op == OpJALR {
		return i.Rd
	}
	return 31
}

// BranchTarget returns the target of a PC-relative branch located at pc.
func (i *Instruction) BranchTarget(pc uint64) uint64 {
	return pc + 4 + uint64(i.SImm()<<2)
}

// JumpTarget returns the target of a J or JAL located at pc. The upper bits
// come from the address of the delay slot.
func (i *Instruction) JumpTarget(pc uint64) uint64 {
	return ((pc + 4) &^ 0x0FFFFFFF) | uint64(i.Target)<<2
}

// Unit identifies a coprocessor.
type Unit uint8

// Reason describes why a word failed to decode.
type Reason uint8

// Decode failure reasons.
const (
	// ReasonReserved marks an opcode or function code with no instruction.
	ReasonReserved Reason = iota
	// ReasonCoprocessorUnusable marks an instruction for a coprocessor
	// that is not implemented.
	ReasonCoprocessorUnusable
)

// ErrIllegalInstruction is matched by every DecodeError.
var ErrIllegalInstruction = errors.New("illegal instruction")

// DecodeError reports a word that is not a valid instruction.
type DecodeError struct {
	Word   uint32
	Reason Reason
	Unit   Unit // set for ReasonCoprocessorUnusable
}

func (e *DecodeError) Error() string {
	if e.Reason == ReasonCoprocessorUnusable {
		return fmt.Sprintf("illegal instruction 0x%08X: coprocessor %d unusable", e.Word, e.Unit)
	}
	return fmt.Sprintf("illegal instruction 0x%08X: reserved opcode", e.Word)
}

// Is makes errors.Is(err, ErrIllegalInstruction) hold for every DecodeError.
func (e *DecodeError) Is(target error) bool {
	return target == ErrIllegalInstruction
}

// Decoder decodes VR4300 machine words.
type Decoder struct{}

// NewDecoder creates a new instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Primary opcode field values (bits 31:26).
const (
	opSpecial = 0x00
	opRegImm  = 0x01
	opCop0    = 0x10
	opCop1    = 0x11
	opCop2    = 0x12
	opCop3    = 0x13
	opLWC1    = 0x31
	opLWC2    = 0x32
	opLDC1    = 0x35
	opLDC2    = 0x36
	opSWC1    = 0x39
	opSWC2    = 0x3A
	opSDC1    = 0x3D
	opSDC2    = 0x3E
)

type primaryEntry struct {
	op     Op
	class  Class
	format Format
}

var primaryTable = map[uint32]primaryEntry{
	0x02: {OpJ, ClassJump, FormatJ},
	0x03: {OpJAL, ClassJump, FormatJ},
	0x04: {OpBEQ, ClassBranch, FormatI},
	0x05: {OpBNE, ClassBranch, FormatI},
	0x06: {OpBLEZ, ClassBranch, FormatI},
	0x07: {OpBGTZ, ClassBranch, FormatI},
	0x08: {OpADDI, ClassArithmetic, FormatI},
	0x09: {OpADDIU, ClassArithmetic, FormatI},
	0x0A: {OpSLTI, ClassArithmetic, FormatI},
	0x0B: {OpSLTIU, ClassArithmetic, FormatI},
	0x0C: {OpANDI, ClassArithmetic, FormatI},
	0x0D: {OpORI, ClassArithmetic, FormatI},
	0x0E: {OpXORI, ClassArithmetic, FormatI},
	0x0F: {OpLUI, ClassArithmetic, FormatI},
	0x14: {OpBEQL, ClassBranch, FormatI},
	0x15: {OpBNEL, ClassBranch, FormatI},
	0x16: {OpBLEZL, ClassBranch, FormatI},
	0x17: {OpBGTZL, ClassBranch, FormatI},
	0x18: {OpDADDI, ClassArithmetic, FormatI},
	0x19: {OpDADDIU, ClassArithmetic, FormatI},
	0x1A: {OpLDL, ClassLoadStore, FormatI},
	0x1B: {OpLDR, ClassLoadStore, FormatI},
	0x20: {OpLB, ClassLoadStore, FormatI},
	0x21: {OpLH, ClassLoadStore, FormatI},
	0x22: {OpLWL, ClassLoadStore, FormatI},
	0x23: {OpLW, ClassLoadStore, FormatI},
	0x24: {OpLBU, ClassLoadStore, FormatI},
	0x25: {OpLHU, ClassLoadStore, FormatI},
	0x26: {OpLWR, ClassLoadStore, FormatI},
	0x27: {OpLWU, ClassLoadStore, FormatI},
	0x28: {OpSB, ClassLoadStore, FormatI},
	0x29: {OpSH, ClassLoadStore, FormatI},
	0x2A: {OpSWL, ClassLoadStore, FormatI},
	0x2B: {OpSW, ClassLoadStore, FormatI},
	0x2C: {OpSDL, ClassLoadStore, FormatI},
	0x2D: {OpSDR, ClassLoadStore, FormatI},
	0x2E: {OpSWR, ClassLoadStore, FormatI},
	0x2F: {OpCACHE, ClassSystem, FormatI},
	0x30: {OpLL, ClassLoadStore, FormatI},
	0x34: {OpLLD, ClassLoadStore, FormatI},
	0x37: {OpLD, ClassLoadStore, FormatI},
	0x38: {OpSC, ClassLoadStore, FormatI},
	0x3C: {OpSCD, ClassLoadStore, FormatI},
	0x3F: {OpSD, ClassLoadStore, FormatI},
}

type functEntry struct {
	op    Op
	class Class
}

var specialTable = map[uint32]functEntry{
	0x00: {OpSLL, ClassArithmetic},
	0x02: {OpSRL, ClassArithmetic},
	0x03: {OpSRA, ClassArithmetic},
	0x04: {OpSLLV, ClassArithmetic},
	0x06: {OpSRLV, ClassArithmetic},
	0x07: {OpSRAV, ClassArithmetic},
	0x08: {OpJR, ClassJump},
	0x09: {OpJALR, ClassJump},
	0x0C: {OpSYSCALL, ClassSystem},
	0x0D: {OpBREAK, ClassSystem},
	0x0F: {OpSYNC, ClassSystem},
	0x10: {OpMFHI, ClassArithmetic},
	0x11: {OpMTHI, ClassArithmetic},
	0x12: {OpMFLO, ClassArithmetic},
	0x13: {OpMTLO, ClassArithmetic},
	0x14: {OpDSLLV, ClassArithmetic},
	0x16: {OpDSRLV, ClassArithmetic},
	0x17: {OpDSRAV, ClassArithmetic},
	0x18: {OpMULT, ClassArithmetic},
	0x19: {OpMULTU, ClassArithmetic},
	0x1A: {OpDIV, ClassArithmetic},
	0x1B: {OpDIVU, ClassArithmetic},
	0x1C: {OpDMULT, ClassArithmetic},
	0x1D: {OpDMULTU, ClassArithmetic},
	0x1E: {OpDDIV, ClassArithmetic},
	0x1F: {OpDDIVU, ClassArithmetic},
	0x20: {OpADD, ClassArithmetic},
	0x21: {OpADDU, ClassArithmetic},
	0x22: {OpSUB, ClassArithmetic},
	0x23: {OpSUBU, ClassArithmetic},
	0x24: {OpAND, ClassArithmetic},
	0x25: {OpOR, ClassArithmetic},
	0x26: {OpXOR, ClassArithmetic},
	0x27: {OpNOR, ClassArithmetic},
	0x2A: {OpSLT, ClassArithmetic},
	0x2B: {OpSLTU, ClassArithmetic},
	0x2C: {OpDADD, ClassArithmetic},
	0x2D: {OpDADDU, ClassArithmetic},
	0x2E: {OpDSUB, ClassArithmetic},
	0x2F: {OpDSUBU, ClassArithmetic},
	0x30: {OpTGE, ClassSystem},
	0x31: {OpTGEU, ClassSystem},
	0x32: {OpTLT, ClassSystem},
	0x33: {OpTLTU, ClassSystem},
	0x34: {OpTEQ, ClassSystem},
	0x36: {OpTNE, ClassSystem},
	0x38: {OpDSLL, ClassArithmetic},
	0x3A: {OpDSRL, ClassArithmetic},
	0x3B: {OpDSRA, ClassArithmetic},
	0x3C: {OpDSLL32, ClassArithmetic},
	0x3E: {OpDSRL32, ClassArithmetic},
	0x3F: {OpDSRA32, ClassArithmetic},
}

var regImmTable = map[uint32]functEntry{
	0x00: {OpBLTZ, ClassBranch},
	0x01: {OpBGEZ, ClassBranch},
	0x02: {OpBLTZL, ClassBranch},
	0x03: {OpBGEZL, ClassBranch},
	0x08: {OpTGEI, ClassSystem},
	0x09: {OpTGEIU, ClassSystem},
	0x0A: {OpTLTI, ClassSystem},
	0x0B: {OpTLTIU, ClassSystem},
	0x0C: {OpTEQI, ClassSystem},
	0x0E: {OpTNEI, ClassSystem},
	0x10: {OpBLTZAL, ClassBranch},
	0x11: {OpBGEZAL, ClassBranch},
	0x12: {OpBLTZALL, ClassBranch},
	0x13: {OpBGEZALL, ClassBranch},
}

var cop0MoveTable = map[uint32]Op{
	0x00: OpMFC0,
	0x01: OpDMFC0,
	0x04: OpMTC0,
	0x05: OpDMTC0,
}

var cop0FunctTable = map[uint32]Op{
	0x01: OpTLBR,
	0x02: OpTLBWI,
	0x06: OpTLBWR,
	0x08: OpTLBP,
	0x18: OpERET,
}

// Decode decodes a 32-bit machine word. Exactly one of the results is
// non-nil; a word that is not an instruction yields a *DecodeError.
func (d *Decoder) Decode(word uint32) (*Instruction, error) {
	inst := &Instruction{
		Word:   word,
		Rs:     uint8((word >> 21) & 0x1F),
		Rt:     uint8((word >> 16) & 0x1F),
		Rd:     uint8((word >> 11) & 0x1F),
		Sa:     uint8((word >> 6) & 0x1F),
		Funct:  uint8(word & 0x3F),
		Imm:    uint16(word & 0xFFFF),
		Target: word & 0x03FFFFFF,
	}

	if word == 0 {
		inst.Op = OpNOP
		inst.Class = ClassArithmetic
		inst.Format = FormatR
		return inst, nil
	}

	opcode := word >> 26

	switch opcode {
	case opSpecial:
		return d.decodeSpecial(inst)
	case opRegImm:
		return d.decodeRegImm(inst)
	case opCop0:
		return d.decodeCop0(inst)
	case opCop1, opLWC1, opLDC1, opSWC1, opSDC1:
		return nil, &DecodeError{Word: word, Reason: ReasonCoprocessorUnusable, Unit: 1}
	case opCop2, opLWC2, opLDC2, opSWC2, opSDC2:
		return nil, &DecodeError{Word: word, Reason: ReasonCoprocessorUnusable, Unit: 2}
	case opCop3:
		return nil, &DecodeError{Word: word, Reason: ReasonCoprocessorUnusable, Unit: 3}
	}

	entry, ok := primaryTable[opcode]
	if !ok {
		return nil, &DecodeError{Word: word, Reason: ReasonReserved}
	}
	inst.Op = entry.op
	inst.Class = entry.class
	inst.Format = entry.format
	return inst, nil
}

// decodeSpecial decodes SPECIAL instructions (opcode 000000), selected by
// the function field in bits [5:0].
func (d *Decoder) decodeSpecial(inst *Instruction) (*Instruction, error) {
	entry, ok := specialTable[uint32(inst.Funct)]
	if !ok {
		return nil, &DecodeError{Word: inst.Word, Reason: ReasonReserved}
	}
	inst.Op = entry.op
	inst.Class = entry.class
	inst.Format = FormatR
	return inst, nil
}

// decodeRegImm decodes REGIMM instructions (opcode 000001), selected by the
// rt field in bits [20:16].
func (d *Decoder) decodeRegImm(inst *Instruction) (*Instruction, error) {
	entry, ok := regImmTable[uint32(inst.Rt)]
	if !ok {
		return nil, &DecodeError{Word: inst.Word, Reason: ReasonReserved}
	}
	inst.Op = entry.op
	inst.Class = entry.class
	inst.Format = FormatI
	return inst, nil
}

// decodeCop0 decodes COP0 instructions (opcode 010000).
// Format: 010000 | CO | ... When CO (bit 25) is set the function field
// selects a TLB or ERET operation, otherwise rs selects a move.
func (d *Decoder) decodeCop0(inst *Instruction) (*Instruction, error) {
	var (
		op Op
		ok bool
	)
	if inst.Word&(1<<25) != 0 {
		op, ok = cop0FunctTable[uint32(inst.Funct)]
	} else {
		op, ok = cop0MoveTable[uint32(inst.Rs)]
	}
	if !ok {
		return nil, &DecodeError{Word: inst.Word, Reason: ReasonReserved}
	}
	inst.Op = op
	inst.Class = ClassCoprocessor
	inst.Format = FormatR
	return inst, nil
}
