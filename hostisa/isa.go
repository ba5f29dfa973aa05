// Package hostisa defines HX, the host instruction set the block compiler
// targets, together with an assembler, a disassembler and the Machine that
// executes sealed HX code.
//
// Every HX instruction is InstSize bytes, little-endian:
//
//	byte 0      opcode
//	bytes 1-3   register operands a, b, c
//	bytes 4-7   aux (guest instruction position or retired count)
//	bytes 8-15  imm
//
// The Machine has NumRegs 64-bit host registers. Guest registers live in
// the CPU state and are moved in and out explicitly.
package hostisa

import (
	"encoding/binary"
	"fmt"
)

// InstSize is the encoded size of one instruction.
const InstSize = 16

// NumRegs is the number of host registers.
const NumRegs = 16

// Op is an HX opcode.
type Op uint8

// HX opcodes.
const (
	OpNop Op = iota

	// Register transfer
	OpLoadGPR  // a = gpr[b]
	OpStoreGPR // gpr[b] = a
	OpLoadImm  // a = imm
	OpMove     // a = b
	OpLoadHI   // a = HI
	OpLoadLO   // a = LO
	OpStoreHI  // HI = a
	OpStoreLO  // LO = a

	// 64-bit ALU: a = b op c
	OpAdd
	OpSub
	OpAnd
	OpOr
	OpXor
	OpNor
	OpSlt
	OpSltu

	// Immediate ALU: a = b op imm
	OpAddImm
	OpAndImm
	OpOrImm
	OpXorImm

	// 32-bit arithmetic, result sign-extended
	OpAdd32
	OpSub32
	OpSext32 // a = sext32(b)

	// Overflow-checked arithmetic; raise Ov at aux
	OpAdd32Trap
	OpSub32Trap
	OpAdd64Trap
	OpSub64Trap

	// Shifts: a = b shifted by c (register)
	OpSll32
	OpSrl32
	OpSra32
	OpDsll
	OpDsrl
	OpDsra

	// HI, LO = muldiv(b, c); imm is the guest opcode
	OpMulDiv

	// Comparisons producing 0 or 1
	OpSetEq  // a = b == c
	OpSetNe  // a = b != c
	OpSetLtz // a = int64(b) < 0
	OpSetGez
	OpSetLez
	OpSetGtz
	OpSetTrap // a = trap condition imm (guest opcode) of b, c

	// Exceptions
	OpTrapIf // raise exception imm at aux when a != 0
	OpRaise  // raise exception imm (unit c) at aux

	// Memory; c = width | signed<<4 (or partial kind); aux is the position
	OpLoad         // a = mem[b + imm]
	OpStore        // mem[b + imm] = a
	OpLoadPartial  // a = merge(mem[b + imm], a)
	OpStorePartial // merge a into mem[b + imm]
	OpLoadLinked   // a = mem[b + imm], set LLBit
	OpStoreCond    // if LLBit { mem[b + imm] = a; a = 1 } else { a = 0 }
	OpLoadPhys     // a = phys[imm]
	OpStorePhys    // phys[imm] = a

	// Control
	OpSkipIfZero // if a == 0 skip imm instructions
	OpSkip       // skip imm instructions
	OpExit       // leave with PC = imm, retired = aux
	OpExitReg    // leave with PC = a, retired = aux
	OpGuard      // leave with SelfModified at PC = imm, retired = aux, if the block was invalidated
	OpPoll       // leave with Interrupt at PC = imm, retired = aux, if one is pending
	OpFetchCheck // fetch imm as a delay slot at aux

	// Coprocessor 0; b is the CP0 register, c != 0 selects the 64-bit form
	OpMFC0 // a = cp0[b]
	OpMTC0 // cp0[b] = a
	OpTLBR
	OpTLBWI
	OpTLBWR
	OpTLBP
	OpERET // return from exception and leave, retired = aux

	opCount
)

// Inst is a decoded HX instruction.
type Inst struct {
	Op      Op
	A, B, C uint8
	Aux     uint32
	Imm     uint64
}

// Encode writes in to buf, which must hold InstSize bytes.
func Encode(buf []byte, in Inst) {
	buf[0] = byte(in.Op)
	buf[1] = in.A
	buf[2] = in.B
	buf[3] = in.C
	binary.LittleEndian.PutUint32(buf[4:], in.Aux)
	binary.LittleEndian.PutUint64(buf[8:], in.Imm)
}

// Decode reads the instruction at the start of buf.
func Decode(buf []byte) Inst {
	return Inst{
		Op:  Op(buf[0]),
		A:   buf[1],
		B:   buf[2],
		C:   buf[3],
		Aux: binary.LittleEndian.Uint32(buf[4:]),
		Imm: binary.LittleEndian.Uint64(buf[8:]),
	}
}

// Validate checks that code is a whole number of well-formed instructions
// ending in an unconditional exit.
func Validate(code []byte) error {
	if len(code) == 0 || len(code)%InstSize != 0 {
		return fmt.Errorf("code size %d is not a positive multiple of %d", len(code), InstSize)
	}

	n := len(code) / InstSize
	for i := 0; i < n; i++ {
		in := Decode(code[i*InstSize:])
		if in.Op >= opCount {
			return fmt.Errorf("instruction %d: invalid opcode %d", i, in.Op)
		}
		if in.A >= NumRegs || in.B >= NumRegs && in.Op != OpLoadGPR &&
			in.Op != OpStoreGPR && !isCP0(in.Op) {
			return fmt.Errorf("instruction %d: register out of range", i)
		}
		if (in.Op == OpSkip || in.Op == OpSkipIfZero) && i+1+int(in.Imm) > n {
			return fmt.Errorf("instruction %d: skip past end of code", i)
		}
	}

	switch Decode(code[(n-1)*InstSize:]).Op {
	case OpExit, OpExitReg, OpERET, OpRaise, OpFetchCheck:
		return nil
	}
	return fmt.Errorf("code does not end in an exit")
}

func isCP0(op Op) bool {
	return op == OpMFC0 || op == OpMTC0
}

// Position identifies the guest instruction an HX instruction belongs to:
// its index within the block and whether it sits in a delay slot.
type Position uint32

const delayFlag = 1 << 31

// At returns the position of the index-th guest instruction of a block.
func At(index int, inDelaySlot bool) Position {
	p := Position(index)
	if inDelaySlot {
		p |= delayFlag
	}
	return p
}

// Index returns the guest instruction index.
func (p Position) Index() int {
	return int(p &^ delayFlag)
}

// InDelaySlot reports whether the instruction sits in a delay slot.
func (p Position) InDelaySlot() bool {
	return p&delayFlag != 0
}

// MemFlags packs a width and signedness into the c operand.
func MemFlags(width uint8, signed bool) uint8 {
	if signed {
		return width | 1<<4
	}
	return width
}
