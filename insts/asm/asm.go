// Package asm encodes VR4300 instructions into machine words. It is used to
// build guest programs for tests and benchmarks.
package asm

import "encoding/binary"

// Register numbers by ABI name.
const (
	Zero uint8 = iota
	AT
	V0
	V1
	A0
	A1
	A2
	A3
	T0
	T1
	T2
	T3
	T4
	T5
	T6
	T7
	S0
	S1
	S2
	S3
	S4
	S5
	S6
	S7
	T8
	T9
	K0
	K1
	GP
	SP
	FP
	RA
)

// I encodes an I-format instruction.
func I(op uint32, rs, rt uint8, imm uint16) uint32 {
	return op<<26 | uint32(rs&0x1F)<<21 | uint32(rt&0x1F)<<16 | uint32(imm)
}

// R encodes an R-format SPECIAL instruction.
func R(funct uint32, rs, rt, rd, sa uint8) uint32 {
	return uint32(rs&0x1F)<<21 | uint32(rt&0x1F)<<16 | uint32(rd&0x1F)<<11 |
		uint32(sa&0x1F)<<6 | funct&0x3F
}

// J encodes a J-format instruction with a byte target.
func J(op uint32, target uint64) uint32 {
	return op<<26 | uint32(target>>2)&0x03FFFFFF
}

func regImm(rt uint8, rs uint8, off int16) uint32 {
	return I(0x01, rs, rt, uint16(off))
}

func cop0(rs uint8, rt, rd uint8) uint32 {
	return 0x10<<26 | uint32(rs)<<21 | uint32(rt&0x1F)<<16 | uint32(rd&0x1F)<<11
}

// NOP is the canonical no-op (SLL $zero, $zero, 0).
const NOP uint32 = 0

// Immediate arithmetic.
func ADDI(rt, rs uint8, imm int16) uint32   { return I(0x08, rs, rt, uint16(imm)) }
func ADDIU(rt, rs uint8, imm int16) uint32  { return I(0x09, rs, rt, uint16(imm)) }
func SLTI(rt, rs uint8, imm int16) uint32   { return I(0x0A, rs, rt, uint16(imm)) }
func SLTIU(rt, rs uint8, imm int16) uint32  { return I(0x0B, rs, rt, uint16(imm)) }
func ANDI(rt, rs uint8, imm uint16) uint32  { return I(0x0C, rs, rt, imm) }
func ORI(rt, rs uint8, imm uint16) uint32   { return I(0x0D, rs, rt, imm) }
func XORI(rt, rs uint8, imm uint16) uint32  { return I(0x0E, rs, rt, imm) }
func LUI(rt uint8, imm uint16) uint32       { return I(0x0F, 0, rt, imm) }
func DADDI(rt, rs uint8, imm int16) uint32  { return I(0x18, rs, rt, uint16(imm)) }
func DADDIU(rt, rs uint8, imm int16) uint32 { return I(0x19, rs, rt, uint16(imm)) }

// Register arithmetic.
func ADD(rd, rs, rt uint8) uint32   { return R(0x20, rs, rt, rd, 0) }
func ADDU(rd, rs, rt uint8) uint32  { return R(0x21, rs, rt, rd, 0) }
func SUB(rd, rs, rt uint8) uint32   { return R(0x22, rs, rt, rd, 0) }
func SUBU(rd, rs, rt uint8) uint32  { return R(0x23, rs, rt, rd, 0) }
func AND(rd, rs, rt uint8) uint32   { return R(0x24, rs, rt, rd, 0) }
func OR(rd, rs, rt uint8) uint32    { return R(0x25, rs, rt, rd, 0) }
func XOR(rd, rs, rt uint8) uint32   { return R(0x26, rs, rt, rd, 0) }
func NOR(rd, rs, rt uint8) uint32   { return R(0x27, rs, rt, rd, 0) }
func SLT(rd, rs, rt uint8) uint32   { return R(0x2A, rs, rt, rd, 0) }
func SLTU(rd, rs, rt uint8) uint32  { return R(0x2B, rs, rt, rd, 0) }
func DADD(rd, rs, rt uint8) uint32  { return R(0x2C, rs, rt, rd, 0) }
func DADDU(rd, rs, rt uint8) uint32 { return R(0x2D, rs, rt, rd, 0) }
func DSUB(rd, rs, rt uint8) uint32  { return R(0x2E, rs, rt, rd, 0) }
func DSUBU(rd, rs, rt uint8) uint32 { return R(0x2F, rs, rt, rd, 0) }

// Shifts.
func SLL(rd, rt, sa uint8) uint32    { return R(0x00, 0, rt, rd, sa) }
func SRL(rd, rt, sa uint8) uint32    { return R(0x02, 0, rt, rd, sa) }
func SRA(rd, rt, sa uint8) uint32    { return R(0x03, 0, rt, rd, sa) }
func SLLV(rd, rt, rs uint8) uint32   { return R(0x04, rs, rt, rd, 0) }
func SRLV(rd, rt, rs uint8) uint32   { return R(0x06, rs, rt, rd, 0) }
func SRAV(rd, rt, rs uint8) uint32   { return R(0x07, rs, rt, rd, 0) }
func DSLLV(rd, rt, rs uint8) uint32  { return R(0x14, rs, rt, rd, 0) }
func DSRLV(rd, rt, rs uint8) uint32  { return R(0x16, rs, rt, rd, 0) }
func DSRAV(rd, rt, rs uint8) uint32  { return R(0x17, rs, rt, rd, 0) }
func DSLL(rd, rt, sa uint8) uint32   { return R(0x38, 0, rt, rd, sa) }
func DSRL(rd, rt, sa uint8) uint32   { return R(0x3A, 0, rt, rd, sa) }
func DSRA(rd, rt, sa uint8) uint32   { return R(0x3B, 0, rt, rd, sa) }
func DSLL32(rd, rt, sa uint8) uint32 { return R(0x3C, 0, rt, rd, sa) }
func DSRL32(rd, rt, sa uint8) uint32 { return R(0x3E, 0, rt, rd, sa) }
func DSRA32(rd, rt, sa uint8) uint32 { return R(0x3F, 0, rt, rd, sa) }

// Multiply and divide.
func MFHI(rd uint8) uint32         { return R(0x10, 0, 0, rd, 0) }
func MTHI(rs uint8) uint32         { return R(0x11, rs, 0, 0, 0) }
func MFLO(rd uint8) uint32         { return R(0x12, 0, 0, rd, 0) }
func MTLO(rs uint8) uint32         { return R(0x13, rs, 0, 0, 0) }
func MULT(rs, rt uint8) uint32     { return R(0x18, rs, rt, 0, 0) }
func MULTU(rs, rt uint8) uint32    { return R(0x19, rs, rt, 0, 0) }
func DIV(rs, rt uint8) uint32      { return R(0x1A, rs, rt, 0, 0) }
func DIVU(rs, rt uint8) uint32     { return R(0x1B, rs, rt, 0, 0) }
func DMULT(rs, rt uint8) uint32    { return R(0x1C, rs, rt, 0, 0) }
func DMULTU(rs, rt uint8) uint32   { return R(0x1D, rs, rt, 0, 0) }
func DDIV(rs, rt uint8) uint32     { return R(0x1E, rs, rt, 0, 0) }
func DDIVU(rs, rt uint8) uint32    { return R(0x1F, rs, rt, 0, 0) }

// Loads and stores.
func LB(rt, base uint8, off int16) uint32  { return I(0x20, base, rt, uint16(off)) }
func LH(rt, base uint8, off int16) uint32  { return I(0x21, base, rt, uint16(off)) }
func LWL(rt, base uint8, off int16) uint32 { return I(0x22, base, rt, uint16(off)) }
func LW(rt, base uint8, off int16) uint32  { return I(0x23, base, rt, uint16(off)) }
func LBU(rt, base uint8, off int16) uint32 { return I(0x24, base, rt, uint16(off)) }
func LHU(rt, base uint8, off int16) uint32 { return I(0x25, base, rt, uint16(off)) }
func LWR(rt, base uint8, off int16) uint32 { return I(0x26, base, rt, uint16(off)) }
func LWU(rt, base uint8, off int16) uint32 { return I(0x27, base, rt, uint16(off)) }
func SB(rt, base uint8, off int16) uint32  { return I(0x28, base, rt, uint16(off)) }
func SH(rt, base uint8, off int16) uint32  { return I(0x29, base, rt, uint16(off)) }
func SWL(rt, base uint8, off int16) uint32 { return I(0x2A, base, rt, uint16(off)) }
func SW(rt, base uint8, off int16) uint32  { return I(0x2B, base, rt, uint16(off)) }
func SDL(rt, base uint8, off int16) uint32 { return I(0x2C, base, rt, uint16(off)) }
func SDR(rt, base uint8, off int16) uint32 { return I(0x2D, base, rt, uint16(off)) }
func SWR(rt, base uint8, off int16) uint32 { return I(0x2E, base, rt, uint16(off)) }
func LDL(rt, base uint8, off int16) uint32 { return I(0x1A, base, rt, uint16(off)) }
func LDR(rt, base uint8, off int16) uint32 { return I(0x1B, base, rt, uint16(off)) }
func LL(rt, base uint8, off int16) uint32  { return I(0x30, base, rt, uint16(off)) }
func LLD(rt, base uint8, off int16) uint32 { return I(0x34, base, rt, uint16(off)) }
func LD(rt, base uint8, off int16) uint32  { return I(0x37, base, rt, uint16(off)) }
func SC(rt, base uint8, off int16) uint32  { return I(0x38, base, rt, uint16(off)) }
func SCD(rt, base uint8, off int16) uint32 { return I(0x3C, base, rt, uint16(off)) }
func SD(rt, base uint8, off int16) uint32  { return I(0x3F, base, rt, uint16(off)) }

// Branches. Offsets are in instructions relative to the delay slot.
func BEQ(rs, rt uint8, off int16) uint32  { return I(0x04, rs, rt, uint16(off)) }
func BNE(rs, rt uint8, off int16) uint32  { return I(0x05, rs, rt, uint16(off)) }
func BLEZ(rs uint8, off int16) uint32     { return I(0x06, rs, 0, uint16(off)) }
func BGTZ(rs uint8, off int16) uint32     { return I(0x07, rs, 0, uint16(off)) }
func BEQL(rs, rt uint8, off int16) uint32 { return I(0x14, rs, rt, uint16(off)) }
func BNEL(rs, rt uint8, off int16) uint32 { return I(0x15, rs, rt, uint16(off)) }
func BLEZL(rs uint8, off int16) uint32    { return I(0x16, rs, 0, uint16(off)) }
func BGTZL(rs uint8, off int16) uint32    { return I(0x17, rs, 0, uint16(off)) }
func BLTZ(rs uint8, off int16) uint32     { return regImm(0x00, rs, off) }
func BGEZ(rs uint8, off int16) uint32     { return regImm(0x01, rs, off) }
func BLTZL(rs uint8, off int16) uint32    { return regImm(0x02, rs, off) }
func BGEZL(rs uint8, off int16) uint32    { return regImm(0x03, rs, off) }
func BLTZAL(rs uint8, off int16) uint32   { return regImm(0x10, rs, off) }
func BGEZAL(rs uint8, off int16) uint32   { return regImm(0x11, rs, off) }
func BLTZALL(rs uint8, off int16) uint32  { return regImm(0x12, rs, off) }
func BGEZALL(rs uint8, off int16) uint32  { return regImm(0x13, rs, off) }

// Jumps.
func JUMP(target uint64) uint32 { return J(0x02, target) }
func JAL(target uint64) uint32  { return J(0x03, target) }
func JR(rs uint8) uint32        { return R(0x08, rs, 0, 0, 0) }
func JALR(rd, rs uint8) uint32  { return R(0x09, rs, 0, rd, 0) }

// Traps and system.
func SYSCALL(code uint32) uint32       { return code<<6&0x03FFFFC0 | 0x0C }
func BREAK(code uint32) uint32         { return code<<6&0x03FFFFC0 | 0x0D }
func SYNC() uint32                     { return 0x0F }
func TGE(rs, rt uint8) uint32          { return R(0x30, rs, rt, 0, 0) }
func TGEU(rs, rt uint8) uint32         { return R(0x31, rs, rt, 0, 0) }
func TLT(rs, rt uint8) uint32          { return R(0x32, rs, rt, 0, 0) }
func TLTU(rs, rt uint8) uint32         { return R(0x33, rs, rt, 0, 0) }
func TEQ(rs, rt uint8) uint32          { return R(0x34, rs, rt, 0, 0) }
func TNE(rs, rt uint8) uint32          { return R(0x36, rs, rt, 0, 0) }
func TGEI(rs uint8, imm int16) uint32  { return regImm(0x08, rs, imm) }
func TGEIU(rs uint8, imm int16) uint32 { return regImm(0x09, rs, imm) }
func TLTI(rs uint8, imm int16) uint32  { return regImm(0x0A, rs, imm) }
func TLTIU(rs uint8, imm int16) uint32 { return regImm(0x0B, rs, imm) }
func TEQI(rs uint8, imm int16) uint32  { return regImm(0x0C, rs, imm) }
func TNEI(rs uint8, imm int16) uint32  { return regImm(0x0E, rs, imm) }
func CACHE(op, base uint8, off int16) uint32 {
	return I(0x2F, base, op, uint16(off))
}

// Coprocessor 0.
func MFC0(rt, rd uint8) uint32  { return cop0(0x00, rt, rd) }
func DMFC0(rt, rd uint8) uint32 { return cop0(0x01, rt, rd) }
func MTC0(rt, rd uint8) uint32  { return cop0(0x04, rt, rd) }
func DMTC0(rt, rd uint8) uint32 { return cop0(0x05, rt, rd) }
func TLBR() uint32              { return 0x42000001 }
func TLBWI() uint32             { return 0x42000002 }
func TLBWR() uint32             { return 0x42000006 }
func TLBP() uint32              { return 0x42000008 }
func ERET() uint32              { return 0x42000018 }

// Program encodes words as a big-endian byte image.
func Program(words ...uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint32(out[4*i:], w)
	}
	return out
}
