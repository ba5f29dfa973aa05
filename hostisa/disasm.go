package hostisa

import (
	"fmt"
	"strings"
)

var opNames = [opCount]string{
	OpNop: "nop", OpLoadGPR: "ldgpr", OpStoreGPR: "stgpr", OpLoadImm: "li",
	OpMove: "mov", OpLoadHI: "ldhi", OpLoadLO: "ldlo", OpStoreHI: "sthi",
	OpStoreLO: "stlo", OpAdd: "add", OpSub: "sub", OpAnd: "and", OpOr: "or",
	OpXor: "xor", OpNor: "nor", OpSlt: "slt", OpSltu: "sltu", OpAddImm: "addi",
	OpAndImm: "andi", OpOrImm: "ori", OpXorImm: "xori", OpAdd32: "add32",
	OpSub32: "sub32", OpSext32: "sext32", OpAdd32Trap: "add32.ov",
	OpSub32Trap: "sub32.ov", OpAdd64Trap: "add.ov", OpSub64Trap: "sub.ov",
	OpSll32: "sll32", OpSrl32: "srl32", OpSra32: "sra32", OpDsll: "sll",
	OpDsrl: "srl", OpDsra: "sra", OpMulDiv: "muldiv", OpSetEq: "seteq",
	OpSetNe: "setne", OpSetLtz: "setltz", OpSetGez: "setgez", OpSetLez: "setlez",
	OpSetGtz: "setgtz", OpSetTrap: "settrap", OpTrapIf: "trapif", OpRaise: "raise",
	OpLoad: "ld", OpStore: "st", OpLoadPartial: "ldpart", OpStorePartial: "stpart",
	OpLoadLinked: "ldlink", OpStoreCond: "stcond", OpLoadPhys: "ldphys",
	OpStorePhys: "stphys", OpSkipIfZero: "skipz", OpSkip: "skip", OpExit: "exit",
	OpExitReg: "exitr", OpGuard: "guard", OpPoll: "poll", OpFetchCheck: "fetchck",
	OpMFC0: "mfc0", OpMTC0: "mtc0", OpTLBR: "tlbr", OpTLBWI: "tlbwi",
	OpTLBWR: "tlbwr", OpTLBP: "tlbp", OpERET: "eret",
}

func (op Op) String() string {
	if op < opCount && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

func (p Position) String() string {
	if p.InDelaySlot() {
		return fmt.Sprintf("@%d.d", p.Index())
	}
	return fmt.Sprintf("@%d", p.Index())
}

// String formats the instruction as assembly.
func (in Inst) String() string {
	pos := Position(in.Aux)
	switch in.Op {
	case OpNop, OpTLBR, OpTLBWI, OpTLBWR, OpTLBP:
		return in.Op.String()
	case OpLoadGPR:
		return fmt.Sprintf("%s h%d, r%d", in.Op, in.A, in.B)
	case OpStoreGPR:
		return fmt.Sprintf("%s r%d, h%d", in.Op, in.B, in.A)
	case OpLoadImm:
		return fmt.Sprintf("%s h%d, 0x%X", in.Op, in.A, in.Imm)
	case OpMove, OpSext32, OpSetLtz, OpSetGez, OpSetLez, OpSetGtz:
		return fmt.Sprintf("%s h%d, h%d", in.Op, in.A, in.B)
	case OpLoadHI, OpLoadLO, OpStoreHI, OpStoreLO:
		return fmt.Sprintf("%s h%d", in.Op, in.A)
	case OpAddImm, OpAndImm, OpOrImm, OpXorImm:
		return fmt.Sprintf("%s h%d, h%d, 0x%X", in.Op, in.A, in.B, in.Imm)
	case OpAdd32Trap, OpSub32Trap, OpAdd64Trap, OpSub64Trap:
		return fmt.Sprintf("%s h%d, h%d, h%d %s", in.Op, in.A, in.B, in.C, pos)
	case OpMulDiv:
		return fmt.Sprintf("%s h%d, h%d #%d", in.Op, in.B, in.C, in.Imm)
	case OpSetTrap:
		return fmt.Sprintf("%s h%d, h%d, h%d #%d", in.Op, in.A, in.B, in.C, in.Imm)
	case OpTrapIf:
		return fmt.Sprintf("%s h%d, exc %d %s", in.Op, in.A, in.Imm, pos)
	case OpRaise:
		return fmt.Sprintf("%s exc %d, unit %d %s", in.Op, in.Imm, in.C, pos)
	case OpLoadPartial, OpStorePartial:
		return fmt.Sprintf("%s.%d h%d, %d(h%d) %s", in.Op, in.C, in.A, int64(in.Imm), in.B, pos)
	case OpLoad, OpStore, OpLoadLinked, OpStoreCond:
		return fmt.Sprintf("%s.%s h%d, %d(h%d) %s", in.Op, widthSuffix(in.C), in.A, int64(in.Imm), in.B, pos)
	case OpLoadPhys, OpStorePhys:
		return fmt.Sprintf("%s.%s h%d, [0x%X] %s", in.Op, widthSuffix(in.C), in.A, in.Imm, pos)
	case OpSkipIfZero:
		return fmt.Sprintf("%s h%d, +%d", in.Op, in.A, in.Imm)
	case OpSkip:
		return fmt.Sprintf("%s +%d", in.Op, in.Imm)
	case OpExit, OpGuard, OpPoll:
		return fmt.Sprintf("%s 0x%016X, retired %d", in.Op, in.Imm, in.Aux)
	case OpExitReg:
		return fmt.Sprintf("%s h%d, retired %d", in.Op, in.A, in.Aux)
	case OpFetchCheck:
		return fmt.Sprintf("%s 0x%016X %s", in.Op, in.Imm, pos)
	case OpMFC0:
		return fmt.Sprintf("%s h%d, c%d", in.Op, in.A, in.B)
	case OpMTC0:
		return fmt.Sprintf("%s c%d, h%d", in.Op, in.B, in.A)
	case OpERET:
		return fmt.Sprintf("%s retired %d", in.Op, in.Aux)
	}
	return fmt.Sprintf("%s h%d, h%d, h%d", in.Op, in.A, in.B, in.C)
}

// widthSuffix renders MemFlags as the access width, with an s for
// sign-extending loads.
func widthSuffix(c uint8) string {
	w, signed := memFlags(c)
	if signed {
		return fmt.Sprintf("%ds", w)
	}
	return fmt.Sprintf("%d", w)
}

// Disassemble lists code one instruction per line.
func Disassemble(code []byte) string {
	var sb strings.Builder
	for off := 0; off+InstSize <= len(code); off += InstSize {
		fmt.Fprintf(&sb, "%04x  %s\n", off, Decode(code[off:]))
	}
	return sb.String()
}
