package insts

import (
	"fmt"
	"strings"
)

var opNames = [opCount]string{
	OpUnknown: "unknown",
	OpNOP:     "nop",
	OpADDI:    "addi", OpADDIU: "addiu", OpSLTI: "slti", OpSLTIU: "sltiu",
	OpANDI: "andi", OpORI: "ori", OpXORI: "xori", OpLUI: "lui",
	OpDADDI: "daddi", OpDADDIU: "daddiu",
	OpADD: "add", OpADDU: "addu", OpSUB: "sub", OpSUBU: "subu",
	OpAND: "and", OpOR: "or", OpXOR: "xor", OpNOR: "nor",
	OpSLT: "slt", OpSLTU: "sltu", OpDADD: "dadd", OpDADDU: "daddu",
	OpDSUB: "dsub", OpDSUBU: "dsubu",
	OpSLL: "sll", OpSRL: "srl", OpSRA: "sra", OpSLLV: "sllv", OpSRLV: "srlv",
	OpSRAV: "srav", OpDSLL: "dsll", OpDSRL: "dsrl", OpDSRA: "dsra",
	OpDSLL32: "dsll32", OpDSRL32: "dsrl32", OpDSRA32: "dsra32",
	OpDSLLV: "dsllv", OpDSRLV: "dsrlv", OpDSRAV: "dsrav",
	OpMFHI: "mfhi", OpMTHI: "mthi", OpMFLO: "mflo", OpMTLO: "mtlo",
	OpMULT: "mult", OpMULTU: "multu", OpDIV: "div", OpDIVU: "divu",
	OpDMULT: "dmult", OpDMULTU: "dmultu", OpDDIV: "ddiv", OpDDIVU: "ddivu",
	OpLB: "lb", OpLBU: "lbu", OpLH: "lh", OpLHU: "lhu", OpLW: "lw",
	OpLWU: "lwu", OpLWL: "lwl", OpLWR: "lwr", OpLD: "ld", OpLDL: "ldl",
	OpLDR: "ldr", OpLL: "ll", OpLLD: "lld",
	OpSB: "sb", OpSH: "sh", OpSW: "sw", OpSWL: "swl", OpSWR: "swr",
	OpSD: "sd", OpSDL: "sdl", OpSDR: "sdr", OpSC: "sc", OpSCD: "scd",
	OpBEQ: "beq", OpBNE: "bne", OpBLEZ: "blez", OpBGTZ: "bgtz",
	OpBEQL: "beql", OpBNEL: "bnel", OpBLEZL: "blezl", OpBGTZL: "bgtzl",
	OpBLTZ: "bltz", OpBGEZ: "bgez", OpBLTZL: "bltzl", OpBGEZL: "bgezl",
	OpBLTZAL: "bltzal", OpBGEZAL: "bgezal", OpBLTZALL: "bltzall",
	OpBGEZALL: "bgezall",
	OpJ:       "j", OpJAL: "jal", OpJR: "jr", OpJALR: "jalr",
	OpMFC0: "mfc0", OpDMFC0: "dmfc0", OpMTC0: "mtc0", OpDMTC0: "dmtc0",
	OpTLBR: "tlbr", OpTLBWI: "tlbwi", OpTLBWR: "tlbwr", OpTLBP: "tlbp",
	OpERET:    "eret",
	OpSYSCALL: "syscall", OpBREAK: "break", OpSYNC: "sync", OpCACHE: "cache",
	OpTGE: "tge", OpTGEU: "tgeu", OpTLT: "tlt", OpTLTU: "tltu", OpTEQ: "teq",
	OpTNE: "tne", OpTGEI: "tgei", OpTGEIU: "tgeiu", OpTLTI: "tlti",
	OpTLTIU: "tltiu", OpTEQI: "teqi", OpTNEI: "tnei",
}

func (o Op) String() string {
	if o < opCount && opNames[o] != "" {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint16(o))
}

// RegNames holds the ABI names of the general purpose registers.
var RegNames = [32]string{
	"zero", "at", "v0", "v1", "a0", "a1", "a2", "a3",
	"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7",
	"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7",
	"t8", "t9", "k0", "k1", "gp", "sp", "fp", "ra",
}

func reg(r uint8) string {
	return "$" + RegNames[r&0x1F]
}

// String renders the instruction in MIPS assembly syntax. Branch offsets
// are printed relative to the branch since the address is not known here.
func (i *Instruction) String() string {
	name := i.Op.String()
	var args []string

	switch i.Op {
	case OpNOP, OpSYNC, OpERET, OpTLBR, OpTLBWI, OpTLBWR, OpTLBP:
	case OpSYSCALL, OpBREAK:
		if code := (i.Word >> 6) & 0xFFFFF; code != 0 {
			args = []string{fmt.Sprintf("0x%x", code)}
		}
	case OpADDI, OpADDIU, OpSLTI, OpSLTIU, OpDADDI, OpDADDIU:
		args = []string{reg(i.Rt), reg(i.Rs), fmt.Sprintf("%d", i.SImm())}
	case OpANDI, OpORI, OpXORI:
		args = []string{reg(i.Rt), reg(i.Rs), fmt.Sprintf("0x%x", i.Imm)}
	case OpLUI:
		args = []string{reg(i.Rt), fmt.Sprintf("0x%x", i.Imm)}
	case OpSLL, OpSRL, OpSRA, OpDSLL, OpDSRL, OpDSRA, OpDSLL32, OpDSRL32, OpDSRA32:
		args = []string{reg(i.Rd), reg(i.Rt), fmt.Sprintf("%d", i.Sa)}
	case OpSLLV, OpSRLV, OpSRAV, OpDSLLV, OpDSRLV, OpDSRAV:
		args = []string{reg(i.Rd), reg(i.Rt), reg(i.Rs)}
	case OpMFHI, OpMFLO:
		args = []string{reg(i.Rd)}
	case OpMTHI, OpMTLO, OpJR:
		args = []string{reg(i.Rs)}
	case OpJALR:
		args = []string{reg(i.Rd), reg(i.Rs)}
	case OpMULT, OpMULTU, OpDIV, OpDIVU, OpDMULT, OpDMULTU, OpDDIV, OpDDIVU,
		OpTGE, OpTGEU, OpTLT, OpTLTU, OpTEQ, OpTNE:
		args = []string{reg(i.Rs), reg(i.Rt)}
	case OpTGEI, OpTGEIU, OpTLTI, OpTLTIU, OpTEQI, OpTNEI:
		args = []string{reg(i.Rs), fmt.Sprintf("%d", i.SImm())}
	case OpBEQ, OpBNE, OpBEQL, OpBNEL:
		args = []string{reg(i.Rs), reg(i.Rt), offset(i)}
	case OpBLEZ, OpBGTZ, OpBLEZL, OpBGTZL, OpBLTZ, OpBGEZ, OpBLTZL, OpBGEZL,
		OpBLTZAL, OpBGEZAL, OpBLTZALL, OpBGEZALL:
		args = []string{reg(i.Rs), offset(i)}
	case OpJ, OpJAL:
		args = []string{fmt.Sprintf("0x%07x", i.Target<<2)}
	case OpMFC0, OpDMFC0, OpMTC0, OpDMTC0:
		args = []string{reg(i.Rt), fmt.Sprintf("$%d", i.Rd)}
	case OpCACHE:
		args = []string{fmt.Sprintf("0x%x", i.Rt), fmt.Sprintf("%d(%s)", i.SImm(), reg(i.Rs))}
	default:
		switch i.Class {
		case ClassLoadStore:
			args = []string{reg(i.Rt), fmt.Sprintf("%d(%s)", i.SImm(), reg(i.Rs))}
		default:
			args = []string{reg(i.Rd), reg(i.Rs), reg(i.Rt)}
		}
	}

	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, ", ")
}

func offset(i *Instruction) string {
	return fmt.Sprintf("%+d", (i.SImm()<<2)+4)
}
