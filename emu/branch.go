package emu

import "github.com/sarchlab/n64jit/insts"

// BranchTaken evaluates the condition of a branch given the values of its
// rs and rt operands. Jumps are always taken.
func BranchTaken(op insts.Op, rs, rt uint64) bool {
	switch op {
	case insts.OpBEQ, insts.OpBEQL:
		return rs == rt
	case insts.OpBNE, insts.OpBNEL:
		return rs != rt
	case insts.OpBLEZ, insts.OpBLEZL:
		return int64(rs) <= 0
	case insts.OpBGTZ, insts.OpBGTZL:
		return int64(rs) > 0
	case insts.OpBLTZ, insts.OpBLTZL, insts.OpBLTZAL, insts.OpBLTZALL:
		return int64(rs) < 0
	case insts.OpBGEZ, insts.OpBGEZL, insts.OpBGEZAL, insts.OpBGEZALL:
		return int64(rs) >= 0
	case insts.OpJ, insts.OpJAL, insts.OpJR, insts.OpJALR:
		return true
	}
	return false
}

// TrapTaken evaluates the condition of a conditional trap. For the
// immediate forms b is the sign-extended immediate.
func TrapTaken(op insts.Op, a, b uint64) bool {
	switch op {
	case insts.OpTGE, insts.OpTGEI:
		return int64(a) >= int64(b)
	case insts.OpTGEU, insts.OpTGEIU:
		return a >= b
	case insts.OpTLT, insts.OpTLTI:
		return int64(a) < int64(b)
	case insts.OpTLTU, insts.OpTLTIU:
		return a < b
	case insts.OpTEQ, insts.OpTEQI:
		return a == b
	case insts.OpTNE, insts.OpTNEI:
		return a != b
	}
	return false
}

// branchTarget returns where a taken branch or jump at pc goes.
func branchTarget(inst *insts.Instruction, pc, rs uint64) uint64 {
	switch inst.Op {
	case insts.OpJ, insts.OpJAL:
		return inst.JumpTarget(pc)
	case insts.OpJR, insts.OpJALR:
		return rs
	}
	return inst.BranchTarget(pc)
}
