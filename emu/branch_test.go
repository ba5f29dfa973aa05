package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/n64jit/emu"
	"github.com/sarchlab/n64jit/insts"
)

const minusOne = ^uint64(0)

var _ = Describe("Branch conditions", func() {
	DescribeTable("BranchTaken",
		func(op insts.Op, rs, rt uint64, taken bool) {
			Expect(emu.BranchTaken(op, rs, rt)).To(Equal(taken))
		},
		Entry("BEQ equal", insts.OpBEQ, uint64(5), uint64(5), true),
		Entry("BEQ differs", insts.OpBEQ, uint64(5), uint64(6), false),
		Entry("BNEL differs", insts.OpBNEL, uint64(5), uint64(6), true),
		Entry("BLEZ zero", insts.OpBLEZ, uint64(0), uint64(0), true),
		Entry("BLEZ negative", insts.OpBLEZ, minusOne, uint64(0), true),
		Entry("BLEZ positive", insts.OpBLEZ, uint64(1), uint64(0), false),
		Entry("BGTZ compares all 64 bits", insts.OpBGTZ, uint64(0x1_0000_0000), uint64(0), true),
		Entry("BGTZL negative", insts.OpBGTZL, minusOne, uint64(0), false),
		Entry("BLTZ negative", insts.OpBLTZ, minusOne, uint64(0), true),
		Entry("BLTZAL zero", insts.OpBLTZAL, uint64(0), uint64(0), false),
		Entry("BGEZ zero", insts.OpBGEZ, uint64(0), uint64(0), true),
		Entry("BGEZALL negative", insts.OpBGEZALL, minusOne, uint64(0), false),
		Entry("J", insts.OpJ, uint64(0), uint64(0), true),
		Entry("JALR", insts.OpJALR, uint64(0), uint64(0), true),
		Entry("not a branch", insts.OpADDU, uint64(0), uint64(0), false),
	)

	DescribeTable("TrapTaken",
		func(op insts.Op, a, b uint64, taken bool) {
			Expect(emu.TrapTaken(op, a, b)).To(Equal(taken))
		},
		Entry("TGE signed", insts.OpTGE, minusOne, uint64(0), false),
		Entry("TGEU unsigned", insts.OpTGEU, minusOne, uint64(0), true),
		Entry("TLTI signed", insts.OpTLTI, minusOne, uint64(0), true),
		Entry("TLTIU unsigned", insts.OpTLTIU, minusOne, uint64(0), false),
		Entry("TEQ equal", insts.OpTEQ, uint64(3), uint64(3), true),
		Entry("TNEI equal", insts.OpTNEI, uint64(3), uint64(3), false),
		Entry("not a trap", insts.OpSYSCALL, uint64(0), uint64(0), false),
	)
})
