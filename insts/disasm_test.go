package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/n64jit/insts"
	"github.com/sarchlab/n64jit/insts/asm"
)

var _ = Describe("Disassembly", func() {
	var decoder *insts.Decoder

	BeforeEach(func() {
		decoder = insts.NewDecoder()
	})

	DescribeTable("String",
		func(word uint32, want string) {
			inst, err := decoder.Decode(word)
			Expect(err).NotTo(HaveOccurred())
			Expect(inst.String()).To(Equal(want))
		},
		Entry("nop", asm.NOP, "nop"),
		Entry("addiu", asm.ADDIU(asm.SP, asm.SP, -32), "addiu $sp, $sp, -32"),
		Entry("ori", asm.ORI(asm.T0, asm.Zero, 0xFF), "ori $t0, $zero, 0xff"),
		Entry("lui", asm.LUI(asm.A0, 0xA400), "lui $a0, 0xa400"),
		Entry("lw", asm.LW(asm.RA, asm.SP, 28), "lw $ra, 28($sp)"),
		Entry("addu", asm.ADDU(asm.V0, asm.A0, asm.A1), "addu $v0, $a0, $a1"),
		Entry("sll", asm.SLL(asm.T1, asm.T2, 4), "sll $t1, $t2, 4"),
		Entry("jr", asm.JR(asm.RA), "jr $ra"),
		Entry("mtc0", asm.MTC0(asm.T0, 12), "mtc0 $t0, $12"),
		Entry("eret", asm.ERET(), "eret"),
		Entry("bne", asm.BNE(asm.T0, asm.Zero, -2), "bne $t0, $zero, -4"),
	)

	It("should name ops", func() {
		Expect(insts.OpDADDIU.String()).To(Equal("daddiu"))
		Expect(insts.ClassBranch.String()).To(Equal("branch"))
	})
})
