package insts_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/n64jit/insts"
	"github.com/sarchlab/n64jit/insts/asm"
)

var _ = Describe("Decoder", func() {
	var decoder *insts.Decoder

	BeforeEach(func() {
		decoder = insts.NewDecoder()
	})

	Describe("I-format arithmetic", func() {
		// ADDIU $v0, $v0, 16 -> 0x24420010
		// Encoding: op=001001, rs=2, rt=2, imm=0x0010
		It("should decode ADDIU $v0, $v0, 16", func() {
			inst, err := decoder.Decode(0x24420010)

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpADDIU))
			Expect(inst.Class).To(Equal(insts.ClassArithmetic))
			Expect(inst.Format).To(Equal(insts.FormatI))
			Expect(inst.Rs).To(Equal(uint8(2)))
			Expect(inst.Rt).To(Equal(uint8(2)))
			Expect(inst.SImm()).To(Equal(int64(16)))
		})

		It("should sign-extend negative immediates", func() {
			inst, err := decoder.Decode(asm.ADDI(asm.T0, asm.T1, -4))

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpADDI))
			Expect(inst.SImm()).To(Equal(int64(-4)))
			Expect(inst.ZImm()).To(Equal(uint64(0xFFFC)))
		})

		It("should decode LUI", func() {
			inst, err := decoder.Decode(asm.LUI(asm.A0, 0x8000))

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpLUI))
			Expect(inst.Rt).To(Equal(asm.A0))
			Expect(inst.Imm).To(Equal(uint16(0x8000)))
		})
	})

	Describe("R-format", func() {
		It("should decode word 0 as NOP", func() {
			inst, err := decoder.Decode(0)

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpNOP))
		})

		It("should decode DADDU", func() {
			inst, err := decoder.Decode(asm.DADDU(asm.V0, asm.A0, asm.A1))

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpDADDU))
			Expect(inst.Format).To(Equal(insts.FormatR))
			Expect(inst.Rd).To(Equal(asm.V0))
			Expect(inst.Rs).To(Equal(asm.A0))
			Expect(inst.Rt).To(Equal(asm.A1))
		})

		It("should decode shift amounts", func() {
			inst, err := decoder.Decode(asm.DSRA32(asm.T0, asm.T1, 3))

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpDSRA32))
			Expect(inst.Sa).To(Equal(uint8(3)))
		})

		It("should classify traps as system instructions", func() {
			inst, err := decoder.Decode(asm.TEQ(asm.A0, asm.Zero))

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpTEQ))
			Expect(inst.Class).To(Equal(insts.ClassSystem))
		})
	})

	Describe("Branches and jumps", func() {
		It("should decode BEQ with its delay slot", func() {
			inst, err := decoder.Decode(asm.BEQ(asm.T0, asm.T1, -1))

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpBEQ))
			Expect(inst.Class).To(Equal(insts.ClassBranch))
			Expect(inst.HasDelaySlot()).To(BeTrue())
			Expect(inst.IsLikely()).To(BeFalse())
			Expect(inst.BranchTarget(0x80000100)).To(Equal(uint64(0x80000100)))
		})

		It("should decode likely branches", func() {
			inst, err := decoder.Decode(asm.BNEL(asm.T0, asm.Zero, 4))

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpBNEL))
			Expect(inst.IsLikely()).To(BeTrue())
		})

		It("should decode REGIMM branch-and-link", func() {
			inst, err := decoder.Decode(asm.BGEZAL(asm.S0, 2))

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpBGEZAL))
			Expect(inst.Links()).To(BeTrue())
			Expect(inst.LinkRegister()).To(Equal(uint8(31)))
		})

		It("should compute J targets from the delay slot region", func() {
			inst, err := decoder.Decode(asm.JUMP(0x00400000))

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpJ))
			Expect(inst.Format).To(Equal(insts.FormatJ))
			Expect(inst.JumpTarget(0xFFFFFFFF80001000)).To(Equal(uint64(0xFFFFFFFF80400000)))
		})

		It("should link JALR into rd", func() {
			inst, err := decoder.Decode(asm.JALR(asm.S1, asm.T9))

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpJALR))
			Expect(inst.Class).To(Equal(insts.ClassJump))
			Expect(inst.LinkRegister()).To(Equal(asm.S1))
		})
	})

	Describe("Coprocessor 0", func() {
		It("should decode MTC0", func() {
			inst, err := decoder.Decode(asm.MTC0(asm.T0, 12))

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpMTC0))
			Expect(inst.Class).To(Equal(insts.ClassCoprocessor))
			Expect(inst.Rt).To(Equal(asm.T0))
			Expect(inst.Rd).To(Equal(uint8(12)))
		})

		DescribeTable("CO operations",
			func(word uint32, op insts.Op) {
				inst, err := decoder.Decode(word)
				Expect(err).NotTo(HaveOccurred())
				Expect(inst.Op).To(Equal(op))
			},
			Entry("TLBR", asm.TLBR(), insts.OpTLBR),
			Entry("TLBWI", asm.TLBWI(), insts.OpTLBWI),
			Entry("TLBWR", asm.TLBWR(), insts.OpTLBWR),
			Entry("TLBP", asm.TLBP(), insts.OpTLBP),
			Entry("ERET", asm.ERET(), insts.OpERET),
		)
	})

	Describe("Illegal instructions", func() {
		It("should reject reserved primary opcodes", func() {
			inst, err := decoder.Decode(0x70000000) // opcode 011100 is reserved

			Expect(inst).To(BeNil())
			Expect(errors.Is(err, insts.ErrIllegalInstruction)).To(BeTrue())

			var decErr *insts.DecodeError
			Expect(errors.As(err, &decErr)).To(BeTrue())
			Expect(decErr.Reason).To(Equal(insts.ReasonReserved))
			Expect(decErr.Word).To(Equal(uint32(0x70000000)))
		})

		It("should reject reserved SPECIAL functions", func() {
			_, err := decoder.Decode(0x00000001)
			Expect(err).To(MatchError(insts.ErrIllegalInstruction))
		})

		It("should report unimplemented coprocessors", func() {
			// LWC1 $f0, 0($zero)
			_, err := decoder.Decode(0xC4000000)

			var decErr *insts.DecodeError
			Expect(errors.As(err, &decErr)).To(BeTrue())
			Expect(decErr.Reason).To(Equal(insts.ReasonCoprocessorUnusable))
			Expect(decErr.Unit).To(Equal(insts.Unit(1)))
		})
	})

	Describe("Totality", func() {
		// Every primary opcode, every SPECIAL function and every REGIMM
		// selector either decodes or fails, never both and never neither.
		It("should return exactly one of instruction or error", func() {
			check := func(word uint32) {
				inst, err := decoder.Decode(word)
				Expect((inst == nil) != (err == nil)).To(BeTrue(),
					"word 0x%08X", word)
				if inst != nil {
					Expect(inst.Word).To(Equal(word))
					Expect(inst.Op).NotTo(Equal(insts.OpUnknown))
				}
			}

			for op := uint32(0); op < 64; op++ {
				for _, low := range []uint32{0, 1, 0x3F, 0x1234, 0x03FFFFFF} {
					check(op<<26 | low)
				}
			}
			for funct := uint32(0); funct < 64; funct++ {
				check(0x00430000 | funct)
			}
			for rt := uint32(0); rt < 32; rt++ {
				check(0x04000000 | rt<<16 | 0x10)
			}
			for rs := uint32(0); rs < 32; rs++ {
				for funct := uint32(0); funct < 64; funct++ {
					check(0x40000000 | rs<<21 | funct)
				}
			}
		})
	})
})
