package jit_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/n64jit/codecache"
	"github.com/sarchlab/n64jit/emu"
	"github.com/sarchlab/n64jit/hostisa"
	"github.com/sarchlab/n64jit/insts"
	"github.com/sarchlab/n64jit/insts/asm"
	"github.com/sarchlab/n64jit/jit"
	"github.com/sarchlab/n64jit/mmu"
)

const (
	codeBase = uint64(0xFFFFFFFF80001000)
	codePhys = uint64(0x1000)
	vector   = uint64(0xFFFFFFFF80000180)
)

var _ = Describe("Compiler", func() {
	var (
		ram    *mmu.RAM
		bridge *mmu.Bridge
		state  *emu.CpuState
		m      *hostisa.Machine
	)

	load := func(words ...uint32) {
		ram.Load(codePhys, asm.Program(words...))
	}

	compile := func(opts ...jit.Option) *codecache.Translation {
		t, err := jit.NewCompiler(bridge, opts...).Compile(codeBase)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return t
	}

	run := func(t *codecache.Translation) hostisa.Exit {
		exit, err := m.Run(t.Code, t.Start, nil)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return exit
	}

	BeforeEach(func() {
		ram = mmu.NewRAM(mmu.DefaultRAMSize)
		bridge = mmu.NewBridge(mmu.NewSystemBus(ram))
		state = emu.NewCpuState()
		state.CP0.Status = 0
		state.PC = codeBase
		bridge.SetPrivilege(&state.CP0)
		m = hostisa.NewMachine(state, bridge)
	})

	Describe("block boundaries", func() {
		It("should end a block after a branch and its delay slot", func() {
			load(
				asm.ADDIU(asm.T0, asm.Zero, 1),
				asm.BEQ(asm.Zero, asm.Zero, 4),
				asm.ADDIU(asm.T1, asm.Zero, 2),
				asm.ADDIU(asm.T2, asm.Zero, 3),
			)

			t := compile()

			Expect(t.Start).To(Equal(codeBase))
			Expect(t.GuestInsts).To(Equal(3))
			Expect(t.Ranges).To(ConsistOf(codecache.PhysRange{Lo: codePhys, Hi: codePhys + 12}))
			Expect(t.Mapped).To(BeFalse())
		})

		It("should stop at the maximum block length", func() {
			load(asm.NOP, asm.NOP, asm.NOP, asm.NOP, asm.NOP)

			t := compile(jit.WithMaxBlock(3))
			exit := run(t)

			Expect(t.GuestInsts).To(Equal(3))
			Expect(exit.PC).To(Equal(codeBase + 12))
			Expect(exit.Retired).To(Equal(uint64(3)))
		})

		It("should keep a branch with its delay slot past the maximum length", func() {
			load(asm.NOP, asm.BEQ(asm.Zero, asm.Zero, 1), asm.NOP, asm.NOP)

			t := compile(jit.WithMaxBlock(2))

			Expect(t.GuestInsts).To(Equal(3))
		})

		It("should stop at a page boundary", func() {
			ram.Load(0x1FF8, asm.Program(asm.NOP, asm.NOP, asm.NOP))

			t, err := jit.NewCompiler(bridge).Compile(0xFFFFFFFF80001FF8)

			Expect(err).NotTo(HaveOccurred())
			Expect(t.GuestInsts).To(Equal(2))
		})

		It("should end a block before a stop address", func() {
			load(asm.NOP, asm.NOP, asm.NOP, asm.NOP)

			t := compile(jit.WithStopBefore(codeBase + 8))
			exit := run(t)

			Expect(t.GuestInsts).To(Equal(2))
			Expect(exit.PC).To(Equal(codeBase + 8))

			t = compile(jit.WithStopBefore(codeBase, codeBase+16))
			Expect(t.GuestInsts).To(Equal(4))
			Expect(run(t).PC).To(Equal(codeBase + 16))
		})

		It("should end a block after MTC0", func() {
			state.GPR[asm.T0] = 5
			load(asm.MTC0(asm.T0, emu.CP0Compare), asm.NOP)

			t := compile()
			exit := run(t)

			Expect(t.GuestInsts).To(Equal(1))
			Expect(exit.PC).To(Equal(codeBase + 4))
			Expect(state.CP0.Compare).To(Equal(uint64(5)))
		})

		It("should report a fetch fault at the block start", func() {
			_, err := jit.NewCompiler(bridge).Compile(0x0000000000400000)

			var ce *jit.CompileError
			Expect(errors.As(err, &ce)).To(BeTrue())
			Expect(ce.PC).To(Equal(uint64(0x400000)))
			var fault *mmu.Fault
			Expect(errors.As(err, &fault)).To(BeTrue())
			Expect(fault.Kind).To(Equal(mmu.FaultTLBMiss))
		})
	})

	Describe("illegal instructions", func() {
		const illegal = uint32(0x70000000)

		It("should fail at the block start under the halt policy", func() {
			load(illegal)

			_, err := jit.NewCompiler(bridge).Compile(codeBase)

			var ce *jit.CompileError
			Expect(errors.As(err, &ce)).To(BeTrue())
			Expect(ce.PC).To(Equal(codeBase))
			Expect(ce.Word).To(Equal(illegal))
			Expect(errors.Is(err, insts.ErrIllegalInstruction)).To(BeTrue())
		})

		It("should end the block before a later illegal instruction", func() {
			load(asm.ADDIU(asm.T0, asm.Zero, 1), illegal)

			t := compile()
			exit := run(t)

			Expect(t.GuestInsts).To(Equal(1))
			Expect(t.Ranges).To(ConsistOf(codecache.PhysRange{Lo: codePhys, Hi: codePhys + 4}))
			Expect(exit.PC).To(Equal(codeBase + 4))
		})

		It("should report an illegal delay slot at the slot address", func() {
			load(asm.BEQ(asm.Zero, asm.Zero, 4), illegal)

			_, err := jit.NewCompiler(bridge).Compile(codeBase)

			var ce *jit.CompileError
			Expect(errors.As(err, &ce)).To(BeTrue())
			Expect(ce.PC).To(Equal(codeBase + 4))
		})

		It("should raise RI under the trap policy", func() {
			load(asm.ADDIU(asm.T0, asm.Zero, 1), illegal)

			exit := run(compile(jit.WithTrapIllegal(true)))

			Expect(exit.Reason).To(Equal(hostisa.ExitException))
			Expect(exit.Exception.Code).To(Equal(emu.ExcRI))
			Expect(exit.Exception.PC).To(Equal(codeBase + 4))
			Expect(exit.Retired).To(Equal(uint64(1)))
			Expect(state.GPR[asm.T0]).To(Equal(uint64(1)))
		})

		It("should raise CpU for a missing coprocessor under the trap policy", func() {
			load(0x44000000)

			exit := run(compile(jit.WithTrapIllegal(true)))

			Expect(exit.Exception.Code).To(Equal(emu.ExcCpU))
			Expect(exit.Exception.Unit).To(Equal(uint8(1)))
		})

		It("should raise RI for a branch in a delay slot", func() {
			load(asm.BEQ(asm.Zero, asm.Zero, 4), asm.BNE(asm.Zero, asm.Zero, 4))

			exit := run(compile())

			Expect(exit.Exception.Code).To(Equal(emu.ExcRI))
			Expect(exit.Exception.InDelaySlot).To(BeTrue())
			Expect(exit.Exception.PC).To(Equal(codeBase + 4))
		})
	})

	Describe("arithmetic", func() {
		It("should trap on overflow and leave the destination unchanged", func() {
			state.GPR[asm.T0] = 0x7FFFFFFF
			state.GPR[asm.T1] = 1
			state.GPR[asm.T2] = 0xDEAD
			load(asm.ADDIU(asm.T3, asm.Zero, 9), asm.ADD(asm.T2, asm.T0, asm.T1))

			exit := run(compile())

			Expect(exit.Reason).To(Equal(hostisa.ExitException))
			Expect(exit.Exception.Code).To(Equal(emu.ExcOv))
			Expect(exit.Exception.PC).To(Equal(codeBase + 4))
			Expect(exit.Retired).To(Equal(uint64(1)))
			Expect(state.GPR[asm.T2]).To(Equal(uint64(0xDEAD)))
			Expect(state.GPR[asm.T3]).To(Equal(uint64(9)))
		})

		It("should wrap the unsigned forms", func() {
			state.GPR[asm.T0] = 0x7FFFFFFF
			state.GPR[asm.T1] = 1
			load(asm.ADDU(asm.T2, asm.T0, asm.T1), asm.DSUBU(asm.T3, asm.Zero, asm.T1))

			exit := run(compile())

			Expect(exit.Reason).To(Equal(hostisa.ExitNormal))
			Expect(state.GPR[asm.T2]).To(Equal(uint64(0xFFFFFFFF80000000)))
			Expect(state.GPR[asm.T3]).To(Equal(^uint64(0)))
		})

		It("should fold known constants into immediates", func() {
			load(
				asm.LUI(asm.T0, 0x1234),
				asm.ORI(asm.T0, asm.T0, 0x5678),
				asm.ADDIU(asm.T1, asm.T0, 8),
			)

			t := compile()
			text := hostisa.Disassemble(t.Code)
			run(t)

			Expect(text).NotTo(ContainSubstring("ldgpr"))
			Expect(state.GPR[asm.T0]).To(Equal(uint64(0x12345678)))
			Expect(state.GPR[asm.T1]).To(Equal(uint64(0x12345680)))
		})

		It("should raise a trap when the condition holds", func() {
			state.GPR[asm.T0] = 3
			load(asm.TNEI(asm.T0, 4))

			exit := run(compile())

			Expect(exit.Exception.Code).To(Equal(emu.ExcTr))
			Expect(exit.Retired).To(BeZero())
		})
	})

	Describe("branches", func() {
		It("should run the delay slot and leave at the target when taken", func() {
			state.GPR[asm.T0] = 1
			load(
				asm.BNE(asm.T0, asm.Zero, 4),
				asm.ADDIU(asm.T1, asm.Zero, 5),
			)

			exit := run(compile())

			Expect(exit.PC).To(Equal(codeBase + 20))
			Expect(exit.Retired).To(Equal(uint64(2)))
			Expect(state.GPR[asm.T1]).To(Equal(uint64(5)))
		})

		It("should fall through after the delay slot when not taken", func() {
			load(
				asm.BNE(asm.Zero, asm.Zero, 4),
				asm.ADDIU(asm.T1, asm.Zero, 5),
			)

			exit := run(compile())

			Expect(exit.PC).To(Equal(codeBase + 8))
			Expect(exit.Retired).To(Equal(uint64(2)))
			Expect(state.GPR[asm.T1]).To(Equal(uint64(5)))
		})

		It("should nullify the delay slot of a likely branch not taken", func() {
			load(
				asm.BNEL(asm.Zero, asm.Zero, 4),
				asm.ADDIU(asm.T1, asm.Zero, 5),
			)

			exit := run(compile())

			Expect(exit.PC).To(Equal(codeBase + 8))
			Expect(exit.Retired).To(Equal(uint64(1)))
			Expect(state.GPR[asm.T1]).To(BeZero())
		})

		It("should evaluate the condition before the delay slot", func() {
			state.GPR[asm.T0] = 1
			load(
				asm.BNE(asm.T0, asm.Zero, 4),
				asm.ADDIU(asm.T0, asm.Zero, 0),
			)

			exit := run(compile())

			Expect(exit.PC).To(Equal(codeBase + 20))
			Expect(state.GPR[asm.T0]).To(BeZero())
		})

		It("should link and jump through a register", func() {
			state.GPR[asm.T9] = 0xFFFFFFFF80004000
			load(
				asm.JALR(asm.RA, asm.T9),
				asm.ADDIU(asm.T9, asm.Zero, 0),
			)

			exit := run(compile())

			Expect(exit.PC).To(Equal(uint64(0xFFFFFFFF80004000)))
			Expect(state.GPR[asm.RA]).To(Equal(codeBase + 8))
			Expect(state.GPR[asm.T9]).To(BeZero())
		})

		It("should report a delay-slot exception with the branch retired", func() {
			state.GPR[asm.T0] = 0xFFFFFFFF80002001
			load(
				asm.ADDIU(asm.T1, asm.Zero, 1),
				asm.BEQ(asm.Zero, asm.Zero, 4),
				asm.LW(asm.T2, asm.T0, 0),
			)

			exit := run(compile())

			Expect(exit.Exception.Code).To(Equal(emu.ExcAdEL))
			Expect(exit.Exception.InDelaySlot).To(BeTrue())
			Expect(exit.Exception.PC).To(Equal(codeBase + 8))
			Expect(exit.Exception.BadVAddr).To(Equal(uint64(0xFFFFFFFF80002001)))
			Expect(exit.Retired).To(Equal(uint64(2)))
			Expect(state.GPR[asm.T2]).To(BeZero())
		})

		It("should raise the fetch fault of a delay slot when it runs", func() {
			ram = mmu.NewRAM(0x2000)
			bridge = mmu.NewBridge(mmu.NewSystemBus(ram))
			bridge.SetPrivilege(&state.CP0)
			m = hostisa.NewMachine(state, bridge)
			ram.Load(0x1FFC, asm.Program(asm.BEQ(asm.Zero, asm.Zero, 4)))

			t, err := jit.NewCompiler(bridge).Compile(0xFFFFFFFF80001FFC)
			Expect(err).NotTo(HaveOccurred())
			exit := run(t)

			Expect(t.GuestInsts).To(Equal(1))
			Expect(exit.Reason).To(Equal(hostisa.ExitException))
			Expect(exit.Exception.Code).To(Equal(emu.ExcIBE))
			Expect(exit.Exception.InDelaySlot).To(BeTrue())
			Expect(exit.Exception.PC).To(Equal(uint64(0xFFFFFFFF80002000)))
			Expect(exit.Retired).To(Equal(uint64(1)))
		})
	})

	Describe("memory", func() {
		It("should raise AdEL for an unaligned load and leave registers intact", func() {
			state.GPR[asm.T0] = 0xFFFFFFFF80002002
			state.GPR[asm.T1] = 77
			load(asm.LW(asm.T1, asm.T0, 0))

			exit := run(compile())

			Expect(exit.Exception.Code).To(Equal(emu.ExcAdEL))
			Expect(exit.Exception.BadVAddr).To(Equal(uint64(0xFFFFFFFF80002002)))
			Expect(state.GPR[asm.T1]).To(Equal(uint64(77)))
		})

		It("should access RAM directly through a known KSEG0 address", func() {
			ram.Write(0x2000, mmu.Word, 0x80000001)
			load(
				asm.LUI(asm.T0, 0x8000),
				asm.LW(asm.T1, asm.T0, 0x2000),
				asm.SW(asm.T1, asm.T0, 0x2004),
			)

			t := compile()
			text := hostisa.Disassemble(t.Code)
			run(t)

			Expect(text).To(ContainSubstring("ldphys"))
			Expect(text).To(ContainSubstring("stphys"))
			Expect(state.GPR[asm.T1]).To(Equal(uint64(0xFFFFFFFF80000001)))
			Expect(ram.Read(0x2004, mmu.Word)).To(Equal(uint64(0x80000001)))
		})

		It("should go through the bridge without fast memory", func() {
			load(asm.LUI(asm.T0, 0x8000), asm.LW(asm.T1, asm.T0, 0x2000))

			text := hostisa.Disassemble(compile(jit.WithFastMemory(false)).Code)

			Expect(text).NotTo(ContainSubstring("ldphys"))
			Expect(text).To(ContainSubstring("ld.4s"))
		})

		It("should store conditionally after a linked load", func() {
			state.GPR[asm.T0] = 0xFFFFFFFF80002000
			ram.Write(0x2000, mmu.Word, 41)
			load(
				asm.LL(asm.T1, asm.T0, 0),
				asm.ADDIU(asm.T1, asm.T1, 1),
				asm.SC(asm.T1, asm.T0, 0),
			)

			run(compile())

			Expect(ram.Read(0x2000, mmu.Word)).To(Equal(uint64(42)))
			Expect(state.GPR[asm.T1]).To(Equal(uint64(1)))
			Expect(state.LLBit).To(BeTrue())
		})

		It("should leave the block when a store overwrites its own code", func() {
			cache := codecache.New(codecache.WithCodeTracker(bridge))
			bridge.SetInvalidator(cache)
			state.GPR[asm.T0] = codeBase
			load(
				asm.SW(asm.Zero, asm.T0, 8),
				asm.ADDIU(asm.T1, asm.Zero, 1),
				asm.ADDIU(asm.T2, asm.Zero, 2),
			)

			_, err := cache.Insert(compile())
			Expect(err).NotTo(HaveOccurred())
			b, ok := cache.Acquire(codeBase)
			Expect(ok).To(BeTrue())
			defer cache.Release(b)
			exit, err := m.Run(b.Code(), b.Start, b)

			Expect(err).NotTo(HaveOccurred())
			Expect(exit.Reason).To(Equal(hostisa.ExitSelfModified))
			Expect(exit.PC).To(Equal(codeBase + 4))
			Expect(exit.Retired).To(Equal(uint64(1)))
			Expect(b.Invalidated()).To(BeTrue())
			Expect(state.GPR[asm.T1]).To(BeZero())
		})
	})

	Describe("system", func() {
		It("should end the block at SYSCALL", func() {
			load(asm.ADDIU(asm.T0, asm.Zero, 1), asm.SYSCALL(0), asm.NOP)

			t := compile()
			exit := run(t)

			Expect(t.GuestInsts).To(Equal(2))
			Expect(exit.Exception.Code).To(Equal(emu.ExcSys))
			Expect(exit.Exception.PC).To(Equal(codeBase + 4))
		})

		It("should return from an exception", func() {
			state.CP0.Status = emu.StatusEXL
			state.CP0.EPC = 0xFFFFFFFF80003000
			load(asm.ERET())

			exit := run(compile())

			Expect(exit.PC).To(Equal(uint64(0xFFFFFFFF80003000)))
			Expect(exit.Retired).To(Equal(uint64(1)))
			Expect(state.CP0.Status & emu.StatusEXL).To(BeZero())
		})

		It("should poll for interrupts between instructions", func() {
			m.SetPoller(func() bool { return true })
			load(asm.NOP, asm.NOP, asm.NOP, asm.NOP)

			exit := run(compile(jit.WithPollInterval(2)))

			Expect(exit.Reason).To(Equal(hostisa.ExitInterrupt))
			Expect(exit.PC).To(Equal(codeBase + 8))
			Expect(exit.Retired).To(Equal(uint64(2)))
		})
	})
})
