package hostisa_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/n64jit/emu"
	"github.com/sarchlab/n64jit/hostisa"
	"github.com/sarchlab/n64jit/insts"
	"github.com/sarchlab/n64jit/mmu"
)

type flagGuard struct{ invalid bool }

func (g *flagGuard) Invalidated() bool { return g.invalid }

var _ = Describe("Machine", func() {
	const start = uint64(0xFFFFFFFF80001000)

	var (
		ram    *mmu.RAM
		bridge *mmu.Bridge
		state  *emu.CpuState
		m      *hostisa.Machine
		a      *hostisa.Assembler
	)

	BeforeEach(func() {
		ram = mmu.NewRAM(mmu.DefaultRAMSize)
		bridge = mmu.NewBridge(mmu.NewSystemBus(ram))
		state = emu.NewCpuState()
		state.CP0.Status = 0
		bridge.SetPrivilege(&state.CP0)
		m = hostisa.NewMachine(state, bridge)
		a = hostisa.NewAssembler()
	})

	run := func() hostisa.Exit {
		exit, err := m.Run(a.Bytes(), start, nil)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return exit
	}

	It("should compute and write back guest registers", func() {
		state.GPR[8] = 40
		a.LoadGPR(0, 8)
		a.LoadImm(1, 2)
		a.ALU(hostisa.OpAdd32, 2, 0, 1)
		a.StoreGPR(9, 2)
		a.StoreGPR(0, 2)
		a.Exit(start+4, 1)

		exit := run()

		Expect(exit.Reason).To(Equal(hostisa.ExitNormal))
		Expect(exit.PC).To(Equal(start + 4))
		Expect(exit.Retired).To(Equal(uint64(1)))
		Expect(state.GPR[9]).To(Equal(uint64(42)))
		Expect(state.GPR[0]).To(BeZero())
	})

	It("should take the skip when the condition is zero", func() {
		a.LoadImm(0, 0)
		l := a.SkipIfZero(0)
		a.Exit(0x100, 2)
		a.Bind(l)
		a.Exit(0x200, 3)

		exit := run()

		Expect(exit.PC).To(Equal(uint64(0x200)))
		Expect(exit.Retired).To(Equal(uint64(3)))
	})

	It("should exit to a register target", func() {
		a.LoadImm(5, 0xFFFFFFFF80002000)
		a.ExitReg(5, 2)

		Expect(run().PC).To(Equal(uint64(0xFFFFFFFF80002000)))
	})

	It("should report overflow at the guest instruction", func() {
		a.LoadImm(0, 0x7FFFFFFF)
		a.LoadImm(1, 1)
		a.Checked(hostisa.OpAdd32Trap, 2, 0, 1, hostisa.At(3, false))
		a.StoreGPR(10, 2)
		a.Exit(start+16, 4)

		exit := run()

		Expect(exit.Reason).To(Equal(hostisa.ExitException))
		Expect(exit.Retired).To(Equal(uint64(3)))
		Expect(exit.PC).To(Equal(start + 12))
		Expect(exit.Exception.Code).To(Equal(emu.ExcOv))
		Expect(state.GPR[10]).To(BeZero())
	})

	It("should mark exceptions in delay slots", func() {
		a.Raise(uint8(emu.ExcRI), 0, hostisa.At(1, true))
		a.Exit(0, 0)

		exit := run()

		Expect(exit.Exception.InDelaySlot).To(BeTrue())
		Expect(exit.Exception.PC).To(Equal(start + 4))
		Expect(exit.Retired).To(Equal(uint64(1)))
	})

	It("should load and store through the bridge", func() {
		a.LoadImm(0, 0xFFFFFFFF80003000)
		a.LoadImm(1, 0xFFFFFFFFCAFEBABE)
		a.Mem(hostisa.OpStore, 1, 0, 8, hostisa.MemFlags(4, false), hostisa.At(0, false))
		a.Mem(hostisa.OpLoad, 2, 0, 8, hostisa.MemFlags(2, true), hostisa.At(1, false))
		a.StoreGPR(3, 2)
		a.Phys(hostisa.OpLoadPhys, 4, 0x3008, hostisa.MemFlags(4, false), hostisa.At(2, false))
		a.StoreGPR(4, 4)
		a.Exit(start+12, 3)

		run()

		Expect(ram.Read(0x3008, mmu.Word)).To(Equal(uint64(0xCAFEBABE)))
		Expect(state.GPR[3]).To(Equal(uint64(0xFFFFFFFFFFFFCAFE)))
		Expect(state.GPR[4]).To(Equal(uint64(0xCAFEBABE)))
	})

	It("should turn memory faults into exceptions", func() {
		a.LoadImm(0, 0xFFFFFFFF80003001)
		a.Mem(hostisa.OpLoad, 1, 0, 0, hostisa.MemFlags(4, true), hostisa.At(2, false))
		a.Exit(0, 3)

		exit := run()

		Expect(exit.Exception.Code).To(Equal(emu.ExcAdEL))
		Expect(exit.Exception.BadVAddr).To(Equal(uint64(0xFFFFFFFF80003001)))
		Expect(exit.PC).To(Equal(start + 8))
	})

	It("should compute HI and LO", func() {
		a.LoadImm(0, 7)
		a.LoadImm(1, 2)
		a.MulDiv(uint16(insts.OpDIVU), 0, 1)
		a.Exit(0, 1)

		run()

		Expect(state.HI).To(Equal(uint64(1)))
		Expect(state.LO).To(Equal(uint64(3)))
	})

	It("should leave at a guard when the block was invalidated", func() {
		g := &flagGuard{}
		a.Guard(start+8, 2)
		a.Exit(start+12, 3)

		exit, err := m.Run(a.Bytes(), start, g)
		Expect(err).NotTo(HaveOccurred())
		Expect(exit.Reason).To(Equal(hostisa.ExitNormal))

		g.invalid = true
		exit, err = m.Run(a.Bytes(), start, g)
		Expect(err).NotTo(HaveOccurred())
		Expect(exit.Reason).To(Equal(hostisa.ExitSelfModified))
		Expect(exit.PC).To(Equal(start + 8))
		Expect(exit.Retired).To(Equal(uint64(2)))
	})

	It("should leave at a poll point when an interrupt is pending", func() {
		pending := false
		m.SetPoller(func() bool { return pending })
		a.Poll(start+32, 8)
		a.Exit(start+64, 16)

		Expect(run().Reason).To(Equal(hostisa.ExitNormal))

		pending = true
		exit := run()
		Expect(exit.Reason).To(Equal(hostisa.ExitInterrupt))
		Expect(exit.PC).To(Equal(start + 32))
		Expect(exit.Retired).To(Equal(uint64(8)))
	})

	It("should return from exceptions", func() {
		state.CP0.Status = emu.StatusEXL
		state.CP0.EPC = 0xFFFFFFFF80004000
		a.ERET(1)

		exit := run()

		Expect(exit.PC).To(Equal(uint64(0xFFFFFFFF80004000)))
		Expect(state.CP0.Status & emu.StatusEXL).To(BeZero())
	})

	It("should fail on code without an exit", func() {
		a.LoadImm(0, 1)

		_, err := m.Run(a.Bytes(), start, nil)

		Expect(err).To(HaveOccurred())
	})

	It("should count host instructions", func() {
		a.LoadImm(0, 1)
		a.Exit(0, 0)
		run()
		Expect(m.Executed()).To(Equal(uint64(2)))
	})
})
