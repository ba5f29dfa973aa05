package jit_test

import (
	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/n64jit/emu"
	"github.com/sarchlab/n64jit/hostisa"
	"github.com/sarchlab/n64jit/insts/asm"
	"github.com/sarchlab/n64jit/jit"
	"github.com/sarchlab/n64jit/mmu"
)

// world is one CPU with its own memory.
type world struct {
	ram    *mmu.RAM
	bridge *mmu.Bridge
	state  *emu.CpuState
}

func newWorld(program, handler []uint32) *world {
	w := &world{ram: mmu.NewRAM(mmu.DefaultRAMSize)}
	w.bridge = mmu.NewBridge(mmu.NewSystemBus(w.ram))
	w.state = emu.NewCpuState()
	w.state.CP0.Status = 0
	w.state.PC = codeBase
	w.bridge.SetPrivilege(&w.state.CP0)
	w.ram.Load(codePhys, asm.Program(program...))
	if handler != nil {
		w.ram.Load(vector&0x1FFFFFFF, asm.Program(handler...))
	}
	return w
}

func interpret(w *world, stop uint64) {
	e := emu.NewEmulator(w.state, w.bridge)
	for i := 0; w.state.PC != stop; i++ {
		Expect(i).To(BeNumerically("<", 10000), "interpreter did not reach the stop address")
		Expect(e.Step().Err).NotTo(HaveOccurred())
	}
}

func translate(w *world, stop uint64, opts ...jit.Option) {
	c := jit.NewCompiler(w.bridge, opts...)
	m := hostisa.NewMachine(w.state, w.bridge)
	for i := 0; w.state.PC != stop; i++ {
		Expect(i).To(BeNumerically("<", 10000), "compiled code did not reach the stop address")

		t, err := c.Compile(w.state.PC)
		Expect(err).NotTo(HaveOccurred())
		exit, err := m.Run(t.Code, t.Start, nil)
		Expect(err).NotTo(HaveOccurred())

		w.state.Retire(exit.Retired)
		if exit.Exception != nil {
			w.state.EnterException(exit.Exception)
			continue
		}
		w.state.PC = exit.PC
	}
}

func expectSameState(a, b *world) {
	diff := cmp.Diff(a.state, b.state, cmp.AllowUnexported(emu.CP0{}))
	ExpectWithOffset(1, diff).To(BeEmpty())
	ExpectWithOffset(1, a.ram.Bytes()[0x2000:0x3000]).To(Equal(b.ram.Bytes()[0x2000:0x3000]))
}

// skipHandler resumes after the excepting instruction.
var skipHandler = []uint32{
	asm.MFC0(asm.K0, emu.CP0EPC),
	asm.ADDIU(asm.K0, asm.K0, 4),
	asm.MTC0(asm.K0, emu.CP0EPC),
	asm.ERET(),
}

var _ = Describe("Compiled code", func() {
	It("should match the interpreter on loops, calls and memory", func() {
		program := []uint32{
			asm.LUI(asm.T0, 0x8000),
			asm.ORI(asm.T0, asm.T0, 0x2000),
			asm.ADDIU(asm.T1, asm.Zero, 10),
			asm.ADDIU(asm.T2, asm.Zero, 0),
			// loop:
			asm.SW(asm.T1, asm.T0, 0),
			asm.LW(asm.T3, asm.T0, 0),
			asm.ADDU(asm.T2, asm.T2, asm.T3),
			asm.ADDIU(asm.T0, asm.T0, 4),
			asm.ADDIU(asm.T1, asm.T1, -1),
			asm.BNE(asm.T1, asm.Zero, -6),
			asm.SLL(asm.T4, asm.T2, 2),
			asm.JAL(codeBase + 16*4),
			asm.DADDIU(asm.T5, asm.T2, 100),
			asm.BNEL(asm.T2, asm.T2, 2),
			asm.ADDIU(asm.T6, asm.Zero, 7),
			asm.NOP, // stop
			// function:
			asm.DMULTU(asm.T2, asm.T4),
			asm.MFLO(asm.T7),
			asm.JR(asm.RA),
			asm.SUBU(asm.T8, asm.T7, asm.T2),
		}
		stop := codeBase + 15*4

		a := newWorld(program, nil)
		b := newWorld(program, nil)
		interpret(a, stop)
		translate(b, stop)

		Expect(a.state.GPR[asm.T2]).To(Equal(uint64(55)))
		Expect(a.state.GPR[asm.T6]).To(BeZero())
		expectSameState(a, b)
	})

	It("should match the interpreter across exceptions", func() {
		program := []uint32{
			asm.LUI(asm.T0, 0x7FFF),
			asm.ORI(asm.T0, asm.T0, 0xFFFF),
			asm.ADD(asm.T1, asm.T0, asm.T0),
			asm.ADDIU(asm.T2, asm.Zero, 5),
			asm.SYSCALL(0),
			asm.ADDIU(asm.T3, asm.Zero, 6),
			asm.TEQ(asm.T2, asm.T2),
			asm.NOP, // stop
		}
		stop := codeBase + 7*4

		a := newWorld(program, skipHandler)
		b := newWorld(program, skipHandler)
		interpret(a, stop)
		translate(b, stop)

		Expect(a.state.GPR[asm.T1]).To(BeZero())
		Expect(a.state.GPR[asm.T3]).To(Equal(uint64(6)))
		expectSameState(a, b)
	})

	It("should match the interpreter with tiny blocks and no fast memory", func() {
		program := []uint32{
			asm.LUI(asm.T0, 0x8000),
			asm.ORI(asm.T0, asm.T0, 0x2100),
			asm.ADDIU(asm.T1, asm.Zero, -3),
			asm.SD(asm.T1, asm.T0, 0),
			asm.LWR(asm.T2, asm.T0, 3),
			asm.LWL(asm.T2, asm.T0, 4),
			asm.LHU(asm.T3, asm.T0, 6),
			asm.LB(asm.T4, asm.T0, 7),
			asm.BGEZAL(asm.T4, 2),
			asm.DSRA32(asm.T5, asm.T1, 4),
			asm.DIV(asm.T1, asm.T4),
			asm.MFHI(asm.T6),
			asm.NOP, // stop
		}
		stop := codeBase + 12*4

		a := newWorld(program, nil)
		b := newWorld(program, nil)
		interpret(a, stop)
		translate(b, stop, jit.WithMaxBlock(2), jit.WithFastMemory(false))

		expectSameState(a, b)
	})
})
