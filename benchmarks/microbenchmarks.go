package benchmarks

import (
	"github.com/sarchlab/n64jit/emu"
	"github.com/sarchlab/n64jit/insts/asm"
	"github.com/sarchlab/n64jit/mmu"
)

// GetMicrobenchmarks returns the standard set of microbenchmarks. Each one
// stresses a different part of the translator.
func GetMicrobenchmarks() []Benchmark {
	return []Benchmark{
		loopSum(),
		multiplyChain(),
		memorySequential(),
		functionCalls(),
		likelyBranches(),
		syscallStorm(),
		selfModifying(),
	}
}

// GetCoreBenchmarks returns a small set for quick validation.
func GetCoreBenchmarks() []Benchmark {
	return []Benchmark{
		loopSum(),
		memorySequential(),
		functionCalls(),
	}
}

// at returns the address of instruction i of a benchmark program.
func at(i int) uint64 {
	return CodeBase + 4*uint64(i)
}

// 1. Loop Sum - a tight counted loop, one block executed many times
func loopSum() Benchmark {
	const n = 1000
	return Benchmark{
		Name:        "loop_sum",
		Description: "sum of 1..1000 in a three-instruction loop",
		Program: []uint32{
			asm.ADDIU(asm.T0, asm.Zero, n),
			asm.ADDU(asm.V0, asm.Zero, asm.Zero),
			asm.ADDU(asm.V0, asm.V0, asm.T0), // loop
			asm.ADDIU(asm.T0, asm.T0, -1),
			asm.BNE(asm.T0, asm.Zero, -3),
			asm.NOP,
		},
		Expected: n * (n + 1) / 2,
	}
}

// 2. Multiply Chain - HI/LO traffic through MULTU and MFLO
func multiplyChain() Benchmark {
	return Benchmark{
		Name:        "multiply_chain",
		Description: "10! through dependent MULTU/MFLO pairs",
		Program: []uint32{
			asm.ADDIU(asm.T0, asm.Zero, 10),
			asm.ADDIU(asm.V0, asm.Zero, 1),
			asm.MULTU(asm.V0, asm.T0), // loop
			asm.MFLO(asm.V0),
			asm.ADDIU(asm.T0, asm.T0, -1),
			asm.BNE(asm.T0, asm.Zero, -4),
			asm.NOP,
		},
		Expected: 3628800,
	}
}

// 3. Memory Sequential - stores then loads through a pointer in KSEG0
func memorySequential() Benchmark {
	const n = 256
	return Benchmark{
		Name:        "memory_sequential",
		Description: "fill a 256-word array, then sum it",
		Program: []uint32{
			asm.LUI(asm.T1, uint16(DataBase>>16&0xFFFF)),
			asm.ADDIU(asm.T0, asm.Zero, n),
			asm.ADDU(asm.T2, asm.T1, asm.Zero),
			asm.SW(asm.T0, asm.T2, 0), // fill loop
			asm.ADDIU(asm.T2, asm.T2, 4),
			asm.ADDIU(asm.T0, asm.T0, -1),
			asm.BNE(asm.T0, asm.Zero, -4),
			asm.NOP,
			asm.ADDIU(asm.T0, asm.Zero, n),
			asm.ADDU(asm.V0, asm.Zero, asm.Zero),
			asm.LW(asm.T3, asm.T1, 0), // sum loop
			asm.ADDU(asm.V0, asm.V0, asm.T3),
			asm.ADDIU(asm.T1, asm.T1, 4),
			asm.ADDIU(asm.T0, asm.T0, -1),
			asm.BNE(asm.T0, asm.Zero, -5),
			asm.NOP,
		},
		Expected: n * (n + 1) / 2,
	}
}

// 4. Function Calls - JAL/JR pairs, short blocks with register targets
func functionCalls() Benchmark {
	return Benchmark{
		Name:        "function_calls",
		Description: "100 calls of a leaf function accumulating its argument",
		Program: []uint32{
			asm.ADDIU(asm.S0, asm.Zero, 100),
			asm.ADDU(asm.V0, asm.Zero, asm.Zero),
			asm.ADDIU(asm.A0, asm.S0, 0), // loop
			asm.JAL(at(10)),
			asm.NOP,
			asm.ADDIU(asm.S0, asm.S0, -1),
			asm.BNE(asm.S0, asm.Zero, -5),
			asm.NOP,
			asm.JUMP(at(13)),
			asm.NOP,
			asm.ADDU(asm.V0, asm.V0, asm.A0), // leaf
			asm.JR(asm.RA),
			asm.NOP,
		},
		Expected: 5050,
	}
}

// 5. Likely Branches - nullified delay slots on the not-taken path
func likelyBranches() Benchmark {
	return Benchmark{
		Name:        "likely_branches",
		Description: "count even numbers in 1..200 with BNEL",
		Program: []uint32{
			asm.ADDIU(asm.T0, asm.Zero, 200),
			asm.ADDU(asm.V0, asm.Zero, asm.Zero),
			asm.ANDI(asm.T1, asm.T0, 1), // loop
			asm.BNEL(asm.T1, asm.Zero, 2),
			asm.ADDIU(asm.T2, asm.T2, 1), // odd, only when taken
			asm.ADDIU(asm.V0, asm.V0, 1), // even
			asm.ADDIU(asm.T0, asm.T0, -1),
			asm.BNE(asm.T0, asm.Zero, -6),
			asm.NOP,
		},
		Expected: 100,
	}
}

// countingHandler counts exceptions in v0 and resumes after the excepting
// instruction.
var countingHandler = []uint32{
	asm.MFC0(asm.K0, emu.CP0EPC),
	asm.ADDIU(asm.K0, asm.K0, 4),
	asm.MTC0(asm.K0, emu.CP0EPC),
	asm.ADDIU(asm.V0, asm.V0, 1),
	asm.ERET(),
}

// 6. Syscall Storm - exception delivery and ERET round trips
func syscallStorm() Benchmark {
	return Benchmark{
		Name:        "syscall_storm",
		Description: "50 SYSCALL exceptions handled by a counting handler",
		Setup: func(cpu *emu.CpuState, _ *mmu.RAM) {
			cpu.GPR[asm.V0] = 0
		},
		Program: []uint32{
			asm.ADDIU(asm.T0, asm.Zero, 50),
			asm.SYSCALL(0), // loop
			asm.ADDIU(asm.T0, asm.T0, -1),
			asm.BNE(asm.T0, asm.Zero, -3),
			asm.NOP,
		},
		Handler:  countingHandler,
		Expected: 50,
	}
}

// 7. Self-Modifying - a loop that patches an immediate in its own body
func selfModifying() Benchmark {
	// offset of instruction 3 from 0x80000000
	const patched = int16(CodeBase&0xFFFF + 12)
	return Benchmark{
		Name:        "self_modifying",
		Description: "20 iterations patching an ADDIU immediate, forcing recompilation",
		Program: []uint32{
			asm.ADDIU(asm.T0, asm.Zero, 20),
			asm.LUI(asm.T1, 0x8000),
			asm.ADDU(asm.V0, asm.Zero, asm.Zero),
			asm.ADDIU(asm.T3, asm.Zero, 0), // loop, patched
			asm.ADDU(asm.V0, asm.V0, asm.T3),
			asm.LW(asm.T4, asm.T1, patched),
			asm.ADDIU(asm.T4, asm.T4, 1),
			asm.SW(asm.T4, asm.T1, patched),
			asm.ADDIU(asm.T0, asm.T0, -1),
			asm.BNE(asm.T0, asm.Zero, -7),
			asm.NOP,
		},
		Expected: 190,
	}
}
