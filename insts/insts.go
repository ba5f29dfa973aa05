// Package insts provides VR4300 (MIPS III) instruction definitions and decoding.
//
// This package implements decoding of big-endian MIPS machine words into
// structured instruction representations. It supports the full integer
// instruction set of the N64 CPU:
//   - Arithmetic and logical operations, 32-bit and 64-bit (ADD, DADDU, SLT, ...)
//   - Shifts, multiply and divide (SLL, DSRA32, MULT, DDIVU, ...)
//   - Loads and stores including unaligned and linked forms (LW, LWL, LL, SC, ...)
//   - Branches with delay slots, including the likely forms (BEQ, BGEZAL, BNEL, ...)
//   - Jumps (J, JAL, JR, JALR)
//   - Coprocessor 0 moves and TLB management (MFC0, DMTC0, TLBWI, ERET, ...)
//   - System instructions and traps (SYSCALL, BREAK, TEQ, TGEI, ...)
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst, err := decoder.Decode(0x24420010) // ADDIU $v0, $v0, 16
//	if err != nil {
//		return err
//	}
//	fmt.Println(inst)
package insts
