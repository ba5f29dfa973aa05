// Package emu provides the architectural state of the VR4300 and a
// reference interpreter over it.
package emu

// RegFile represents the VR4300 integer register file.
// It contains 32 64-bit general-purpose registers, the program counter,
// the multiply/divide result registers and the load-linked bit.
type RegFile struct {
	// GPR holds general-purpose registers r0-r31.
	// GPR[0] is hard-wired to zero; writes to it are discarded.
	GPR [32]uint64

	// PC is the program counter. It always holds a virtual address.
	PC uint64

	// HI and LO hold multiply and divide results.
	HI uint64
	LO uint64

	// LLBit is set by LL/LLD and cleared by ERET; SC/SCD only store when set.
	LLBit bool
}

// ReadReg reads a register value. Register 0 always reads as 0.
func (r *RegFile) ReadReg(reg uint8) uint64 {
	if reg == 0 {
		return 0
	}
	return r.GPR[reg&0x1F]
}

// WriteReg writes a register value. Writes to register 0 are discarded.
func (r *RegFile) WriteReg(reg uint8, value uint64) {
	if reg == 0 {
		return
	}
	r.GPR[reg&0x1F] = value
}

// WriteReg32 writes the low 32 bits of value sign-extended to 64 bits, as
// every 32-bit operation does.
func (r *RegFile) WriteReg32(reg uint8, value uint64) {
	r.WriteReg(reg, SignExtend32(value))
}
