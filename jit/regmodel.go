package jit

import (
	"fmt"

	"github.com/sarchlab/n64jit/hostisa"
)

// Pinned host registers survive across the delay slot of a branch.
const (
	regCond   uint8 = 14 // branch condition
	regTarget uint8 = 15 // register jump target

	numScratch = 14
)

// RegisterModel maps guest registers to host registers while one block is
// being compiled. Guest registers live in the CPU state; the model loads
// them into scratch host registers for each instruction and stores results
// back, replacing reads of registers with known values by immediates.
type RegisterModel struct {
	asm *hostisa.Assembler

	next  uint8
	known [32]bool
	value [32]uint64
}

// NewRegisterModel creates a model emitting into asm.
func NewRegisterModel(asm *hostisa.Assembler) *RegisterModel {
	m := &RegisterModel{asm: asm}
	m.Reset()
	return m
}

// Reset forgets all known values except r0.
func (m *RegisterModel) Reset() {
	m.next = 0
	m.known = [32]bool{}
	m.known[0] = true
	m.value[0] = 0
}

// Begin starts a new guest instruction, releasing all scratch registers.
func (m *RegisterModel) Begin() {
	m.next = 0
}

// Temp allocates a scratch register.
func (m *RegisterModel) Temp() uint8 {
	if m.next >= numScratch {
		panic(fmt.Sprintf("jit: out of scratch registers (%d)", numScratch))
	}
	r := m.next
	m.next++
	return r
}

// Read loads guest register gpr into a fresh scratch register.
func (m *RegisterModel) Read(gpr uint8) uint8 {
	r := m.Temp()
	if m.known[gpr] {
		m.asm.LoadImm(r, m.value[gpr])
	} else {
		m.asm.LoadGPR(r, gpr)
	}
	return r
}

// ReadInto loads guest register gpr into host register dst.
func (m *RegisterModel) ReadInto(dst, gpr uint8) {
	if m.known[gpr] {
		m.asm.LoadImm(dst, m.value[gpr])
		return
	}
	m.asm.LoadGPR(dst, gpr)
}

// Imm loads a constant into a fresh scratch register.
func (m *RegisterModel) Imm(v uint64) uint8 {
	r := m.Temp()
	m.asm.LoadImm(r, v)
	return r
}

// Write stores host register src into guest register gpr. Writes to r0
// are dropped.
func (m *RegisterModel) Write(gpr, src uint8) {
	if gpr == 0 {
		return
	}
	m.known[gpr] = false
	m.asm.StoreGPR(gpr, src)
}

// SetConst writes the constant v to guest register gpr and remembers it.
func (m *RegisterModel) SetConst(gpr uint8, v uint64) {
	if gpr == 0 {
		return
	}
	r := m.Temp()
	m.asm.LoadImm(r, v)
	m.asm.StoreGPR(gpr, r)
	m.known[gpr] = true
	m.value[gpr] = v
}

// Known returns the value of gpr if it is known at this point of the block.
func (m *RegisterModel) Known(gpr uint8) (uint64, bool) {
	return m.value[gpr], m.known[gpr]
}

// Forget marks gpr as unknown.
func (m *RegisterModel) Forget(gpr uint8) {
	if gpr != 0 {
		m.known[gpr] = false
	}
}
