package emu

import (
	"github.com/sarchlab/n64jit/insts"
	"github.com/sarchlab/n64jit/mmu"
)

// MemAccess describes the memory behaviour of a load or store opcode.
type MemAccess struct {
	Width   mmu.Width
	Signed  bool
	Store   bool
	Partial bool
	Part    mmu.Partial
	Linked  bool
}

var memAccesses = map[insts.Op]MemAccess{
	insts.OpLB:  {Width: mmu.Byte, Signed: true},
	insts.OpLBU: {Width: mmu.Byte},
	insts.OpLH:  {Width: mmu.Halfword, Signed: true},
	insts.OpLHU: {Width: mmu.Halfword},
	insts.OpLW:  {Width: mmu.Word, Signed: true},
	insts.OpLWU: {Width: mmu.Word},
	insts.OpLD:  {Width: mmu.Doubleword},
	insts.OpLL:  {Width: mmu.Word, Signed: true, Linked: true},
	insts.OpLLD: {Width: mmu.Doubleword, Linked: true},
	insts.OpLWL: {Width: mmu.Word, Partial: true, Part: mmu.PartialWordLeft},
	insts.OpLWR: {Width: mmu.Word, Partial: true, Part: mmu.PartialWordRight},
	insts.OpLDL: {Width: mmu.Doubleword, Partial: true, Part: mmu.PartialDoubleLeft},
	insts.OpLDR: {Width: mmu.Doubleword, Partial: true, Part: mmu.PartialDoubleRight},

	insts.OpSB:  {Width: mmu.Byte, Store: true},
	insts.OpSH:  {Width: mmu.Halfword, Store: true},
	insts.OpSW:  {Width: mmu.Word, Store: true},
	insts.OpSD:  {Width: mmu.Doubleword, Store: true},
	insts.OpSC:  {Width: mmu.Word, Store: true, Linked: true},
	insts.OpSCD: {Width: mmu.Doubleword, Store: true, Linked: true},
	insts.OpSWL: {Width: mmu.Word, Store: true, Partial: true, Part: mmu.PartialWordLeft},
	insts.OpSWR: {Width: mmu.Word, Store: true, Partial: true, Part: mmu.PartialWordRight},
	insts.OpSDL: {Width: mmu.Doubleword, Store: true, Partial: true, Part: mmu.PartialDoubleLeft},
	insts.OpSDR: {Width: mmu.Doubleword, Store: true, Partial: true, Part: mmu.PartialDoubleRight},
}

// MemAccessOf returns the access performed by op.
func MemAccessOf(op insts.Op) (MemAccess, bool) {
	a, ok := memAccesses[op]
	return a, ok
}

// Extend widens a loaded value to 64 bits.
func Extend(v uint64, w mmu.Width, signed bool) uint64 {
	if !signed {
		return v & w.Mask()
	}
	switch w {
	case mmu.Byte:
		return uint64(int64(int8(v)))
	case mmu.Halfword:
		return uint64(int64(int16(v)))
	case mmu.Word:
		return uint64(int64(int32(v)))
	}
	return v
}

// EffectiveAddress computes base + sign-extended offset.
func EffectiveAddress(base uint64, imm uint16) uint64 {
	return base + uint64(int64(int16(imm)))
}

// loadStore executes a load or store instruction.
func (e *Emulator) loadStore(inst *insts.Instruction, a MemAccess) error {
	s := e.state
	b := e.bridge
	vaddr := EffectiveAddress(s.ReadReg(inst.Rs), inst.Imm)

	switch {
	case a.Partial && a.Store:
		return b.StorePartial(a.Part, vaddr, s.ReadReg(inst.Rt))
	case a.Partial:
		v, err := b.LoadPartial(a.Part, vaddr, s.ReadReg(inst.Rt))
		if err != nil {
			return err
		}
		s.WriteReg(inst.Rt, v)
	case a.Linked && a.Store:
		if !s.LLBit {
			s.WriteReg(inst.Rt, 0)
			return nil
		}
		if err := b.Store(vaddr, a.Width, s.ReadReg(inst.Rt)); err != nil {
			return err
		}
		s.WriteReg(inst.Rt, 1)
	case a.Linked:
		v, paddr, err := b.LoadLinked(vaddr, a.Width)
		if err != nil {
			return err
		}
		s.WriteReg(inst.Rt, Extend(v, a.Width, a.Signed))
		s.LLBit = true
		s.CP0.LLAddr = paddr >> 4
	case a.Store:
		return b.Store(vaddr, a.Width, s.ReadReg(inst.Rt))
	default:
		v, err := b.Load(vaddr, a.Width)
		if err != nil {
			return err
		}
		s.WriteReg(inst.Rt, Extend(v, a.Width, a.Signed))
	}
	return nil
}
