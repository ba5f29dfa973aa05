package jit

import (
	"github.com/sarchlab/n64jit/emu"
	"github.com/sarchlab/n64jit/hostisa"
	"github.com/sarchlab/n64jit/insts"
	"github.com/sarchlab/n64jit/mmu"
)

// blockEnd tells the block loop whether compilation continues after an
// instruction.
type blockEnd uint8

const (
	// next instruction follows
	continues blockEnd = iota
	// the block must exit after this instruction
	endAfter
	// the emitted code always leaves the block
	terminated
)

// emit compiles a non-branch instruction at pc, the idx-th of the block.
func (b *block) emit(inst *insts.Instruction, pc uint64, idx int, inDelay bool) blockEnd {
	a := b.asm
	r := b.regs
	pos := hostisa.At(idx, inDelay)
	simm := uint64(inst.SImm())

	if log := b.c.log.V(3); log.Enabled() {
		log.Info("emit", "pc", pc, "inst", inst.String(), "delaySlot", inDelay)
	}

	// rd = rs op rt
	reg3 := func(op hostisa.Op) {
		x, y := r.Read(inst.Rs), r.Read(inst.Rt)
		d := r.Temp()
		a.ALU(op, d, x, y)
		r.Write(inst.Rd, d)
	}
	// rd = rs op rt, trapping on overflow
	checked3 := func(op hostisa.Op) {
		x, y := r.Read(inst.Rs), r.Read(inst.Rt)
		d := r.Temp()
		a.Checked(op, d, x, y, pos)
		r.Write(inst.Rd, d)
	}
	// rt = rs op imm, folded when rs is known
	immOp := func(op hostisa.Op, imm uint64, fold func(uint64) uint64) {
		if v, ok := r.Known(inst.Rs); ok {
			r.SetConst(inst.Rt, fold(v))
			return
		}
		x := r.Read(inst.Rs)
		d := r.Temp()
		a.ALUImm(op, d, x, imm)
		r.Write(inst.Rt, d)
	}
	// rd = rt shifted by amount
	shift := func(op hostisa.Op, amount uint8) {
		x := r.Read(inst.Rt)
		sa := r.Imm(uint64(amount))
		d := r.Temp()
		a.ALU(op, d, x, sa)
		r.Write(inst.Rd, d)
	}
	// rd = rt shifted by rs
	shiftVar := func(op hostisa.Op) {
		x, sa := r.Read(inst.Rt), r.Read(inst.Rs)
		d := r.Temp()
		a.ALU(op, d, x, sa)
		r.Write(inst.Rd, d)
	}
	trap := func(y uint8) {
		x := r.Read(inst.Rs)
		cond := r.Temp()
		a.SetTrap(cond, x, y, uint16(inst.Op))
		a.TrapIf(cond, uint8(emu.ExcTr), pos)
	}

	switch inst.Op {
	case insts.OpNOP, insts.OpSYNC, insts.OpCACHE:

	// Immediate arithmetic
	case insts.OpLUI:
		r.SetConst(inst.Rt, emu.SignExtend32(inst.ZImm()<<16))
	case insts.OpADDIU:
		if v, ok := r.Known(inst.Rs); ok {
			sum, _ := emu.Add32(v, simm)
			r.SetConst(inst.Rt, sum)
			break
		}
		x, y := r.Read(inst.Rs), r.Imm(simm)
		d := r.Temp()
		a.ALU(hostisa.OpAdd32, d, x, y)
		r.Write(inst.Rt, d)
	case insts.OpADDI, insts.OpDADDI:
		op := hostisa.OpAdd32Trap
		if inst.Op == insts.OpDADDI {
			op = hostisa.OpAdd64Trap
		}
		x, y := r.Read(inst.Rs), r.Imm(simm)
		d := r.Temp()
		a.Checked(op, d, x, y, pos)
		r.Write(inst.Rt, d)
	case insts.OpDADDIU:
		immOp(hostisa.OpAddImm, simm, func(v uint64) uint64 { return v + simm })
	case insts.OpANDI:
		immOp(hostisa.OpAndImm, inst.ZImm(), func(v uint64) uint64 { return v & inst.ZImm() })
	case insts.OpORI:
		immOp(hostisa.OpOrImm, inst.ZImm(), func(v uint64) uint64 { return v | inst.ZImm() })
	case insts.OpXORI:
		immOp(hostisa.OpXorImm, inst.ZImm(), func(v uint64) uint64 { return v ^ inst.ZImm() })
	case insts.OpSLTI, insts.OpSLTIU:
		op := hostisa.OpSlt
		if inst.Op == insts.OpSLTIU {
			op = hostisa.OpSltu
		}
		x, y := r.Read(inst.Rs), r.Imm(simm)
		d := r.Temp()
		a.ALU(op, d, x, y)
		r.Write(inst.Rt, d)

	// Register arithmetic
	case insts.OpADD:
		checked3(hostisa.OpAdd32Trap)
	case insts.OpSUB:
		checked3(hostisa.OpSub32Trap)
	case insts.OpDADD:
		checked3(hostisa.OpAdd64Trap)
	case insts.OpDSUB:
		checked3(hostisa.OpSub64Trap)
	case insts.OpADDU:
		reg3(hostisa.OpAdd32)
	case insts.OpSUBU:
		reg3(hostisa.OpSub32)
	case insts.OpDADDU:
		reg3(hostisa.OpAdd)
	case insts.OpDSUBU:
		reg3(hostisa.OpSub)
	case insts.OpAND:
		reg3(hostisa.OpAnd)
	case insts.OpOR:
		reg3(hostisa.OpOr)
	case insts.OpXOR:
		reg3(hostisa.OpXor)
	case insts.OpNOR:
		reg3(hostisa.OpNor)
	case insts.OpSLT:
		reg3(hostisa.OpSlt)
	case insts.OpSLTU:
		reg3(hostisa.OpSltu)

	// Shifts
	case insts.OpSLL:
		shift(hostisa.OpSll32, inst.Sa)
	case insts.OpSRL:
		shift(hostisa.OpSrl32, inst.Sa)
	case insts.OpSRA:
		shift(hostisa.OpSra32, inst.Sa)
	case insts.OpDSLL:
		shift(hostisa.OpDsll, inst.Sa)
	case insts.OpDSRL:
		shift(hostisa.OpDsrl, inst.Sa)
	case insts.OpDSRA:
		shift(hostisa.OpDsra, inst.Sa)
	case insts.OpDSLL32:
		shift(hostisa.OpDsll, inst.Sa+32)
	case insts.OpDSRL32:
		shift(hostisa.OpDsrl, inst.Sa+32)
	case insts.OpDSRA32:
		shift(hostisa.OpDsra, inst.Sa+32)
	case insts.OpSLLV:
		shiftVar(hostisa.OpSll32)
	case insts.OpSRLV:
		shiftVar(hostisa.OpSrl32)
	case insts.OpSRAV:
		shiftVar(hostisa.OpSra32)
	case insts.OpDSLLV:
		shiftVar(hostisa.OpDsll)
	case insts.OpDSRLV:
		shiftVar(hostisa.OpDsrl)
	case insts.OpDSRAV:
		shiftVar(hostisa.OpDsra)

	// Multiply and divide
	case insts.OpMFHI, insts.OpMFLO:
		d := r.Temp()
		if inst.Op == insts.OpMFHI {
			a.Emit(hostisa.Inst{Op: hostisa.OpLoadHI, A: d})
		} else {
			a.Emit(hostisa.Inst{Op: hostisa.OpLoadLO, A: d})
		}
		r.Write(inst.Rd, d)
	case insts.OpMTHI, insts.OpMTLO:
		x := r.Read(inst.Rs)
		if inst.Op == insts.OpMTHI {
			a.Emit(hostisa.Inst{Op: hostisa.OpStoreHI, A: x})
		} else {
			a.Emit(hostisa.Inst{Op: hostisa.OpStoreLO, A: x})
		}
	case insts.OpMULT, insts.OpMULTU, insts.OpDIV, insts.OpDIVU,
		insts.OpDMULT, insts.OpDMULTU, insts.OpDDIV, insts.OpDDIVU:
		a.MulDiv(uint16(inst.Op), r.Read(inst.Rs), r.Read(inst.Rt))

	// Traps
	case insts.OpTGE, insts.OpTGEU, insts.OpTLT, insts.OpTLTU, insts.OpTEQ, insts.OpTNE:
		trap(r.Read(inst.Rt))
	case insts.OpTGEI, insts.OpTGEIU, insts.OpTLTI, insts.OpTLTIU, insts.OpTEQI, insts.OpTNEI:
		trap(r.Imm(simm))
	case insts.OpSYSCALL:
		a.Raise(uint8(emu.ExcSys), 0, pos)
		return terminated
	case insts.OpBREAK:
		a.Raise(uint8(emu.ExcBp), 0, pos)
		return terminated

	// Coprocessor 0
	case insts.OpMFC0, insts.OpDMFC0:
		d := r.Temp()
		a.MFC0(d, inst.Rd, inst.Op == insts.OpDMFC0)
		r.Write(inst.Rt, d)
	case insts.OpMTC0, insts.OpDMTC0:
		a.MTC0(inst.Rd, r.Read(inst.Rt), inst.Op == insts.OpDMTC0)
		return endAfter
	case insts.OpTLBR:
		a.System(hostisa.OpTLBR)
		return endAfter
	case insts.OpTLBWI:
		a.System(hostisa.OpTLBWI)
		return endAfter
	case insts.OpTLBWR:
		a.System(hostisa.OpTLBWR)
		return endAfter
	case insts.OpTLBP:
		a.System(hostisa.OpTLBP)
	case insts.OpERET:
		a.ERET(idx + 1)
		return terminated

	default:
		acc, ok := emu.MemAccessOf(inst.Op)
		if !ok {
			a.Raise(uint8(emu.ExcRI), 0, pos)
			return terminated
		}
		b.memory(inst, acc, pc, pos)
	}
	return continues
}

// memory compiles a load or store.
func (b *block) memory(inst *insts.Instruction, acc emu.MemAccess, pc uint64, pos hostisa.Position) {
	a := b.asm
	r := b.regs

	if paddr, ok := b.directAddress(inst, acc); ok {
		flags := hostisa.MemFlags(uint8(acc.Width), acc.Signed)
		if acc.Store {
			a.Phys(hostisa.OpStorePhys, r.Read(inst.Rt), paddr, flags, pos)
			b.guard(pc, pos)
			return
		}
		d := r.Temp()
		a.Phys(hostisa.OpLoadPhys, d, paddr, flags, pos)
		r.Write(inst.Rt, d)
		return
	}

	base := r.Read(inst.Rs)
	offset := uint64(inst.SImm())
	flags := hostisa.MemFlags(uint8(acc.Width), acc.Signed)

	switch {
	case acc.Partial && acc.Store:
		a.Mem(hostisa.OpStorePartial, r.Read(inst.Rt), base, offset, uint8(acc.Part), pos)
		b.guard(pc, pos)
	case acc.Partial:
		v := r.Read(inst.Rt)
		a.Mem(hostisa.OpLoadPartial, v, base, offset, uint8(acc.Part), pos)
		r.Write(inst.Rt, v)
	case acc.Linked && acc.Store:
		v := r.Read(inst.Rt)
		a.Mem(hostisa.OpStoreCond, v, base, offset, flags, pos)
		r.Write(inst.Rt, v)
		b.guard(pc, pos)
	case acc.Linked:
		d := r.Temp()
		a.Mem(hostisa.OpLoadLinked, d, base, offset, flags, pos)
		r.Write(inst.Rt, d)
	case acc.Store:
		a.Mem(hostisa.OpStore, r.Read(inst.Rt), base, offset, flags, pos)
		b.guard(pc, pos)
	default:
		d := r.Temp()
		a.Mem(hostisa.OpLoad, d, base, offset, flags, pos)
		r.Write(inst.Rt, d)
	}
}

// guard makes the block exit after a store that invalidated it. In a delay
// slot the block ends right after anyway.
func (b *block) guard(pc uint64, pos hostisa.Position) {
	if pos.InDelaySlot() {
		return
	}
	b.asm.Guard(pc+4, pos.Index()+1)
}

// directAddress returns the physical address of a plain access whose base
// register is known, when it is an aligned KSEG0 or KSEG1 address inside
// RDRAM. Such accesses skip translation. Only blocks that themselves run
// from KSEG0 or KSEG1, and hence in kernel mode, use it.
func (b *block) directAddress(inst *insts.Instruction, acc emu.MemAccess) (uint64, bool) {
	if !b.c.fastMemory || !b.direct || acc.Partial || acc.Linked {
		return 0, false
	}
	base, ok := b.regs.Known(inst.Rs)
	if !ok {
		return 0, false
	}

	vaddr := emu.EffectiveAddress(base, inst.Imm)
	if vaddr&uint64(acc.Width-1) != 0 {
		return 0, false
	}
	paddr, ok := mmu.DirectPhysical(vaddr)
	if !ok {
		return 0, false
	}
	ram := b.c.bridge.RAM()
	if ram == nil || !ram.Contains(paddr, acc.Width) {
		return 0, false
	}
	return paddr, true
}
