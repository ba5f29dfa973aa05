package hostisa

// Label marks a forward skip awaiting its destination.
type Label int

// Assembler builds HX code.
type Assembler struct {
	code []Inst
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Emit appends in and returns its index.
func (a *Assembler) Emit(in Inst) int {
	a.code = append(a.code, in)
	return len(a.code) - 1
}

// Len returns the number of instructions emitted.
func (a *Assembler) Len() int {
	return len(a.code)
}

// Size returns the encoded size in bytes.
func (a *Assembler) Size() int {
	return len(a.code) * InstSize
}

// Insts returns the emitted instructions.
func (a *Assembler) Insts() []Inst {
	return a.code
}

// Reset discards everything emitted.
func (a *Assembler) Reset() {
	a.code = a.code[:0]
}

// EncodeTo writes the code into buf, which must hold Size bytes.
func (a *Assembler) EncodeTo(buf []byte) {
	for i, in := range a.code {
		Encode(buf[i*InstSize:], in)
	}
}

// Bytes returns the encoded code.
func (a *Assembler) Bytes() []byte {
	buf := make([]byte, a.Size())
	a.EncodeTo(buf)
	return buf
}

// Bind makes the skip at l land on the next instruction emitted.
func (a *Assembler) Bind(l Label) {
	a.code[l].Imm = uint64(len(a.code) - int(l) - 1)
}

// LoadGPR loads guest register gpr into host register dst.
func (a *Assembler) LoadGPR(dst, gpr uint8) {
	a.Emit(Inst{Op: OpLoadGPR, A: dst, B: gpr})
}

// StoreGPR stores host register src into guest register gpr.
func (a *Assembler) StoreGPR(gpr, src uint8) {
	a.Emit(Inst{Op: OpStoreGPR, A: src, B: gpr})
}

// LoadImm sets dst to imm.
func (a *Assembler) LoadImm(dst uint8, imm uint64) {
	a.Emit(Inst{Op: OpLoadImm, A: dst, Imm: imm})
}

// Move copies src to dst.
func (a *Assembler) Move(dst, src uint8) {
	a.Emit(Inst{Op: OpMove, A: dst, B: src})
}

// ALU emits a three-register operation.
func (a *Assembler) ALU(op Op, dst, x, y uint8) {
	a.Emit(Inst{Op: op, A: dst, B: x, C: y})
}

// ALUImm emits a register-immediate operation.
func (a *Assembler) ALUImm(op Op, dst, x uint8, imm uint64) {
	a.Emit(Inst{Op: op, A: dst, B: x, Imm: imm})
}

// Checked emits an overflow-checked operation for the guest instruction
// at pos.
func (a *Assembler) Checked(op Op, dst, x, y uint8, pos Position) {
	a.Emit(Inst{Op: op, A: dst, B: x, C: y, Aux: uint32(pos)})
}

// MulDiv writes HI and LO from x and y as guest opcode guestOp does.
func (a *Assembler) MulDiv(guestOp uint16, x, y uint8) {
	a.Emit(Inst{Op: OpMulDiv, B: x, C: y, Imm: uint64(guestOp)})
}

// SetTrap sets dst to the trap condition of guest opcode guestOp applied
// to x and y.
func (a *Assembler) SetTrap(dst, x, y uint8, guestOp uint16) {
	a.Emit(Inst{Op: OpSetTrap, A: dst, B: x, C: y, Imm: uint64(guestOp)})
}

// TrapIf raises exception code at pos when cond is non-zero.
func (a *Assembler) TrapIf(cond uint8, code uint8, pos Position) {
	a.Emit(Inst{Op: OpTrapIf, A: cond, Aux: uint32(pos), Imm: uint64(code)})
}

// Raise raises exception code at pos. unit is the coprocessor for
// coprocessor-unusable exceptions.
func (a *Assembler) Raise(code, unit uint8, pos Position) {
	a.Emit(Inst{Op: OpRaise, C: unit, Aux: uint32(pos), Imm: uint64(code)})
}

// Mem emits a memory operation on base+offset.
func (a *Assembler) Mem(op Op, reg, base uint8, offset uint64, flags uint8, pos Position) {
	a.Emit(Inst{Op: op, A: reg, B: base, C: flags, Aux: uint32(pos), Imm: offset})
}

// Phys emits a physical memory operation on paddr.
func (a *Assembler) Phys(op Op, reg uint8, paddr uint64, flags uint8, pos Position) {
	a.Emit(Inst{Op: op, A: reg, C: flags, Aux: uint32(pos), Imm: paddr})
}

// SkipIfZero emits a forward skip taken when cond is zero.
func (a *Assembler) SkipIfZero(cond uint8) Label {
	return Label(a.Emit(Inst{Op: OpSkipIfZero, A: cond}))
}

// Skip emits an unconditional forward skip.
func (a *Assembler) Skip() Label {
	return Label(a.Emit(Inst{Op: OpSkip}))
}

// Exit leaves the block with PC = pc after retired guest instructions.
func (a *Assembler) Exit(pc uint64, retired int) {
	a.Emit(Inst{Op: OpExit, Aux: uint32(retired), Imm: pc})
}

// ExitReg leaves the block with PC taken from src.
func (a *Assembler) ExitReg(src uint8, retired int) {
	a.Emit(Inst{Op: OpExitReg, A: src, Aux: uint32(retired)})
}

// Guard leaves the block at pc when a store invalidated it.
func (a *Assembler) Guard(pc uint64, retired int) {
	a.Emit(Inst{Op: OpGuard, Aux: uint32(retired), Imm: pc})
}

// Poll leaves the block at pc when an interrupt is pending.
func (a *Assembler) Poll(pc uint64, retired int) {
	a.Emit(Inst{Op: OpPoll, Aux: uint32(retired), Imm: pc})
}

// FetchCheck re-fetches the delay slot at pc, raising its fetch fault.
func (a *Assembler) FetchCheck(pc uint64, pos Position) {
	a.Emit(Inst{Op: OpFetchCheck, Aux: uint32(pos), Imm: pc})
}

// MFC0 reads CP0 register reg into dst.
func (a *Assembler) MFC0(dst, reg uint8, double bool) {
	a.Emit(Inst{Op: OpMFC0, A: dst, B: reg, C: boolByte(double)})
}

// MTC0 writes src to CP0 register reg.
func (a *Assembler) MTC0(reg, src uint8, double bool) {
	a.Emit(Inst{Op: OpMTC0, A: src, B: reg, C: boolByte(double)})
}

// System emits an operand-less instruction such as OpTLBWI.
func (a *Assembler) System(op Op) {
	a.Emit(Inst{Op: op})
}

// ERET returns from an exception and leaves the block.
func (a *Assembler) ERET(retired int) {
	a.Emit(Inst{Op: OpERET, Aux: uint32(retired)})
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
