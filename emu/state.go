package emu

import (
	"fmt"

	"github.com/sarchlab/n64jit/mmu"
)

// CpuState is the architectural state of one VR4300. Between instructions
// it reflects the effects of every fully retired instruction and nothing
// else.
type CpuState struct {
	RegFile
	CP0 CP0

	// Retired counts retired instructions.
	Retired uint64
}

// NewCpuState creates a CPU after a power-on reset.
func NewCpuState() *CpuState {
	s := &CpuState{}
	s.PowerOnReset()
	return s
}

// PowerOnReset initializes the CPU as the ColdReset signal does: ERL and BEV
// set, Random at its upper limit, big-endian configuration and execution
// starting at the reset vector. Everything else is cleared.
func (s *CpuState) PowerOnReset() {
	*s = CpuState{}
	s.CP0.Status = StatusERL | StatusBEV
	s.CP0.Random = 31
	s.CP0.Config = 0x0006E463
	s.CP0.PRId = 0x00000B22
	s.PC = ResetVector
}

// SoftReset restarts execution at the reset vector keeping most state, as
// the NMI/Reset signal does.
func (s *CpuState) SoftReset() {
	s.CP0.ErrorEPC = s.PC
	s.CP0.Status |= StatusERL | StatusBEV
	s.PC = ResetVector
}

// PIF boot constants.
const (
	pifBootCopySize = 0x1000
	pifStatus       = 0x70400004 // CU0-2, BEV, ERL
	pifConfig       = 0x0006E463
	pifPRId         = 0x00000B00
)

// SimulatePIF leaves the CPU in the state the PIF ROM boot code would:
// the boot registers set, the first 0x1000 bytes of the cartridge copied
// into SP DMEM, and execution starting at 0xA4000040.
func (s *CpuState) SimulatePIF(bus mmu.Bus) error {
	s.GPR = [32]uint64{}
	s.GPR[11] = 0xFFFFFFFFA4000040
	s.GPR[20] = 0x0000000000000001
	s.GPR[22] = 0x000000000000003F
	s.GPR[29] = 0xFFFFFFFFA4001FF0

	s.CP0 = CP0{
		Random: 31,
		Status: pifStatus,
		PRId:   pifPRId,
		Config: pifConfig,
	}

	for off := uint64(0); off < pifBootCopySize; off += 4 {
		v, err := bus.Read(mmu.RegionCartROM.Base+off, mmu.Word)
		if err != nil {
			return fmt.Errorf("failed to read cartridge boot code: %w", err)
		}
		if err := bus.Write(mmu.RegionSPDMEM.Base+off, mmu.Word, v); err != nil {
			return fmt.Errorf("failed to copy boot code to SP DMEM: %w", err)
		}
	}

	s.PC = PIFEntryVector
	return nil
}

// InterruptPending reports whether an interrupt exception should be taken.
func (s *CpuState) InterruptPending() bool {
	return s.CP0.InterruptPending()
}

// Retire accounts for n retired instructions.
func (s *CpuState) Retire(n uint64) {
	s.Retired += n
	s.CP0.Advance(n)
}

// MoveFromCP0 implements MFC0 (sign-extended low word) and DMFC0.
func (s *CpuState) MoveFromCP0(reg uint8, double bool) uint64 {
	v := s.CP0.Read(reg)
	if double {
		return v
	}
	return SignExtend32(v)
}

// MoveToCP0 implements MTC0 and DMTC0 and propagates address space changes
// to the bridge.
func (s *CpuState) MoveToCP0(b *mmu.Bridge, reg uint8, value uint64, double bool) WriteEffect {
	if !double {
		value = SignExtend32(value)
	}
	effect := s.CP0.Write(reg, value)
	if effect&EffectASID != 0 && b != nil {
		b.MappingChanged()
	}
	return effect
}

func (s *CpuState) tlbEntry() mmu.TLBEntry {
	return mmu.TLBEntry{
		PageMask: s.CP0.PageMask,
		EntryHi:  s.CP0.EntryHi,
		EntryLo0: s.CP0.EntryLo0,
		EntryLo1: s.CP0.EntryLo1,
	}
}

// TLBRead implements TLBR.
func (s *CpuState) TLBRead(b *mmu.Bridge) {
	e := b.TLB().Read(int(s.CP0.Index & 0x1F))
	g := uint64(0)
	if e.Global() {
		g = mmu.EntryLoGlobal
	}
	asid := s.CP0.ASID()
	s.CP0.PageMask = e.PageMask
	s.CP0.EntryHi = e.EntryHi
	if s.CP0.ASID() != asid {
		b.MappingChanged()
	}
	s.CP0.EntryLo0 = e.EntryLo0&^mmu.EntryLoGlobal | g
	s.CP0.EntryLo1 = e.EntryLo1&^mmu.EntryLoGlobal | g
}

// TLBWriteIndexed implements TLBWI.
func (s *CpuState) TLBWriteIndexed(b *mmu.Bridge) {
	b.WriteTLB(int(s.CP0.Index&0x1F), s.tlbEntry())
}

// TLBWriteRandom implements TLBWR.
func (s *CpuState) TLBWriteRandom(b *mmu.Bridge) {
	b.WriteTLB(int(s.CP0.Random&0x1F), s.tlbEntry())
}

// TLBProbe implements TLBP.
func (s *CpuState) TLBProbe(b *mmu.Bridge) {
	if i, ok := b.TLB().Probe(s.CP0.EntryHi); ok {
		s.CP0.Index = uint64(i)
		return
	}
	s.CP0.Index = IndexProbeFailure
}
