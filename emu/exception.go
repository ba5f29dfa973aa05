package emu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/n64jit/insts"
	"github.com/sarchlab/n64jit/mmu"
)

// ExcCode is the Cause.ExcCode value of an exception.
type ExcCode uint8

// Exception codes.
const (
	ExcInt  ExcCode = 0  // Interrupt
	ExcMod  ExcCode = 1  // TLB modification
	ExcTLBL ExcCode = 2  // TLB miss or invalid (load or fetch)
	ExcTLBS ExcCode = 3  // TLB miss or invalid (store)
	ExcAdEL ExcCode = 4  // Address error (load or fetch)
	ExcAdES ExcCode = 5  // Address error (store)
	ExcIBE  ExcCode = 6  // Bus error (fetch)
	ExcDBE  ExcCode = 7  // Bus error (data)
	ExcSys  ExcCode = 8  // Syscall
	ExcBp   ExcCode = 9  // Breakpoint
	ExcRI   ExcCode = 10 // Reserved instruction
	ExcCpU  ExcCode = 11 // Coprocessor unusable
	ExcOv   ExcCode = 12 // Arithmetic overflow
	ExcTr   ExcCode = 13 // Trap
)

var excNames = map[ExcCode]string{
	ExcInt: "interrupt", ExcMod: "TLB modification", ExcTLBL: "TLB load",
	ExcTLBS: "TLB store", ExcAdEL: "address error load", ExcAdES: "address error store",
	ExcIBE: "instruction bus error", ExcDBE: "data bus error", ExcSys: "syscall",
	ExcBp: "breakpoint", ExcRI: "reserved instruction", ExcCpU: "coprocessor unusable",
	ExcOv: "overflow", ExcTr: "trap",
}

func (c ExcCode) String() string {
	if s, ok := excNames[c]; ok {
		return s
	}
	return fmt.Sprintf("exception(%d)", uint8(c))
}

// Exception vector bases and offsets.
const (
	VectorBase     = 0xFFFFFFFF80000000
	VectorBaseBEV  = 0xFFFFFFFFBFC00200
	VectorRefill   = 0x000
	VectorGeneral  = 0x180
	ResetVector    = 0xFFFFFFFFBFC00000
	PIFEntryVector = 0xFFFFFFFFA4000040
)

// Exception is a guest exception waiting to be delivered. Overflow traps,
// system traps and memory faults all take this form.
type Exception struct {
	Code        ExcCode
	PC          uint64 // address of the excepting instruction
	InDelaySlot bool
	BadVAddr    uint64
	HasBadVAddr bool
	Refill      bool  // TLB miss taken through the refill vector
	Unit        uint8 // coprocessor number for ExcCpU
	Err         error // underlying fault, if any
}

func (e *Exception) Error() string {
	msg := fmt.Sprintf("%s exception at PC=0x%016X", e.Code, e.PC)
	if e.InDelaySlot {
		msg += " (delay slot)"
	}
	if e.HasBadVAddr {
		msg += fmt.Sprintf(" address 0x%016X", e.BadVAddr)
	}
	return msg
}

func (e *Exception) Unwrap() error {
	return e.Err
}

// FromFault converts a memory fault at pc into an exception.
func FromFault(err error, pc uint64, inDelaySlot bool) *Exception {
	exc := &Exception{PC: pc, InDelaySlot: inDelaySlot, Err: err}

	var f *mmu.Fault
	if !errors.As(err, &f) {
		exc.Code = ExcDBE
		return exc
	}

	store := f.Access == mmu.AccessStore
	switch f.Kind {
	case mmu.FaultAddressError:
		exc.Code = pick(store, ExcAdES, ExcAdEL)
		exc.BadVAddr, exc.HasBadVAddr = f.VAddr, true
	case mmu.FaultTLBMiss:
		exc.Code = pick(store, ExcTLBS, ExcTLBL)
		exc.BadVAddr, exc.HasBadVAddr = f.VAddr, true
		exc.Refill = true
	case mmu.FaultTLBInvalid:
		exc.Code = pick(store, ExcTLBS, ExcTLBL)
		exc.BadVAddr, exc.HasBadVAddr = f.VAddr, true
	case mmu.FaultPermission:
		exc.Code = ExcMod
		exc.BadVAddr, exc.HasBadVAddr = f.VAddr, true
	default:
		exc.Code = pick(f.Access == mmu.AccessFetch, ExcIBE, ExcDBE)
	}
	return exc
}

// FromDecodeError converts an illegal instruction into the exception the
// trap policy raises for it.
func FromDecodeError(err *insts.DecodeError, pc uint64, inDelaySlot bool) *Exception {
	exc := &Exception{Code: ExcRI, PC: pc, InDelaySlot: inDelaySlot, Err: err}
	if err.Reason == insts.ReasonCoprocessorUnusable {
		exc.Code = ExcCpU
		exc.Unit = uint8(err.Unit)
	}
	return exc
}

func pick(cond bool, a, b ExcCode) ExcCode {
	if cond {
		return a
	}
	return b
}

func isTLBException(c ExcCode) bool {
	return c == ExcMod || c == ExcTLBL || c == ExcTLBS
}

// EnterException delivers exc: it records EPC and Cause, sets EXL and moves
// PC to the exception vector.
func (s *CpuState) EnterException(exc *Exception) {
	cp0 := &s.CP0
	offset := uint64(VectorGeneral)

	if cp0.Status&StatusEXL == 0 {
		epc := exc.PC
		cp0.Cause &^= CauseBD
		if exc.InDelaySlot {
			epc -= 4
			cp0.Cause |= CauseBD
		}
		cp0.EPC = epc
		if exc.Refill {
			offset = VectorRefill
		}
	}

	cp0.Cause = cp0.Cause&^(CauseExcCodeMask|CauseCEMask) |
		uint64(exc.Code)<<2 | uint64(exc.Unit&3)<<28

	if exc.HasBadVAddr {
		cp0.BadVAddr = exc.BadVAddr
		if isTLBException(exc.Code) {
			vpn2 := exc.BadVAddr >> 13
			cp0.Context = cp0.Context&^0x7FFFF0 | (vpn2<<4)&0x7FFFF0
			cp0.XContext = cp0.XContext&^0x1FFFFFFF0 | (vpn2<<4)&0x7FFFFFF0
			cp0.EntryHi = SignExtend32(exc.BadVAddr&mmu.EntryHiVPN2) | cp0.EntryHi&mmu.EntryHiASID
		}
	}

	cp0.Status |= StatusEXL

	base := uint64(VectorBase)
	if cp0.Status&StatusBEV != 0 {
		base = VectorBaseBEV
	}
	s.PC = base + offset
}

// ReturnFromException performs ERET.
func (s *CpuState) ReturnFromException() {
	cp0 := &s.CP0
	if cp0.Status&StatusERL != 0 {
		s.PC = cp0.ErrorEPC
		cp0.Status &^= StatusERL
	} else {
		s.PC = cp0.EPC
		cp0.Status &^= StatusEXL
	}
	s.LLBit = false
}
