// Package mmu provides the memory side of the CPU: virtual address
// translation (segments, the 32-entry joint TLB and a micro-TLB), the
// physical memory map, RDRAM, and the Bridge through which every guest load,
// store and instruction fetch is performed.
package mmu

import "fmt"

// Width is the size of a memory access in bytes.
type Width uint8

// Access widths.
const (
	Byte       Width = 1
	Halfword   Width = 2
	Word       Width = 4
	Doubleword Width = 8
)

// Mask returns the all-ones value of the width.
func (w Width) Mask() uint64 {
	if w == Doubleword {
		return ^uint64(0)
	}
	return 1<<(8*uint(w)) - 1
}

// AccessKind identifies the reason for a memory access.
type AccessKind uint8

// Access kinds.
const (
	AccessFetch AccessKind = iota
	AccessLoad
	AccessStore
)

func (k AccessKind) String() string {
	switch k {
	case AccessFetch:
		return "fetch"
	case AccessLoad:
		return "load"
	case AccessStore:
		return "store"
	}
	return fmt.Sprintf("access(%d)", uint8(k))
}

// FaultKind classifies a memory fault.
type FaultKind uint8

// Fault kinds.
const (
	FaultAddressError FaultKind = iota
	FaultTLBMiss
	FaultTLBInvalid
	FaultPermission
	FaultBus
)

func (k FaultKind) String() string {
	switch k {
	case FaultAddressError:
		return "address error"
	case FaultTLBMiss:
		return "TLB miss"
	case FaultTLBInvalid:
		return "TLB invalid"
	case FaultPermission:
		return "permission violation"
	case FaultBus:
		return "bus error"
	}
	return fmt.Sprintf("fault(%d)", uint8(k))
}

// Fault is a memory fault. It is recoverable: the dispatcher delivers it to
// the guest as an exception.
type Fault struct {
	Kind   FaultKind
	VAddr  uint64
	Access AccessKind
	Width  Width
	Err    error // underlying bus error for FaultBus
}

func (f *Fault) Error() string {
	msg := fmt.Sprintf("%s on %s of %d bytes at 0x%016X", f.Kind, f.Access, f.Width, f.VAddr)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// PhysicalRef is the result of a successful translation.
type PhysicalRef struct {
	Addr   uint64
	Mapped bool // translated through the TLB
	Cached bool // KSEG0 or a cacheable TLB mapping
}

// Mode is the CPU operating mode used for segment access checks.
type Mode uint8

// Operating modes.
const (
	ModeKernel Mode = iota
	ModeSupervisor
	ModeUser
)

// Privilege supplies the translation context. It is implemented by the
// coprocessor 0 register set.
type Privilege interface {
	Mode() Mode
	ASID() uint8
}

type kernelPrivilege struct{}

func (kernelPrivilege) Mode() Mode  { return ModeKernel }
func (kernelPrivilege) ASID() uint8 { return 0 }

// Invalidator is notified synchronously when a store hits a physical page
// that holds compiled code.
type Invalidator interface {
	InvalidatePhys(lo, hi uint64)
}

// MappingObserver is notified when virtual to physical mappings change.
type MappingObserver interface {
	MappingChanged()
}
