package mmu

// Segment is a region of the 32-bit kernel virtual address space.
type Segment uint8

// Virtual segments.
const (
	SegInvalid Segment = iota
	SegKUSEG           // 0x00000000-0x7FFFFFFF, TLB mapped
	SegKSEG0           // 0x80000000-0x9FFFFFFF, direct mapped, cached
	SegKSEG1           // 0xA0000000-0xBFFFFFFF, direct mapped, uncached
	SegKSSEG           // 0xC0000000-0xDFFFFFFF, TLB mapped
	SegKSEG3           // 0xE0000000-0xFFFFFFFF, TLB mapped
)

// Segment bases.
const (
	KSEG0Base = 0x80000000
	KSEG1Base = 0xA0000000
	KSSEGBase = 0xC0000000
	KSEG3Base = 0xE0000000
)

func (s Segment) String() string {
	switch s {
	case SegKUSEG:
		return "kuseg"
	case SegKSEG0:
		return "kseg0"
	case SegKSEG1:
		return "kseg1"
	case SegKSSEG:
		return "ksseg"
	case SegKSEG3:
		return "kseg3"
	}
	return "invalid"
}

// Mapped reports whether addresses in the segment go through the TLB.
func (s Segment) Mapped() bool {
	return s == SegKUSEG || s == SegKSSEG || s == SegKSEG3
}

// SignExtended reports whether vaddr is a sign-extended 32-bit address.
func SignExtended(vaddr uint64) bool {
	return uint64(int64(int32(vaddr))) == vaddr
}

// SegmentOf returns the segment of a sign-extended 32-bit virtual address.
func SegmentOf(vaddr uint64) Segment {
	if !SignExtended(vaddr) {
		return SegInvalid
	}
	v := uint32(vaddr)
	switch {
	case v < KSEG0Base:
		return SegKUSEG
	case v < KSEG1Base:
		return SegKSEG0
	case v < KSSEGBase:
		return SegKSEG1
	case v < KSEG3Base:
		return SegKSSEG
	default:
		return SegKSEG3
	}
}

// DirectPhysical returns the physical address of a KSEG0 or KSEG1 address.
func DirectPhysical(vaddr uint64) (uint64, bool) {
	switch SegmentOf(vaddr) {
	case SegKSEG0, SegKSEG1:
		return vaddr & 0x1FFFFFFF, true
	}
	return 0, false
}

func (m Mode) canAccess(s Segment) bool {
	switch m {
	case ModeUser:
		return s == SegKUSEG
	case ModeSupervisor:
		return s == SegKUSEG || s == SegKSSEG
	}
	return s != SegInvalid
}
