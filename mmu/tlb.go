package mmu

// TLBEntries is the number of joint TLB entries on the VR4300.
const TLBEntries = 32

// EntryLo field layout.
const (
	EntryLoGlobal = 1 << 0
	EntryLoValid  = 1 << 1
	EntryLoDirty  = 1 << 2
	entryLoPFN    = 0x00FFFFFF << 6 // bits 29:6
)

// EntryHi field layout for 32-bit addressing.
const (
	EntryHiASID = 0xFF
	EntryHiVPN2 = 0xFFFFE000
)

// PageMaskBits are the writable bits of the PageMask register.
const PageMaskBits = 0x01FFE000

// TLBEntry is one joint TLB entry as written by TLBWI/TLBWR.
type TLBEntry struct {
	PageMask uint64
	EntryHi  uint64
	EntryLo0 uint64
	EntryLo1 uint64
}

// Global reports whether the entry ignores the ASID. The VR4300 stores the
// AND of both EntryLo G bits.
func (e TLBEntry) Global() bool {
	return e.EntryLo0&e.EntryLo1&EntryLoGlobal != 0
}

func (e TLBEntry) mask() uint32 {
	return uint32(e.PageMask&PageMaskBits) | 0x1FFF
}

func (e TLBEntry) matches(v32 uint32, asid uint8) bool {
	mask := e.mask()
	if v32&^mask != uint32(e.EntryHi)&EntryHiVPN2&^mask {
		return false
	}
	return e.Global() || uint8(e.EntryHi&EntryHiASID) == asid
}

// TLBMatch is the result of a TLB lookup that hit an entry.
type TLBMatch struct {
	Index  int
	Phys   uint64
	Valid  bool
	Dirty  bool
	Cached bool
}

// TLB is the 32-entry joint TLB. Each entry maps an even/odd pair of pages.
type TLB struct {
	entries [TLBEntries]TLBEntry
}

// NewTLB creates an empty TLB.
func NewTLB() *TLB {
	return &TLB{}
}

// Read returns entry i (masked to the entry count).
func (t *TLB) Read(i int) TLBEntry {
	return t.entries[i%TLBEntries]
}

// Write replaces entry i. Callers that share translations with a micro-TLB
// must go through Bridge.WriteTLB.
func (t *TLB) Write(i int, e TLBEntry) {
	e.PageMask &= PageMaskBits
	e.EntryHi &^= 0x1F00
	t.entries[i%TLBEntries] = e
}

// Reset clears every entry.
func (t *TLB) Reset() {
	t.entries = [TLBEntries]TLBEntry{}
}

// Probe finds the entry matching the VPN2 and ASID of entryHi.
func (t *TLB) Probe(entryHi uint64) (int, bool) {
	v32 := uint32(entryHi) & EntryHiVPN2
	asid := uint8(entryHi & EntryHiASID)
	for i := range t.entries {
		if t.entries[i].matches(v32, asid) {
			return i, true
		}
	}
	return 0, false
}

// Lookup translates a 32-bit virtual address. ok is false on a miss.
func (t *TLB) Lookup(v32 uint32, asid uint8) (TLBMatch, bool) {
	for i := range t.entries {
		e := &t.entries[i]
		if !e.matches(v32, asid) {
			continue
		}

		mask := e.mask()
		offsetMask := mask >> 1
		lo := e.EntryLo0
		if v32&(offsetMask+1) != 0 {
			lo = e.EntryLo1
		}

		pfn := (lo & entryLoPFN) >> 6
		phys := (pfn<<12)&^uint64(offsetMask) | uint64(v32&offsetMask)
		return TLBMatch{
			Index:  i,
			Phys:   phys,
			Valid:  lo&EntryLoValid != 0,
			Dirty:  lo&EntryLoDirty != 0,
			Cached: (lo>>3)&7 != 2,
		}, true
	}
	return TLBMatch{}, false
}
