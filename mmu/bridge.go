package mmu

import (
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
)

// PageShift is the granularity of code-page tracking.
const PageShift = 12

// Default micro-TLB geometry.
const (
	DefaultMicroTLBSets = 16
	DefaultMicroTLBWays = 4
)

// Bridge performs guest memory accesses on behalf of compiled code and the
// reference interpreter: it translates, checks alignment and permissions,
// takes the direct RAM path when allowed, and otherwise goes through the Bus.
// Stores into pages holding compiled code notify the Invalidator before
// returning.
type Bridge struct {
	bus  Bus
	ram  *RAM
	fast bool

	tlb  *TLB
	utlb *MicroTLB
	priv Privilege

	// Code pages inside RAM, counted per page
	ramCode []atomic.Int32
	// Code pages outside RAM (SP memory, ROM)
	otherMu   sync.RWMutex
	otherCode map[uint64]int
	hasOther  atomic.Bool

	invalidator Invalidator
	observer    MappingObserver

	log logr.Logger
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithRAM gives the bridge direct access to RDRAM for the fast path.
func WithRAM(ram *RAM) BridgeOption {
	return func(b *Bridge) {
		b.ram = ram
	}
}

// WithFastMemory enables or disables direct RAM accesses. When disabled
// every access goes through the Bus.
func WithFastMemory(enabled bool) BridgeOption {
	return func(b *Bridge) {
		b.fast = enabled
	}
}

// WithMicroTLB sets the micro-TLB geometry.
func WithMicroTLB(sets, ways int) BridgeOption {
	return func(b *Bridge) {
		b.utlb = NewMicroTLB(sets, ways)
	}
}

// WithPrivilege sets the translation context.
func WithPrivilege(p Privilege) BridgeOption {
	return func(b *Bridge) {
		b.priv = p
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) BridgeOption {
	return func(b *Bridge) {
		b.log = log
	}
}

// NewBridge creates a bridge over bus.
func NewBridge(bus Bus, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		bus:       bus,
		fast:      true,
		tlb:       NewTLB(),
		priv:      kernelPrivilege{},
		otherCode: make(map[uint64]int),
		log:       logr.Discard(),
	}
	if sb, ok := bus.(*SystemBus); ok {
		b.ram = sb.RAM()
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.utlb == nil {
		b.utlb = NewMicroTLB(DefaultMicroTLBSets, DefaultMicroTLBWays)
	}
	if b.ram != nil {
		b.ramCode = make([]atomic.Int32, (b.ram.Size()+(1<<PageShift)-1)>>PageShift)
	}
	return b
}

// Bus returns the underlying bus.
func (b *Bridge) Bus() Bus {
	return b.bus
}

// RAM returns the RDRAM used for the fast path, or nil.
func (b *Bridge) RAM() *RAM {
	return b.ram
}

// TLB returns the joint TLB.
func (b *Bridge) TLB() *TLB {
	return b.tlb
}

// MicroTLB returns the translation cache.
func (b *Bridge) MicroTLB() *MicroTLB {
	return b.utlb
}

// SetPrivilege sets the translation context.
func (b *Bridge) SetPrivilege(p Privilege) {
	b.priv = p
}

// SetInvalidator registers the receiver of code-page write notifications.
func (b *Bridge) SetInvalidator(inv Invalidator) {
	b.invalidator = inv
}

// SetMappingObserver registers the receiver of mapping changes.
func (b *Bridge) SetMappingObserver(o MappingObserver) {
	b.observer = o
}

// WriteTLB writes a TLB entry, flushes the micro-TLB and reports the
// mapping change.
func (b *Bridge) WriteTLB(index int, e TLBEntry) {
	b.tlb.Write(index, e)
	b.utlb.Flush()
	b.log.V(2).Info("tlb write", "index", index%TLBEntries,
		"entryHi", e.EntryHi, "entryLo0", e.EntryLo0, "entryLo1", e.EntryLo1)
	b.MappingChanged()
}

// MappingChanged reports a change of the active address space, such as a
// new ASID, to the observer.
func (b *Bridge) MappingChanged() {
	if b.observer != nil {
		b.observer.MappingChanged()
	}
}

// Translate maps a virtual address to a physical one.
func (b *Bridge) Translate(vaddr uint64, kind AccessKind, w Width) (PhysicalRef, error) {
	if vaddr&uint64(w-1) != 0 {
		return PhysicalRef{}, b.fault(FaultAddressError, vaddr, kind, w)
	}

	seg := SegmentOf(vaddr)
	if !b.priv.Mode().canAccess(seg) {
		return PhysicalRef{}, b.fault(FaultAddressError, vaddr, kind, w)
	}

	v32 := uint32(vaddr)
	switch seg {
	case SegKSEG0:
		return PhysicalRef{Addr: uint64(v32 - KSEG0Base), Cached: true}, nil
	case SegKSEG1:
		return PhysicalRef{Addr: uint64(v32 - KSEG1Base)}, nil
	}

	asid := b.priv.ASID()
	if e, ok := b.utlb.Lookup(v32, asid); ok {
		if kind == AccessStore && !e.writable {
			return PhysicalRef{}, b.fault(FaultPermission, vaddr, kind, w)
		}
		return PhysicalRef{
			Addr:   e.ppage | uint64(v32&(microPageSize-1)),
			Mapped: true,
			Cached: e.cached,
		}, nil
	}

	m, ok := b.tlb.Lookup(v32, asid)
	switch {
	case !ok:
		return PhysicalRef{}, b.fault(FaultTLBMiss, vaddr, kind, w)
	case !m.Valid:
		return PhysicalRef{}, b.fault(FaultTLBInvalid, vaddr, kind, w)
	case kind == AccessStore && !m.Dirty:
		return PhysicalRef{}, b.fault(FaultPermission, vaddr, kind, w)
	}

	b.utlb.Fill(v32, asid, microEntry{
		ppage:    m.Phys &^ (microPageSize - 1),
		writable: m.Dirty,
		cached:   m.Cached,
	})
	return PhysicalRef{Addr: m.Phys, Mapped: true, Cached: m.Cached}, nil
}

func (b *Bridge) fault(kind FaultKind, vaddr uint64, access AccessKind, w Width) *Fault {
	return &Fault{Kind: kind, VAddr: vaddr, Access: access, Width: w}
}

// FetchWord fetches the instruction word at vaddr.
func (b *Bridge) FetchWord(vaddr uint64) (uint32, PhysicalRef, error) {
	ref, err := b.Translate(vaddr, AccessFetch, Word)
	if err != nil {
		return 0, PhysicalRef{}, err
	}
	v, err := b.read(ref.Addr, Word, AccessFetch, vaddr)
	if err != nil {
		return 0, PhysicalRef{}, err
	}
	return uint32(v), ref, nil
}

// Load reads a zero-extended value of width w from vaddr.
func (b *Bridge) Load(vaddr uint64, w Width) (uint64, error) {
	ref, err := b.Translate(vaddr, AccessLoad, w)
	if err != nil {
		return 0, err
	}
	return b.read(ref.Addr, w, AccessLoad, vaddr)
}

// LoadLinked is Load that also returns the physical address for LL/LLD.
func (b *Bridge) LoadLinked(vaddr uint64, w Width) (uint64, uint64, error) {
	ref, err := b.Translate(vaddr, AccessLoad, w)
	if err != nil {
		return 0, 0, err
	}
	v, err := b.read(ref.Addr, w, AccessLoad, vaddr)
	return v, ref.Addr, err
}

// Store writes the low w bytes of value to vaddr.
func (b *Bridge) Store(vaddr uint64, w Width, value uint64) error {
	ref, err := b.Translate(vaddr, AccessStore, w)
	if err != nil {
		return err
	}
	return b.write(ref.Addr, w, value, vaddr)
}

// LoadPhys reads physical memory directly. Compiled code uses it for
// accesses proven at compile time to hit RDRAM through KSEG0 or KSEG1.
func (b *Bridge) LoadPhys(paddr uint64, w Width) (uint64, error) {
	return b.read(paddr, w, AccessLoad, paddr)
}

// StorePhys is the store counterpart of LoadPhys.
func (b *Bridge) StorePhys(paddr uint64, w Width, value uint64) error {
	return b.write(paddr, w, value, paddr)
}

func (b *Bridge) read(paddr uint64, w Width, kind AccessKind, vaddr uint64) (uint64, error) {
	if b.fast && b.ram != nil && b.ram.Contains(paddr, w) {
		return b.ram.Read(paddr, w), nil
	}
	v, err := b.bus.Read(paddr, w)
	if err != nil {
		return 0, &Fault{Kind: FaultBus, VAddr: vaddr, Access: kind, Width: w, Err: err}
	}
	return v, nil
}

func (b *Bridge) write(paddr uint64, w Width, value uint64, vaddr uint64) error {
	if b.fast && b.ram != nil && b.ram.Contains(paddr, w) {
		b.ram.Write(paddr, w, value)
	} else if err := b.bus.Write(paddr, w, value); err != nil {
		return &Fault{Kind: FaultBus, VAddr: vaddr, Access: AccessStore, Width: w, Err: err}
	}

	b.NotifyWrite(paddr, uint64(w))
	return nil
}

// NotifyWrite reports a write of size bytes at paddr performed outside the
// bridge, such as a DMA transfer, so that compiled code covering it is
// invalidated.
func (b *Bridge) NotifyWrite(paddr, size uint64) {
	if b.invalidator == nil || size == 0 {
		return
	}
	first := paddr >> PageShift
	last := (paddr + size - 1) >> PageShift
	for page := first; page <= last; page++ {
		if b.isCode(page) {
			b.invalidator.InvalidatePhys(paddr, paddr+size)
			return
		}
	}
}

func (b *Bridge) isCode(page uint64) bool {
	if page < uint64(len(b.ramCode)) {
		return b.ramCode[page].Load() > 0
	}
	if !b.hasOther.Load() {
		return false
	}
	b.otherMu.RLock()
	defer b.otherMu.RUnlock()
	return b.otherCode[page] > 0
}

// TrackCode marks the pages of [lo, hi) as holding compiled code.
func (b *Bridge) TrackCode(lo, hi uint64) {
	b.adjustCode(lo, hi, 1)
}

// UntrackCode reverses TrackCode.
func (b *Bridge) UntrackCode(lo, hi uint64) {
	b.adjustCode(lo, hi, -1)
}

func (b *Bridge) adjustCode(lo, hi uint64, delta int32) {
	if hi <= lo {
		return
	}
	for page := lo >> PageShift; page <= (hi-1)>>PageShift; page++ {
		if page < uint64(len(b.ramCode)) {
			b.ramCode[page].Add(delta)
			continue
		}

		b.otherMu.Lock()
		b.otherCode[page] += int(delta)
		if b.otherCode[page] <= 0 {
			delete(b.otherCode, page)
		}
		b.hasOther.Store(len(b.otherCode) > 0)
		b.otherMu.Unlock()
	}
}
