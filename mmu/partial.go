package mmu

// Partial selects an unaligned load or store half.
type Partial uint8

// Unaligned access forms.
const (
	PartialWordLeft Partial = iota
	PartialWordRight
	PartialDoubleLeft
	PartialDoubleRight
)

func (p Partial) width() Width {
	if p == PartialDoubleLeft || p == PartialDoubleRight {
		return Doubleword
	}
	return Word
}

// LoadPartial performs LWL, LWR, LDL or LDR: the bytes of the aligned unit
// containing vaddr are merged into old. Word forms return the 32-bit result
// sign-extended.
func (b *Bridge) LoadPartial(p Partial, vaddr, old uint64) (uint64, error) {
	w := p.width()
	aligned := vaddr &^ uint64(w-1)
	mem, err := b.Load(aligned, w)
	if err != nil {
		if f, ok := err.(*Fault); ok {
			f.VAddr = vaddr
		}
		return 0, err
	}
	return MergeLoad(p, vaddr, old, mem), nil
}

// StorePartial performs SWL, SWR, SDL or SDR.
func (b *Bridge) StorePartial(p Partial, vaddr, value uint64) error {
	w := p.width()
	aligned := vaddr &^ uint64(w-1)
	ref, err := b.Translate(aligned, AccessStore, w)
	if err != nil {
		if f, ok := err.(*Fault); ok {
			f.VAddr = vaddr
		}
		return err
	}
	mem, err := b.read(ref.Addr, w, AccessStore, vaddr)
	if err != nil {
		return err
	}
	return b.write(ref.Addr, w, MergeStore(p, vaddr, mem, value), vaddr)
}

// MergeLoad combines memory unit mem into register value old (big-endian).
func MergeLoad(p Partial, vaddr, old, mem uint64) uint64 {
	switch p {
	case PartialWordLeft:
		shift := 8 * (vaddr & 3)
		r := uint32(old)&^(0xFFFFFFFF<<shift) | uint32(mem)<<shift
		return uint64(int64(int32(r)))
	case PartialWordRight:
		shift := 8 * (3 - vaddr&3)
		r := uint32(old)&^(0xFFFFFFFF>>shift) | uint32(mem)>>shift
		return uint64(int64(int32(r)))
	case PartialDoubleLeft:
		shift := 8 * (vaddr & 7)
		return old&^(^uint64(0)<<shift) | mem<<shift
	default:
		shift := 8 * (7 - vaddr&7)
		return old&^(^uint64(0)>>shift) | mem>>shift
	}
}

// MergeStore combines register value into memory unit mem (big-endian).
func MergeStore(p Partial, vaddr, mem, value uint64) uint64 {
	switch p {
	case PartialWordLeft:
		shift := 8 * (vaddr & 3)
		return uint64(uint32(mem)&^(0xFFFFFFFF>>shift) | uint32(value)>>shift)
	case PartialWordRight:
		shift := 8 * (3 - vaddr&3)
		return uint64(uint32(mem)&^(0xFFFFFFFF<<shift) | uint32(value)<<shift)
	case PartialDoubleLeft:
		shift := 8 * (vaddr & 7)
		return mem&^(^uint64(0)>>shift) | value>>shift
	default:
		shift := 8 * (7 - vaddr&7)
		return mem&^(^uint64(0)<<shift) | value<<shift
	}
}
