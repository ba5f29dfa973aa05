package mmu

import "encoding/binary"

// DefaultRAMSize is RDRAM with the expansion pak installed.
const DefaultRAMSize = 8 * 1024 * 1024

// RAM is big-endian RDRAM starting at physical address 0.
type RAM struct {
	data []byte
}

// NewRAM creates zeroed RAM of the given size.
func NewRAM(size int) *RAM {
	return &RAM{data: make([]byte, size)}
}

// Size returns the RAM size in bytes.
func (r *RAM) Size() uint64 {
	return uint64(len(r.data))
}

// Bytes exposes the backing store.
func (r *RAM) Bytes() []byte {
	return r.data
}

// Contains reports whether an access of width w at paddr lies in RAM.
func (r *RAM) Contains(paddr uint64, w Width) bool {
	return paddr < uint64(len(r.data)) && uint64(len(r.data))-paddr >= uint64(w)
}

// Read reads a big-endian value. The access must be in range.
func (r *RAM) Read(paddr uint64, w Width) uint64 {
	b := r.data[paddr:]
	switch w {
	case Byte:
		return uint64(b[0])
	case Halfword:
		return uint64(binary.BigEndian.Uint16(b))
	case Word:
		return uint64(binary.BigEndian.Uint32(b))
	default:
		return binary.BigEndian.Uint64(b)
	}
}

// Write writes a big-endian value. The access must be in range.
func (r *RAM) Write(paddr uint64, w Width, v uint64) {
	b := r.data[paddr:]
	switch w {
	case Byte:
		b[0] = byte(v)
	case Halfword:
		binary.BigEndian.PutUint16(b, uint16(v))
	case Word:
		binary.BigEndian.PutUint32(b, uint32(v))
	default:
		binary.BigEndian.PutUint64(b, v)
	}
}

// Load copies data into RAM at paddr, truncating at the end of RAM.
func (r *RAM) Load(paddr uint64, data []byte) int {
	if paddr >= uint64(len(r.data)) {
		return 0
	}
	return copy(r.data[paddr:], data)
}
