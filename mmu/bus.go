package mmu

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnmapped is returned for physical accesses no device answers.
var ErrUnmapped = errors.New("unmapped physical address")

// ErrReadOnly is returned for writes to ROM.
var ErrReadOnly = errors.New("write to read-only memory")

// Bus is the physical memory bus. Peripherals live behind it.
type Bus interface {
	// Read reads a big-endian value of width w.
	Read(paddr uint64, w Width) (uint64, error)
	// Write writes a big-endian value of width w.
	Write(paddr uint64, w Width, value uint64) error
}

// Device is a memory-mapped peripheral. Offsets are relative to the base
// the device is mapped at.
type Device interface {
	Read(offset uint64, w Width) (uint64, error)
	Write(offset uint64, w Width, value uint64) error
}

type mapping struct {
	Region
	dev Device
}

// SystemBus routes physical accesses to RDRAM and mapped devices.
type SystemBus struct {
	ram      *RAM
	mappings []mapping // sorted by base
	openBus  bool
}

// SystemBusOption configures a SystemBus.
type SystemBusOption func(*SystemBus)

// WithOpenBus makes unmapped reads return zero and unmapped writes vanish
// instead of raising bus errors.
func WithOpenBus() SystemBusOption {
	return func(b *SystemBus) {
		b.openBus = true
	}
}

// NewSystemBus creates a bus with ram at physical address 0.
func NewSystemBus(ram *RAM, opts ...SystemBusOption) *SystemBus {
	b := &SystemBus{ram: ram}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RAM returns the bus RDRAM.
func (b *SystemBus) RAM() *RAM {
	return b.ram
}

// Map attaches dev to [base, base+size).
func (b *SystemBus) Map(name string, base, size uint64, dev Device) error {
	r := Region{Name: name, Base: base, Size: size}
	if b.ram != nil && base < b.ram.Size() {
		return fmt.Errorf("mapping %s at 0x%08X overlaps RDRAM", name, base)
	}
	for _, m := range b.mappings {
		if r.Base < m.End() && m.Base < r.End() {
			return fmt.Errorf("mapping %s at 0x%08X overlaps %s", name, base, m.Name)
		}
	}

	b.mappings = append(b.mappings, mapping{Region: r, dev: dev})
	sort.Slice(b.mappings, func(i, j int) bool {
		return b.mappings[i].Base < b.mappings[j].Base
	})
	return nil
}

// MapMemory attaches a zeroed read/write memory and returns it.
func (b *SystemBus) MapMemory(r Region) (*Memory, error) {
	mem := &Memory{data: make([]byte, r.Size)}
	if err := b.Map(r.Name, r.Base, r.Size, mem); err != nil {
		return nil, err
	}
	return mem, nil
}

// MapROM attaches a read-only copy of data.
func (b *SystemBus) MapROM(name string, base uint64, data []byte) error {
	rom := &Memory{data: append([]byte(nil), data...), readOnly: true}
	return b.Map(name, base, uint64(len(data)), rom)
}

func (b *SystemBus) find(paddr uint64) *mapping {
	i := sort.Search(len(b.mappings), func(i int) bool {
		return b.mappings[i].End() > paddr
	})
	if i < len(b.mappings) && b.mappings[i].Contains(paddr) {
		return &b.mappings[i]
	}
	return nil
}

// Read implements Bus.
func (b *SystemBus) Read(paddr uint64, w Width) (uint64, error) {
	if b.ram != nil && b.ram.Contains(paddr, w) {
		return b.ram.Read(paddr, w), nil
	}
	if m := b.find(paddr); m != nil {
		return m.dev.Read(paddr-m.Base, w)
	}
	if b.openBus {
		return 0, nil
	}
	return 0, b.unmapped(paddr)
}

// Write implements Bus.
func (b *SystemBus) Write(paddr uint64, w Width, value uint64) error {
	if b.ram != nil && b.ram.Contains(paddr, w) {
		b.ram.Write(paddr, w, value)
		return nil
	}
	if m := b.find(paddr); m != nil {
		return m.dev.Write(paddr-m.Base, w, value)
	}
	if b.openBus {
		return nil
	}
	return b.unmapped(paddr)
}

func (b *SystemBus) unmapped(paddr uint64) error {
	if r, ok := RegionOf(paddr); ok {
		return fmt.Errorf("%w 0x%08X (%s)", ErrUnmapped, paddr, r.Name)
	}
	return fmt.Errorf("%w 0x%08X", ErrUnmapped, paddr)
}

// Memory is a big-endian byte-addressed Device.
type Memory struct {
	data     []byte
	readOnly bool
}

// Bytes exposes the backing store.
func (m *Memory) Bytes() []byte {
	return m.data
}

// Read implements Device.
func (m *Memory) Read(offset uint64, w Width) (uint64, error) {
	if offset+uint64(w) > uint64(len(m.data)) {
		return 0, ErrUnmapped
	}
	var v uint64
	for i := uint64(0); i < uint64(w); i++ {
		v = v<<8 | uint64(m.data[offset+i])
	}
	return v, nil
}

// Write implements Device.
func (m *Memory) Write(offset uint64, w Width, value uint64) error {
	if m.readOnly {
		return ErrReadOnly
	}
	if offset+uint64(w) > uint64(len(m.data)) {
		return ErrUnmapped
	}
	for i := int(w) - 1; i >= 0; i-- {
		m.data[offset+uint64(i)] = byte(value)
		value >>= 8
	}
	return nil
}
