package mmu

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

const microPageSize = 4096

// MicroTLBStats holds micro-TLB statistics.
type MicroTLBStats struct {
	Hits    uint64
	Misses  uint64
	Fills   uint64
	Flushes uint64
}

type microEntry struct {
	ppage    uint64
	writable bool
	cached   bool
}

// MicroTLB caches recent (ASID, 4 KiB page) translations of mapped
// segments in a set-associative directory with LRU replacement. It is
// flushed whenever the joint TLB is written.
type MicroTLB struct {
	ways int

	// Akita cache directory for tag/LRU management
	directory *akitacache.DirectoryImpl

	// Translation payload - indexed by (setID * ways + wayID)
	entries []microEntry

	stats MicroTLBStats
}

// NewMicroTLB creates a micro-TLB with the given geometry.
func NewMicroTLB(sets, ways int) *MicroTLB {
	return &MicroTLB{
		ways: ways,
		directory: akitacache.NewDirectory(
			sets,
			ways,
			microPageSize,
			akitacache.NewLRUVictimFinder(),
		),
		entries: make([]microEntry, sets*ways),
	}
}

func microTag(v32 uint32, asid uint8) uint64 {
	return uint64(asid)<<32 | uint64(v32&^(microPageSize-1))
}

func (m *MicroTLB) index(block *akitacache.Block) int {
	return block.SetID*m.ways + block.WayID
}

// Lookup returns the cached translation of v32's page.
func (m *MicroTLB) Lookup(v32 uint32, asid uint8) (microEntry, bool) {
	block := m.directory.Lookup(0, microTag(v32, asid))
	if block == nil || !block.IsValid {
		m.stats.Misses++
		return microEntry{}, false
	}

	m.stats.Hits++
	m.directory.Visit(block)
	return m.entries[m.index(block)], true
}

// Fill records a translation, evicting the least recently used way.
func (m *MicroTLB) Fill(v32 uint32, asid uint8, e microEntry) {
	tag := microTag(v32, asid)
	victim := m.directory.FindVictim(tag)
	if victim == nil {
		return
	}

	victim.Tag = tag
	victim.IsValid = true
	victim.IsDirty = false
	m.entries[m.index(victim)] = e
	m.directory.Visit(victim)
	m.stats.Fills++
}

// Flush drops every cached translation.
func (m *MicroTLB) Flush() {
	m.directory.Reset()
	m.stats.Flushes++
}

// Stats returns micro-TLB statistics.
func (m *MicroTLB) Stats() MicroTLBStats {
	return m.stats
}
