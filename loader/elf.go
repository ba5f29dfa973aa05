// Package loader reads guest programs: big-endian MIPS ELF executables,
// N64 cartridge images and raw binaries.
package loader

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/sarchlab/n64jit/mmu"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// DefaultStackTop is the initial stack pointer for loaded programs, the
// top of 4 MiB RDRAM in KSEG0.
const DefaultStackTop = 0xFFFFFFFF803FFFF0

// Segment represents a loadable segment.
type Segment struct {
	// VirtAddr is the sign-extended virtual address of the segment.
	VirtAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program is a guest program ready to be copied into RDRAM.
type Program struct {
	// EntryPoint is the sign-extended virtual address where execution
	// begins.
	EntryPoint uint64
	// Segments contains all loadable segments.
	Segments []Segment
	// InitialSP is the initial stack pointer value.
	InitialSP uint64
}

// Load parses a big-endian MIPS ELF executable. Both ELF32 and ELF64 files
// are accepted; 32-bit addresses are sign-extended.
func Load(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Machine != elf.EM_MIPS {
		return nil, fmt.Errorf("not a MIPS ELF file (machine type: %v)", f.Machine)
	}
	if f.Data != elf.ELFDATA2MSB {
		return nil, fmt.Errorf("not a big-endian ELF file")
	}

	addr := func(v uint64) uint64 { return v }
	if f.Class == elf.ELFCLASS32 {
		addr = func(v uint64) uint64 { return uint64(int64(int32(v))) }
	}

	prog := &Program{
		EntryPoint: addr(f.Entry),
		InitialSP:  DefaultStackTop,
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: addr(phdr.Vaddr),
			Data:     data,
			MemSize:  phdr.Memsz,
			Flags:    flags,
		})
	}

	return prog, nil
}

// LoadInto copies the segments into ram and zeroes their BSS. Segments
// must lie in KSEG0 or KSEG1 and fit in RAM.
func (p *Program) LoadInto(ram *mmu.RAM) error {
	for _, seg := range p.Segments {
		paddr, ok := mmu.DirectPhysical(seg.VirtAddr)
		if !ok {
			return fmt.Errorf("segment at 0x%016X is not in KSEG0 or KSEG1", seg.VirtAddr)
		}
		size := max(seg.MemSize, uint64(len(seg.Data)))
		if paddr+size > ram.Size() {
			return fmt.Errorf("segment at 0x%016X (%d bytes) does not fit in %d bytes of RAM",
				seg.VirtAddr, size, ram.Size())
		}

		mem := ram.Bytes()[paddr : paddr+size]
		n := copy(mem, seg.Data)
		clear(mem[n:])
	}
	return nil
}
