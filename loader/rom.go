package loader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/sarchlab/n64jit/mmu"
)

// Cartridge image byte orders, identified by the first word.
const (
	magicBigEndian = 0x80371240 // .z64
	magicByteSwap  = 0x37804012 // .v64
	magicLittle    = 0x40123780 // .n64
)

const (
	romHeaderSize = 0x40
	romBootCode   = 0x1000
	// bootCopySize is what the boot code copies to RDRAM before jumping
	// to the entry point.
	bootCopySize = 0x100000
)

// ROMHeader is the cartridge header.
type ROMHeader struct {
	ClockRate uint32
	Entry     uint64 // sign-extended
	Release   uint32
	CRC1      uint32
	CRC2      uint32
	Title     string
	GameCode  string
	Version   uint8
}

// ROM is a cartridge image in big-endian byte order.
type ROM struct {
	Header ROMHeader
	Data   []byte
}

// LoadROM reads a cartridge image in any of the common byte orders.
func LoadROM(path string) (*ROM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ROM file: %w", err)
	}
	return ParseROM(data)
}

// ParseROM converts data to big-endian order and decodes its header.
func ParseROM(data []byte) (*ROM, error) {
	if len(data) < romBootCode {
		return nil, fmt.Errorf("ROM too small: %d bytes", len(data))
	}

	data = append([]byte(nil), data...)
	switch magic := binary.BigEndian.Uint32(data); magic {
	case magicBigEndian:
	case magicByteSwap:
		for i := 0; i+1 < len(data); i += 2 {
			data[i], data[i+1] = data[i+1], data[i]
		}
	case magicLittle:
		for i := 0; i+3 < len(data); i += 4 {
			data[i], data[i+1], data[i+2], data[i+3] = data[i+3], data[i+2], data[i+1], data[i]
		}
	default:
		return nil, fmt.Errorf("unknown ROM format (magic 0x%08X)", magic)
	}

	h := data[:romHeaderSize]
	rom := &ROM{
		Header: ROMHeader{
			ClockRate: binary.BigEndian.Uint32(h[0x04:]),
			Entry:     uint64(int64(int32(binary.BigEndian.Uint32(h[0x08:])))),
			Release:   binary.BigEndian.Uint32(h[0x0C:]),
			CRC1:      binary.BigEndian.Uint32(h[0x10:]),
			CRC2:      binary.BigEndian.Uint32(h[0x14:]),
			Title:     strings.TrimRight(string(bytes.TrimRight(h[0x20:0x34], "\x00")), " "),
			GameCode:  string(h[0x3B:0x3F]),
			Version:   h[0x3F],
		},
		Data: data,
	}
	return rom, nil
}

// MapInto attaches the image to the cartridge ROM window of bus, where the
// PIF boot reads it.
func (r *ROM) MapInto(bus *mmu.SystemBus) error {
	return bus.MapROM(mmu.RegionCartROM.Name, mmu.RegionCartROM.Base, r.Data)
}

// Program returns the image as the boot code leaves it: the first MiB after
// the boot code copied to the entry point. It starts programs without
// running the boot code.
func (r *ROM) Program() *Program {
	end := min(len(r.Data), romBootCode+bootCopySize)
	return &Program{
		EntryPoint: r.Header.Entry,
		InitialSP:  DefaultStackTop,
		Segments: []Segment{{
			VirtAddr: r.Header.Entry,
			Data:     r.Data[romBootCode:end],
			MemSize:  bootCopySize,
			Flags:    SegmentFlagRead | SegmentFlagWrite | SegmentFlagExecute,
		}},
	}
}

// LoadRaw reads a flat binary to be placed at vaddr, which is also its
// entry point.
func LoadRaw(path string, vaddr uint64) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read raw image: %w", err)
	}
	return &Program{
		EntryPoint: vaddr,
		InitialSP:  DefaultStackTop,
		Segments: []Segment{{
			VirtAddr: vaddr,
			Data:     data,
			MemSize:  uint64(len(data)),
			Flags:    SegmentFlagRead | SegmentFlagWrite | SegmentFlagExecute,
		}},
	}, nil
}
