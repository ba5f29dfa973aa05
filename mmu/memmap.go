package mmu

// Region is a named range of the N64 physical address space.
type Region struct {
	Name string
	Base uint64
	Size uint64
}

// Contains reports whether paddr lies within the region.
func (r Region) Contains(paddr uint64) bool {
	return paddr >= r.Base && paddr-r.Base < r.Size
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Base + r.Size
}

// N64 physical memory map.
var (
	RegionRDRAM      = Region{"RDRAM", 0x00000000, 0x00800000}
	RegionRDRAMRegs  = Region{"RDRAM registers", 0x03F00000, 0x00100000}
	RegionSPDMEM     = Region{"SP DMEM", 0x04000000, 0x00001000}
	RegionSPIMEM     = Region{"SP IMEM", 0x04001000, 0x00001000}
	RegionSPRegs     = Region{"SP registers", 0x04040000, 0x000C0000}
	RegionDPCommand  = Region{"DP command registers", 0x04100000, 0x00100000}
	RegionDPSpan     = Region{"DP span registers", 0x04200000, 0x00100000}
	RegionMI         = Region{"MIPS interface", 0x04300000, 0x00100000}
	RegionVI         = Region{"video interface", 0x04400000, 0x00100000}
	RegionAI         = Region{"audio interface", 0x04500000, 0x00100000}
	RegionPI         = Region{"peripheral interface", 0x04600000, 0x00100000}
	RegionRI         = Region{"RDRAM interface", 0x04700000, 0x00100000}
	RegionSI         = Region{"serial interface", 0x04800000, 0x00100000}
	RegionCartD2A1   = Region{"cartridge domain 2 address 1", 0x05000000, 0x01000000}
	RegionCartD1A1   = Region{"cartridge domain 1 address 1", 0x06000000, 0x02000000}
	RegionCartD2A2   = Region{"cartridge domain 2 address 2", 0x08000000, 0x08000000}
	RegionCartROM    = Region{"cartridge domain 1 address 2", 0x10000000, 0x0FC00000}
	RegionPIFROM     = Region{"PIF ROM", 0x1FC00000, 0x000007C0}
	RegionPIFRAM     = Region{"PIF RAM", 0x1FC007C0, 0x00000040}
	RegionReserved   = Region{"reserved", 0x1FC00800, 0x000FF800}
	RegionCartD1A3   = Region{"cartridge domain 1 address 3", 0x1FD00000, 0x60300000}
	physicalRegions  = []Region{
		RegionRDRAM, RegionRDRAMRegs, RegionSPDMEM, RegionSPIMEM, RegionSPRegs,
		RegionDPCommand, RegionDPSpan, RegionMI, RegionVI, RegionAI, RegionPI,
		RegionRI, RegionSI, RegionCartD2A1, RegionCartD1A1, RegionCartD2A2,
		RegionCartROM, RegionPIFROM, RegionPIFRAM, RegionReserved, RegionCartD1A3,
	}
)

// RegionOf names the part of the physical map containing paddr.
func RegionOf(paddr uint64) (Region, bool) {
	for _, r := range physicalRegions {
		if r.Contains(paddr) {
			return r, true
		}
	}
	return Region{}, false
}
