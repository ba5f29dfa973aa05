package loader_test

import (
	"encoding/binary"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/n64jit/insts/asm"
	"github.com/sarchlab/n64jit/loader"
	"github.com/sarchlab/n64jit/mmu"
)

// testSegment describes one PT_LOAD entry of a generated ELF file.
type testSegment struct {
	vaddr   uint32
	data    []byte
	memSize uint32
	flags   uint32
}

// writeMIPSELF writes an ELF32 executable. bigEndian selects the byte
// order; machine 8 is MIPS.
func writeMIPSELF(path string, machine uint16, bigEndian bool, entry uint32, segs []testSegment) {
	var order binary.ByteOrder = binary.BigEndian
	data := byte(2)
	if !bigEndian {
		order, data = binary.LittleEndian, 1
	}

	const ehsize, phentsize = 52, 32
	header := make([]byte, ehsize)
	copy(header[0:4], []byte{0x7f, 'E', 'L', 'F'})
	header[4] = 1 // 32-bit
	header[5] = data
	header[6] = 1
	order.PutUint16(header[16:], 2) // executable
	order.PutUint16(header[18:], machine)
	order.PutUint32(header[20:], 1)
	order.PutUint32(header[24:], entry)
	order.PutUint32(header[28:], ehsize)
	order.PutUint16(header[40:], ehsize)
	order.PutUint16(header[42:], phentsize)
	order.PutUint16(header[44:], uint16(len(segs)))
	order.PutUint16(header[46:], 40)

	offset := uint32(ehsize + phentsize*len(segs))
	var progs, contents []byte
	for _, s := range segs {
		ph := make([]byte, phentsize)
		order.PutUint32(ph[0:], 1) // PT_LOAD
		order.PutUint32(ph[4:], offset)
		order.PutUint32(ph[8:], s.vaddr)
		order.PutUint32(ph[12:], s.vaddr&0x1FFFFFFF)
		order.PutUint32(ph[16:], uint32(len(s.data)))
		order.PutUint32(ph[20:], s.memSize)
		order.PutUint32(ph[24:], s.flags)
		order.PutUint32(ph[28:], 0x1000)
		progs = append(progs, ph...)
		contents = append(contents, s.data...)
		offset += uint32(len(s.data))
	}

	file := append(header, progs...)
	file = append(file, contents...)
	Expect(os.WriteFile(path, file, 0644)).To(Succeed())
}

var _ = Describe("ELF Loader", func() {
	var (
		tempDir string
		elfPath string
		code    []byte
	)

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
		elfPath = filepath.Join(tempDir, "test.elf")
		code = asm.Program(asm.ADDIU(asm.V0, asm.Zero, 42), asm.JR(asm.RA), asm.NOP)
	})

	Describe("Load", func() {
		It("should load a big-endian MIPS executable", func() {
			writeMIPSELF(elfPath, 8, true, 0x80000400, []testSegment{
				{vaddr: 0x80000400, data: code, memSize: uint32(len(code)), flags: 0x5},
			})

			prog, err := loader.Load(elfPath)

			Expect(err).NotTo(HaveOccurred())
			Expect(prog.EntryPoint).To(Equal(uint64(0xFFFFFFFF80000400)))
			Expect(prog.InitialSP).To(Equal(uint64(loader.DefaultStackTop)))
			Expect(prog.Segments).To(HaveLen(1))
			seg := prog.Segments[0]
			Expect(seg.VirtAddr).To(Equal(uint64(0xFFFFFFFF80000400)))
			Expect(seg.Data).To(Equal(code))
			Expect(seg.Flags & loader.SegmentFlagExecute).NotTo(BeZero())
			Expect(seg.Flags & loader.SegmentFlagRead).NotTo(BeZero())
			Expect(seg.Flags & loader.SegmentFlagWrite).To(BeZero())
		})

		It("should load multiple segments with BSS", func() {
			writeMIPSELF(elfPath, 8, true, 0x80000400, []testSegment{
				{vaddr: 0x80000400, data: code, memSize: uint32(len(code)), flags: 0x5},
				{vaddr: 0x80010000, data: []byte{1, 2, 3, 4}, memSize: 0x100, flags: 0x6},
			})

			prog, err := loader.Load(elfPath)

			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments).To(HaveLen(2))
			Expect(prog.Segments[1].MemSize).To(Equal(uint64(0x100)))
			Expect(prog.Segments[1].Flags & loader.SegmentFlagWrite).NotTo(BeZero())
		})

		It("should reject a file that does not exist", func() {
			_, err := loader.Load(filepath.Join(tempDir, "missing.elf"))
			Expect(err).To(HaveOccurred())
		})

		It("should reject a file that is not ELF", func() {
			Expect(os.WriteFile(elfPath, []byte("not an elf"), 0644)).To(Succeed())
			_, err := loader.Load(elfPath)
			Expect(err).To(HaveOccurred())
		})

		It("should reject other machines", func() {
			writeMIPSELF(elfPath, 62, true, 0x80000400, nil)

			_, err := loader.Load(elfPath)

			Expect(err).To(MatchError(ContainSubstring("not a MIPS ELF file")))
		})

		It("should reject little-endian MIPS", func() {
			writeMIPSELF(elfPath, 8, false, 0x80000400, nil)

			_, err := loader.Load(elfPath)

			Expect(err).To(MatchError(ContainSubstring("big-endian")))
		})
	})

	Describe("LoadInto", func() {
		It("should copy segments and zero BSS", func() {
			ram := mmu.NewRAM(mmu.DefaultRAMSize)
			ram.Bytes()[0x10004] = 0xFF
			writeMIPSELF(elfPath, 8, true, 0x80000400, []testSegment{
				{vaddr: 0x80000400, data: code, memSize: uint32(len(code)), flags: 0x5},
				{vaddr: 0xA0010000, data: []byte{1, 2, 3, 4}, memSize: 0x100, flags: 0x6},
			})
			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())

			Expect(prog.LoadInto(ram)).To(Succeed())

			Expect(ram.Bytes()[0x400 : 0x400+len(code)]).To(Equal(code))
			Expect(ram.Bytes()[0x10000:0x10004]).To(Equal([]byte{1, 2, 3, 4}))
			Expect(ram.Bytes()[0x10004]).To(BeZero())
		})

		It("should reject mapped segments", func() {
			prog := &loader.Program{Segments: []loader.Segment{{VirtAddr: 0x00400000, Data: code}}}

			Expect(prog.LoadInto(mmu.NewRAM(0x1000))).NotTo(Succeed())
		})

		It("should reject segments beyond RAM", func() {
			prog := &loader.Program{Segments: []loader.Segment{
				{VirtAddr: 0xFFFFFFFF80000F00, Data: code, MemSize: 0x200},
			}}

			Expect(prog.LoadInto(mmu.NewRAM(0x1000))).NotTo(Succeed())
		})
	})
})
