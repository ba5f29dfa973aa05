package loader_test

import (
	"encoding/binary"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/n64jit/loader"
	"github.com/sarchlab/n64jit/mmu"
)

func testROM() []byte {
	rom := make([]byte, 0x2000)
	binary.BigEndian.PutUint32(rom[0x00:], 0x80371240)
	binary.BigEndian.PutUint32(rom[0x04:], 0x0000000F)
	binary.BigEndian.PutUint32(rom[0x08:], 0x80000400)
	binary.BigEndian.PutUint32(rom[0x10:], 0x12345678)
	binary.BigEndian.PutUint32(rom[0x14:], 0x9ABCDEF0)
	copy(rom[0x20:0x34], "TEST ROM            ")
	copy(rom[0x3B:0x3F], "NTEE")
	rom[0x3F] = 1
	binary.BigEndian.PutUint32(rom[0x1000:], 0x24020001)
	return rom
}

var _ = Describe("ROM", func() {
	It("should decode the header of a big-endian image", func() {
		rom, err := loader.ParseROM(testROM())

		Expect(err).NotTo(HaveOccurred())
		Expect(rom.Header.Entry).To(Equal(uint64(0xFFFFFFFF80000400)))
		Expect(rom.Header.CRC1).To(Equal(uint32(0x12345678)))
		Expect(rom.Header.Title).To(Equal("TEST ROM"))
		Expect(rom.Header.GameCode).To(Equal("NTEE"))
		Expect(rom.Header.Version).To(Equal(uint8(1)))
	})

	It("should normalize byte-swapped and little-endian images", func() {
		want := testROM()

		swapped := append([]byte(nil), want...)
		for i := 0; i < len(swapped); i += 2 {
			swapped[i], swapped[i+1] = swapped[i+1], swapped[i]
		}
		little := append([]byte(nil), want...)
		for i := 0; i < len(little); i += 4 {
			binary.LittleEndian.PutUint32(little[i:], binary.BigEndian.Uint32(want[i:]))
		}

		for _, data := range [][]byte{swapped, little} {
			rom, err := loader.ParseROM(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(rom.Data).To(Equal(want))
		}
	})

	It("should reject unknown and truncated images", func() {
		_, err := loader.ParseROM(make([]byte, 0x2000))
		Expect(err).To(MatchError(ContainSubstring("unknown ROM format")))

		_, err = loader.ParseROM(testROM()[:0x100])
		Expect(err).To(HaveOccurred())
	})

	It("should boot by copying the code after the boot block to the entry point", func() {
		rom, err := loader.ParseROM(testROM())
		Expect(err).NotTo(HaveOccurred())
		ram := mmu.NewRAM(mmu.DefaultRAMSize)

		prog := rom.Program()
		Expect(prog.LoadInto(ram)).To(Succeed())

		Expect(prog.EntryPoint).To(Equal(uint64(0xFFFFFFFF80000400)))
		Expect(ram.Read(0x400, mmu.Word)).To(Equal(uint64(0x24020001)))
	})

	It("should map the image into the cartridge window", func() {
		rom, err := loader.ParseROM(testROM())
		Expect(err).NotTo(HaveOccurred())
		bus := mmu.NewSystemBus(mmu.NewRAM(mmu.DefaultRAMSize))

		Expect(rom.MapInto(bus)).To(Succeed())

		v, err := bus.Read(mmu.RegionCartROM.Base+0x1000, mmu.Word)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint64(0x24020001)))
	})

	It("should load raw images", func() {
		path := filepath.Join(GinkgoT().TempDir(), "code.bin")
		Expect(os.WriteFile(path, []byte{0, 0, 0, 0}, 0644)).To(Succeed())

		prog, err := loader.LoadRaw(path, 0xFFFFFFFF80001000)

		Expect(err).NotTo(HaveOccurred())
		Expect(prog.EntryPoint).To(Equal(uint64(0xFFFFFFFF80001000)))
		Expect(prog.Segments[0].Data).To(HaveLen(4))
	})
})
