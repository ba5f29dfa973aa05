package mmu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/n64jit/mmu"
)

var _ = Describe("TLB", func() {
	var tlb *mmu.TLB

	BeforeEach(func() {
		tlb = mmu.NewTLB()
	})

	It("should honour page masks", func() {
		// 16 KiB pages: PageMask bits 14:13 set.
		tlb.Write(3, mmu.TLBEntry{
			PageMask: 0x6000,
			EntryHi:  0x10000000,
			EntryLo0: (0x100 << 6) | mmu.EntryLoValid | mmu.EntryLoGlobal,
			EntryLo1: (0x200 << 6) | mmu.EntryLoValid | mmu.EntryLoGlobal,
		})

		m, ok := tlb.Lookup(0x10003FF0, 9)
		Expect(ok).To(BeTrue())
		Expect(m.Index).To(Equal(3))
		Expect(m.Phys).To(Equal(uint64(0x100000 + 0x3FF0)))

		m, ok = tlb.Lookup(0x10004000, 9)
		Expect(ok).To(BeTrue())
		Expect(m.Phys).To(Equal(uint64(0x200000)))
	})

	It("should ignore the ASID of global entries only", func() {
		tlb.Write(0, mmu.TLBEntry{
			EntryHi:  0x2000 | 1,
			EntryLo0: mmu.EntryLoValid,
			EntryLo1: mmu.EntryLoValid,
		})

		_, ok := tlb.Lookup(0x2000, 1)
		Expect(ok).To(BeTrue())
		_, ok = tlb.Lookup(0x2000, 2)
		Expect(ok).To(BeFalse())
	})

	It("should probe by VPN2 and ASID", func() {
		tlb.Write(7, mmu.TLBEntry{EntryHi: 0x00800000 | 4})

		i, ok := tlb.Probe(0x00800000 | 4)
		Expect(ok).To(BeTrue())
		Expect(i).To(Equal(7))

		_, ok = tlb.Probe(0x00800000 | 3)
		Expect(ok).To(BeFalse())
	})

	It("should read back written entries", func() {
		e := mmu.TLBEntry{PageMask: 0x1FE000, EntryHi: 0x4000A000 | 0x12, EntryLo0: 0x47, EntryLo1: 0x87}
		tlb.Write(33, e)
		Expect(tlb.Read(1)).To(Equal(e))
	})
})

var _ = Describe("Segments", func() {
	DescribeTable("SegmentOf",
		func(vaddr uint64, seg mmu.Segment) {
			Expect(mmu.SegmentOf(vaddr)).To(Equal(seg))
		},
		Entry("kuseg", uint64(0x00001000), mmu.SegKUSEG),
		Entry("kseg0", uint64(0xFFFFFFFF80000000), mmu.SegKSEG0),
		Entry("kseg1", uint64(0xFFFFFFFFBFC00000), mmu.SegKSEG1),
		Entry("ksseg", uint64(0xFFFFFFFFC0000000), mmu.SegKSSEG),
		Entry("kseg3", uint64(0xFFFFFFFFFFFFFFFC), mmu.SegKSEG3),
		Entry("not sign-extended", uint64(0x80000000), mmu.SegInvalid),
	)

	It("should name physical regions", func() {
		r, ok := mmu.RegionOf(0x04001000)
		Expect(ok).To(BeTrue())
		Expect(r.Name).To(Equal("SP IMEM"))

		r, ok = mmu.RegionOf(0x1FC007C4)
		Expect(ok).To(BeTrue())
		Expect(r).To(Equal(mmu.RegionPIFRAM))
	})
})
