package mmu_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/n64jit/mmu"
)

type userMode struct{ asid uint8 }

func (u userMode) Mode() mmu.Mode  { return mmu.ModeUser }
func (u userMode) ASID() uint8     { return u.asid }

type kernelASID struct{ asid uint8 }

func (k *kernelASID) Mode() mmu.Mode { return mmu.ModeKernel }
func (k *kernelASID) ASID() uint8    { return k.asid }

type recordingInvalidator struct {
	ranges [][2]uint64
}

func (r *recordingInvalidator) InvalidatePhys(lo, hi uint64) {
	r.ranges = append(r.ranges, [2]uint64{lo, hi})
}

type countingObserver struct{ n int }

func (c *countingObserver) MappingChanged() { c.n++ }

func expectFault(err error, kind mmu.FaultKind) *mmu.Fault {
	var f *mmu.Fault
	ExpectWithOffset(1, errors.As(err, &f)).To(BeTrue(), "expected *mmu.Fault, got %v", err)
	ExpectWithOffset(1, f.Kind).To(Equal(kind))
	return f
}

var _ = Describe("Bridge", func() {
	var (
		ram    *mmu.RAM
		bus    *mmu.SystemBus
		bridge *mmu.Bridge
		priv   *kernelASID
	)

	BeforeEach(func() {
		ram = mmu.NewRAM(1 << 20)
		bus = mmu.NewSystemBus(ram)
		priv = &kernelASID{}
		bridge = mmu.NewBridge(bus, mmu.WithPrivilege(priv))
	})

	Describe("direct segments", func() {
		It("should map KSEG0 and KSEG1 onto the same physical address", func() {
			r0, err := bridge.Translate(0xFFFFFFFF80001000, mmu.AccessLoad, mmu.Word)
			Expect(err).NotTo(HaveOccurred())
			r1, err := bridge.Translate(0xFFFFFFFFA0001000, mmu.AccessLoad, mmu.Word)
			Expect(err).NotTo(HaveOccurred())

			Expect(r0.Addr).To(Equal(uint64(0x1000)))
			Expect(r1.Addr).To(Equal(uint64(0x1000)))
			Expect(r0.Cached).To(BeTrue())
			Expect(r1.Cached).To(BeFalse())
		})

		It("should read and write big-endian values", func() {
			Expect(bridge.Store(0xFFFFFFFF80000100, mmu.Word, 0x11223344)).To(Succeed())

			v, err := bridge.Load(0xFFFFFFFFA0000100, mmu.Byte)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(uint64(0x11)))

			v, err = bridge.Load(0xFFFFFFFF80000102, mmu.Halfword)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(uint64(0x3344)))
		})

		It("should take the bus path when fast memory is off", func() {
			slow := mmu.NewBridge(bus, mmu.WithFastMemory(false))
			Expect(slow.Store(0xFFFFFFFF80000200, mmu.Doubleword, 0x0102030405060708)).To(Succeed())
			Expect(ram.Read(0x200, mmu.Doubleword)).To(Equal(uint64(0x0102030405060708)))
		})
	})

	Describe("address errors", func() {
		It("should fault on misaligned word loads", func() {
			_, err := bridge.Load(0xFFFFFFFF80000101, mmu.Word)
			f := expectFault(err, mmu.FaultAddressError)
			Expect(f.VAddr).To(Equal(uint64(0xFFFFFFFF80000101)))
			Expect(f.Access).To(Equal(mmu.AccessLoad))
		})

		It("should fault on addresses that are not sign-extended", func() {
			_, err := bridge.Load(0x0000000080000000, mmu.Word)
			expectFault(err, mmu.FaultAddressError)
		})

		It("should keep user mode out of kernel segments", func() {
			bridge.SetPrivilege(userMode{})
			_, err := bridge.Load(0xFFFFFFFF80000000, mmu.Word)
			expectFault(err, mmu.FaultAddressError)
		})
	})

	Describe("mapped segments", func() {
		var observer *countingObserver

		BeforeEach(func() {
			observer = &countingObserver{}
			bridge.SetMappingObserver(observer)

			// Map virtual 0x00400000 (even) and 0x00401000 (odd) to
			// physical 0x00010000 and 0x00020000 for ASID 5.
			bridge.WriteTLB(0, mmu.TLBEntry{
				EntryHi:  0x00400000 | 5,
				EntryLo0: (0x10 << 6) | mmu.EntryLoValid | mmu.EntryLoDirty,
				EntryLo1: (0x20 << 6) | mmu.EntryLoValid,
			})
			priv.asid = 5
		})

		It("should report the TLB write", func() {
			Expect(observer.n).To(Equal(1))
		})

		It("should translate through the TLB", func() {
			ref, err := bridge.Translate(0x00400010, mmu.AccessLoad, mmu.Word)
			Expect(err).NotTo(HaveOccurred())
			Expect(ref.Addr).To(Equal(uint64(0x10010)))
			Expect(ref.Mapped).To(BeTrue())

			ref, err = bridge.Translate(0x00401FFC, mmu.AccessLoad, mmu.Word)
			Expect(err).NotTo(HaveOccurred())
			Expect(ref.Addr).To(Equal(uint64(0x20FFC)))
		})

		It("should serve repeated translations from the micro-TLB", func() {
			_, err := bridge.Translate(0x00400010, mmu.AccessLoad, mmu.Word)
			Expect(err).NotTo(HaveOccurred())
			_, err = bridge.Translate(0x00400020, mmu.AccessLoad, mmu.Word)
			Expect(err).NotTo(HaveOccurred())

			Expect(bridge.MicroTLB().Stats().Hits).To(Equal(uint64(1)))
		})

		It("should miss for another ASID", func() {
			priv.asid = 6
			_, err := bridge.Translate(0x00400010, mmu.AccessLoad, mmu.Word)
			expectFault(err, mmu.FaultTLBMiss)
		})

		It("should reject stores to clean pages", func() {
			err := bridge.Store(0x00401000, mmu.Word, 1)
			expectFault(err, mmu.FaultPermission)
		})

		It("should reject stores to clean pages after a cached load", func() {
			_, err := bridge.Load(0x00401000, mmu.Word)
			Expect(err).NotTo(HaveOccurred())
			err = bridge.Store(0x00401000, mmu.Word, 1)
			expectFault(err, mmu.FaultPermission)
		})

		It("should report invalid entries", func() {
			bridge.WriteTLB(0, mmu.TLBEntry{EntryHi: 0x00400000 | 5})
			_, err := bridge.Load(0x00400000, mmu.Word)
			expectFault(err, mmu.FaultTLBInvalid)
		})

		It("should drop cached translations on TLB writes", func() {
			_, err := bridge.Load(0x00400000, mmu.Word)
			Expect(err).NotTo(HaveOccurred())

			bridge.WriteTLB(0, mmu.TLBEntry{})
			_, err = bridge.Load(0x00400000, mmu.Word)
			expectFault(err, mmu.FaultTLBMiss)
		})
	})

	Describe("code page tracking", func() {
		var inv *recordingInvalidator

		BeforeEach(func() {
			inv = &recordingInvalidator{}
			bridge.SetInvalidator(inv)
			bridge.TrackCode(0x1000, 0x1040)
		})

		It("should notify stores into code pages", func() {
			Expect(bridge.Store(0xFFFFFFFF80001FFC, mmu.Word, 0)).To(Succeed())
			Expect(inv.ranges).To(Equal([][2]uint64{{0x1FFC, 0x2000}}))
		})

		It("should ignore stores elsewhere", func() {
			Expect(bridge.Store(0xFFFFFFFF80002000, mmu.Word, 0)).To(Succeed())
			Expect(inv.ranges).To(BeEmpty())
		})

		It("should stop notifying once untracked", func() {
			bridge.UntrackCode(0x1000, 0x1040)
			Expect(bridge.Store(0xFFFFFFFF80001000, mmu.Word, 0)).To(Succeed())
			Expect(inv.ranges).To(BeEmpty())
		})

		It("should notify DMA writes", func() {
			bridge.NotifyWrite(0x0F00, 0x200)
			Expect(inv.ranges).To(Equal([][2]uint64{{0x0F00, 0x1100}}))
		})
	})

	Describe("bus faults", func() {
		It("should convert unmapped accesses into bus faults", func() {
			_, err := bridge.Load(0xFFFFFFFFA4300000, mmu.Word)
			f := expectFault(err, mmu.FaultBus)
			Expect(errors.Is(err, mmu.ErrUnmapped)).To(BeTrue())
			Expect(f.Error()).To(ContainSubstring("MIPS interface"))
		})
	})
})
