package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/n64jit/emu"
)

var _ = Describe("ALU", func() {
	DescribeTable("Add32",
		func(a, b, want uint64, wantOvf bool) {
			got, ovf := emu.Add32(a, b)
			Expect(got).To(Equal(want))
			Expect(ovf).To(Equal(wantOvf))
		},
		Entry("small", uint64(1), uint64(2), uint64(3), false),
		Entry("sign-extends result", uint64(0x7FFFFFFE), uint64(1), uint64(0x7FFFFFFF), false),
		Entry("positive overflow", uint64(0x7FFFFFFF), uint64(1), uint64(0xFFFFFFFF80000000), true),
		Entry("negative overflow", uint64(0xFFFFFFFF80000000), uint64(0xFFFFFFFFFFFFFFFF), uint64(0x7FFFFFFF), true),
		Entry("ignores upper bits", uint64(0x1234567800000001), uint64(1), uint64(2), false),
	)

	DescribeTable("Sub32",
		func(a, b, want uint64, wantOvf bool) {
			got, ovf := emu.Sub32(a, b)
			Expect(got).To(Equal(want))
			Expect(ovf).To(Equal(wantOvf))
		},
		Entry("small", uint64(5), uint64(7), uint64(0xFFFFFFFFFFFFFFFE), false),
		Entry("overflow", uint64(0xFFFFFFFF80000000), uint64(1), uint64(0x7FFFFFFF), true),
	)

	It("should detect 64-bit overflow", func() {
		_, ovf := emu.Add64(0x7FFFFFFFFFFFFFFF, 1)
		Expect(ovf).To(BeTrue())
		_, ovf = emu.Sub64(0x8000000000000000, 1)
		Expect(ovf).To(BeTrue())
		v, ovf := emu.Add64(0xFFFFFFFFFFFFFFFF, 2)
		Expect(ovf).To(BeFalse())
		Expect(v).To(Equal(uint64(1)))
	})

	It("should shift 32-bit values with sign extension", func() {
		Expect(emu.Shift32(0, 1, 31)).To(Equal(uint64(0xFFFFFFFF80000000)))
		Expect(emu.Shift32(1, 0xFFFFFFFF80000000, 4)).To(Equal(uint64(0x08000000)))
		Expect(emu.Shift32(2, 0xFFFFFFFF80000000, 4)).To(Equal(uint64(0xFFFFFFFFF8000000)))
		Expect(emu.Shift32(0, 1, 33)).To(Equal(uint64(2)))
	})

	It("should shift 64-bit values", func() {
		Expect(emu.Shift64(0, 1, 63)).To(Equal(uint64(1) << 63))
		Expect(emu.Shift64(2, 1<<63, 63)).To(Equal(^uint64(0)))
		Expect(emu.Shift64(1, 1<<63, 63)).To(Equal(uint64(1)))
	})

	It("should multiply", func() {
		hi, lo := emu.Mult(0xFFFFFFFFFFFFFFFF, 2)
		Expect(hi).To(Equal(^uint64(0)))
		Expect(lo).To(Equal(uint64(0xFFFFFFFFFFFFFFFE)))

		hi, lo = emu.Multu(0xFFFFFFFF, 2)
		Expect(hi).To(Equal(uint64(1)))
		Expect(lo).To(Equal(uint64(0xFFFFFFFFFFFFFFFE)))

		hi, lo = emu.Dmult(^uint64(0), ^uint64(0))
		Expect(hi).To(Equal(uint64(0)))
		Expect(lo).To(Equal(uint64(1)))

		hi, lo = emu.Dmultu(1<<63, 4)
		Expect(hi).To(Equal(uint64(2)))
		Expect(lo).To(Equal(uint64(0)))
	})

	It("should divide and handle division by zero", func() {
		hi, lo := emu.Div(7, 2)
		Expect(hi).To(Equal(uint64(1)))
		Expect(lo).To(Equal(uint64(3)))

		hi, lo = emu.Div(5, 0)
		Expect(hi).To(Equal(uint64(5)))
		Expect(lo).To(Equal(^uint64(0)))

		hi, lo = emu.Div(0xFFFFFFFFFFFFFFFB, 0)
		Expect(hi).To(Equal(uint64(0xFFFFFFFFFFFFFFFB)))
		Expect(lo).To(Equal(uint64(1)))

		hi, lo = emu.Div(0xFFFFFFFF80000000, 0xFFFFFFFFFFFFFFFF)
		Expect(hi).To(Equal(uint64(0)))
		Expect(lo).To(Equal(uint64(0xFFFFFFFF80000000)))

		hi, lo = emu.Ddivu(9, 0)
		Expect(hi).To(Equal(uint64(9)))
		Expect(lo).To(Equal(^uint64(0)))

		hi, lo = emu.Ddiv(1<<63, ^uint64(0))
		Expect(hi).To(Equal(uint64(0)))
		Expect(lo).To(Equal(uint64(1) << 63))
	})
})
