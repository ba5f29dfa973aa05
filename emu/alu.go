package emu

import "math/bits"

// The functions below define the integer semantics shared by the reference
// interpreter and the host-code executor.

// SignExtend32 sign-extends the low 32 bits of v.
func SignExtend32(v uint64) uint64 {
	return uint64(int64(int32(v)))
}

// Add32 adds the low words of a and b. The result is sign-extended; ovf
// reports signed 32-bit overflow.
func Add32(a, b uint64) (result uint64, ovf bool) {
	x, y := int32(a), int32(b)
	sum := x + y
	return uint64(int64(sum)), (x >= 0) == (y >= 0) && (sum >= 0) != (x >= 0)
}

// Sub32 subtracts the low words of a and b.
func Sub32(a, b uint64) (result uint64, ovf bool) {
	x, y := int32(a), int32(b)
	diff := x - y
	return uint64(int64(diff)), (x >= 0) != (y >= 0) && (diff >= 0) != (x >= 0)
}

// Add64 adds a and b, reporting signed 64-bit overflow.
func Add64(a, b uint64) (result uint64, ovf bool) {
	x, y := int64(a), int64(b)
	sum := x + y
	return uint64(sum), (x >= 0) == (y >= 0) && (sum >= 0) != (x >= 0)
}

// Sub64 subtracts b from a, reporting signed 64-bit overflow.
func Sub64(a, b uint64) (result uint64, ovf bool) {
	x, y := int64(a), int64(b)
	diff := x - y
	return uint64(diff), (x >= 0) != (y >= 0) && (diff >= 0) != (x >= 0)
}

// Shift32 performs a 32-bit shift of the low word of v by sa (mod 32).
// kind is 0 for left logical, 1 for right logical, 2 for right arithmetic.
func Shift32(kind uint8, v uint64, sa uint64) uint64 {
	sa &= 31
	switch kind {
	case 0:
		return SignExtend32(uint64(uint32(v) << sa))
	case 1:
		return SignExtend32(uint64(uint32(v) >> sa))
	default:
		// The VR4300 shifts the full doubleword before truncating.
		return SignExtend32(uint64(int64(v) >> sa))
	}
}

// Shift64 is the doubleword counterpart of Shift32 (sa mod 64).
func Shift64(kind uint8, v uint64, sa uint64) uint64 {
	sa &= 63
	switch kind {
	case 0:
		return v << sa
	case 1:
		return v >> sa
	default:
		return uint64(int64(v) >> sa)
	}
}

// Mult returns HI and LO of a signed 32x32 multiply.
func Mult(a, b uint64) (hi, lo uint64) {
	p := int64(int32(a)) * int64(int32(b))
	return SignExtend32(uint64(p) >> 32), SignExtend32(uint64(p))
}

// Multu returns HI and LO of an unsigned 32x32 multiply.
func Multu(a, b uint64) (hi, lo uint64) {
	p := uint64(uint32(a)) * uint64(uint32(b))
	return SignExtend32(p >> 32), SignExtend32(p)
}

// Div returns HI (remainder) and LO (quotient) of a signed 32-bit divide.
// Division by zero yields the VR4300 results instead of trapping.
func Div(a, b uint64) (hi, lo uint64) {
	x, y := int32(a), int32(b)
	if y == 0 {
		if x < 0 {
			return SignExtend32(uint64(x)), 1
		}
		return SignExtend32(uint64(x)), ^uint64(0)
	}
	if x == -1<<31 && y == -1 {
		return 0, SignExtend32(uint64(x))
	}
	return SignExtend32(uint64(x % y)), SignExtend32(uint64(x / y))
}

// Divu returns HI and LO of an unsigned 32-bit divide.
func Divu(a, b uint64) (hi, lo uint64) {
	x, y := uint32(a), uint32(b)
	if y == 0 {
		return SignExtend32(uint64(x)), ^uint64(0)
	}
	return SignExtend32(uint64(x % y)), SignExtend32(uint64(x / y))
}

// Dmult returns HI and LO of a signed 64x64 multiply.
func Dmult(a, b uint64) (hi, lo uint64) {
	hi, lo = bits.Mul64(a, b)
	if int64(a) < 0 {
		hi -= b
	}
	if int64(b) < 0 {
		hi -= a
	}
	return hi, lo
}

// Dmultu returns HI and LO of an unsigned 64x64 multiply.
func Dmultu(a, b uint64) (hi, lo uint64) {
	return bits.Mul64(a, b)
}

// Ddiv returns HI and LO of a signed 64-bit divide.
func Ddiv(a, b uint64) (hi, lo uint64) {
	x, y := int64(a), int64(b)
	if y == 0 {
		if x < 0 {
			return a, 1
		}
		return a, ^uint64(0)
	}
	if x == -1<<63 && y == -1 {
		return 0, a
	}
	return uint64(x % y), uint64(x / y)
}

// Ddivu returns HI and LO of an unsigned 64-bit divide.
func Ddivu(a, b uint64) (hi, lo uint64) {
	if b == 0 {
		return a, ^uint64(0)
	}
	return a % b, a / b
}

// SetLess returns 1 when a < b as signed 64-bit values.
func SetLess(a, b uint64) uint64 {
	if int64(a) < int64(b) {
		return 1
	}
	return 0
}

// SetLessUnsigned returns 1 when a < b as unsigned values.
func SetLessUnsigned(a, b uint64) uint64 {
	if a < b {
		return 1
	}
	return 0
}
