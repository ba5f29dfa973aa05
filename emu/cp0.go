package emu

import "github.com/sarchlab/n64jit/mmu"

// Coprocessor 0 register numbers.
const (
	CP0Index    = 0
	CP0Random   = 1
	CP0EntryLo0 = 2
	CP0EntryLo1 = 3
	CP0Context  = 4
	CP0PageMask = 5
	CP0Wired    = 6
	CP0BadVAddr = 8
	CP0Count    = 9
	CP0EntryHi  = 10
	CP0Compare  = 11
	CP0Status   = 12
	CP0Cause    = 13
	CP0EPC      = 14
	CP0PRId     = 15
	CP0Config   = 16
	CP0LLAddr   = 17
	CP0WatchLo  = 18
	CP0WatchHi  = 19
	CP0XContext = 20
	CP0TagLo    = 28
	CP0TagHi    = 29
	CP0ErrorEPC = 30
)

// Status register bits.
const (
	StatusIE      = 1 << 0
	StatusEXL     = 1 << 1
	StatusERL     = 1 << 2
	StatusKSUMask = 3 << 3
	StatusIMMask  = 0xFF << 8
	StatusBEV     = 1 << 22
)

// Cause register fields.
const (
	CauseExcCodeMask = 0x1F << 2
	CauseIPMask      = 0xFF << 8
	CauseIPSoftware  = 3 << 8
	CauseIPTimer     = 1 << 15
	CauseCEMask      = 3 << 28
	CauseBD          = 1 << 31
)

// IndexProbeFailure is set in Index by TLBP when no entry matches.
const IndexProbeFailure = 1 << 31

// CP0 is the system control coprocessor register set.
type CP0 struct {
	Index    uint64
	Random   uint64
	EntryLo0 uint64
	EntryLo1 uint64
	Context  uint64
	PageMask uint64
	Wired    uint64
	BadVAddr uint64
	Count    uint64
	EntryHi  uint64
	Compare  uint64
	Status   uint64
	Cause    uint64
	EPC      uint64
	PRId     uint64
	Config   uint64
	LLAddr   uint64
	WatchLo  uint64
	WatchHi  uint64
	XContext uint64
	TagLo    uint64
	TagHi    uint64
	ErrorEPC uint64

	// countHalf carries the odd pipeline cycle between Count increments.
	countHalf uint64
}

// Mode implements mmu.Privilege.
func (c *CP0) Mode() mmu.Mode {
	if c.Status&(StatusEXL|StatusERL) != 0 {
		return mmu.ModeKernel
	}
	switch (c.Status & StatusKSUMask) >> 3 {
	case 1:
		return mmu.ModeSupervisor
	case 2:
		return mmu.ModeUser
	}
	return mmu.ModeKernel
}

// ASID implements mmu.Privilege.
func (c *CP0) ASID() uint8 {
	return uint8(c.EntryHi & mmu.EntryHiASID)
}

// Read returns register n as seen by DMFC0.
func (c *CP0) Read(n uint8) uint64 {
	switch n {
	case CP0Index:
		return c.Index
	case CP0Random:
		return c.Random
	case CP0EntryLo0:
		return c.EntryLo0
	case CP0EntryLo1:
		return c.EntryLo1
	case CP0Context:
		return c.Context
	case CP0PageMask:
		return c.PageMask
	case CP0Wired:
		return c.Wired
	case CP0BadVAddr:
		return c.BadVAddr
	case CP0Count:
		return c.Count
	case CP0EntryHi:
		return c.EntryHi
	case CP0Compare:
		return c.Compare
	case CP0Status:
		return c.Status
	case CP0Cause:
		return c.Cause
	case CP0EPC:
		return c.EPC
	case CP0PRId:
		return c.PRId
	case CP0Config:
		return c.Config
	case CP0LLAddr:
		return c.LLAddr
	case CP0WatchLo:
		return c.WatchLo
	case CP0WatchHi:
		return c.WatchHi
	case CP0XContext:
		return c.XContext
	case CP0TagLo:
		return c.TagLo
	case CP0TagHi:
		return c.TagHi
	case CP0ErrorEPC:
		return c.ErrorEPC
	}
	return 0
}

// WriteEffect reports side effects of a CP0 write the caller must act on.
type WriteEffect uint8

// Write effects.
const (
	// EffectASID means the address space identifier changed.
	EffectASID WriteEffect = 1 << iota
	// EffectInterrupts means interrupt enables or pending bits changed.
	EffectInterrupts
)

// Write sets register n as DMTC0 does, honouring read-only fields.
func (c *CP0) Write(n uint8, v uint64) WriteEffect {
	var effect WriteEffect
	switch n {
	case CP0Index:
		c.Index = v & 0x3F
	case CP0EntryLo0:
		c.EntryLo0 = v & 0x3FFFFFFF
	case CP0EntryLo1:
		c.EntryLo1 = v & 0x3FFFFFFF
	case CP0Context:
		c.Context = c.Context&0x7FFFF0 | v&^0x7FFFFF
	case CP0PageMask:
		c.PageMask = v & mmu.PageMaskBits
	case CP0Wired:
		c.Wired = v & 0x3F
		c.Random = 31
	case CP0Count:
		c.Count = v & 0xFFFFFFFF
	case CP0EntryHi:
		old := c.ASID()
		c.EntryHi = v &^ 0x1F00
		if c.ASID() != old {
			effect |= EffectASID
		}
	case CP0Compare:
		c.Compare = v & 0xFFFFFFFF
		c.Cause &^= CauseIPTimer
		effect |= EffectInterrupts
	case CP0Status:
		c.Status = v & 0xFFFFFFFF
		effect |= EffectInterrupts
	case CP0Cause:
		c.Cause = c.Cause&^CauseIPSoftware | v&CauseIPSoftware
		effect |= EffectInterrupts
	case CP0EPC:
		c.EPC = v
	case CP0Config:
		c.Config = c.Config&^0x0F00800F | v&0x0F00800F
	case CP0LLAddr:
		c.LLAddr = v & 0xFFFFFFFF
	case CP0WatchLo:
		c.WatchLo = v & 0xFFFFFFFB
	case CP0WatchHi:
		c.WatchHi = v & 0xF
	case CP0XContext:
		c.XContext = c.XContext&0x1FFFFFFF0 | v&^0x1FFFFFFFF
	case CP0TagLo:
		c.TagLo = v & 0x0FFFFFC0
	case CP0TagHi:
		c.TagHi = 0
	case CP0ErrorEPC:
		c.ErrorEPC = v
	}
	return effect
}

// InterruptPending reports whether an enabled interrupt is pending and
// interrupts are not masked by exception or error level.
func (c *CP0) InterruptPending() bool {
	if c.Status&StatusIE == 0 || c.Status&(StatusEXL|StatusERL) != 0 {
		return false
	}
	return c.Cause&c.Status&CauseIPMask != 0
}

// SetExternalLines replaces the hardware interrupt bits IP2-IP6 with lines
// (bit i of lines drives IP i). Software and timer bits are preserved.
func (c *CP0) SetExternalLines(lines uint8) {
	const external = 0x7C << 8
	c.Cause = c.Cause&^external | uint64(lines)<<8&external
}

// Advance moves Count and Random forward by n retired instructions. Count
// runs at half the pipeline rate; crossing Compare raises IP7.
func (c *CP0) Advance(n uint64) {
	total := c.countHalf + n
	inc := total / 2
	c.countHalf = total % 2

	if inc > 0 {
		old := c.Count
		c.Count = (old + inc) & 0xFFFFFFFF
		if (c.Compare-old-1)&0xFFFFFFFF < inc {
			c.Cause |= CauseIPTimer
		}
	}

	if c.Wired < 32 {
		span := 32 - c.Wired
		if c.Random < c.Wired || c.Random > 31 {
			c.Random = 31
		}
		pos := (c.Random - c.Wired + span - n%span) % span
		c.Random = c.Wired + pos
	}
}
