package hostisa

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/n64jit/emu"
	"github.com/sarchlab/n64jit/insts"
	"github.com/sarchlab/n64jit/mmu"
)

// ExitReason tells the dispatcher why compiled code returned.
type ExitReason uint8

// Exit reasons.
const (
	// ExitNormal means the block ran to one of its exits.
	ExitNormal ExitReason = iota
	// ExitException means a guest instruction raised an exception that
	// has not been delivered yet.
	ExitException
	// ExitInterrupt means an interrupt became pending at a poll point.
	ExitInterrupt
	// ExitSelfModified means a store invalidated the running block.
	ExitSelfModified
)

func (r ExitReason) String() string {
	switch r {
	case ExitNormal:
		return "normal"
	case ExitException:
		return "exception"
	case ExitInterrupt:
		return "interrupt"
	case ExitSelfModified:
		return "self-modified"
	}
	return fmt.Sprintf("exit(%d)", uint8(r))
}

// Exit is the outcome of running a block.
type Exit struct {
	Reason ExitReason

	// PC is the guest address execution continues at. For exceptions it
	// is the address of the excepting instruction.
	PC uint64

	// Retired is the number of guest instructions that completed.
	Retired uint64

	// Exception is set when Reason is ExitException.
	Exception *emu.Exception
}

// Guard reports whether the running block has been invalidated.
type Guard interface {
	Invalidated() bool
}

// Machine executes HX code against a CPU state and a memory bridge.
type Machine struct {
	state  *emu.CpuState
	bridge *mmu.Bridge
	poll   func() bool

	regs [NumRegs]uint64

	executed uint64
}

// NewMachine creates a machine for state and bridge.
func NewMachine(state *emu.CpuState, bridge *mmu.Bridge) *Machine {
	return &Machine{
		state:  state,
		bridge: bridge,
		poll:   state.InterruptPending,
	}
}

// SetPoller replaces the interrupt check used by poll points.
func (m *Machine) SetPoller(poll func() bool) {
	m.poll = poll
}

// Executed returns the number of host instructions executed.
func (m *Machine) Executed() uint64 {
	return m.executed
}

// Regs returns the host registers as left by the last run.
func (m *Machine) Regs() [NumRegs]uint64 {
	return m.regs
}

// Run executes the block whose first guest instruction is at start. code
// is read in place; guard may be nil.
func (m *Machine) Run(code []byte, start uint64, guard Guard) (Exit, error) {
	s := m.state
	r := &m.regs
	n := len(code) / InstSize

	raise := func(exc *emu.Exception, pos Position) (Exit, error) {
		return Exit{
			Reason:    ExitException,
			PC:        exc.PC,
			Retired:   uint64(pos.Index()),
			Exception: exc,
		}, nil
	}
	guestPC := func(pos Position) uint64 {
		return start + 4*uint64(pos.Index())
	}
	fault := func(err error, pos Position) (Exit, error) {
		return raise(emu.FromFault(err, guestPC(pos), pos.InDelaySlot()), pos)
	}

	for ip := 0; ip < n; ip++ {
		buf := code[ip*InstSize : ip*InstSize+InstSize]
		op := Op(buf[0])
		a, b, c := buf[1]&(NumRegs-1), buf[2], buf[3]
		aux := binary.LittleEndian.Uint32(buf[4:])
		imm := binary.LittleEndian.Uint64(buf[8:])
		pos := Position(aux)
		m.executed++

		switch op {
		case OpNop:

		case OpLoadGPR:
			r[a] = s.ReadReg(b)
		case OpStoreGPR:
			s.WriteReg(b, r[a])
		case OpLoadImm:
			r[a] = imm
		case OpMove:
			r[a] = r[b&(NumRegs-1)]
		case OpLoadHI:
			r[a] = s.HI
		case OpLoadLO:
			r[a] = s.LO
		case OpStoreHI:
			s.HI = r[a]
		case OpStoreLO:
			s.LO = r[a]

		case OpAdd:
			r[a] = r[b&15] + r[c&15]
		case OpSub:
			r[a] = r[b&15] - r[c&15]
		case OpAnd:
			r[a] = r[b&15] & r[c&15]
		case OpOr:
			r[a] = r[b&15] | r[c&15]
		case OpXor:
			r[a] = r[b&15] ^ r[c&15]
		case OpNor:
			r[a] = ^(r[b&15] | r[c&15])
		case OpSlt:
			r[a] = emu.SetLess(r[b&15], r[c&15])
		case OpSltu:
			r[a] = emu.SetLessUnsigned(r[b&15], r[c&15])

		case OpAddImm:
			r[a] = r[b&15] + imm
		case OpAndImm:
			r[a] = r[b&15] & imm
		case OpOrImm:
			r[a] = r[b&15] | imm
		case OpXorImm:
			r[a] = r[b&15] ^ imm

		case OpAdd32:
			r[a], _ = emu.Add32(r[b&15], r[c&15])
		case OpSub32:
			r[a], _ = emu.Sub32(r[b&15], r[c&15])
		case OpSext32:
			r[a] = emu.SignExtend32(r[b&15])

		case OpAdd32Trap, OpSub32Trap, OpAdd64Trap, OpSub64Trap:
			v, ovf := checkedOp(op, r[b&15], r[c&15])
			if ovf {
				return raise(&emu.Exception{
					Code: emu.ExcOv, PC: guestPC(pos), InDelaySlot: pos.InDelaySlot(),
				}, pos)
			}
			r[a] = v

		case OpSll32:
			r[a] = emu.Shift32(0, r[b&15], r[c&15])
		case OpSrl32:
			r[a] = emu.Shift32(1, r[b&15], r[c&15])
		case OpSra32:
			r[a] = emu.Shift32(2, r[b&15], r[c&15])
		case OpDsll:
			r[a] = emu.Shift64(0, r[b&15], r[c&15])
		case OpDsrl:
			r[a] = emu.Shift64(1, r[b&15], r[c&15])
		case OpDsra:
			r[a] = emu.Shift64(2, r[b&15], r[c&15])

		case OpMulDiv:
			s.HI, s.LO = emu.MulDiv(insts.Op(imm), r[b&15], r[c&15])

		case OpSetEq:
			r[a] = bit(r[b&15] == r[c&15])
		case OpSetNe:
			r[a] = bit(r[b&15] != r[c&15])
		case OpSetLtz:
			r[a] = bit(int64(r[b&15]) < 0)
		case OpSetGez:
			r[a] = bit(int64(r[b&15]) >= 0)
		case OpSetLez:
			r[a] = bit(int64(r[b&15]) <= 0)
		case OpSetGtz:
			r[a] = bit(int64(r[b&15]) > 0)
		case OpSetTrap:
			r[a] = bit(emu.TrapTaken(insts.Op(imm), r[b&15], r[c&15]))

		case OpTrapIf:
			if r[a] != 0 {
				return raise(&emu.Exception{
					Code: emu.ExcCode(imm), PC: guestPC(pos), InDelaySlot: pos.InDelaySlot(),
				}, pos)
			}
		case OpRaise:
			return raise(&emu.Exception{
				Code: emu.ExcCode(imm), PC: guestPC(pos), InDelaySlot: pos.InDelaySlot(), Unit: c,
			}, pos)

		case OpLoad:
			w, signed := memFlags(c)
			v, err := m.bridge.Load(r[b&15]+imm, w)
			if err != nil {
				return fault(err, pos)
			}
			r[a] = emu.Extend(v, w, signed)
		case OpStore:
			w, _ := memFlags(c)
			if err := m.bridge.Store(r[b&15]+imm, w, r[a]); err != nil {
				return fault(err, pos)
			}
		case OpLoadPartial:
			v, err := m.bridge.LoadPartial(mmu.Partial(c), r[b&15]+imm, r[a])
			if err != nil {
				return fault(err, pos)
			}
			r[a] = v
		case OpStorePartial:
			if err := m.bridge.StorePartial(mmu.Partial(c), r[b&15]+imm, r[a]); err != nil {
				return fault(err, pos)
			}
		case OpLoadLinked:
			w, signed := memFlags(c)
			v, paddr, err := m.bridge.LoadLinked(r[b&15]+imm, w)
			if err != nil {
				return fault(err, pos)
			}
			r[a] = emu.Extend(v, w, signed)
			s.LLBit = true
			s.CP0.LLAddr = paddr >> 4
		case OpStoreCond:
			if !s.LLBit {
				r[a] = 0
				break
			}
			w, _ := memFlags(c)
			if err := m.bridge.Store(r[b&15]+imm, w, r[a]); err != nil {
				return fault(err, pos)
			}
			r[a] = 1
		case OpLoadPhys:
			w, signed := memFlags(c)
			v, err := m.bridge.LoadPhys(imm, w)
			if err != nil {
				return fault(err, pos)
			}
			r[a] = emu.Extend(v, w, signed)
		case OpStorePhys:
			w, _ := memFlags(c)
			if err := m.bridge.StorePhys(imm, w, r[a]); err != nil {
				return fault(err, pos)
			}

		case OpSkipIfZero:
			if r[a] == 0 {
				ip += int(imm)
			}
		case OpSkip:
			ip += int(imm)
		case OpExit:
			return Exit{Reason: ExitNormal, PC: imm, Retired: uint64(aux)}, nil
		case OpExitReg:
			return Exit{Reason: ExitNormal, PC: r[a], Retired: uint64(aux)}, nil
		case OpGuard:
			if guard != nil && guard.Invalidated() {
				return Exit{Reason: ExitSelfModified, PC: imm, Retired: uint64(aux)}, nil
			}
		case OpPoll:
			if m.poll() {
				return Exit{Reason: ExitInterrupt, PC: imm, Retired: uint64(aux)}, nil
			}
		case OpFetchCheck:
			if _, _, err := m.bridge.FetchWord(imm); err != nil {
				return raise(emu.FromFault(err, imm, true), pos)
			}
			// The mapping changed since compilation; run the branch again.
			return Exit{
				Reason:  ExitSelfModified,
				PC:      imm - 4,
				Retired: uint64(pos.Index() - 1),
			}, nil

		case OpMFC0:
			r[a] = s.MoveFromCP0(b, c != 0)
		case OpMTC0:
			s.MoveToCP0(m.bridge, b, r[a], c != 0)
		case OpTLBR:
			s.TLBRead(m.bridge)
		case OpTLBWI:
			s.TLBWriteIndexed(m.bridge)
		case OpTLBWR:
			s.TLBWriteRandom(m.bridge)
		case OpTLBP:
			s.TLBProbe(m.bridge)
		case OpERET:
			s.ReturnFromException()
			return Exit{Reason: ExitNormal, PC: s.PC, Retired: uint64(aux)}, nil

		default:
			return Exit{}, fmt.Errorf("invalid host opcode %d at offset %d", op, ip*InstSize)
		}
	}

	return Exit{}, fmt.Errorf("block at 0x%016X ran past the end of its code", start)
}

func checkedOp(op Op, x, y uint64) (uint64, bool) {
	switch op {
	case OpAdd32Trap:
		return emu.Add32(x, y)
	case OpSub32Trap:
		return emu.Sub32(x, y)
	case OpAdd64Trap:
		return emu.Add64(x, y)
	}
	return emu.Sub64(x, y)
}

func memFlags(c uint8) (mmu.Width, bool) {
	return mmu.Width(c & 0xF), c&(1<<4) != 0
}

func bit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
