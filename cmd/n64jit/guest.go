package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/sarchlab/n64jit/config"
	"github.com/sarchlab/n64jit/emu"
	"github.com/sarchlab/n64jit/loader"
	"github.com/sarchlab/n64jit/mmu"
)

// Image formats accepted by -format.
const (
	formatAuto = "auto"
	formatELF  = "elf"
	formatROM  = "rom"
	formatRaw  = "raw"
)

// loadFlags select how a program file becomes guest memory.
type loadFlags struct {
	format string
	base   string
	pif    bool
}

func (l *loadFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&l.format, "format", formatAuto, "image format: auto, elf, rom or raw")
	fs.StringVar(&l.base, "base", "0x80001000", "load and entry address of raw images")
	fs.BoolVar(&l.pif, "pif", false, "boot cartridges through the simulated PIF instead of jumping to the entry point")
}

// tuning overrides configuration values from the command line. Only flags
// that were set on the command line take effect.
type tuning struct {
	maxBlock   int
	poll       int
	cacheBytes int
	policy     string
	fastMemory bool
}

func (t *tuning) register(fs *flag.FlagSet) {
	d := config.Default()
	fs.IntVar(&t.maxBlock, "max-block", d.MaxBlockInstructions, "maximum guest instructions per block")
	fs.IntVar(&t.poll, "poll", d.PollInterval, "instructions between interrupt polls (0 disables)")
	fs.IntVar(&t.cacheBytes, "cache-bytes", d.CodeCacheBytes, "code cache budget in bytes")
	fs.StringVar(&t.policy, "illegal", d.IllegalInstructionPolicy, "illegal instruction policy: halt or trap")
	fs.BoolVar(&t.fastMemory, "fast-memory", d.FastMemory, "inline RDRAM accesses for direct-mapped segments")
}

func (t *tuning) apply(fs *flag.FlagSet, cfg *config.Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "max-block":
			cfg.MaxBlockInstructions = t.maxBlock
		case "poll":
			cfg.PollInterval = t.poll
		case "cache-bytes":
			cfg.CodeCacheBytes = t.cacheBytes
		case "illegal":
			cfg.IllegalInstructionPolicy = t.policy
		case "fast-memory":
			cfg.FastMemory = t.fastMemory
		}
	})
}

// guest is a powered-on machine with a program loaded.
type guest struct {
	ram    *mmu.RAM
	bus    *mmu.SystemBus
	bridge *mmu.Bridge
	cpu    *emu.CpuState
	entry  uint64
}

func newGuest(cfg *config.Config, log logr.Logger) (*guest, error) {
	g := &guest{ram: mmu.NewRAM(cfg.RAMSize)}
	g.bus = mmu.NewSystemBus(g.ram)
	for _, r := range []mmu.Region{mmu.RegionSPDMEM, mmu.RegionSPIMEM} {
		if _, err := g.bus.MapMemory(r); err != nil {
			return nil, err
		}
	}
	g.bridge = mmu.NewBridge(g.bus,
		mmu.WithMicroTLB(cfg.MicroTLBSets, cfg.MicroTLBWays),
		mmu.WithFastMemory(cfg.FastMemory),
		mmu.WithLogger(log.WithName("mmu")))
	g.cpu = emu.NewCpuState()
	return g, nil
}

// load places the image at path into guest memory and points the CPU at
// its entry.
func (g *guest) load(path string, l *loadFlags, log logr.Logger) error {
	format := l.format
	if format == formatAuto {
		format = detectFormat(path)
	}

	var prog *loader.Program
	switch format {
	case formatELF:
		p, err := loader.Load(path)
		if err != nil {
			return err
		}
		prog = p
	case formatRaw:
		base, err := parseAddr(l.base)
		if err != nil {
			return err
		}
		p, err := loader.LoadRaw(path, base)
		if err != nil {
			return err
		}
		prog = p
	case formatROM:
		rom, err := loader.LoadROM(path)
		if err != nil {
			return err
		}
		if err := rom.MapInto(g.bus); err != nil {
			return err
		}
		log.Info("cartridge", "title", rom.Header.Title, "code", rom.Header.GameCode,
			"entry", fmt.Sprintf("%#x", rom.Header.Entry))
		if l.pif {
			if err := g.cpu.SimulatePIF(g.bus); err != nil {
				return err
			}
			g.entry = g.cpu.PC
			return nil
		}
		prog = rom.Program()
	default:
		return fmt.Errorf("unknown image format %q", l.format)
	}

	if err := prog.LoadInto(g.ram); err != nil {
		return err
	}
	g.cpu.CP0.Status = 0
	g.cpu.PC = prog.EntryPoint
	g.cpu.GPR[29] = prog.InitialSP
	g.entry = prog.EntryPoint
	log.V(1).Info("loaded", "path", path, "format", format,
		"segments", len(prog.Segments), "entry", fmt.Sprintf("%#x", prog.EntryPoint))
	return nil
}

func detectFormat(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".z64"), strings.HasSuffix(lower, ".n64"),
		strings.HasSuffix(lower, ".v64"):
		return formatROM
	case strings.HasSuffix(lower, ".bin"):
		return formatRaw
	}
	return formatELF
}

// parseAddr parses a guest address. Values that fit in 32 bits are
// sign-extended, so 0x80001000 names the KSEG0 address.
func parseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if v <= 0xFFFFFFFF {
		v = uint64(int64(int32(uint32(v))))
	}
	return v, nil
}

// addrList collects repeated address flags.
type addrList []uint64

func (a *addrList) String() string {
	parts := make([]string, len(*a))
	for i, v := range *a {
		parts[i] = fmt.Sprintf("%#x", v)
	}
	return strings.Join(parts, ",")
}

func (a *addrList) Set(s string) error {
	v, err := parseAddr(s)
	if err != nil {
		return err
	}
	*a = append(*a, v)
	return nil
}
