// Package benchmarks runs guest microbenchmarks under the reference
// interpreter and the dispatcher, checks that both end in the same state
// and reports their throughput.
package benchmarks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sarchlab/n64jit/config"
	"github.com/sarchlab/n64jit/dispatch"
	"github.com/sarchlab/n64jit/emu"
	"github.com/sarchlab/n64jit/insts/asm"
	"github.com/sarchlab/n64jit/mmu"
)

// Guest addresses used by every benchmark.
const (
	CodeBase   = uint64(0xFFFFFFFF80001000)
	DataBase   = uint64(0xFFFFFFFF80100000)
	vectorPhys = uint64(0x180)
)

// Execution modes.
const (
	ModeInterpreter = "interpreter"
	ModeJIT         = "jit"
)

// Benchmark defines a single guest program. It runs from CodeBase until
// PC reaches the end of Program.
type Benchmark struct {
	// Name identifies the benchmark
	Name string

	// Description explains what the benchmark measures
	Description string

	// Setup prepares the CPU and memory
	Setup func(cpu *emu.CpuState, ram *mmu.RAM)

	// Program is the guest code
	Program []uint32

	// Handler is loaded at the general exception vector
	Handler []uint32

	// Expected is the value of v0 at the end
	Expected uint64
}

// End returns the address execution stops at.
func (b Benchmark) End() uint64 {
	return CodeBase + 4*uint64(len(b.Program))
}

// BenchmarkResult holds the results of one benchmark in one mode.
type BenchmarkResult struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Mode        string `json:"mode"`

	// InstructionsRetired is the number of guest instructions completed
	InstructionsRetired uint64 `json:"instructions_retired"`

	// Blocks is the number of compiled blocks run (JIT only)
	Blocks uint64 `json:"blocks,omitempty"`

	// CacheHitRate is the code cache hit rate (JIT only)
	CacheHitRate float64 `json:"cache_hit_rate,omitempty"`

	// Exceptions is the number of exceptions delivered (JIT only)
	Exceptions uint64 `json:"exceptions,omitempty"`

	// Result is the final value of v0
	Result uint64 `json:"result"`

	// Mismatch describes how the JIT state differs from the interpreter
	Mismatch string `json:"mismatch,omitempty"`

	Err string `json:"error,omitempty"`

	// WallTime is the time spent running guest code
	WallTime time.Duration `json:"wall_time_ns"`
}

// MIPS returns millions of guest instructions per second.
func (r BenchmarkResult) MIPS() float64 {
	if r.WallTime <= 0 {
		return 0
	}
	return float64(r.InstructionsRetired) / r.WallTime.Seconds() / 1e6
}

// OK reports whether the run finished with the expected result and, for the
// JIT, the same state as the interpreter.
func (r BenchmarkResult) OK(b Benchmark) bool {
	return r.Err == "" && r.Mismatch == "" && r.Result == b.Expected
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// Config configures the dispatcher
	Config *config.Config

	// MaxInstructions bounds every run
	MaxInstructions uint64

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Verbose enables detailed output
	Verbose bool
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		Config:          config.Default(),
		MaxInstructions: 50_000_000,
		Output:          os.Stdout,
	}
}

// Harness runs benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Config == nil {
		config.Config = DefaultConfig().Config
	}
	return &Harness{config: config}
}

// AddBenchmark adds a benchmark to the harness.
func (h *Harness) AddBenchmark(b Benchmark) {
	h.benchmarks = append(h.benchmarks, b)
}

// AddBenchmarks adds multiple benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// RunAll runs every benchmark in both modes. Results come in pairs,
// interpreter first.
func (h *Harness) RunAll() []BenchmarkResult {
	results := make([]BenchmarkResult, 0, 2*len(h.benchmarks))
	for _, bench := range h.benchmarks {
		interp, jit := h.Compare(bench)
		results = append(results, interp, jit)
	}
	return results
}

// machine is a fresh guest for one run.
type machine struct {
	ram    *mmu.RAM
	bridge *mmu.Bridge
	cpu    *emu.CpuState
}

func (h *Harness) newMachine(bench Benchmark) *machine {
	cfg := h.config.Config
	m := &machine{ram: mmu.NewRAM(cfg.RAMSize)}
	m.bridge = mmu.NewBridge(mmu.NewSystemBus(m.ram),
		mmu.WithMicroTLB(cfg.MicroTLBSets, cfg.MicroTLBWays),
		mmu.WithFastMemory(cfg.FastMemory))
	m.cpu = emu.NewCpuState()
	m.cpu.CP0.Status = 0
	m.cpu.PC = CodeBase

	m.ram.Load(CodeBase&0x1FFFFFFF, asm.Program(bench.Program...))
	if bench.Handler != nil {
		m.ram.Load(vectorPhys, asm.Program(bench.Handler...))
	}
	if bench.Setup != nil {
		bench.Setup(m.cpu, m.ram)
	}
	return m
}

// Compare runs bench under the interpreter and the dispatcher and records
// any difference between the final states in the JIT result.
func (h *Harness) Compare(bench Benchmark) (interp, jit BenchmarkResult) {
	im := h.newMachine(bench)
	interp = h.runInterpreter(bench, im)

	jm := h.newMachine(bench)
	jit = h.runJIT(bench, jm)

	if interp.Err == "" && jit.Err == "" {
		if diff := cmp.Diff(im.cpu, jm.cpu, cmp.AllowUnexported(emu.CP0{})); diff != "" {
			jit.Mismatch = diff
		} else if !bytes.Equal(im.ram.Bytes(), jm.ram.Bytes()) {
			jit.Mismatch = "memory differs"
		}
	}
	return interp, jit
}

func (h *Harness) runInterpreter(bench Benchmark, m *machine) BenchmarkResult {
	e := emu.NewEmulator(m.cpu, m.bridge,
		emu.WithBreakpoint(bench.End()),
		emu.WithMaxInstructions(h.config.MaxInstructions),
		emu.WithTrapIllegal(h.config.Config.TrapIllegal()))

	start := time.Now()
	err := e.Run()
	result := BenchmarkResult{
		Name:                bench.Name,
		Description:         bench.Description,
		Mode:                ModeInterpreter,
		InstructionsRetired: m.cpu.Retired,
		Result:              m.cpu.GPR[asm.V0],
		WallTime:            time.Since(start),
	}
	if err != nil {
		result.Err = err.Error()
	}
	return result
}

func (h *Harness) runJIT(bench Benchmark, m *machine) BenchmarkResult {
	result := BenchmarkResult{
		Name:        bench.Name,
		Description: bench.Description,
		Mode:        ModeJIT,
	}

	d, err := dispatch.New(m.cpu, m.bridge,
		dispatch.WithConfig(h.config.Config),
		dispatch.WithBreakpoint(bench.End()),
		dispatch.WithMaxInstructions(h.config.MaxInstructions))
	if err != nil {
		result.Err = err.Error()
		return result
	}

	start := time.Now()
	err = d.Run(context.Background())
	result.WallTime = time.Since(start)

	status := d.Status()
	result.InstructionsRetired = status.Retired
	result.Blocks = status.Blocks
	result.Exceptions = status.Exceptions
	result.CacheHitRate = d.CacheStats().HitRate()
	result.Result = m.cpu.GPR[asm.V0]
	if err != nil {
		result.Err = err.Error()
	}
	return result
}

// PrintResults outputs benchmark results in a human-readable format.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	out := h.config.Output
	_, _ = fmt.Fprintln(out, "=== n64jit Benchmark Results ===")
	_, _ = fmt.Fprintln(out, "")

	for _, r := range results {
		_, _ = fmt.Fprintf(out, "Benchmark: %s (%s)\n", r.Name, r.Mode)
		if h.config.Verbose {
			_, _ = fmt.Fprintf(out, "  Description: %s\n", r.Description)
		}
		_, _ = fmt.Fprintf(out, "  Result:               %d\n", r.Result)
		_, _ = fmt.Fprintf(out, "  Instructions Retired: %d\n", r.InstructionsRetired)
		_, _ = fmt.Fprintf(out, "  MIPS:                 %.2f\n", r.MIPS())
		if r.Mode == ModeJIT {
			_, _ = fmt.Fprintf(out, "  Blocks:               %d\n", r.Blocks)
			_, _ = fmt.Fprintf(out, "  Cache Hit Rate:       %.3f\n", r.CacheHitRate)
			_, _ = fmt.Fprintf(out, "  Exceptions:           %d\n", r.Exceptions)
		}
		if r.Err != "" {
			_, _ = fmt.Fprintf(out, "  Error: %s\n", r.Err)
		}
		if r.Mismatch != "" {
			_, _ = fmt.Fprintf(out, "  MISMATCH:\n%s\n", r.Mismatch)
		}
		_, _ = fmt.Fprintf(out, "  Wall Time: %v\n", r.WallTime)
		_, _ = fmt.Fprintln(out, "")
	}
}

// PrintCSV outputs benchmark results in CSV format for easy comparison.
func (h *Harness) PrintCSV(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output,
		"name,mode,instructions,blocks,cache_hit_rate,exceptions,result,mips,match")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "%s,%s,%d,%d,%.3f,%d,%d,%.2f,%t\n",
			r.Name,
			r.Mode,
			r.InstructionsRetired,
			r.Blocks,
			r.CacheHitRate,
			r.Exceptions,
			r.Result,
			r.MIPS(),
			r.Mismatch == "" && r.Err == "",
		)
	}
}

// BenchmarkReport is the complete output format for benchmark results.
type BenchmarkReport struct {
	Metadata ReportMetadata    `json:"metadata"`
	Results  []BenchmarkResult `json:"results"`
	Summary  ReportSummary     `json:"summary"`
}

// ReportMetadata contains information about the benchmark run.
type ReportMetadata struct {
	Timestamp string         `json:"timestamp"`
	Config    *config.Config `json:"config"`
}

// ReportSummary contains aggregate statistics across all benchmarks.
type ReportSummary struct {
	TotalBenchmarks int `json:"total_benchmarks"`

	// Mismatches counts JIT runs whose state differs from the interpreter
	Mismatches int `json:"mismatches"`

	InterpreterWallTime time.Duration `json:"interpreter_wall_time_ns"`
	JITWallTime         time.Duration `json:"jit_wall_time_ns"`

	// Speedup is interpreter time over JIT time
	Speedup float64 `json:"speedup"`
}

// Summarize aggregates results.
func Summarize(results []BenchmarkResult) ReportSummary {
	var s ReportSummary
	for _, r := range results {
		switch r.Mode {
		case ModeInterpreter:
			s.TotalBenchmarks++
			s.InterpreterWallTime += r.WallTime
		case ModeJIT:
			s.JITWallTime += r.WallTime
			if r.Mismatch != "" || r.Err != "" {
				s.Mismatches++
			}
		}
	}
	if s.JITWallTime > 0 {
		s.Speedup = float64(s.InterpreterWallTime) / float64(s.JITWallTime)
	}
	return s
}

// PrintJSON outputs benchmark results in JSON format for automated comparison.
func (h *Harness) PrintJSON(results []BenchmarkResult) error {
	report := BenchmarkReport{
		Metadata: ReportMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Config:    h.config.Config,
		},
		Results: results,
		Summary: Summarize(results),
	}

	encoder := json.NewEncoder(h.config.Output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
