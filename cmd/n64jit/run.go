package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/sarchlab/n64jit/codecache"
	"github.com/sarchlab/n64jit/debugserver"
	"github.com/sarchlab/n64jit/dispatch"
	"github.com/sarchlab/n64jit/emu"
)

const defaultListen = "localhost:6464"

type runFlags struct {
	load       loadFlags
	tune       tuning
	maxInstr   uint64
	breaks     addrList
	interp     bool
	timeout    time.Duration
	listen     string
	statsview  bool
	cpuProfile string
	memProfile string
}

func (r *runFlags) register(fs *flag.FlagSet, listen string) {
	r.load.register(fs)
	r.tune.register(fs)
	fs.Uint64Var(&r.maxInstr, "max-instr", 0, "stop after this many guest instructions (0 = unlimited)")
	fs.Var(&r.breaks, "break", "stop before executing this address (repeatable)")
	fs.BoolVar(&r.interp, "interp", false, "run on the reference interpreter instead of the translator")
	fs.DurationVar(&r.timeout, "timeout", 0, "stop after this much wall time (0 = unlimited)")
	fs.StringVar(&r.listen, "listen", listen, "address of the HTTP debug server (empty disables)")
	fs.BoolVar(&r.statsview, "statsview", false, "serve Go runtime charts at "+statsviewAddress+statsviewURL)
	fs.StringVar(&r.cpuProfile, "cpuprofile", "", "write a CPU profile to file")
	fs.StringVar(&r.memProfile, "memprofile", "", "write a heap profile to file")
}

func runCommand(g *globals) *ffcli.Command {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	rf := &runFlags{}
	rf.register(fs, "")
	return &ffcli.Command{
		Name:       "run",
		ShortUsage: appName + " run [flags] <program>",
		ShortHelp:  "Execute a program until it halts or a limit is hit",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("run needs exactly one program")
			}
			return execute(ctx, g, fs, rf, args[0], false)
		},
	}
}

func serveCommand(g *globals) *ffcli.Command {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	rf := &runFlags{}
	rf.register(fs, defaultListen)
	return &ffcli.Command{
		Name:       "serve",
		ShortUsage: appName + " serve [flags] <program>",
		ShortHelp:  "Execute a program with the debug server attached; stays up after it halts",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("serve needs exactly one program")
			}
			if rf.listen == "" {
				return errors.New("serve needs -listen")
			}
			return execute(ctx, g, fs, rf, args[0], true)
		},
	}
}

func execute(
	ctx context.Context,
	g *globals,
	fs *flag.FlagSet,
	rf *runFlags,
	path string,
	stay bool,
) error {
	cfg, err := g.config()
	if err != nil {
		return err
	}
	rf.tune.apply(fs, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := g.logger()

	gst, err := newGuest(cfg, log)
	if err != nil {
		return err
	}
	if err := gst.load(path, &rf.load, log); err != nil {
		return err
	}

	if rf.cpuProfile != "" {
		stop, err := startCPUProfile(rf.cpuProfile)
		if err != nil {
			return err
		}
		defer stop()
	}
	if rf.statsview {
		launchStatsview(os.Stderr)
	}
	if rf.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rf.timeout)
		defer cancel()
	}

	var runErr error
	start := time.Now()
	if rf.interp {
		e := emu.NewEmulator(gst.cpu, gst.bridge,
			emu.WithLogger(log.WithName("interp")),
			emu.WithTrapIllegal(cfg.TrapIllegal()))
		runErr = interpret(ctx, e, rf.breaks, rf.maxInstr)
		printInterpSummary(os.Stdout, e, time.Since(start), runErr)
	} else {
		opts := []dispatch.Option{
			dispatch.WithConfig(cfg),
			dispatch.WithLogger(log.WithName("dispatch")),
			dispatch.WithMaxInstructions(rf.maxInstr),
		}
		for _, b := range rf.breaks {
			opts = append(opts, dispatch.WithBreakpoint(b))
		}
		d, err := dispatch.New(gst.cpu, gst.bridge, opts...)
		if err != nil {
			return err
		}
		if rf.listen != "" {
			shutdown := startDebugServer(d, rf.listen, log)
			defer shutdown()
		}

		runErr = d.Run(ctx)
		printSummary(os.Stdout, d.Status(), d.CacheStats(), gst.cpu, time.Since(start), runErr)

		if stay {
			log.Info("program finished, debug server still up", "addr", rf.listen)
			<-ctx.Done()
		}
	}

	if rf.memProfile != "" {
		if err := writeHeapProfile(rf.memProfile); err != nil {
			return err
		}
	}
	if expected(runErr) {
		return nil
	}
	return runErr
}

// expected reports whether err ends a run without signalling a failure.
func expected(err error) bool {
	return err == nil ||
		errors.Is(err, dispatch.ErrInstructionLimit) ||
		errors.Is(err, dispatch.ErrStopped) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// interpret drives the reference interpreter one instruction at a time so
// that cancellation and breakpoints are honoured.
func interpret(ctx context.Context, e *emu.Emulator, breaks addrList, max uint64) error {
	stops := make(map[uint64]bool, len(breaks))
	for _, b := range breaks {
		stops[b] = true
	}
	cpu := e.State()
	for n := 0; ; n++ {
		if n&0xFFF == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if n > 0 && stops[cpu.PC] {
			return nil
		}
		if max > 0 && e.InstructionCount() >= max {
			return emu.ErrInstructionLimit
		}
		if r := e.Step(); r.Err != nil {
			return r.Err
		}
	}
}

func startDebugServer(d *dispatch.Dispatcher, addr string, log logr.Logger) func() {
	srv := debugserver.New(d, log.WithName("debugserver"))
	go func() {
		if err := srv.Start(addr); err != nil {
			log.Error(err, "debug server failed", "addr", addr)
		}
	}()
	log.Info("debug server listening", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

var (
	labelColor = color.New(color.FgCyan)
	okColor    = color.New(color.FgGreen, color.Bold)
	badColor   = color.New(color.FgRed, color.Bold)
)

func outcome(w io.Writer, err error) {
	_, _ = labelColor.Fprintf(w, "%-12s", "outcome")
	switch {
	case err == nil:
		_, _ = okColor.Fprintln(w, "breakpoint")
	case expected(err):
		_, _ = okColor.Fprintln(w, err)
	default:
		_, _ = badColor.Fprintln(w, err)
	}
}

func field(w io.Writer, name, format string, args ...any) {
	_, _ = labelColor.Fprintf(w, "%-12s", name)
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}

func mips(retired uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(retired) / elapsed.Seconds() / 1e6
}

func printSummary(
	w io.Writer,
	st dispatch.Status,
	cs codecache.Statistics,
	cpu *emu.CpuState,
	elapsed time.Duration,
	err error,
) {
	outcome(w, err)
	field(w, "state", "%s", st.State)
	field(w, "pc", "0x%016X", st.PC)
	field(w, "v0", "0x%016X", cpu.GPR[2])
	field(w, "retired", "%d (%.2f MIPS)", st.Retired, mips(st.Retired, elapsed))
	field(w, "blocks", "%d run, %d compiled, %d live", st.Blocks, cs.Inserts, cs.Blocks)
	field(w, "cache", "%.1f%% hits, %d invalidated, %d evicted, %d bytes",
		100*cs.HitRate(), cs.Invalidations, cs.Evictions, cs.BytesInUse)
	field(w, "exceptions", "%d", st.Exceptions)
	if st.Interpreted > 0 {
		field(w, "interpreted", "%d", st.Interpreted)
	}
	field(w, "wall time", "%v", elapsed)
}

func printInterpSummary(w io.Writer, e *emu.Emulator, elapsed time.Duration, err error) {
	cpu := e.State()
	outcome(w, err)
	field(w, "pc", "0x%016X", cpu.PC)
	field(w, "v0", "0x%016X", cpu.GPR[2])
	field(w, "retired", "%d (%.2f MIPS)", cpu.Retired, mips(cpu.Retired, elapsed))
	field(w, "wall time", "%v", elapsed)
}
