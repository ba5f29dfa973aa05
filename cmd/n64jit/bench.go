package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/sarchlab/n64jit/benchmarks"
)

func benchCommand(g *globals) *ffcli.Command {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	var (
		tune    tuning
		format  string
		core    bool
		verbose bool
		maxIns  uint64
	)
	tune.register(fs)
	fs.StringVar(&format, "format", "text", "output format: text, csv or json")
	fs.BoolVar(&core, "core", false, "run only the core subset")
	fs.BoolVar(&verbose, "verbose", false, "print benchmark descriptions")
	fs.Uint64Var(&maxIns, "max-instr", benchmarks.DefaultConfig().MaxInstructions, "instruction limit per run")

	return &ffcli.Command{
		Name:       "bench",
		ShortUsage: appName + " bench [flags]",
		ShortHelp:  "Run the microbenchmarks on both engines and compare their final states",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			tune.apply(fs, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			hc := benchmarks.DefaultConfig()
			hc.Config = cfg
			hc.MaxInstructions = maxIns
			hc.Verbose = verbose
			hc.Output = os.Stdout

			h := benchmarks.NewHarness(hc)
			if core {
				h.AddBenchmarks(benchmarks.GetCoreBenchmarks())
			} else {
				h.AddBenchmarks(benchmarks.GetMicrobenchmarks())
			}
			results := h.RunAll()

			switch format {
			case "text":
				h.PrintResults(results)
			case "csv":
				h.PrintCSV(results)
			case "json":
				if err := h.PrintJSON(results); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown format %q", format)
			}

			if s := benchmarks.Summarize(results); s.Mismatches > 0 {
				return fmt.Errorf("%d of %d benchmarks diverged", s.Mismatches, s.TotalBenchmarks)
			}
			if format == "text" {
				_, _ = color.New(color.FgGreen, color.Bold).Println("all benchmarks agree")
			}
			return nil
		},
	}
}
