package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/sarchlab/n64jit/hostisa"
	"github.com/sarchlab/n64jit/insts"
	"github.com/sarchlab/n64jit/jit"
)

func disasmCommand(g *globals) *ffcli.Command {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	var (
		load  loadFlags
		tune  tuning
		start string
		count int
		host  bool
	)
	load.register(fs)
	tune.register(fs)
	fs.StringVar(&start, "start", "", "first address to disassemble (default: entry point)")
	fs.IntVar(&count, "n", 32, "number of guest instructions")
	fs.BoolVar(&host, "host", false, "also print the host code of the block at -start")

	return &ffcli.Command{
		Name:       "disasm",
		ShortUsage: appName + " disasm [flags] <program>",
		ShortHelp:  "Disassemble guest code and its translation",
		FlagSet:    fs,
		Exec: func(_ context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("disasm needs exactly one program")
			}
			cfg, err := g.config()
			if err != nil {
				return err
			}
			tune.apply(fs, cfg)
			log := g.logger()

			gst, err := newGuest(cfg, log)
			if err != nil {
				return err
			}
			if err := gst.load(args[0], &load, log); err != nil {
				return err
			}

			pc := gst.entry
			if start != "" {
				if pc, err = parseAddr(start); err != nil {
					return err
				}
			}

			addr := color.New(color.FgYellow)
			dec := insts.NewDecoder()
			for i := 0; i < count; i++ {
				va := pc + uint64(4*i)
				word, _, err := gst.bridge.FetchWord(va)
				if err != nil {
					return fmt.Errorf("fetch at 0x%016X: %w", va, err)
				}
				text := fmt.Sprintf(".word 0x%08X", word)
				if inst, err := dec.Decode(word); err == nil {
					text = inst.String()
				}
				_, _ = addr.Printf("%016X", va)
				fmt.Printf("  %08X  %s\n", word, text)
			}

			if !host {
				return nil
			}
			c := jit.NewCompiler(gst.bridge,
				jit.WithMaxBlock(cfg.MaxBlockInstructions),
				jit.WithPollInterval(cfg.PollInterval),
				jit.WithTrapIllegal(cfg.TrapIllegal()),
				jit.WithFastMemory(cfg.FastMemory),
				jit.WithLogger(log.WithName("jit")))
			t, err := c.Compile(pc)
			if err != nil {
				return err
			}
			_, _ = color.New(color.Bold).Printf("\nblock 0x%016X: %d guest instructions, %d host instructions\n",
				t.Start, t.GuestInsts, len(t.Code)/hostisa.InstSize)
			_, _ = fmt.Fprint(os.Stdout, hostisa.Disassemble(t.Code))
			return nil
		},
	}
}
