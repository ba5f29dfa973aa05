// Command n64jit runs VR4300 guest programs through the block translator.
//
// Usage:
//
//	n64jit [-config file] [-v level] <subcommand> [flags] <program>
//
// Subcommands:
//
//	run      execute a program until it halts or a limit is hit
//	serve    execute a program with the HTTP debug server attached
//	disasm   disassemble guest code, optionally with its host translation
//	config   print the effective configuration
//	bench    compare the translator against the interpreter
//
// Every flag can also be set through an N64JIT_ prefixed environment
// variable, e.g. N64JIT_CONFIG=n64jit.yaml.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/sarchlab/n64jit/config"
)

const appName = "n64jit"

// globals are the flags shared by every subcommand.
type globals struct {
	configPath string
	verbosity  int
	logJSON    bool
}

// config loads the configuration file, or the defaults when none is given.
func (g *globals) config() (*config.Config, error) {
	if g.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(g.configPath)
}

func (g *globals) logger() logr.Logger {
	opts := funcr.Options{
		Verbosity:    g.verbosity,
		LogTimestamp: true,
	}
	if g.logJSON {
		return funcr.NewJSON(func(obj string) {
			fmt.Fprintln(os.Stderr, obj)
		}, opts)
	}
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(os.Stderr, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(os.Stderr, args)
	}, opts)
}

func main() {
	g := &globals{}
	rootFlagSet := flag.NewFlagSet(appName, flag.ExitOnError)
	rootFlagSet.StringVar(&g.configPath, "config", "", "configuration file (.json or .yaml)")
	rootFlagSet.IntVar(&g.verbosity, "v", 0, "log verbosity")
	rootFlagSet.BoolVar(&g.logJSON, "log-json", false, "log as JSON lines")

	root := &ffcli.Command{
		Name:       appName,
		ShortUsage: appName + " [flags] <subcommand> [flags] <program>",
		FlagSet:    rootFlagSet,
		Options:    []ff.Option{ff.WithEnvVarPrefix("N64JIT")},
		Subcommands: []*ffcli.Command{
			runCommand(g),
			serveCommand(g),
			disasmCommand(g),
			configCommand(g),
			benchCommand(g),
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ParseAndRun(ctx, os.Args[1:])
	stop()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
