package main

import (
	"context"
	"flag"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"
	"go.yaml.in/yaml/v3"
)

func configCommand(g *globals) *ffcli.Command {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	var (
		tune tuning
		out  string
	)
	tune.register(fs)
	fs.StringVar(&out, "o", "", "write the configuration to this file instead of stdout")

	return &ffcli.Command{
		Name:       "config",
		ShortUsage: appName + " config [flags]",
		ShortHelp:  "Print the effective configuration",
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
			if out != "" {
				return cfg.Save(out)
			}
			enc := yaml.NewEncoder(os.Stdout)
			defer func() { _ = enc.Close() }()
			return enc.Encode(cfg)
		},
	}
}
