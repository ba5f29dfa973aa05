// Package config holds the tunables of the translator.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Illegal instruction policies.
const (
	PolicyHalt = "halt"
	PolicyTrap = "trap"
)

// Config holds the translator configuration.
type Config struct {
	// MaxBlockInstructions is the maximum number of guest instructions in
	// one compiled block.
	// Default: 128.
	MaxBlockInstructions int `json:"max_block_instructions" yaml:"max_block_instructions"`

	// PollInterval is the number of guest instructions between interrupt
	// polls inside a block. Zero polls only between blocks.
	// Default: 32.
	PollInterval int `json:"poll_interval" yaml:"poll_interval"`

	// CodeCacheBytes is the budget for compiled host code.
	// Default: 32 MiB.
	CodeCacheBytes int `json:"code_cache_bytes" yaml:"code_cache_bytes"`

	// IllegalInstructionPolicy is "halt" to stop on an illegal instruction
	// or "trap" to raise a reserved-instruction exception.
	// Default: halt.
	IllegalInstructionPolicy string `json:"illegal_instruction_policy" yaml:"illegal_instruction_policy"`

	// FastMemory enables direct RDRAM accesses.
	// Default: true.
	FastMemory bool `json:"fast_memory" yaml:"fast_memory"`

	// RAMSize is the size of RDRAM in bytes.
	// Default: 8 MiB.
	RAMSize int `json:"ram_size" yaml:"ram_size"`

	// MicroTLBSets and MicroTLBWays give the micro-TLB geometry.
	// Default: 16 sets of 4 ways.
	MicroTLBSets int `json:"micro_tlb_sets" yaml:"micro_tlb_sets"`
	MicroTLBWays int `json:"micro_tlb_ways" yaml:"micro_tlb_ways"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		MaxBlockInstructions:     128,
		PollInterval:             32,
		CodeCacheBytes:           32 << 20,
		IllegalInstructionPolicy: PolicyHalt,
		FastMemory:               true,
		RAMSize:                  8 << 20,
		MicroTLBSets:             16,
		MicroTLBWays:             4,
	}
}

// Load reads a configuration file. Files ending in .yaml or .yml are
// parsed as YAML, everything else as JSON. Fields missing from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return config, nil
}

// Save writes the configuration in the format implied by the extension.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Validate checks that all values are usable.
func (c *Config) Validate() error {
	if c.MaxBlockInstructions < 1 {
		return fmt.Errorf("max_block_instructions must be > 0")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll_interval must be >= 0")
	}
	if c.CodeCacheBytes < 4096 {
		return fmt.Errorf("code_cache_bytes must be at least 4096")
	}
	if c.IllegalInstructionPolicy != PolicyHalt && c.IllegalInstructionPolicy != PolicyTrap {
		return fmt.Errorf("illegal_instruction_policy must be %q or %q, got %q",
			PolicyHalt, PolicyTrap, c.IllegalInstructionPolicy)
	}
	if c.RAMSize <= 0 || c.RAMSize%4096 != 0 {
		return fmt.Errorf("ram_size must be a positive multiple of 4096")
	}
	if c.MicroTLBSets < 1 || c.MicroTLBWays < 1 {
		return fmt.Errorf("micro_tlb_sets and micro_tlb_ways must be > 0")
	}
	return nil
}

// TrapIllegal reports whether illegal instructions raise exceptions.
func (c *Config) TrapIllegal() bool {
	return c.IllegalInstructionPolicy == PolicyTrap
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
