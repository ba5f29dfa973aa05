// Package main provides the entry point for n64jit.
// n64jit runs MIPS VR4300 guest code by translating basic blocks into
// host code and caching them.
//
// For the full CLI, use: go run ./cmd/n64jit
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("n64jit - VR4300 block translator")
	fmt.Println("")
	fmt.Println("Usage: n64jit [flags] <subcommand> [flags] <program>")
	fmt.Println("")
	fmt.Println("Subcommands:")
	fmt.Println("  run      Execute a program until it halts or a limit is hit")
	fmt.Println("  serve    Execute a program with the HTTP debug server attached")
	fmt.Println("  disasm   Disassemble guest code and its translation")
	fmt.Println("  config   Print the effective configuration")
	fmt.Println("  bench    Compare the translator against the interpreter")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/n64jit' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/n64jit' instead.")
	}
}
