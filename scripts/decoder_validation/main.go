// Validate decoder throughput - measures decode rate and allocations per
// decoded instruction.
package main

import (
	"fmt"
	"runtime"
	"time"

	"github.com/sarchlab/n64jit/insts"
	"github.com/sarchlab/n64jit/insts/asm"
)

func main() {
	decoder := insts.NewDecoder()

	// A mix of the common instruction classes
	words := []uint32{
		asm.ADDIU(asm.T0, asm.T0, 1),
		asm.LW(asm.T1, asm.SP, 16),
		asm.BNE(asm.T0, asm.T2, -3),
		asm.SW(asm.T1, asm.SP, 20),
		asm.DSLL32(asm.V0, asm.T1, 4),
		asm.MFC0(asm.K0, 12),
	}

	for _, w := range words {
		if _, err := decoder.Decode(w); err != nil {
			fmt.Printf("failed to decode 0x%08X: %v\n", w, err)
			return
		}
	}

	// Warm up
	for i := 0; i < 1000; i++ {
		_, _ = decoder.Decode(words[0])
	}

	runtime.GC()
	var m1, m2 runtime.MemStats
	runtime.ReadMemStats(&m1)

	start := time.Now()
	iterations := 100000

	for i := 0; i < iterations; i++ {
		for _, w := range words {
			_, _ = decoder.Decode(w)
		}
	}

	elapsed := time.Since(start)
	runtime.ReadMemStats(&m2)

	totalDecodes := iterations * len(words)
	allocations := m2.Mallocs - m1.Mallocs
	allocatedBytes := m2.TotalAlloc - m1.TotalAlloc

	fmt.Printf("Decoder Validation Results:\n")
	fmt.Printf("===========================\n")
	fmt.Printf("Total decode operations: %d\n", totalDecodes)
	fmt.Printf("Time elapsed: %v\n", elapsed)
	fmt.Printf("Decodes per second: %.0f\n", float64(totalDecodes)/elapsed.Seconds())
	fmt.Printf("Allocations: %d\n", allocations)
	fmt.Printf("Allocated bytes: %d\n", allocatedBytes)
	fmt.Printf("Allocations per decode: %.3f\n", float64(allocations)/float64(totalDecodes))
	fmt.Printf("Bytes per decode: %.1f\n", float64(allocatedBytes)/float64(totalDecodes))

	if float64(allocations)/float64(totalDecodes) <= 1.0 {
		fmt.Printf("\nOK: at most one allocation per decode\n")
	} else {
		fmt.Printf("\nWARNING: more than one allocation per decode\n")
	}
}
