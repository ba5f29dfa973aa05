// Package codecache stores compiled blocks keyed by guest PC. Host code
// lives in sealed read-only regions; blocks are invalidated when the guest
// code they were compiled from is written or remapped, and evicted in LRU
// order when the cache exceeds its byte budget.
package codecache

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	list "github.com/bahlo/generic-list-go"
	"github.com/rs/xid"
)

// PhysRange is a half-open range of physical addresses.
type PhysRange struct {
	Lo, Hi uint64
}

// Overlaps reports whether r and [lo, hi) intersect.
func (r PhysRange) Overlaps(lo, hi uint64) bool {
	return r.Lo < hi && lo < r.Hi
}

// Translation is the output of the block compiler, ready to be installed.
type Translation struct {
	// Start is the guest virtual address of the first instruction.
	Start uint64

	// Code is the host code.
	Code []byte

	// GuestInsts is the number of guest instructions covered.
	GuestInsts int

	// Ranges are the physical addresses of the guest code.
	Ranges []PhysRange

	// Mapped is set when any instruction was fetched through the TLB.
	Mapped bool
}

// Block is an installed translation.
type Block struct {
	ID         xid.ID
	Start      uint64
	End        uint64 // exclusive
	GuestInsts int
	Ranges     []PhysRange
	Mapped     bool
	Generation uint64
	Created    time.Time

	region  *region
	invalid atomic.Bool

	// Guarded by the cache lock
	pins    int
	removed bool
	elem    *list.Element[*Block]
	hits    uint64
	links   [2]*Block
}

// Code returns the sealed host code.
func (b *Block) Code() []byte {
	return b.region.code()
}

// Size returns the host code size in bytes.
func (b *Block) Size() int {
	return b.region.size
}

// Invalidated reports whether the block was invalidated after it was
// installed. Running code checks it after stores.
func (b *Block) Invalidated() bool {
	return b.invalid.Load()
}

func (b *Block) String() string {
	return fmt.Sprintf("block %s at 0x%016X (%d insts, %d bytes)",
		b.ID, b.Start, b.GuestInsts, b.Size())
}

// BlockInfo is a snapshot of a block for inspection.
type BlockInfo struct {
	ID         string    `json:"id" yaml:"id"`
	Start      uint64    `json:"start" yaml:"start"`
	End        uint64    `json:"end" yaml:"end"`
	GuestInsts int       `json:"guest_insts" yaml:"guest_insts"`
	CodeBytes  int       `json:"code_bytes" yaml:"code_bytes"`
	Mapped     bool      `json:"mapped" yaml:"mapped"`
	Generation uint64    `json:"generation" yaml:"generation"`
	Hits       uint64    `json:"hits" yaml:"hits"`
	Pinned     bool      `json:"pinned" yaml:"pinned"`
	Created    time.Time `json:"created" yaml:"created"`
}

// ErrCacheAllocation is matched by every AllocationError.
var ErrCacheAllocation = errors.New("code cache allocation failed")

// AllocationError reports that host code memory could not be obtained.
type AllocationError struct {
	Start uint64
	Size  int
	Err   error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("cannot allocate %d bytes of host code for block at 0x%016X: %v",
		e.Size, e.Start, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrCacheAllocation) hold.
func (e *AllocationError) Is(target error) bool {
	return target == ErrCacheAllocation
}
