//go:build unix

package codecache

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// WriteProtected reports whether sealed host code is mapped read-only.
const WriteProtected = true

// region is an anonymous mapping holding one block's host code. It is
// writable only until sealed.
type region struct {
	mem  []byte
	size int
}

func allocRegion(size int) (*region, error) {
	page := unix.Getpagesize()
	length := (size + page - 1) &^ (page - 1)

	mem, err := unix.Mmap(-1, 0, length,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", length, err)
	}
	return &region{mem: mem, size: size}, nil
}

func (r *region) code() []byte {
	return r.mem[:r.size]
}

// seal makes the region read-only.
func (r *region) seal() error {
	if err := unix.Mprotect(r.mem, unix.PROT_READ); err != nil {
		return fmt.Errorf("mprotect: %w", err)
	}
	return nil
}

func (r *region) free() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}
