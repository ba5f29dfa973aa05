//go:build !unix

package codecache

// WriteProtected reports whether sealed host code is mapped read-only.
// Without mmap the code lives on the heap and sealing only marks the region,
// so nothing stops a write after publication.
const WriteProtected = false

type region struct {
	mem    []byte
	size   int
	sealed bool
}

func allocRegion(size int) (*region, error) {
	return &region{mem: make([]byte, size), size: size}, nil
}

func (r *region) code() []byte {
	return r.mem[:r.size]
}

func (r *region) seal() error {
	r.sealed = true
	return nil
}

func (r *region) free() error {
	r.mem = nil
	r.sealed = false
	return nil
}
