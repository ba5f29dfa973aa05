package codecache

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	list "github.com/bahlo/generic-list-go"
	"github.com/go-logr/logr"
	"github.com/rs/xid"
	"golang.org/x/sync/singleflight"
)

// DefaultBudget is the default host code budget in bytes.
const DefaultBudget = 32 << 20

const pageShift = 12

// CodeTracker is told which physical pages hold compiled guest code, so
// that stores into them are reported back as invalidations.
type CodeTracker interface {
	TrackCode(lo, hi uint64)
	UntrackCode(lo, hi uint64)
}

// Statistics holds code cache statistics.
type Statistics struct {
	Lookups       uint64 `json:"lookups" yaml:"lookups"`
	Hits          uint64 `json:"hits" yaml:"hits"`
	Misses        uint64 `json:"misses" yaml:"misses"`
	Inserts       uint64 `json:"inserts" yaml:"inserts"`
	Invalidations uint64 `json:"invalidations" yaml:"invalidations"`
	Evictions     uint64 `json:"evictions" yaml:"evictions"`
	Chained       uint64 `json:"chained" yaml:"chained"`
	Blocks        int    `json:"blocks" yaml:"blocks"`
	BytesInUse    int    `json:"bytes_in_use" yaml:"bytes_in_use"`
}

// HitRate returns hits per lookup.
func (s Statistics) HitRate() float64 {
	if s.Lookups == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Lookups)
}

// Cache holds the live blocks. All methods are safe for concurrent use;
// one lock orders lookups, inserts and invalidations.
type Cache struct {
	mu sync.Mutex

	blocks map[uint64]*Block
	pages  map[uint64]map[*Block]struct{}
	lru    *list.List[*Block]

	budget     int
	bytesInUse int
	generation uint64
	stats      Statistics

	compiles singleflight.Group
	tracker  CodeTracker
	log      logr.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithBudget sets the host code budget in bytes.
func WithBudget(bytes int) Option {
	return func(c *Cache) {
		c.budget = bytes
	}
}

// WithCodeTracker registers the tracker of code pages, normally the
// memory bridge.
func WithCodeTracker(t CodeTracker) Option {
	return func(c *Cache) {
		c.tracker = t
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		blocks: make(map[uint64]*Block),
		pages:  make(map[uint64]map[*Block]struct{}),
		lru:    list.New[*Block](),
		budget: DefaultBudget,
		log:    logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !WriteProtected {
		c.log.Info("host code regions are not write-protected on this platform")
	}
	return c
}

// Lookup returns the live block starting at pc without pinning it.
func (c *Cache) Lookup(pc uint64) (*Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(pc)
}

func (c *Cache) lookupLocked(pc uint64) (*Block, bool) {
	c.stats.Lookups++
	b, ok := c.blocks[pc]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	b.hits++
	c.lru.MoveToFront(b.elem)
	return b, true
}

// peek reports the live block at pc without touching statistics or LRU
// order.
func (c *Cache) peek(pc uint64) (*Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blocks[pc]
	return b, ok
}

// Acquire looks up the block at pc and pins it. A pinned block keeps its
// host code mapped even if it is invalidated; call Release when done.
func (c *Cache) Acquire(pc uint64) (*Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.lookupLocked(pc)
	if ok {
		b.pins++
	}
	return b, ok
}

// Release unpins b, freeing its code if it was removed meanwhile.
func (c *Cache) Release(b *Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b.pins--
	if b.pins < 0 {
		panic(fmt.Sprintf("codecache: %s released more often than acquired", b))
	}
	if b.pins == 0 && b.removed {
		c.freeLocked(b)
	}
}

// Insert installs t and returns the new block. The host code is copied into
// a fresh region that is sealed read-only before the block is published.
// Live blocks overlapping t are invalidated first.
func (c *Cache) Insert(t *Translation) (*Block, error) {
	size := len(t.Code)
	if size == 0 {
		return nil, fmt.Errorf("translation at 0x%016X has no code", t.Start)
	}
	if size > c.budgetBytes() {
		return nil, &AllocationError{
			Start: t.Start, Size: size,
			Err: fmt.Errorf("block exceeds the %d byte budget", c.budgetBytes()),
		}
	}

	r, err := allocRegion(size)
	if err != nil {
		return nil, &AllocationError{Start: t.Start, Size: size, Err: err}
	}
	copy(r.mem, t.Code)
	if err := r.seal(); err != nil {
		_ = r.free()
		return nil, &AllocationError{Start: t.Start, Size: size, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.blocks[t.Start]; ok {
		c.removeLocked(old)
		c.stats.Invalidations++
	}
	for _, pr := range t.Ranges {
		c.invalidateLocked(pr.Lo, pr.Hi)
	}

	if err := c.makeRoomLocked(size); err != nil {
		_ = r.free()
		return nil, &AllocationError{Start: t.Start, Size: size, Err: err}
	}

	c.generation++
	b := &Block{
		ID:         xid.New(),
		Start:      t.Start,
		End:        t.Start + 4*uint64(t.GuestInsts),
		GuestInsts: t.GuestInsts,
		Ranges:     append([]PhysRange(nil), t.Ranges...),
		Mapped:     t.Mapped,
		Generation: c.generation,
		Created:    time.Now(),
		region:     r,
	}
	c.blocks[b.Start] = b
	b.elem = c.lru.PushFront(b)
	for _, pr := range b.Ranges {
		for page := pr.Lo >> pageShift; page <= (pr.Hi-1)>>pageShift; page++ {
			set := c.pages[page]
			if set == nil {
				set = make(map[*Block]struct{})
				c.pages[page] = set
			}
			set[b] = struct{}{}
		}
		if c.tracker != nil {
			c.tracker.TrackCode(pr.Lo, pr.Hi)
		}
	}
	c.bytesInUse += size
	c.stats.Inserts++

	c.log.V(2).Info("block inserted", "id", b.ID.String(), "start", b.Start,
		"insts", b.GuestInsts, "bytes", size, "generation", b.Generation)
	return b, nil
}

func (c *Cache) budgetBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget
}

// SetBudget changes the host code budget, evicting as needed.
func (c *Cache) SetBudget(bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budget = bytes
	_ = c.makeRoomLocked(0)
}

// makeRoomLocked evicts least recently used unpinned blocks until size more
// bytes fit in the budget.
func (c *Cache) makeRoomLocked(size int) error {
	e := c.lru.Back()
	for c.bytesInUse+size > c.budget {
		for e != nil && e.Value.pins > 0 {
			e = e.Prev()
		}
		if e == nil {
			return errors.New("budget exhausted by pinned blocks")
		}
		victim := e.Value
		e = e.Prev()

		c.log.V(1).Info("block evicted", "id", victim.ID.String(), "start", victim.Start)
		c.removeLocked(victim)
		c.stats.Evictions++
	}
	return nil
}

// GetOrCompile returns the block at pc pinned, compiling and inserting it
// with compile on a miss. Concurrent callers for the same pc share a single
// compilation.
func (c *Cache) GetOrCompile(pc uint64, compile func() (*Translation, error)) (*Block, error) {
	const attempts = 4

	for i := 0; i < attempts; i++ {
		if b, ok := c.Acquire(pc); ok {
			return b, nil
		}

		v, err, _ := c.compiles.Do(strconv.FormatUint(pc, 16), func() (interface{}, error) {
			if b, ok := c.peek(pc); ok {
				return b, nil
			}
			t, err := compile()
			if err != nil {
				return nil, err
			}
			return c.Insert(t)
		})
		if err != nil {
			return nil, err
		}

		if b := v.(*Block); c.pin(b) {
			return b, nil
		}
	}

	return nil, fmt.Errorf("block at 0x%016X invalidated during %d compilations", pc, attempts)
}

// Link records that execution left from and continued in to, so the next
// Follow from the same block skips the address lookup. A block keeps up to
// two successors, one per branch direction.
func (c *Cache) Link(from, to *Block) {
	if from == nil || to == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if from.removed || to.removed {
		return
	}
	switch {
	case from.links[0] == nil || from.links[0].Start == to.Start:
		from.links[0] = to
	default:
		from.links[1] = to
	}
}

// Follow returns the live successor of from that starts at pc, pinned. It
// counts as a cache hit.
func (c *Cache) Follow(from *Block, pc uint64) (*Block, bool) {
	if from == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, to := range from.links {
		if to == nil || to.removed || to.Start != pc {
			continue
		}
		c.stats.Lookups++
		c.stats.Hits++
		c.stats.Chained++
		to.hits++
		to.pins++
		c.lru.MoveToFront(to.elem)
		return to, true
	}
	return nil, false
}

func (c *Cache) pin(b *Block) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b.removed {
		return false
	}
	b.pins++
	return true
}

// InvalidatePhys removes every block whose guest code intersects the
// physical range [lo, hi). It implements mmu.Invalidator.
func (c *Cache) InvalidatePhys(lo, hi uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(lo, hi)
}

// Invalidate is InvalidatePhys returning the number of blocks removed.
func (c *Cache) Invalidate(lo, hi uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidateLocked(lo, hi)
}

func (c *Cache) invalidateLocked(lo, hi uint64) int {
	if hi <= lo {
		return 0
	}

	var victims []*Block
	for page := lo >> pageShift; page <= (hi-1)>>pageShift; page++ {
		for b := range c.pages[page] {
			for _, pr := range b.Ranges {
				if pr.Overlaps(lo, hi) {
					victims = append(victims, b)
					break
				}
			}
		}
	}

	n := 0
	for _, b := range victims {
		if b.removed {
			continue
		}
		c.log.V(1).Info("block invalidated", "id", b.ID.String(), "start", b.Start,
			"lo", lo, "hi", hi)
		c.removeLocked(b)
		c.stats.Invalidations++
		n++
	}
	return n
}

// InvalidateMapped removes every block fetched through the TLB.
func (c *Cache) InvalidateMapped() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, b := range c.blocks {
		if b.Mapped {
			c.removeLocked(b)
			c.stats.Invalidations++
			n++
		}
	}
	if n > 0 {
		c.log.V(1).Info("mapped blocks invalidated", "count", n)
	}
	return n
}

// Remove invalidates b. Pinned code stays mapped until it is released.
func (c *Cache) Remove(b *Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b.removed {
		return
	}
	c.removeLocked(b)
	c.stats.Invalidations++
}

// MappingChanged implements mmu.MappingObserver.
func (c *Cache) MappingChanged() {
	c.InvalidateMapped()
}

// Clear removes every block.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, b := range c.blocks {
		c.removeLocked(b)
	}
	c.log.V(1).Info("cache cleared")
}

func (c *Cache) removeLocked(b *Block) {
	if b.removed {
		return
	}
	b.removed = true
	b.invalid.Store(true)
	b.links = [2]*Block{}

	if c.blocks[b.Start] == b {
		delete(c.blocks, b.Start)
	}
	c.lru.Remove(b.elem)
	for _, pr := range b.Ranges {
		for page := pr.Lo >> pageShift; page <= (pr.Hi-1)>>pageShift; page++ {
			if set := c.pages[page]; set != nil {
				delete(set, b)
				if len(set) == 0 {
					delete(c.pages, page)
				}
			}
		}
		if c.tracker != nil {
			c.tracker.UntrackCode(pr.Lo, pr.Hi)
		}
	}
	c.bytesInUse -= b.Size()

	if b.pins == 0 {
		c.freeLocked(b)
	}
}

func (c *Cache) freeLocked(b *Block) {
	if err := b.region.free(); err != nil {
		c.log.Error(err, "failed to release host code", "id", b.ID.String())
	}
}

// Stats returns a snapshot of the statistics.
func (c *Cache) Stats() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Blocks = len(c.blocks)
	s.BytesInUse = c.bytesInUse
	return s
}

// Blocks returns a snapshot of the live blocks, most recently used first.
func (c *Cache) Blocks() []BlockInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]BlockInfo, 0, c.lru.Len())
	for e := c.lru.Front(); e != nil; e = e.Next() {
		b := e.Value
		infos = append(infos, BlockInfo{
			ID:         b.ID.String(),
			Start:      b.Start,
			End:        b.End,
			GuestInsts: b.GuestInsts,
			CodeBytes:  b.Size(),
			Mapped:     b.Mapped,
			Generation: b.Generation,
			Hits:       b.hits,
			Pinned:     b.pins > 0,
			Created:    b.Created,
		})
	}
	return infos
}
