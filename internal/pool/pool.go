// Package pool implements a region-chained, best-fit memory allocator:
// fixed-header blocks carved from one or more mmap'd regions, a red-black
// size index for O(log n) best-fit, boundary-tag coalescing, and an
// optional size-class fast path for fixed-size hot allocations.
package pool

import "sync"

// Constants mirror the original allocator's configuration surface
// (DEFAULT_ALIGNMENT, MIN_BLOCK_SIZE, MAX_SIZE_CLASSES, PAGE_SIZE,
// MAGIC_NUMBER) so callers porting config values need no translation.
const (
	DefaultAlignment = defaultAlign
	MinBlockSize     = minBlockSize
	MaxSizeClasses   = maxSizeClass
	PageSize         = pageSize
	MagicNumber      = magicNumber
)

// SizeClassSpec pre-registers a size class at construction time.
type SizeClassSpec struct {
	UserSize uintptr
	Count    int
}

// Config controls a Pool's construction, following the same
// Config-struct-plus-functional-Option shape used elsewhere for allocator
// configuration in this codebase.
type Config struct {
	PoolSize    uintptr
	ThreadSafe  bool
	Alignment   uintptr
	SizeClasses []SizeClassSpec
	Debug       bool
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithThreadSafe toggles the pool's internal mutex. Default true.
func WithThreadSafe(v bool) Option { return func(c *Config) { c.ThreadSafe = v } }

// WithAlignment sets the block alignment (must be a power of two).
func WithAlignment(a uintptr) Option { return func(c *Config) { c.Alignment = a } }

// WithSizeClasses pre-registers one or more size classes at construction.
func WithSizeClasses(specs ...SizeClassSpec) Option {
	return func(c *Config) { c.SizeClasses = append(c.SizeClasses, specs...) }
}

// WithDebug enables debug assertions: internal invariant checks that
// return ErrCorruption instead of silently degrading.
func WithDebug(v bool) Option { return func(c *Config) { c.Debug = v } }

func defaultConfig() Config {
	return Config{ThreadSafe: true, Alignment: defaultAlign}
}

// AllocatorStats reports coarse usage across the whole chain.
type AllocatorStats struct {
	Regions     int
	TotalSize   uintptr
	UsedSize    uintptr
	FreeSize    uintptr
	SizeClasses int
	ActiveFixed int
}

// Pool is the allocator: a chain of regions headed by a master region that
// alone owns the red-black size index and the size-class definitions.
type Pool struct {
	mu          *sync.Mutex // nil when Config.ThreadSafe is false
	master      *region
	treeRoot    uintptr
	alignment   uintptr
	regionSize  uintptr
	debug       bool
	sizeClasses []*sizeClass
	lastErr     error
}

// New creates a pool with an initial region of at least poolSize bytes,
// rounded up to a page. poolSize == 0 defaults to one page.
func New(poolSize uintptr, opts ...Option) (*Pool, error) {
	cfg := defaultConfig()
	cfg.PoolSize = poolSize
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = pageSize
	}
	if cfg.Alignment == 0 {
		cfg.Alignment = defaultAlign
	}
	if !isPowerOfTwo(cfg.Alignment) {
		return nil, errInvalidSize(cfg.Alignment, "New: alignment must be a power of two")
	}

	master, err := newRegion(cfg.PoolSize, cfg.Alignment, nil)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		master:     master,
		alignment:  cfg.Alignment,
		regionSize: master.size,
		debug:      cfg.Debug,
	}
	if cfg.ThreadSafe {
		p.mu = &sync.Mutex{}
	}
	p.treeInsert(master.freeHead)

	for _, spec := range cfg.SizeClasses {
		if err := p.AddSizeClass(spec.UserSize, spec.Count); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pool) lock() {
	if p.mu != nil {
		p.mu.Lock()
	}
}

func (p *Pool) unlock() {
	if p.mu != nil {
		p.mu.Unlock()
	}
}

// record stores err (possibly nil) as the last call's outcome and returns
// it, so the methods that report through LastError can simply
// `return p.record(...)`.
func (p *Pool) record(err error) error {
	p.lastErr = err
	return err
}

// debugAssert re-validates every region's free-list invariants when
// Config.Debug is set, converting a broken invariant straight into
// ErrCorruption instead of letting a mutating operation return success
// over corrupted state. Mirrors the original's MEMPOOL_DEBUG-gated
// MP_ASSERT: a no-op when Debug is false (the release-build path).
func (p *Pool) debugAssert(op string) error {
	if !p.debug {
		return nil
	}
	if !p.validateLocked() {
		return errCorruption(op + ": invariant check failed under debug mode")
	}
	return nil
}

// LastError mirrors the thread-local last_error() getter from the source
// design as a result carried under the pool's own lock, for callers that
// want the polling style instead of checking each call's return value. It
// holds the outcome of the most recent Alloc, AllocAligned, Calloc,
// Realloc, Free or Reset call; AddSizeClass, AllocFixed, FreeFixed and the
// query methods do not update it.
func (p *Pool) LastError() error {
	p.lock()
	defer p.unlock()
	return p.lastErr
}

// ownerRegion finds the region in the chain whose address range contains
// addr, or nil if none does.
func (p *Pool) ownerRegion(addr uintptr) *region {
	for r := p.master; r != nil; r = r.next {
		if r.contains(addr) {
			return r
		}
	}
	return nil
}

// appendRegion links r onto the tail of the chain.
func (p *Pool) appendRegion(r *region) {
	cur := p.master
	for cur.next != nil {
		cur = cur.next
	}
	cur.next = r
}

// allocBlockOfSize is the shared allocation engine behind Alloc, the
// size-class reservation path, and AllocAligned's oversized reservation:
// best-fit across the chain, defragment-and-retry, extend-and-retry.
func (p *Pool) allocBlockOfSize(blockSize uintptr) (uintptr, error) {
	if blockSize < minBlockSize {
		blockSize = minBlockSize
	}

	addr := p.treeBestFit(blockSize)
	if addr == 0 {
		p.defragmentLocked()
		addr = p.treeBestFit(blockSize)
	}
	if addr == 0 {
		newSize := p.regionSize
		if blockSize > newSize {
			newSize = blockSize
		}
		r, err := newRegion(newSize, p.alignment, p.master)
		if err != nil {
			return 0, errOutOfMemory("allocBlockOfSize")
		}
		p.appendRegion(r)
		p.treeInsert(r.freeHead)
		addr = p.treeBestFit(blockSize)
		if addr == 0 {
			return 0, errOutOfMemory("allocBlockOfSize")
		}
	}
	return p.carveBlock(addr, blockSize), nil
}

// carveBlock detaches the candidate from its free list and the tree, then
// either splits it (remainder >= MinBlockSize) or absorbs the remainder,
// updating boundary-tag bits on the affected neighbors, and clears FREE.
func (p *Pool) carveBlock(addr, blockSize uintptr) uintptr {
	h := headerAt(addr)
	owner := p.ownerRegion(addr)
	owner.removeFreeList(addr)
	p.treeRemove(addr)

	remainder := h.size - blockSize
	if remainder >= minBlockSize {
		h.size = blockSize
		newAddr := addr + blockSize
		nh := initHeader(newAddr, remainder)
		nh.setFree(true)
		owner.insertFreeList(newAddr)
		p.treeInsert(newAddr)
		if succ, ok := owner.nextPhysical(newAddr); ok {
			sh := headerAt(succ)
			sh.setPrevFree(true)
			sh.prevSize = remainder
		}
	} else if succ, ok := owner.nextPhysical(addr); ok {
		headerAt(succ).setPrevFree(false)
	}
	h.setFree(false)
	owner.used += h.size
	return addr
}
