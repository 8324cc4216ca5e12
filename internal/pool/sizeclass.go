package pool

// sizeClass is a bucket of pre-reserved, equal-sized blocks managed by a
// private LIFO outside the general free list and red-black tree —
// coalescing them would corrupt the reserved batch, so they are never
// entered into either.
type sizeClass struct {
	userSize  uintptr
	blockSize uintptr // align_up(userSize + headerSize, alignment)
	freeHead  uintptr // LIFO head, threaded through header.nextSC
	reserved  int
	used      int
}

// AddSizeClass reserves count blocks of internal size
// align_up(userSize+header, alignment), marks each SIZECLASS, and pushes
// them onto a new class's private LIFO.
func (p *Pool) AddSizeClass(userSize uintptr, count int) error {
	if userSize == 0 || count <= 0 {
		return errInvalidSize(userSize, "AddSizeClass")
	}
	if p.mu != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
	}
	if len(p.sizeClasses) >= maxSizeClass {
		return errInvalidSize(userSize, "AddSizeClass: too many classes")
	}

	sc := &sizeClass{
		userSize:  userSize,
		blockSize: alignUpBlock(userSize, p.alignment),
	}
	for i := 0; i < count; i++ {
		addr, err := p.allocBlockOfSize(sc.blockSize)
		if err != nil {
			return err
		}
		h := headerAt(addr)
		h.setSizeClass(true)
		h.setFree(true)
		h.nextSC = sc.freeHead
		sc.freeHead = addr
		sc.reserved++
	}
	p.sizeClasses = append(p.sizeClasses, sc)
	return p.debugAssert("AddSizeClass")
}

// classFor returns the smallest registered class whose user size is >= n.
func (p *Pool) classFor(n uintptr) *sizeClass {
	var best *sizeClass
	for _, sc := range p.sizeClasses {
		if sc.userSize >= n && (best == nil || sc.userSize < best.userSize) {
			best = sc
		}
	}
	return best
}

// classByBlockSize returns the class whose internal block size matches,
// used by free to decide whether a freed block belongs to a class.
func (p *Pool) classByBlockSize(blockSize uintptr) *sizeClass {
	for _, sc := range p.sizeClasses {
		if sc.blockSize == blockSize {
			return sc
		}
	}
	return nil
}

// AllocFixed picks the smallest class whose user size covers n. If the
// class LIFO is non-empty it pops from there; otherwise it falls back to a
// normal allocation at the class's block size (tagged SIZECLASS so a later
// Free dispatches it back to FreeFixed, never into general coalescing). If
// no class fits, it falls back to a plain Alloc(n).
func (p *Pool) AllocFixed(n uintptr) (uintptr, error) {
	if n == 0 {
		return 0, errInvalidSize(n, "AllocFixed")
	}
	if p.mu != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
	}

	sc := p.classFor(n)
	if sc == nil {
		addr, err := p.allocLocked(n)
		if err == nil {
			err = p.debugAssert("AllocFixed")
		}
		return addr, err
	}
	if sc.freeHead != 0 {
		addr := sc.freeHead
		h := headerAt(addr)
		sc.freeHead = h.nextSC
		h.nextSC = 0
		h.setFree(false)
		sc.used++
		if err := p.debugAssert("AllocFixed"); err != nil {
			return 0, err
		}
		return payload(addr), nil
	}
	addr, err := p.allocBlockOfSize(sc.blockSize)
	if err != nil {
		return 0, err
	}
	headerAt(addr).setSizeClass(true)
	sc.used++
	if err := p.debugAssert("AllocFixed"); err != nil {
		return 0, err
	}
	return payload(addr), nil
}

// freeFixed pushes addr back onto its class's LIFO, or — if its header
// size does not match any registered class (the fallback-allocated case
// degenerating, or stale tagging) — clears SIZECLASS and delegates to the
// general free path.
func (p *Pool) freeFixed(addr uintptr) error {
	h := headerAt(addr)
	sc := p.classByBlockSize(h.size)
	if sc == nil {
		h.setSizeClass(false)
		return p.freeGeneral(addr)
	}
	h.setSizeClass(true)
	h.setFree(true)
	h.nextSC = sc.freeHead
	sc.freeHead = addr
	sc.used--
	return nil
}

// FreeFixed is the public entry point mirroring free_fixed(ptr).
func (p *Pool) FreeFixed(ptr uintptr) error {
	if ptr == 0 {
		return errNullPointer("FreeFixed")
	}
	if p.mu != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
	}
	addr := headerFromPayload(ptr)
	h := headerAt(addr)
	if !h.validate() {
		return errCorruption("FreeFixed: header failed validation")
	}
	if err := p.freeFixed(addr); err != nil {
		return err
	}
	return p.debugAssert("FreeFixed")
}

func alignUpBlock(userSize, alignment uintptr) uintptr {
	sz := alignUp(userSize+uintptr(headerSize), alignment)
	if sz < minBlockSize {
		sz = minBlockSize
	}
	return sz
}
