package pool

import "unsafe"

// Alloc carves a block able to hold n payload bytes and returns its
// payload address. n == 0 fails with ErrInvalidSize.
func (p *Pool) Alloc(n uintptr) (uintptr, error) {
	if n == 0 {
		return 0, p.record(errInvalidSize(n, "Alloc"))
	}
	p.lock()
	defer p.unlock()
	addr, err := p.allocLocked(n)
	if err == nil {
		err = p.debugAssert("Alloc")
	}
	return addr, p.record(err)
}

func (p *Pool) allocLocked(n uintptr) (uintptr, error) {
	blockSize := alignUp(n+uintptr(headerSize), p.alignment)
	if blockSize < minBlockSize {
		blockSize = minBlockSize
	}
	addr, err := p.allocBlockOfSize(blockSize)
	if err != nil {
		return 0, err
	}
	return payload(addr), nil
}

// AllocAligned reserves enough room to carve an aligned sub-block: a is
// required to be a power of two. It slices up to three blocks out of the
// best-fit candidate — an optional prefix free block, the aligned
// allocation itself, and an optional suffix free block — following the
// carving (not double-allocating) variant the design notes call out.
func (p *Pool) AllocAligned(n, a uintptr) (uintptr, error) {
	if n == 0 {
		return 0, p.record(errInvalidSize(n, "AllocAligned"))
	}
	if !isPowerOfTwo(a) {
		return 0, p.record(errInvalidSize(a, "AllocAligned: alignment must be a power of two"))
	}
	p.lock()
	defer p.unlock()

	// A free prefix or suffix fragment must be large enough to hold its own header.
	minFrag := max(uintptr(minBlockSize), uintptr(headerSize))
	want := alignUp(n+uintptr(headerSize), p.alignment) + a + minFrag
	reserveAddr, err := p.allocBlockOfSize(want)
	if err != nil {
		return 0, p.record(err)
	}

	h := headerAt(reserveAddr)
	owner := p.ownerRegion(reserveAddr)
	blockEnd := reserveAddr + h.size

	alignedPayload := alignUp(payload(reserveAddr), a)
	alignedHeader := alignedPayload - uintptr(headerSize)
	prefixLen := alignedHeader - reserveAddr
	for prefixLen > 0 && prefixLen < minFrag {
		alignedHeader += a
		alignedPayload = payload(alignedHeader)
		prefixLen = alignedHeader - reserveAddr
	}

	allocSize := alignUp(n+uintptr(headerSize), p.alignment)
	if alignedHeader+allocSize > blockEnd {
		allocSize = blockEnd - alignedHeader
	}
	suffixLen := blockEnd - (alignedHeader + allocSize)
	if suffixLen < minFrag {
		allocSize = blockEnd - alignedHeader
		suffixLen = 0
	}

	if prefixLen > 0 {
		ph := initHeader(reserveAddr, prefixLen)
		ph.setFree(true)
		owner.insertFreeList(reserveAddr)
		p.treeInsert(reserveAddr)
	}

	ah := initHeader(alignedHeader, allocSize)
	ah.setFree(false)
	if prefixLen > 0 {
		ah.setPrevFree(true)
		ah.prevSize = prefixLen
	}
	// carveBlock already counted the whole reserved extent as used; give
	// back the prefix/suffix slivers that turned out to be free.
	owner.used -= prefixLen + suffixLen

	if suffixLen > 0 {
		suffixAddr := alignedHeader + allocSize
		if succ := suffixAddr + suffixLen; succ < owner.end() && headerAt(succ).isFree() && !headerAt(succ).isSizeClass() {
			owner.removeFreeList(succ)
			p.treeRemove(succ)
			suffixLen += headerAt(succ).size
		}
		sh := initHeader(suffixAddr, suffixLen)
		sh.setFree(true)
		owner.insertFreeList(suffixAddr)
		p.treeInsert(suffixAddr)
		if succ, ok := owner.nextPhysical(suffixAddr); ok {
			nh := headerAt(succ)
			nh.setPrevFree(true)
			nh.prevSize = suffixLen
		}
	} else if succ, ok := owner.nextPhysical(alignedHeader); ok {
		headerAt(succ).setPrevFree(false)
	}

	if err := p.debugAssert("AllocAligned"); err != nil {
		return 0, p.record(err)
	}
	return payload(alignedHeader), nil
}

// Calloc allocates room for count*size bytes and zeroes the payload.
// Overflow (count > max/size) fails with ErrInvalidSize.
func (p *Pool) Calloc(count, size uintptr) (uintptr, error) {
	if size == 0 || count == 0 {
		return 0, p.record(errInvalidSize(size, "Calloc"))
	}
	const maxUintptr = ^uintptr(0)
	if count > maxUintptr/size {
		return 0, p.record(errOverflow("Calloc"))
	}
	n := count * size
	ptr, err := p.Alloc(n)
	if err != nil {
		return 0, err
	}
	zero := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
	for i := range zero {
		zero[i] = 0
	}
	return ptr, nil
}

// Realloc returns ptr unchanged if its current usable size already fits n;
// otherwise it allocates a new block, copies the old payload, and frees
// the old pointer. ptr == 0 behaves as Alloc(n); n == 0 frees ptr and
// returns 0. No in-place extension by coalescing with the physical
// successor is attempted — see the design notes' Open Question (b).
func (p *Pool) Realloc(ptr, n uintptr) (uintptr, error) {
	if ptr == 0 {
		return p.Alloc(n)
	}
	if n == 0 {
		return 0, p.Free(ptr)
	}

	p.lock()
	addr := headerFromPayload(ptr)
	h := headerAt(addr)
	if !h.validate() {
		p.unlock()
		return 0, p.record(errCorruption("Realloc: header failed validation"))
	}
	oldUsable := h.size - uintptr(headerSize)
	blockSize := alignUp(n+uintptr(headerSize), p.alignment)
	if blockSize < minBlockSize {
		blockSize = minBlockSize
	}
	if h.size >= blockSize {
		p.unlock()
		return ptr, p.record(nil)
	}
	p.unlock()

	newPtr, err := p.Alloc(n)
	if err != nil {
		return 0, err
	}
	copyLen := oldUsable
	if n < copyLen {
		copyLen = n
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), copyLen)
	dst := unsafe.Slice((*byte)(unsafe.Pointer(newPtr)), copyLen)
	copy(dst, src)
	if err := p.Free(ptr); err != nil {
		return 0, err
	}
	return newPtr, nil
}

// Free releases ptr: size-class blocks dispatch to the class LIFO;
// everything else coalesces with free physical neighbors and re-enters
// the owning region's free list and the master tree.
func (p *Pool) Free(ptr uintptr) error {
	if ptr == 0 {
		return p.record(errNullPointer("Free"))
	}
	p.lock()
	defer p.unlock()

	addr := headerFromPayload(ptr)
	owner := p.ownerRegion(addr)
	if owner == nil {
		return p.record(errInvalidPointer("Free: pointer not owned by any region"))
	}
	h := headerAt(addr)
	if !h.validate() {
		return p.record(errCorruption("Free: header failed validation"))
	}
	if h.isSizeClass() {
		err := p.freeFixed(addr)
		if err == nil {
			err = p.debugAssert("Free")
		}
		return p.record(err)
	}
	if h.isFree() {
		return p.record(errDoubleFree())
	}
	err := p.freeGeneral(addr)
	if err == nil {
		err = p.debugAssert("Free")
	}
	return p.record(err)
}

// freeGeneral computes the final coalesced extent before touching the
// free list or tree — the tree is keyed on size, so inserting first and
// mutating size afterward would corrupt its ordering (design notes).
func (p *Pool) freeGeneral(addr uintptr) error {
	owner := p.ownerRegion(addr)
	h := headerAt(addr)
	owner.used -= h.size

	base := addr
	size := h.size

	if h.isPrevFree() {
		predAddr := base - h.prevSize
		if owner.contains(predAddr) {
			ph := headerAt(predAddr)
			if ph.validate() && ph.isFree() && predAddr+ph.size == base {
				owner.removeFreeList(predAddr)
				p.treeRemove(predAddr)
				base = predAddr
				size += ph.size
			}
		}
	}

	for {
		succAddr := base + size
		if succAddr >= owner.end() {
			break
		}
		sh := headerAt(succAddr)
		if !sh.validate() || !sh.isFree() || sh.isSizeClass() {
			break
		}
		owner.removeFreeList(succAddr)
		p.treeRemove(succAddr)
		size += sh.size
	}

	fh := initHeader(base, size)
	fh.setFree(true)
	owner.insertFreeList(base)
	p.treeInsert(base)

	if succ, ok := owner.nextPhysical(base); ok {
		sh := headerAt(succ)
		sh.setPrevFree(true)
		sh.prevSize = size
	}
	return nil
}

// Reset collapses every region in the chain back to a single whole-region
// free block and empties every size class.
func (p *Pool) Reset() error {
	p.lock()
	defer p.unlock()

	p.treeRoot = 0
	for _, sc := range p.sizeClasses {
		sc.freeHead = 0
		sc.used = 0
	}
	for r := p.master; r != nil; r = r.next {
		r.used = 0
		h := initHeader(r.base, r.size)
		h.setFree(true)
		r.freeHead = r.base
		p.treeInsert(r.base)
	}
	return p.record(p.debugAssert("Reset"))
}

// Contains reports whether ptr lies inside any region in the chain.
func (p *Pool) Contains(ptr uintptr) bool {
	p.lock()
	defer p.unlock()
	return p.ownerRegion(ptr) != nil
}

// BlockSize reports the header-declared size of ptr's block, or 0 if ptr
// is not owned by this pool or its header fails validation.
func (p *Pool) BlockSize(ptr uintptr) uintptr {
	p.lock()
	defer p.unlock()
	if p.ownerRegion(ptr) == nil {
		return 0
	}
	addr := headerFromPayload(ptr)
	h := headerAt(addr)
	if !h.validate() {
		return 0
	}
	return h.size
}

// Validate walks every region's free list checking header validity, the
// no-adjacent-free invariant, and used+free == pool_size.
func (p *Pool) Validate() bool {
	p.lock()
	defer p.unlock()
	return p.validateLocked()
}

func (p *Pool) validateLocked() bool {
	for r := p.master; r != nil; r = r.next {
		for cur := r.freeHead; cur != 0; cur = headerAt(cur).nextFree {
			if !headerAt(cur).validate() {
				return false
			}
		}
		if r.hasAdjacentFree() {
			return false
		}
		if r.used+r.freeBytes() != r.size {
			return false
		}
	}
	return true
}

// Warmup read-touches one byte per page across every region, pre-faulting
// physical pages.
func (p *Pool) Warmup() {
	p.lock()
	defer p.unlock()
	for r := p.master; r != nil; r = r.next {
		for off := uintptr(0); off < r.size; off += pageSize {
			_ = r.mem[off]
		}
	}
}

// Defragment re-walks every region's free list and coalesces any
// physically adjacent free blocks still present. Since Free already
// coalesces immediately, this is a no-op unless an earlier code path
// inserted before coalescing.
func (p *Pool) Defragment() {
	p.lock()
	defer p.unlock()
	p.defragmentLocked()
}

func (p *Pool) defragmentLocked() {
	for r := p.master; r != nil; r = r.next {
		for {
			merged := false
			for cur := r.freeHead; cur != 0; cur = headerAt(cur).nextFree {
				ch := headerAt(cur)
				succ, ok := r.nextPhysical(cur)
				if !ok {
					continue
				}
				sh := headerAt(succ)
				if sh.validate() && sh.isFree() && !sh.isSizeClass() {
					r.removeFreeList(succ)
					p.treeRemove(succ)
					ch.size += sh.size
					if next, ok2 := r.nextPhysical(cur); ok2 {
						nh := headerAt(next)
						nh.setPrevFree(true)
						nh.prevSize = ch.size
					}
					merged = true
					break
				}
			}
			if !merged {
				break
			}
		}
	}
}

// Stats reports coarse usage across the whole chain.
func (p *Pool) Stats() AllocatorStats {
	p.lock()
	defer p.unlock()
	var s AllocatorStats
	for r := p.master; r != nil; r = r.next {
		s.Regions++
		s.TotalSize += r.size
		s.UsedSize += r.used
		s.FreeSize += r.freeBytes()
	}
	s.SizeClasses = len(p.sizeClasses)
	for _, sc := range p.sizeClasses {
		s.ActiveFixed += sc.used
	}
	return s
}

// Close unmaps every region in the chain. The pool must not be used after
// Close returns.
func (p *Pool) Close() error {
	p.lock()
	defer p.unlock()
	var firstErr error
	for r := p.master; r != nil; r = r.next {
		if err := r.unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
