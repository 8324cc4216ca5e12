package pool

import "unsafe"

// region owns one page-aligned, mmap'd byte range. The first region in a
// chain is the master, and every region records it in master. The
// red-black size index and the size classes are held on Pool (see
// rbtree.go, sizeclass.go) and cover every region in the chain.
type region struct {
	mem       []byte
	base      uintptr
	size      uintptr
	used      uintptr
	freeHead  uintptr // address of the first block in this region's address-ordered free list, 0 if none
	alignment uintptr
	next      *region
	master    *region
	unmap     func() error
}

// newRegion maps a page-rounded byte range of at least size and carves a
// single free block spanning it.
func newRegion(size, alignment uintptr, master *region) (*region, error) {
	size = alignUp(size, pageSize)
	mem, unmap, err := mapRegion(size)
	if err != nil {
		return nil, errOutOfMemory("newRegion")
	}
	base := uintptr(unsafe.Pointer(&mem[0]))

	r := &region{
		mem:       mem,
		base:      base,
		size:      size,
		alignment: alignment,
		unmap:     unmap,
	}
	if master == nil {
		r.master = r
	} else {
		r.master = master
	}

	h := initHeader(base, size)
	h.setFree(true)
	r.freeHead = base
	return r, nil
}

func (r *region) end() uintptr { return r.base + r.size }

func (r *region) contains(addr uintptr) bool {
	return addr >= r.base && addr < r.end()
}

// nextPhysical returns the block immediately following addr, or ok=false if
// addr's block abuts the region end.
func (r *region) nextPhysical(addr uintptr) (uintptr, bool) {
	next := addr + headerAt(addr).size
	if next >= r.end() {
		return 0, false
	}
	return next, true
}

// insertFreeList inserts addr into this region's address-ordered free list.
func (r *region) insertFreeList(addr uintptr) {
	h := headerAt(addr)
	if r.freeHead == 0 || addr < r.freeHead {
		h.nextFree = r.freeHead
		r.freeHead = addr
		return
	}
	cur := r.freeHead
	for {
		ch := headerAt(cur)
		if ch.nextFree == 0 || addr < ch.nextFree {
			h.nextFree = ch.nextFree
			ch.nextFree = addr
			return
		}
		cur = ch.nextFree
	}
}

// removeFreeList removes addr from this region's address-ordered free
// list. A miss is a silent no-op, per the release-build "silently
// degrade" policy for invariant-breaking callers.
func (r *region) removeFreeList(addr uintptr) {
	if r.freeHead == addr {
		r.freeHead = headerAt(addr).nextFree
		headerAt(addr).nextFree = 0
		return
	}
	cur := r.freeHead
	for cur != 0 {
		ch := headerAt(cur)
		if ch.nextFree == addr {
			ch.nextFree = headerAt(addr).nextFree
			headerAt(addr).nextFree = 0
			return
		}
		cur = ch.nextFree
	}
}

// freeBytes sums the sizes of every block on this region's free list —
// used by validate() to check used+free == pool_size.
func (r *region) freeBytes() uintptr {
	var total uintptr
	for cur := r.freeHead; cur != 0; cur = headerAt(cur).nextFree {
		total += headerAt(cur).size
	}
	return total
}

// hasAdjacentFree walks the free list in address order and reports whether
// two physically adjacent free blocks exist (the coalescing invariant
// violated).
func (r *region) hasAdjacentFree() bool {
	var prev uintptr
	// insertFreeList keeps the list sorted by address, so comparing each
	// block with its list predecessor finds every physically adjacent pair.
	for cur := r.freeHead; cur != 0; cur = headerAt(cur).nextFree {
		if prev != 0 {
			ph := headerAt(prev)
			if prev+ph.size == cur {
				return true
			}
		}
		prev = cur
	}
	return false
}
