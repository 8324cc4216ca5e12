//go:build unix

package pool

import "golang.org/x/sys/unix"

// mapRegion obtains a page-aligned, anonymous, private, read-write mapping
// of at least size bytes via mmap(2). The returned slice is real mapped
// memory, not GC-managed — its base address is stable for the lifetime of
// the mapping, which is what lets block headers be addressed by raw
// uintptr rather than by (region, offset) pairs.
func mapRegion(size uintptr) ([]byte, func() error, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, nil, err
	}
	unmap := func() error { return unix.Munmap(mem) }
	return mem, unmap, nil
}
