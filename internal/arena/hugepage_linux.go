//go:build linux

// Huge-page backed block allocation, mirroring Arena::AllocateFromHugePage.
//
// Reference: RocksDB v10.7.5 memory/arena.cc (AllocateFromHugePage),
// Documentation/vm/hugetlbpage.txt.
package arena

import "syscall"

func init() {
	tryHugePageBlockImpl = allocateFromHugePage
}

// allocateFromHugePage reserves a huge-page backed anonymous mapping and
// installs it as the arena's next active block. Failure is non-fatal: the
// arena falls back to a normal block on the next regular allocation, and the
// failure is logged if a logger was configured.
func allocateFromHugePage(a *Arena, hugePageSize int) {
	if hugePageSize <= 0 {
		return
	}
	size := roundUp(a.blockSize, hugePageSize)
	data, err := syscall.Mmap(-1, 0, size,
		syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_PRIVATE|syscall.MAP_ANONYMOUS|mapHugeTLB)
	if err != nil {
		a.logger.Warnf("arena: huge page allocation of %d bytes failed: %v", size, err)
		return
	}
	blk := &block{data: data, hugePage: true}
	a.blocks = append(a.blocks, blk)
	a.blocksMemory += size
	a.activeBlock = len(a.blocks) - 1
	a.alignedPos = 0
	a.unalignedEnd = size
	a.allocBytesRemain = size
}

// mapHugeTLB is syscall.MAP_HUGETLB, named locally since some Go versions
// gate the constant behind GOOS-specific build files of their own.
const mapHugeTLB = 0x40000

// releaseHugePageBlock unmaps a huge-page backed block's memory.
func releaseHugePageBlock(b *block) error {
	return syscall.Munmap(b.data)
}

func roundUp(n, multiple int) int {
	if multiple <= 0 {
		return n
	}
	if rem := n % multiple; rem != 0 {
		n += multiple - rem
	}
	return n
}
