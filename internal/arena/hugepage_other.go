//go:build !linux

// Huge-page allocation is a Linux-only facility (mmap MAP_HUGETLB); other
// platforms fall back to regular blocks, matching the original's behavior
// when hugetlbfs support is unavailable.
package arena

func init() {
	tryHugePageBlockImpl = func(a *Arena, hugePageSize int) {}
}

func releaseHugePageBlock(b *block) error { return nil }
