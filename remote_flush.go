package ridgeline

// remote_flush.go adapts columnFamilyData to remoteflush's generator-side
// collaborator interfaces, the same way flush.go adapts dbImpl to flush.DB.
//
// Reference: RocksDB v10.7.5
//   - db/memtable_list.h (PickMemtablesToFlush / RollbackMemtableFlush)
//
// The version-set layer flush.go's doFlush drives (db.versions) is not part
// of this tree, so remoteFlushCommitter below stands in as a minimal,
// self-contained VersionCommitter: a file-number counter plus the
// max_memtable_id ordering gate, rather than a full LogAndApply. See
// DESIGN.md for why. remote_flush_test.go drives both adapters end-to-end
// through real remoteflush.FlushJob instances.

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ridgelinedb/ridgeline/internal/manifest"
	"github.com/ridgelinedb/ridgeline/internal/memtable"
	"github.com/ridgelinedb/ridgeline/internal/remoteflush"
)

// Compile-time checks that the adapters below satisfy remoteflush's
// collaborator interfaces.
var (
	_ remoteflush.MemtableSource   = (*columnFamilyMemtableSource)(nil)
	_ remoteflush.VersionCommitter = (*remoteFlushCommitter)(nil)
)

// makeImmutable atomically swaps in a fresh memtable and appends the old one
// to the immutable list under a freshly assigned id, mirroring
// MemTableList::Add. Memtable rotation policy (size thresholds, write
// stalls) lives wherever the caller decides to switch memtables; this only
// performs the swap-and-record step remoteFlush's PickImmutable depends on.
func (cfd *columnFamilyData) makeImmutable() uint64 {
	cfd.memMu.Lock()
	defer cfd.memMu.Unlock()

	id := cfd.nextMemtableID
	cfd.nextMemtableID++

	var cmp memtable.Comparator
	if cfd.options.Comparator != nil {
		cmp = memtable.Comparator(cfd.options.Comparator.Compare)
	}
	cfd.imm = append(cfd.imm, cfd.mem)
	cfd.immID = append(cfd.immID, id)
	cfd.mem = memtable.NewMemTable(cmp)
	return id
}

// columnFamilyMemtableSource adapts one columnFamilyData to
// remoteflush.MemtableSource. Each remote flush job is bound to exactly one
// column family, so cfID is only used to guard against a job being driven
// against the wrong adapter.
type columnFamilyMemtableSource struct {
	cfd *columnFamilyData
}

func newColumnFamilyMemtableSource(cfd *columnFamilyData) *columnFamilyMemtableSource {
	return &columnFamilyMemtableSource{cfd: cfd}
}

// PickImmutable implements remoteflush.MemtableSource.
func (s *columnFamilyMemtableSource) PickImmutable(cfID uint32, maxMemtableID uint64) ([]*memtable.MemTable, []uint64, error) {
	cfd := s.cfd
	if cfd.id != cfID {
		return nil, nil, fmt.Errorf("remote flush: column family id mismatch: adapter is %d, job asked for %d", cfd.id, cfID)
	}

	cfd.memMu.Lock()
	defer cfd.memMu.Unlock()

	start := cfd.flushPendingFrom
	n := start
	for n < len(cfd.immID) && cfd.immID[n] <= maxMemtableID {
		n++
	}
	if n == start {
		return nil, nil, remoteflush.ErrNoEligibleMemtables
	}

	mts := make([]*memtable.MemTable, n-start)
	ids := make([]uint64, n-start)
	copy(mts, cfd.imm[start:n])
	copy(ids, cfd.immID[start:n])
	cfd.flushPendingFrom = n
	return mts, ids, nil
}

// ReturnImmutable implements remoteflush.MemtableSource: undoes a pick by
// rolling flushPendingFrom back, since picks are always a contiguous prefix
// claimed in order (RollbackMemtableFlush's simplifying assumption here:
// only one flush is ever in flight per column family at a time).
func (s *columnFamilyMemtableSource) ReturnImmutable(cfID uint32, mts []*memtable.MemTable, ids []uint64) {
	cfd := s.cfd
	if cfd.id != cfID || len(ids) == 0 {
		return
	}
	cfd.memMu.Lock()
	defer cfd.memMu.Unlock()
	if cfd.flushPendingFrom >= len(ids) {
		cfd.flushPendingFrom -= len(ids)
	} else {
		cfd.flushPendingFrom = 0
	}
}

// Comparator implements remoteflush.MemtableSource.
func (s *columnFamilyMemtableSource) Comparator(cfID uint32) memtable.Comparator {
	if s.cfd.options.Comparator != nil {
		return memtable.Comparator(s.cfd.options.Comparator.Compare)
	}
	return memtable.BytewiseComparator
}

// ComparatorName implements remoteflush.MemtableSource.
func (s *columnFamilyMemtableSource) ComparatorName(cfID uint32) string {
	if s.cfd.options.Comparator != nil {
		return s.cfd.options.Comparator.Name()
	}
	return "leveldb.BytewiseComparator"
}

// remoteFlushCommitter implements remoteflush.VersionCommitter: it hands out
// monotonically increasing file numbers and enforces max_memtable_id commit
// ordering per column family by blocking a commit until every lower
// max_memtable_id announced on the same column family has resolved.
type remoteFlushCommitter struct {
	fileNumber atomic.Uint64

	mu        sync.Mutex
	cond      *sync.Cond
	pending   map[uint32]map[uint64]bool // cfID -> {max_memtable_id: still pending}
	committed map[uint32][]*manifest.VersionEdit
}

// newRemoteFlushCommitter returns a remoteFlushCommitter seeded with a
// starting file number (callers typically seed this from the last number
// recorded in their manifest, once a real version set exists).
func newRemoteFlushCommitter(startFileNumber uint64) *remoteFlushCommitter {
	c := &remoteFlushCommitter{
		pending:   make(map[uint32]map[uint64]bool),
		committed: make(map[uint32][]*manifest.VersionEdit),
	}
	c.fileNumber.Store(startFileNumber)
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Announce implements remoteflush.VersionCommitter: FlushJob.PickMemTable
// calls this before RunRemote/RunLocal starts, so a concurrently-committing
// job with a lower id is known about even if it hasn't reached
// ApplyVersionEdit yet.
func (c *remoteFlushCommitter) Announce(cfID uint32, maxMemtableID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[cfID] == nil {
		c.pending[cfID] = make(map[uint64]bool)
	}
	c.pending[cfID][maxMemtableID] = true
}

// ApplyVersionEdit implements remoteflush.VersionCommitter.
func (c *remoteFlushCommitter) ApplyVersionEdit(cfID uint32, maxMemtableID uint64, edit *manifest.VersionEdit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		blocked := false
		for other, stillPending := range c.pending[cfID] {
			if stillPending && other < maxMemtableID {
				blocked = true
				break
			}
		}
		if !blocked {
			break
		}
		c.cond.Wait()
	}

	c.committed[cfID] = append(c.committed[cfID], edit)
	if c.pending[cfID] != nil {
		c.pending[cfID][maxMemtableID] = false
	}
	c.cond.Broadcast()
	return nil
}

// NextFileNumber implements remoteflush.VersionCommitter.
func (c *remoteFlushCommitter) NextFileNumber() uint64 {
	return c.fileNumber.Add(1)
}
