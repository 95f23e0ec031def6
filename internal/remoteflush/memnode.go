package remoteflush

// memnode.go implements the memory-node loop of spec.md §4.4: hold packed
// memtable images on behalf of a flush until a worker fetches them or the
// generator releases/cancels, bounding total held bytes.

import (
	"fmt"
	"sync"

	"github.com/ridgelinedb/ridgeline/internal/logging"
)

// heldImage is one memtable's packed image plus metadata, held pending
// fetch.
type heldImage struct {
	ColumnFamilyID uint32
	Image          []byte
	Meta           MemTableMeta
}

// heldJob is every image offered for one (generatorID, jobID) pair.
// reservedBytes is what Offer reserved against maxBytes (the session
// header's announced total); Release must free exactly this amount, not
// the sum of what OfferImage actually received, so usedBytes never drifts
// from the figure Offer checked capacity against.
type heldJob struct {
	images        []heldImage
	reservedBytes int64
}

// MemNode holds packed flush images in memory, bounded by MaxBytes.
type MemNode struct {
	mu        sync.Mutex
	jobs      map[jobKey]*heldJob
	usedBytes int64
	maxBytes  int64
	logger    logging.Logger
}

type jobKey struct {
	generatorID string
	jobID       uint64
}

// NewMemNode returns a MemNode that rejects offers once usedBytes would
// exceed maxBytes. maxBytes <= 0 means unbounded.
func NewMemNode(maxBytes int64, logger logging.Logger) *MemNode {
	return &MemNode{
		jobs:     make(map[jobKey]*heldJob),
		maxBytes: maxBytes,
		logger:   logging.OrDefault(logger),
	}
}

// Offer accepts (generatorID, jobID)'s total announced size, per the
// {generator_id, job_id, total_bytes, memtable_count} session header. It
// must be called once before any OfferImage calls for that job. Returns
// ErrOutOfCapacity if accepting totalBytes would exceed maxBytes.
func (n *MemNode) Offer(generatorID string, jobID uint64, totalBytes int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.maxBytes > 0 && n.usedBytes+totalBytes > n.maxBytes {
		return ErrOutOfCapacity
	}
	key := jobKey{generatorID, jobID}
	if _, exists := n.jobs[key]; exists {
		return fmt.Errorf("%w: duplicate offer for job %d", ErrProtocolViolation, jobID)
	}
	n.jobs[key] = &heldJob{reservedBytes: totalBytes}
	n.usedBytes += totalBytes
	n.logger.Infof(logging.NSMemNode+"accepted offer for job %d (%d bytes, used %d/%d)", jobID, totalBytes, n.usedBytes, n.maxBytes)
	return nil
}

// OfferImage stores one memtable's packed image under a previously
// Offer'd job.
func (n *MemNode) OfferImage(generatorID string, jobID uint64, cfID uint32, image []byte, meta MemTableMeta) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := jobKey{generatorID, jobID}
	job, ok := n.jobs[key]
	if !ok {
		return fmt.Errorf("%w: OfferImage before Offer for job %d", ErrProtocolViolation, jobID)
	}
	job.images = append(job.images, heldImage{ColumnFamilyID: cfID, Image: image, Meta: meta})
	return nil
}

// Fetch returns every image held for (generatorID, jobID), satisfying a
// worker's FETCH_REQUEST. The images remain held until Release; a worker
// may re-fetch after a transport error without losing data.
func (n *MemNode) Fetch(generatorID string, jobID uint64) ([]heldImage, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	job, ok := n.jobs[jobKey{generatorID, jobID}]
	if !ok {
		return nil, fmt.Errorf("%w: fetch unknown job %d", ErrProtocolViolation, jobID)
	}
	out := make([]heldImage, len(job.images))
	copy(out, job.images)
	return out, nil
}

// Release drops a job's held images, freeing its capacity. Idempotent;
// also used for the cancel-before-fetch path (spec.md §4.4: "Cancel before
// fetch releases immediately").
func (n *MemNode) Release(generatorID string, jobID uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := jobKey{generatorID, jobID}
	job, ok := n.jobs[key]
	if !ok {
		return
	}
	n.usedBytes -= job.reservedBytes
	if n.usedBytes < 0 {
		n.usedBytes = 0
	}
	delete(n.jobs, key)
	n.logger.Infof(logging.NSMemNode+"released job %d (used %d/%d)", jobID, n.usedBytes, n.maxBytes)
}

// UsedBytes reports currently held bytes, for diagnostics and tests.
func (n *MemNode) UsedBytes() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.usedBytes
}
