package remoteflush

// job.go implements the generator-side flush job state machine: spec.md
// §4.1's PickMemTable -> MatchMemNode -> MatchRemoteWorker -> Run ->
// Commit/Cancel sequence. It plays the same role internal/flush.Job plays
// for the local-only path, adapted to a multi-party protocol: the
// generator drives the state machine, but the actual build happens on a
// remote worker reached over internal/transport.

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ridgelinedb/ridgeline/internal/dbformat"
	"github.com/ridgelinedb/ridgeline/internal/iterator"
	"github.com/ridgelinedb/ridgeline/internal/logging"
	"github.com/ridgelinedb/ridgeline/internal/manifest"
	"github.com/ridgelinedb/ridgeline/internal/memtable"
	"github.com/ridgelinedb/ridgeline/internal/table"
	"github.com/ridgelinedb/ridgeline/internal/testutil"
	"github.com/ridgelinedb/ridgeline/internal/transport"
)

// State is a FlushJob's position in the state machine.
type State int

const (
	StateIdle State = iota
	StatePicked
	StateMemMatched
	StateWorkerMatched
	StateRunning
	StateCommitted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePicked:
		return "Picked"
	case StateMemMatched:
		return "MemMatched"
	case StateWorkerMatched:
		return "WorkerMatched"
	case StateRunning:
		return "Running"
	case StateCommitted:
		return "Committed"
	case StateCancelled:
		return "Cancelled"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// OutputFile names one SST produced for this job, matching
// transport.OutputFile plus the manifest-facing metadata needed to apply a
// version edit.
type OutputFile struct {
	FileName   string
	FileSize   uint64
	Meta       *manifest.FileMetaData
	Properties []byte
}

// MemtableSource is the generator collaborator that owns a column family's
// immutable memtable list, mirroring the narrow-interface-per-concern
// pattern flush.DB uses for the local path.
type MemtableSource interface {
	// PickImmutable returns the longest prefix of the column family's
	// immutable memtable list whose ids are <= maxMemtableID, marking them
	// flush-in-progress under the generator's lock. ids[i] corresponds to
	// mts[i]. Returns ErrNoEligibleMemtables if the prefix is empty.
	PickImmutable(cfID uint32, maxMemtableID uint64) (mts []*memtable.MemTable, ids []uint64, err error)

	// ReturnImmutable undoes PickImmutable: puts mts back at the front of
	// the immutable list in original order and clears flush-in-progress.
	ReturnImmutable(cfID uint32, mts []*memtable.MemTable, ids []uint64)

	// Comparator returns the column family's key comparator.
	Comparator(cfID uint32) memtable.Comparator

	// ComparatorName returns the comparator's registered name, sent to the
	// worker so it can validate compatibility before building.
	ComparatorName(cfID uint32) string
}

// VersionCommitter applies a completed flush's version edit, enforcing the
// max_memtable_id commit ordering invariant from spec.md §5.
type VersionCommitter interface {
	// Announce registers maxMemtableID as in-flight for cfID before the
	// job starts its (possibly slow) remote or local build, so a
	// concurrently running job with a lower maxMemtableID is visible to
	// ApplyVersionEdit's ordering gate even if this job finishes first.
	Announce(cfID uint32, maxMemtableID uint64)

	// ApplyVersionEdit blocks until every other in-flight job on cfID with
	// a lower maxMemtableID has committed or cancelled, then publishes
	// edit. Mirrors VersionSet.LogAndApply plus the ordering gate.
	ApplyVersionEdit(cfID uint32, maxMemtableID uint64, edit *manifest.VersionEdit) error

	// NextFileNumber allocates a file number for an output SST.
	NextFileNumber() uint64
}

// FlushJob is the central generator-side record for one remote flush.
type FlushJob struct {
	mu sync.Mutex

	JobID          uint64
	ColumnFamilyID uint32
	MaxMemtableID  uint64

	state State

	mem       MemtableSource
	committer VersionCommitter
	cfg       Config
	logger    logging.Logger

	pickedMemtables []*memtable.MemTable
	pickedIDs       []uint64

	edit *manifest.VersionEdit

	// Outputs holds up to four output slots per spec.md §3; only slot 0 is
	// populated by this implementation (see SPEC_FULL.md's Open Question
	// decision).
	Outputs [4]*OutputFile

	ExistingSnapshots       []uint64
	EarliestWriteConflictSN uint64
	FlushReason             string
	SyncOutputDirectory     bool
	WriteManifest           bool

	memNodeEndpoint string
	workerEndpoint  string
	registry        *Registry

	shuttingDown *atomic.Bool
}

// NewFlushJob constructs a FlushJob in the Idle state.
func NewFlushJob(jobID uint64, cfID uint32, maxMemtableID uint64, mem MemtableSource, committer VersionCommitter, registry *Registry, cfg Config, logger logging.Logger) *FlushJob {
	return &FlushJob{
		JobID:          jobID,
		ColumnFamilyID: cfID,
		MaxMemtableID:  maxMemtableID,
		state:          StateIdle,
		mem:            mem,
		committer:      committer,
		registry:       registry,
		cfg:            cfg,
		logger:         logging.OrDefault(logger),
		WriteManifest:  true,
		shuttingDown:   &atomic.Bool{},
	}
}

// SetShuttingDown installs the atomic flag the job polls between steps, per
// spec.md §5's cancellation semantics. Sharing one *atomic.Bool across
// every job on a generator lets the embedding application flip it once at
// shutdown.
func (j *FlushJob) SetShuttingDown(flag *atomic.Bool) {
	j.shuttingDown = flag
}

// State returns the job's current state.
func (j *FlushJob) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *FlushJob) pollShuttingDown() bool {
	return j.shuttingDown != nil && j.shuttingDown.Load()
}

// PickMemTable selects the longest eligible prefix of the column family's
// immutable memtable list and transitions Idle -> Picked.
func (j *FlushJob) PickMemTable() Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != StateIdle {
		return NewStatus(fmt.Errorf("%w: PickMemTable from %s", ErrWrongState, j.state))
	}

	_ = testutil.SP(testutil.SPRemoteFlushPick)

	if j.pollShuttingDown() {
		j.state = StateCancelled
		return NewStatus(ErrShuttingDown)
	}

	mts, ids, err := j.mem.PickImmutable(j.ColumnFamilyID, j.MaxMemtableID)
	if err != nil {
		j.state = StateCancelled
		return NewStatus(err)
	}

	j.pickedMemtables = mts
	j.pickedIDs = ids
	j.edit = manifest.NewVersionEdit()
	j.state = StatePicked
	j.committer.Announce(j.ColumnFamilyID, j.MaxMemtableID)
	j.logger.Infof(logging.NSRemoteFlush+"job %d: picked %d memtable(s) up to id %d", j.JobID, len(mts), j.MaxMemtableID)
	return StatusOK
}

// MatchMemNode probes candidates in order until one accepts the job's
// total picked size, transitioning Picked -> MemMatched.
func (j *FlushJob) MatchMemNode(candidates []string, probe func(endpoint string, totalBytes int64) (ok bool, err error), totalBytes int64) Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != StatePicked {
		return NewStatus(fmt.Errorf("%w: MatchMemNode from %s", ErrWrongState, j.state))
	}
	_ = testutil.SP(testutil.SPRemoteFlushMatchMem)

	if j.pollShuttingDown() {
		return NewStatus(ErrShuttingDown)
	}

	for _, endpoint := range candidates {
		ok, err := probe(endpoint, totalBytes)
		if err != nil {
			if !retryable(err) {
				continue
			}
		}
		if ok {
			j.memNodeEndpoint = endpoint
			j.state = StateMemMatched
			j.logger.Infof(logging.NSRemoteFlush+"job %d: matched memory node %s", j.JobID, endpoint)
			return StatusOK
		}
	}
	return NewStatus(ErrNoMemNode)
}

// MatchRemoteWorker acquires a free worker from the registry, transitioning
// MemMatched -> WorkerMatched.
func (j *FlushJob) MatchRemoteWorker(probeBudget int, retryDelay time.Duration) Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != StateMemMatched {
		return NewStatus(fmt.Errorf("%w: MatchRemoteWorker from %s", ErrWrongState, j.state))
	}
	_ = testutil.SP(testutil.SPRemoteFlushMatchWorker)

	for attempt := 0; attempt < probeBudget; attempt++ {
		if j.pollShuttingDown() {
			return NewStatus(ErrShuttingDown)
		}
		if endpoint, ok := j.registry.AcquireWorker(); ok {
			j.workerEndpoint = endpoint
			j.state = StateWorkerMatched
			j.logger.Infof(logging.NSRemoteFlush+"job %d: matched worker %s", j.JobID, endpoint)
			return StatusOK
		}
		if attempt+1 < probeBudget {
			time.Sleep(retryDelay)
		}
	}
	return NewStatus(ErrNoWorker)
}

// RemoteDriver is the collaborator RunRemote uses to speak the wire
// protocol to the memory node and worker; production code backs this with
// internal/transport channels, tests back it with fakes.
type RemoteDriver interface {
	// SendMemtableImage delivers a packed memtable image to the memory
	// node for (generatorID, jobID).
	SendMemtableImage(memNodeEndpoint string, generatorID string, jobID uint64, cfID uint32, image []byte, meta MemTableMeta) error

	// Dispatch sends RUN_REQUEST to the worker and blocks for RUN_RESULT,
	// streaming RUN_PROGRESS to progressCB as it arrives.
	Dispatch(workerEndpoint string, req transport.RunRequest, progressCB func(transport.RunProgress)) (transport.RunResult, error)

	// Release sends RELEASE to the memory node for (generatorID, jobID).
	Release(memNodeEndpoint string, generatorID string, jobID uint64) error
}

// RunRemote executes §4.5's protocol: pack picked memtables to the memory
// node, dispatch the worker, and on success populate Outputs[0] and the
// job's version edit. Transitions WorkerMatched -> Running -> Committed
// (via commit) or Failed.
func (j *FlushJob) RunRemote(generatorID string, driver RemoteDriver, progressCB func(transport.RunProgress)) Status {
	j.mu.Lock()
	if j.state != StateWorkerMatched {
		st := NewStatus(fmt.Errorf("%w: RunRemote from %s", ErrWrongState, j.state))
		j.mu.Unlock()
		return st
	}
	j.state = StateRunning
	mts := j.pickedMemtables
	cfID := j.ColumnFamilyID
	memNode := j.memNodeEndpoint
	worker := j.workerEndpoint
	j.mu.Unlock()

	_ = testutil.SP(testutil.SPRemoteFlushPack)

	for i, mt := range mts {
		image, meta, err := PackMemTableImage(mt, cfID, 4096, j.logger)
		if err != nil {
			return j.fail(fmt.Errorf("%w: pack memtable %d: %v", ErrProtocolViolation, i, err))
		}
		if err := driver.SendMemtableImage(memNode, generatorID, j.JobID, cfID, image, meta); err != nil {
			return j.fail(err)
		}
	}

	_ = testutil.SP(testutil.SPRemoteFlushRunRequest)

	fileNumber := j.committer.NextFileNumber()
	req := transport.RunRequest{
		GeneratorID:      generatorID,
		JobID:            j.JobID,
		MemNodeAddr:      memNode,
		DoubleCheck:      j.cfg.DoubleCheck,
		OutputFileNumber: fileNumber,
		ComparatorName:   j.mem.ComparatorName(cfID),
	}

	testutil.MaybeKill(testutil.KPRemoteFlushWorkerCrash0)

	result, err := driver.Dispatch(worker, req, progressCB)
	if err != nil {
		return j.fail(err)
	}
	_ = testutil.SP(testutil.SPRemoteFlushResult)
	if !result.OK {
		return j.fail(&RemoteFailed{Reason: result.Reason})
	}

	j.mu.Lock()
	if len(result.Outputs) > 0 {
		out := result.Outputs[0]
		meta := manifest.NewFileMetaData()
		meta.FD = manifest.NewFileDescriptor(fileNumber, 0, out.FileSize)
		j.Outputs[0] = &OutputFile{FileName: out.FileName, FileSize: out.FileSize, Meta: meta, Properties: out.Properties}
		j.edit.AddFile(0, meta)
	}
	j.mu.Unlock()

	if err := driver.Release(memNode, generatorID, j.JobID); err != nil {
		j.logger.Warnf(logging.NSRemoteFlush+"job %d: release memory node: %v", j.JobID, err)
	}

	return j.commit()
}

// RunLocal executes the same merge-and-build pipeline RunRemote dispatches
// to a worker, but in-process: used when MatchMemNode/MatchRemoteWorker
// fail to find a remote party (spec.md §4.1's "kept for fallback" path). It
// transitions WorkerMatched-independent: callers reach it directly from
// Picked, since no memory node or worker match is needed. outputDir is the
// directory to write the produced SST into, mirroring internal/flush.Job's
// db.SSTFilePath.
func (j *FlushJob) RunLocal(outputDir string) Status {
	j.mu.Lock()
	if j.state != StatePicked {
		st := NewStatus(fmt.Errorf("%w: RunLocal from %s", ErrWrongState, j.state))
		j.mu.Unlock()
		return st
	}
	j.state = StateRunning
	mts := j.pickedMemtables
	cfID := j.ColumnFamilyID
	j.mu.Unlock()

	fileNumber := j.committer.NextFileNumber()
	sstPath := filepath.Join(outputDir, sstFileName(fileNumber))
	file, err := os.Create(sstPath)
	if err != nil {
		return j.fail(&LocalFailed{Reason: fmt.Sprintf("create sst: %v", err)})
	}
	defer file.Close()

	opts := table.DefaultBuilderOptions()
	opts.ComparatorName = j.mem.ComparatorName(cfID)
	builder := table.NewTableBuilder(file, opts)

	children := make([]iterator.Iterator, 0, len(mts))
	for _, mt := range mts {
		children = append(children, mt.NewIterator())
	}
	merged := iterator.NewMergingIterator(children, dbformat.CompareInternalKeys)

	var firstKey, lastKey []byte
	var smallestSeq, largestSeq uint64
	for merged.SeekToFirst(); merged.Valid(); merged.Next() {
		key := merged.Key()
		value := merged.Value()
		if err := builder.Add(key, value); err != nil {
			builder.Abandon()
			return j.fail(&LocalFailed{Reason: fmt.Sprintf("add entry: %v", err)})
		}
		seq := dbformat.ExtractSequenceNumber(key)
		if firstKey == nil {
			firstKey = append([]byte{}, key...)
			smallestSeq = uint64(seq)
		}
		lastKey = append(lastKey[:0], key...)
		if uint64(seq) < smallestSeq {
			smallestSeq = uint64(seq)
		}
		if uint64(seq) > largestSeq {
			largestSeq = uint64(seq)
		}
	}
	if err := merged.Error(); err != nil {
		builder.Abandon()
		return j.fail(&LocalFailed{Reason: fmt.Sprintf("merge iteration: %v", err)})
	}

	if builder.NumEntries() == 0 {
		builder.Abandon()
		_ = os.Remove(sstPath)
		return j.commit()
	}

	if err := builder.Finish(); err != nil {
		return j.fail(&LocalFailed{Reason: fmt.Sprintf("finish: %v", err)})
	}
	fileSize := builder.FileSize()
	if err := file.Sync(); err != nil {
		return j.fail(&LocalFailed{Reason: fmt.Sprintf("sync: %v", err)})
	}

	meta := manifest.NewFileMetaData()
	meta.FD = manifest.NewFileDescriptor(fileNumber, 0, fileSize)
	meta.FD.SmallestSeqno = manifest.SequenceNumber(smallestSeq)
	meta.FD.LargestSeqno = manifest.SequenceNumber(largestSeq)
	meta.Smallest = firstKey
	meta.Largest = lastKey

	j.mu.Lock()
	j.Outputs[0] = &OutputFile{FileName: filepath.Base(sstPath), FileSize: fileSize, Meta: meta}
	j.edit.AddFile(0, meta)
	j.mu.Unlock()

	return j.commit()
}

// commit publishes the version edit and transitions Running -> Committed.
func (j *FlushJob) commit() Status {
	_ = testutil.SP(testutil.SPRemoteFlushCommit)
	j.mu.Lock()
	edit := j.edit
	cfID := j.ColumnFamilyID
	maxID := j.MaxMemtableID
	j.mu.Unlock()

	if err := j.committer.ApplyVersionEdit(cfID, maxID, edit); err != nil {
		return j.fail(fmt.Errorf("%w: apply version edit: %v", ErrProtocolViolation, err))
	}

	j.mu.Lock()
	j.state = StateCommitted
	j.mu.Unlock()
	j.logger.Infof(logging.NSRemoteFlush+"job %d: committed", j.JobID)
	return StatusOK
}

func (j *FlushJob) fail(err error) Status {
	j.mu.Lock()
	j.state = StateFailed
	j.mu.Unlock()
	j.logger.Errorf(logging.NSRemoteFlush+"job %d: failed: %v", j.JobID, err)
	return NewStatus(err)
}

// Cancel returns picked memtables to the immutable list and releases any
// outstanding memory-node lease. Safe from every non-Committed state.
func (j *FlushJob) Cancel() Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state == StateCommitted {
		return NewStatus(fmt.Errorf("%w: Cancel after Committed", ErrWrongState))
	}
	if len(j.pickedMemtables) > 0 {
		j.mem.ReturnImmutable(j.ColumnFamilyID, j.pickedMemtables, j.pickedIDs)
		j.pickedMemtables = nil
		j.pickedIDs = nil
	}
	if j.workerEndpoint != "" {
		j.registry.ReleaseWorker(j.workerEndpoint)
		j.workerEndpoint = ""
	}
	j.state = StateCancelled
	j.logger.Infof(logging.NSRemoteFlush+"job %d: cancelled", j.JobID)
	return NewStatus(ErrCancelled)
}

// QuitMemNode releases the job's memory-node lease without cancelling the
// whole job (used after a successful Release or on a non-fatal retry
// before picking a different memory node). Idempotent.
func (j *FlushJob) QuitMemNode() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.memNodeEndpoint = ""
}

// QuitRemoteWorker releases the job's worker lease in the registry.
// Idempotent.
func (j *FlushJob) QuitRemoteWorker() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.workerEndpoint != "" {
		j.registry.ReleaseWorker(j.workerEndpoint)
		j.workerEndpoint = ""
	}
}
