package remoteflush

// worker.go implements the remote worker loop of spec.md §4.5: accept a
// control record, pull memtable images from the memory node, drive the
// same builder pipeline internal/flush.Job drives locally, and report the
// result. A worker handles one flush at a time (tracked by its registry
// entry's busy flag); this package only implements the per-connection
// session logic, leaving accept-loop plumbing to cmd/flushworker.

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ridgelinedb/ridgeline/internal/dbformat"
	"github.com/ridgelinedb/ridgeline/internal/iterator"
	"github.com/ridgelinedb/ridgeline/internal/logging"
	"github.com/ridgelinedb/ridgeline/internal/manifest"
	"github.com/ridgelinedb/ridgeline/internal/memtable"
	"github.com/ridgelinedb/ridgeline/internal/table"
	"github.com/ridgelinedb/ridgeline/internal/testutil"
	"github.com/ridgelinedb/ridgeline/internal/transport"
)

// ImageFetcher pulls every packed memtable image held by a memory node for
// (generatorID, jobID). Production code backs this with a FETCH_REQUEST /
// FETCH_STREAM round trip over a transport.Channel; tests back it with an
// in-memory fake.
type ImageFetcher interface {
	Fetch(memNodeEndpoint, generatorID string, jobID uint64) ([]struct {
		Image []byte
		Meta  MemTableMeta
	}, error)
}

// WorkerSession executes one RUN_REQUEST to completion.
type WorkerSession struct {
	logger logging.Logger
}

// NewWorkerSession returns a WorkerSession.
func NewWorkerSession(logger logging.Logger) *WorkerSession {
	return &WorkerSession{logger: logging.OrDefault(logger)}
}

// Run reconstructs the memtables named by req, merges them through a table
// builder exactly as internal/flush.Job does for a single memtable, and
// writes the resulting SST into req.OutputDir. It returns the RunResult to
// send back to the generator; Run itself never returns an error for a
// build failure — those are carried in the result's OK/Reason fields per
// spec.md §4.5's failure semantics ("sends a typed Failed{reason}").
func (w *WorkerSession) Run(req transport.RunRequest, fetcher ImageFetcher) transport.RunResult {
	_ = testutil.SP(testutil.SPRemoteFlushFetch)

	images, err := fetcher.Fetch(req.MemNodeAddr, req.GeneratorID, req.JobID)
	if err != nil {
		return transport.RunResult{JobID: req.JobID, OK: false, Reason: fmt.Sprintf("fetch: %v", err)}
	}
	if len(images) == 0 {
		return transport.RunResult{JobID: req.JobID, OK: false, Reason: "no memtable images held for job"}
	}

	mts := make([]*memtable.MemTable, 0, len(images))
	for i, img := range images {
		mt, err := UnpackMemTableImage(img.Image, img.Meta, memtable.BytewiseComparator, w.logger)
		if err != nil {
			return transport.RunResult{JobID: req.JobID, OK: false, Reason: fmt.Sprintf("unpack memtable %d: %v", i, err)}
		}
		mts = append(mts, mt)
	}

	_ = testutil.SP(testutil.SPRemoteFlushBuild)

	sstPath := filepath.Join(req.OutputDir, sstFileName(req.OutputFileNumber))
	file, err := os.Create(sstPath)
	if err != nil {
		return transport.RunResult{JobID: req.JobID, OK: false, Reason: fmt.Sprintf("create sst: %v", err)}
	}
	defer file.Close()

	opts := table.DefaultBuilderOptions()
	if req.ComparatorName != "" {
		opts.ComparatorName = req.ComparatorName
	}
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
			return transport.RunResult{JobID: req.JobID, OK: false, Reason: fmt.Sprintf("add entry: %v", err)}
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
		return transport.RunResult{JobID: req.JobID, OK: false, Reason: fmt.Sprintf("merge iteration: %v", err)}
	}

	if builder.NumEntries() == 0 {
		builder.Abandon()
		_ = os.Remove(sstPath)
		// Empty output is not a failure: spec.md §4.1 allows a flush whose
		// picked memtables contained only obsolete entries to produce zero
		// output files while still advancing the watermark.
		return transport.RunResult{JobID: req.JobID, OK: true}
	}

	if err := builder.Finish(); err != nil {
		return transport.RunResult{JobID: req.JobID, OK: false, Reason: fmt.Sprintf("finish: %v", err)}
	}
	fileSize := builder.FileSize()

	if err := file.Sync(); err != nil {
		return transport.RunResult{JobID: req.JobID, OK: false, Reason: fmt.Sprintf("sync: %v", err)}
	}

	meta := manifest.NewFileMetaData()
	meta.FD = manifest.NewFileDescriptor(req.OutputFileNumber, 0, fileSize)
	meta.FD.SmallestSeqno = manifest.SequenceNumber(smallestSeq)
	meta.FD.LargestSeqno = manifest.SequenceNumber(largestSeq)
	meta.Smallest = firstKey
	meta.Largest = lastKey

	props := (&table.TableProperties{
		NumEntries: builder.NumEntries(),
		DataSize:   fileSize,
	}).Encode(req.DoubleCheck)

	return transport.RunResult{
		JobID: req.JobID,
		OK:    true,
		Outputs: []transport.OutputFile{
			{FileName: filepath.Base(sstPath), FileSize: fileSize, Properties: props},
		},
	}
}

func sstFileName(number uint64) string {
	return fmt.Sprintf("%06d.sst", number)
}
