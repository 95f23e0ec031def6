package remoteflush

// memtable_image.go packs a memtable's entries into a Serializable Arena
// image for transport to a memory node, and rebuilds an equivalent memtable
// on the worker from the unpacked arena.
//
// Per spec.md's DESIGN NOTES ("using an arena+index scheme... removes the
// rebasing step entirely and is the recommended evolution"), this port
// never ships raw skip-list pointers: it re-derives each entry's bytes into
// an Arena block in key order as the memtable is walked, and the worker
// replays those bytes into a fresh memtable by calling Add again rather
// than rebasing pointers. The wire entry format mirrors the one documented
// in internal/memtable.MemTable's skip-list entries: a varint32-prefixed
// internal key, then a varint32-prefixed value.

import (
	"fmt"
	"io"

	"github.com/ridgelinedb/ridgeline/internal/arena"
	"github.com/ridgelinedb/ridgeline/internal/dbformat"
	"github.com/ridgelinedb/ridgeline/internal/encoding"
	"github.com/ridgelinedb/ridgeline/internal/logging"
	"github.com/ridgelinedb/ridgeline/internal/memtable"
)

// MemTableMeta carries the transport metadata spec.md §3 lists alongside a
// memtable's arena image: entry/byte counts and the sequence range.
type MemTableMeta struct {
	ColumnFamilyID   uint32
	NumEntries       int64
	SizeBytes        int64
	EarliestSeqno    dbformat.SequenceNumber
	FirstSeqno       dbformat.SequenceNumber
	HasRangeDeletion bool
}

// PackMemTableImage walks mt in key order, writing each entry into a fresh
// Arena and returning the arena's packed byte image alongside the
// metadata needed to reconstruct it. The returned bytes are what a
// generator ships to a memory node as a MEMTABLE_IMAGE body.
func PackMemTableImage(mt *memtable.MemTable, cfID uint32, blockSize int, logger logging.Logger) ([]byte, MemTableMeta, error) {
	a := arena.New(blockSize, logger)

	var meta MemTableMeta
	meta.ColumnFamilyID = cfID
	meta.EarliestSeqno = dbformat.MaxSequenceNumber

	iter := mt.NewIterator()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		userKey := iter.UserKey()
		value := iter.Value()
		seq := iter.Sequence()
		typ := iter.Type()

		internalKey := dbformat.NewInternalKey(userKey, seq, typ)
		entry := encodeWireEntry(internalKey, value)

		// AllocateAligned fills each block forward from offset zero (unlike
		// Allocate, which bump-allocates from the block's tail downward),
		// so the unpack side can replay entries with a simple left-to-right
		// scan instead of reconstructing allocation order.
		dst, err := a.AllocateAligned(len(entry), 0)
		if err != nil {
			return nil, MemTableMeta{}, fmt.Errorf("remoteflush: pack memtable entry: %w", err)
		}
		copy(dst, entry)

		meta.NumEntries++
		meta.SizeBytes += int64(len(entry))
		if seq < meta.EarliestSeqno {
			meta.EarliestSeqno = seq
		}
		if seq > meta.FirstSeqno {
			meta.FirstSeqno = seq
		}
	}
	if err := iter.Error(); err != nil {
		return nil, MemTableMeta{}, fmt.Errorf("remoteflush: iterate memtable for pack: %w", err)
	}
	meta.HasRangeDeletion = mt.HasRangeTombstones()

	var buf []byte
	w := &sliceWriter{buf: &buf}
	if err := a.PackLocal(w); err != nil {
		return nil, MemTableMeta{}, fmt.Errorf("remoteflush: PackLocal: %w", err)
	}
	return buf, meta, nil
}

// UnpackMemTableImage reconstructs a memtable from a packed arena image
// produced by PackMemTableImage, replaying every entry through Add rather
// than rebasing pointers.
func UnpackMemTableImage(data []byte, meta MemTableMeta, cmp memtable.Comparator, logger logging.Logger) (*memtable.MemTable, error) {
	r := &sliceReader{buf: data}
	a, err := arena.UnPackLocal(r, logger)
	if err != nil {
		return nil, fmt.Errorf("remoteflush: UnPackLocal: %w", err)
	}

	mt := memtable.NewMemTable(cmp)
	var entries int64
	for _, block := range a.Blocks() {
		pos := 0
		for pos < len(block) && entries < meta.NumEntries {
			internalKey, value, n, ok := decodeWireEntry(block[pos:])
			if !ok {
				break // reached this block's unused tail
			}
			userKey := dbformat.ExtractUserKey(internalKey)
			seq := dbformat.ExtractSequenceNumber(internalKey)
			typ := dbformat.ExtractValueType(internalKey)
			mt.Add(seq, typ, userKey, value)
			entries++
			pos += n
		}
		if entries >= meta.NumEntries {
			break
		}
	}
	if entries != meta.NumEntries {
		return nil, fmt.Errorf("remoteflush: unpacked %d entries, expected %d", entries, meta.NumEntries)
	}
	return mt, nil
}

// encodeWireEntry formats one memtable entry as
// [varint32 keyLen][internalKey][varint32 valueLen][value].
func encodeWireEntry(internalKey []byte, value []byte) []byte {
	var buf []byte
	buf = encoding.AppendLengthPrefixedSlice(buf, internalKey)
	buf = encoding.AppendLengthPrefixedSlice(buf, value)
	return buf
}

// decodeWireEntry parses one entry written by encodeWireEntry. ok is false
// when data doesn't begin with a valid entry (e.g. zero-padding at a
// block's tail).
func decodeWireEntry(data []byte) (internalKey, value []byte, consumed int, ok bool) {
	key, n, err := encoding.DecodeLengthPrefixedSlice(data)
	if err != nil || len(key) == 0 {
		return nil, nil, 0, false
	}
	rest := data[n:]
	val, n2, err := encoding.DecodeLengthPrefixedSlice(rest)
	if err != nil {
		return nil, nil, 0, false
	}
	return key, val, n + n2, true
}

// sliceWriter is an io.Writer that appends to an in-memory byte slice,
// avoiding a bytes.Buffer import for this single append-only use.
type sliceWriter struct {
	buf *[]byte
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

// sliceReader is an io.Reader over a fixed byte slice.
type sliceReader struct {
	buf []byte
	pos int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.buf) {
		return 0, io.EOF
	}
	n := copy(p, r.buf[r.pos:])
	r.pos += n
	return n, nil
}
