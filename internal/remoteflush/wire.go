package remoteflush

// wire.go adapts RemoteDriver and ImageFetcher onto internal/transport
// channels, for production use by cmd/flushworker and cmd/memnode. Tests
// exercise the state machine against in-process fakes instead (see
// job_test.go), the way internal/flush's tests exercise Job against an
// in-memory vfs.FS rather than real disks.

import (
	"fmt"

	"github.com/ridgelinedb/ridgeline/internal/dbformat"
	"github.com/ridgelinedb/ridgeline/internal/encoding"
	"github.com/ridgelinedb/ridgeline/internal/transport"
)

// TCPRemoteDriver implements RemoteDriver over plain TCP connections
// dialed per step. A production generator would pool these; this keeps the
// wire adapter stateless and simple, matching the transport package's
// "callers above this package are transport-agnostic" design.
type TCPRemoteDriver struct {
	DialTimeoutMS int
}

// SendMemtableImage implements RemoteDriver.
func (d *TCPRemoteDriver) SendMemtableImage(memNodeEndpoint, generatorID string, jobID uint64, cfID uint32, image []byte, meta MemTableMeta) error {
	ch, err := transport.DialTCP("tcp", memNodeEndpoint)
	if err != nil {
		return fmt.Errorf("%w: dial memory node: %v", ErrTransportClosed, err)
	}
	defer ch.Close()

	hdr := transport.JobHeader{GeneratorID: generatorID, JobID: jobID, TotalBytes: uint64(len(image)), MemtableCount: 1}
	if err := ch.WriteFrame(transport.Frame{Kind: transport.KindOfferJob, Body: hdr.Encode()}); err != nil {
		return fmt.Errorf("%w: send offer: %v", ErrTransportClosed, err)
	}
	resp, err := ch.ReadFrame()
	if err != nil {
		return fmt.Errorf("%w: read offer ack: %v", ErrTransportClosed, err)
	}
	if resp.Kind != transport.KindOfferAck {
		return fmt.Errorf("%w: expected OFFER_ACK, got %s", ErrProtocolViolation, resp.Kind)
	}
	ack, err := transport.DecodeOfferAck(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: decode offer ack: %v", ErrProtocolViolation, err)
	}
	if !ack.Accepted {
		if ack.Reason == "capacity" {
			return ErrOutOfCapacity
		}
		return fmt.Errorf("%w: memory node declined: %s", ErrOutOfCapacity, ack.Reason)
	}

	body := encodeMemtableImageBody(cfID, meta, image)
	if err := ch.WriteFrame(transport.Frame{Kind: transport.KindMemtableImage, Body: body}); err != nil {
		return fmt.Errorf("%w: send image: %v", ErrTransportClosed, err)
	}
	return nil
}

// Dispatch implements RemoteDriver.
func (d *TCPRemoteDriver) Dispatch(workerEndpoint string, req transport.RunRequest, progressCB func(transport.RunProgress)) (transport.RunResult, error) {
	ch, err := transport.DialTCP("tcp", workerEndpoint)
	if err != nil {
		return transport.RunResult{}, fmt.Errorf("%w: dial worker: %v", ErrTransportClosed, err)
	}
	defer ch.Close()

	if err := ch.WriteFrame(transport.Frame{Kind: transport.KindRunRequest, Body: req.Encode()}); err != nil {
		return transport.RunResult{}, fmt.Errorf("%w: send run request: %v", ErrTransportClosed, err)
	}

	for {
		frame, err := ch.ReadFrame()
		if err != nil {
			return transport.RunResult{}, fmt.Errorf("%w: read: %v", ErrTransportClosed, err)
		}
		switch frame.Kind {
		case transport.KindRunProgress:
			prog, err := transport.DecodeRunProgress(frame.Body)
			if err != nil {
				return transport.RunResult{}, fmt.Errorf("%w: decode progress: %v", ErrProtocolViolation, err)
			}
			if progressCB != nil {
				progressCB(prog)
			}
		case transport.KindRunResult:
			result, err := transport.DecodeRunResult(frame.Body)
			if err != nil {
				return transport.RunResult{}, fmt.Errorf("%w: decode result: %v", ErrProtocolViolation, err)
			}
			return result, nil
		case transport.KindError:
			em, _ := transport.DecodeErrorMessage(frame.Body)
			return transport.RunResult{}, fmt.Errorf("%w: %s: %s", ErrProtocolViolation, em.Category, em.Message)
		default:
			return transport.RunResult{}, fmt.Errorf("%w: unexpected frame %s during run", ErrProtocolViolation, frame.Kind)
		}
	}
}

// Release implements RemoteDriver.
func (d *TCPRemoteDriver) Release(memNodeEndpoint, generatorID string, jobID uint64) error {
	ch, err := transport.DialTCP("tcp", memNodeEndpoint)
	if err != nil {
		return fmt.Errorf("%w: dial memory node: %v", ErrTransportClosed, err)
	}
	defer ch.Close()

	hdr := transport.JobHeader{GeneratorID: generatorID, JobID: jobID}
	return ch.WriteFrame(transport.Frame{Kind: transport.KindRelease, Body: hdr.Encode()})
}

// TCPImageFetcher implements ImageFetcher over a FETCH_REQUEST / FETCH_STREAM
// round trip against a memory node.
type TCPImageFetcher struct{}

// Fetch implements ImageFetcher.
func (f *TCPImageFetcher) Fetch(memNodeEndpoint, generatorID string, jobID uint64) ([]struct {
	Image []byte
	Meta  MemTableMeta
}, error) {
	ch, err := transport.DialTCP("tcp", memNodeEndpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: dial memory node: %v", ErrTransportClosed, err)
	}
	defer ch.Close()

	hdr := transport.JobHeader{GeneratorID: generatorID, JobID: jobID}
	if err := ch.WriteFrame(transport.Frame{Kind: transport.KindFetchRequest, Body: hdr.Encode()}); err != nil {
		return nil, fmt.Errorf("%w: send fetch request: %v", ErrTransportClosed, err)
	}

	frame, err := ch.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("%w: read fetch stream: %v", ErrTransportClosed, err)
	}
	if frame.Kind != transport.KindFetchStream {
		return nil, fmt.Errorf("%w: expected FETCH_STREAM, got %s", ErrProtocolViolation, frame.Kind)
	}

	count, n, err := encoding.DecodeVarint64(frame.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode image count: %v", ErrProtocolViolation, err)
	}
	data := frame.Body[n:]

	out := make([]struct {
		Image []byte
		Meta  MemTableMeta
	}, 0, count)
	for i := uint64(0); i < count; i++ {
		_, meta, image, consumed, err := decodeMemtableImageBody(data)
		if err != nil {
			return nil, fmt.Errorf("%w: decode image %d: %v", ErrProtocolViolation, i, err)
		}
		out = append(out, struct {
			Image []byte
			Meta  MemTableMeta
		}{Image: image, Meta: meta})
		data = data[consumed:]
	}
	return out, nil
}

// encodeMemtableImageBody formats one memtable's transport metadata
// followed by its packed arena image, used for both MEMTABLE_IMAGE and
// each entry of a FETCH_STREAM body.
func encodeMemtableImageBody(cfID uint32, meta MemTableMeta, image []byte) []byte {
	var buf []byte
	buf = encoding.AppendFixed32(buf, cfID)
	buf = encoding.AppendVarint64(buf, uint64(meta.NumEntries))
	buf = encoding.AppendVarint64(buf, uint64(meta.SizeBytes))
	buf = encoding.AppendFixed64(buf, uint64(meta.EarliestSeqno))
	buf = encoding.AppendFixed64(buf, uint64(meta.FirstSeqno))
	if meta.HasRangeDeletion {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = encoding.AppendLengthPrefixedSlice(buf, image)
	return buf
}

func decodeMemtableImageBody(data []byte) (cfID uint32, meta MemTableMeta, image []byte, consumed int, err error) {
	if len(data) < 4 {
		return 0, MemTableMeta{}, nil, 0, ErrProtocolViolation
	}
	cfID = encoding.DecodeFixed32(data[:4])
	pos := 4

	numEntries, n, err := encoding.DecodeVarint64(data[pos:])
	if err != nil {
		return 0, MemTableMeta{}, nil, 0, err
	}
	pos += n
	sizeBytes, n, err := encoding.DecodeVarint64(data[pos:])
	if err != nil {
		return 0, MemTableMeta{}, nil, 0, err
	}
	pos += n
	if len(data) < pos+17 {
		return 0, MemTableMeta{}, nil, 0, ErrProtocolViolation
	}
	earliest := encoding.DecodeFixed64(data[pos : pos+8])
	pos += 8
	first := encoding.DecodeFixed64(data[pos : pos+8])
	pos += 8
	hasRangeDel := data[pos] == 1
	pos++

	image, n, err = encoding.DecodeLengthPrefixedSlice(data[pos:])
	if err != nil {
		return 0, MemTableMeta{}, nil, 0, err
	}
	pos += n

	meta = MemTableMeta{
		ColumnFamilyID:   cfID,
		NumEntries:       int64(numEntries),
		SizeBytes:        int64(sizeBytes),
		EarliestSeqno:    dbformat.SequenceNumber(earliest),
		FirstSeqno:       dbformat.SequenceNumber(first),
		HasRangeDeletion: hasRangeDel,
	}
	return cfID, meta, image, pos, nil
}
