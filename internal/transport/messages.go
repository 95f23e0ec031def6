package transport

// messages.go encodes/decodes the bodies carried by each Kind, per spec.md
// §6: {generator_id, job_id, total_bytes, memtable_count} for a session
// header, capability flags for HELLO, and typed control bodies for the
// rest of the handshake. Bulk MEMTABLE_IMAGE/FETCH_STREAM bodies are
// opaque byte blobs produced by internal/arena and internal/memtable and
// are passed through unchanged.

import (
	"github.com/ridgelinedb/ridgeline/internal/encoding"
)

// Capabilities is a bitset of what a peer advertises in HELLO.
type Capabilities uint32

const (
	// CapRDMA indicates the peer can serve/accept an RDMAChannel for bulk
	// transfer in addition to TCP.
	CapRDMA Capabilities = 1 << iota
	// CapDoubleCheck indicates the peer understands (and should be sent)
	// the tagged double-check wire mode for properties/arena codecs.
	CapDoubleCheck
)

// Hello is the body of a KindHello frame: identifies the sender and its
// capabilities at connection establishment.
type Hello struct {
	Role         string // "generator", "memnode", or "worker"
	NodeID       string
	Capabilities Capabilities
}

func (h Hello) Encode() []byte {
	var buf []byte
	buf = encoding.AppendLengthPrefixedSlice(buf, []byte(h.Role))
	buf = encoding.AppendLengthPrefixedSlice(buf, []byte(h.NodeID))
	buf = encoding.AppendFixed32(buf, uint32(h.Capabilities))
	return buf
}

func DecodeHello(data []byte) (Hello, error) {
	role, n, err := encoding.DecodeLengthPrefixedSlice(data)
	if err != nil {
		return Hello{}, err
	}
	data = data[n:]
	nodeID, n, err := encoding.DecodeLengthPrefixedSlice(data)
	if err != nil {
		return Hello{}, err
	}
	data = data[n:]
	caps := encoding.DecodeFixed32(data[:4])
	return Hello{Role: string(role), NodeID: string(nodeID), Capabilities: Capabilities(caps)}, nil
}

// JobHeader is the session header sent at the start of an OFFER_JOB /
// RUN_REQUEST exchange, per spec.md §4.4: {generator_id, job_id,
// total_bytes, memtable_count}.
type JobHeader struct {
	GeneratorID   string
	JobID         uint64
	TotalBytes    uint64
	MemtableCount uint32
}

func (h JobHeader) Encode() []byte {
	var buf []byte
	buf = encoding.AppendLengthPrefixedSlice(buf, []byte(h.GeneratorID))
	buf = encoding.AppendFixed64(buf, h.JobID)
	buf = encoding.AppendFixed64(buf, h.TotalBytes)
	buf = encoding.AppendFixed32(buf, h.MemtableCount)
	return buf
}

func DecodeJobHeader(data []byte) (JobHeader, error) {
	genID, n, err := encoding.DecodeLengthPrefixedSlice(data)
	if err != nil {
		return JobHeader{}, err
	}
	data = data[n:]
	if len(data) < 16 {
		return JobHeader{}, ErrFrameChecksumMismatch
	}
	jobID := encoding.DecodeFixed64(data[0:8])
	totalBytes := encoding.DecodeFixed64(data[8:16])
	memtableCount := encoding.DecodeFixed32(data[16:20])
	return JobHeader{
		GeneratorID:   string(genID),
		JobID:         jobID,
		TotalBytes:    totalBytes,
		MemtableCount: memtableCount,
	}, nil
}

// OfferAck is the memory node's response to OFFER_JOB.
type OfferAck struct {
	Accepted bool
	Reason   string // populated when Accepted is false (e.g. "out of capacity")
}

func (a OfferAck) Encode() []byte {
	var buf []byte
	if a.Accepted {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = encoding.AppendLengthPrefixedSlice(buf, []byte(a.Reason))
	return buf
}

func DecodeOfferAck(data []byte) (OfferAck, error) {
	if len(data) < 1 {
		return OfferAck{}, ErrFrameChecksumMismatch
	}
	accepted := data[0] == 1
	reason, _, err := encoding.DecodeLengthPrefixedSlice(data[1:])
	if err != nil {
		return OfferAck{}, err
	}
	return OfferAck{Accepted: accepted, Reason: string(reason)}, nil
}

// RunRequest is the body of a KindRunRequest frame: tells a worker where to
// fetch the packed job and how to build it.
type RunRequest struct {
	GeneratorID       string
	JobID             uint64
	MemNodeAddr       string
	OutputCompression uint8 // compression.Type
	DoubleCheck       bool
	LogLevel          uint8 // logging.Level, forwarded so the worker logs at the generator's verbosity
	OutputFileNumber  uint64 // pre-allocated by the generator, names slot 0's output file
	OutputDir         string // worker-local directory to write the SST into
	ComparatorName    string
}

func (r RunRequest) Encode() []byte {
	var buf []byte
	buf = encoding.AppendLengthPrefixedSlice(buf, []byte(r.GeneratorID))
	buf = encoding.AppendFixed64(buf, r.JobID)
	buf = encoding.AppendLengthPrefixedSlice(buf, []byte(r.MemNodeAddr))
	buf = append(buf, r.OutputCompression)
	if r.DoubleCheck {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, r.LogLevel)
	buf = encoding.AppendFixed64(buf, r.OutputFileNumber)
	buf = encoding.AppendLengthPrefixedSlice(buf, []byte(r.OutputDir))
	buf = encoding.AppendLengthPrefixedSlice(buf, []byte(r.ComparatorName))
	return buf
}

func DecodeRunRequest(data []byte) (RunRequest, error) {
	genID, n, err := encoding.DecodeLengthPrefixedSlice(data)
	if err != nil {
		return RunRequest{}, err
	}
	data = data[n:]
	if len(data) < 8 {
		return RunRequest{}, ErrFrameChecksumMismatch
	}
	jobID := encoding.DecodeFixed64(data[:8])
	data = data[8:]
	addr, n, err := encoding.DecodeLengthPrefixedSlice(data)
	if err != nil {
		return RunRequest{}, err
	}
	data = data[n:]
	if len(data) < 3 {
		return RunRequest{}, ErrFrameChecksumMismatch
	}
	compression, doubleCheck, logLevel := data[0], data[1] == 1, data[2]
	data = data[3:]
	if len(data) < 8 {
		return RunRequest{}, ErrFrameChecksumMismatch
	}
	outputFileNumber := encoding.DecodeFixed64(data[:8])
	data = data[8:]
	outputDir, n, err := encoding.DecodeLengthPrefixedSlice(data)
	if err != nil {
		return RunRequest{}, err
	}
	data = data[n:]
	comparatorName, _, err := encoding.DecodeLengthPrefixedSlice(data)
	if err != nil {
		return RunRequest{}, err
	}
	return RunRequest{
		GeneratorID:       string(genID),
		JobID:             jobID,
		MemNodeAddr:       string(addr),
		OutputCompression: compression,
		DoubleCheck:       doubleCheck,
		LogLevel:          logLevel,
		OutputFileNumber:  outputFileNumber,
		OutputDir:         string(outputDir),
		ComparatorName:    string(comparatorName),
	}, nil
}

// RunProgress is a heartbeat the worker streams back during the build,
// forwarded by the generator to its own logger at Debug level.
type RunProgress struct {
	JobID        uint64
	BytesWritten uint64
	Message      string
}

func (p RunProgress) Encode() []byte {
	var buf []byte
	buf = encoding.AppendFixed64(buf, p.JobID)
	buf = encoding.AppendFixed64(buf, p.BytesWritten)
	buf = encoding.AppendLengthPrefixedSlice(buf, []byte(p.Message))
	return buf
}

func DecodeRunProgress(data []byte) (RunProgress, error) {
	if len(data) < 16 {
		return RunProgress{}, ErrFrameChecksumMismatch
	}
	jobID := encoding.DecodeFixed64(data[0:8])
	bytesWritten := encoding.DecodeFixed64(data[8:16])
	msg, _, err := encoding.DecodeLengthPrefixedSlice(data[16:])
	if err != nil {
		return RunProgress{}, err
	}
	return RunProgress{JobID: jobID, BytesWritten: bytesWritten, Message: string(msg)}, nil
}

// RunResult is the worker's terminal report for a job: either the file
// metadata for up to four output slots, or a failure reason.
type RunResult struct {
	JobID   uint64
	OK      bool
	Reason  string // populated when !OK
	Outputs []OutputFile
}

// OutputFile names one (file_name, file_size) pair produced by the worker,
// plus its encoded TableProperties.
type OutputFile struct {
	FileName   string
	FileSize   uint64
	Properties []byte // internal/table.TableProperties.Encode output
}

func (r RunResult) Encode() []byte {
	var buf []byte
	buf = encoding.AppendFixed64(buf, r.JobID)
	if r.OK {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = encoding.AppendLengthPrefixedSlice(buf, []byte(r.Reason))
	buf = encoding.AppendVarint64(buf, uint64(len(r.Outputs)))
	for _, o := range r.Outputs {
		buf = encoding.AppendLengthPrefixedSlice(buf, []byte(o.FileName))
		buf = encoding.AppendFixed64(buf, o.FileSize)
		buf = encoding.AppendLengthPrefixedSlice(buf, o.Properties)
	}
	return buf
}

func DecodeRunResult(data []byte) (RunResult, error) {
	if len(data) < 9 {
		return RunResult{}, ErrFrameChecksumMismatch
	}
	jobID := encoding.DecodeFixed64(data[0:8])
	ok := data[8] == 1
	data = data[9:]
	reason, n, err := encoding.DecodeLengthPrefixedSlice(data)
	if err != nil {
		return RunResult{}, err
	}
	data = data[n:]
	count, n, err := encoding.DecodeVarint64(data)
	if err != nil {
		return RunResult{}, err
	}
	data = data[n:]

	result := RunResult{JobID: jobID, OK: ok, Reason: string(reason)}
	for i := uint64(0); i < count; i++ {
		name, n, err := encoding.DecodeLengthPrefixedSlice(data)
		if err != nil {
			return RunResult{}, err
		}
		data = data[n:]
		if len(data) < 8 {
			return RunResult{}, ErrFrameChecksumMismatch
		}
		size := encoding.DecodeFixed64(data[:8])
		data = data[8:]
		props, n, err := encoding.DecodeLengthPrefixedSlice(data)
		if err != nil {
			return RunResult{}, err
		}
		data = data[n:]
		result.Outputs = append(result.Outputs, OutputFile{
			FileName: string(name), FileSize: size, Properties: props,
		})
	}
	return result, nil
}

// ErrorMessage is the body of a KindError frame: a typed protocol error
// report, used for both ProtocolViolation and RemoteFailed/LocalFailed.
type ErrorMessage struct {
	Category string
	Message  string
}

func (e ErrorMessage) Encode() []byte {
	var buf []byte
	buf = encoding.AppendLengthPrefixedSlice(buf, []byte(e.Category))
	buf = encoding.AppendLengthPrefixedSlice(buf, []byte(e.Message))
	return buf
}

func DecodeErrorMessage(data []byte) (ErrorMessage, error) {
	cat, n, err := encoding.DecodeLengthPrefixedSlice(data)
	if err != nil {
		return ErrorMessage{}, err
	}
	data = data[n:]
	msg, _, err := encoding.DecodeLengthPrefixedSlice(data)
	if err != nil {
		return ErrorMessage{}, err
	}
	return ErrorMessage{Category: string(cat), Message: string(msg)}, nil
}
