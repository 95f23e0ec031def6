package remoteflush

// serve.go implements the per-connection frame dispatch for a memory node
// and a worker, so cmd/memnode and cmd/flushworker only own the accept
// loop (net.Listener, goroutine-per-conn) and call straight into these
// functions, the same division wire.go draws for the generator side.

import (
	"errors"
	"fmt"
	"io"

	"github.com/ridgelinedb/ridgeline/internal/encoding"
	"github.com/ridgelinedb/ridgeline/internal/logging"
	"github.com/ridgelinedb/ridgeline/internal/transport"
)

// ServeMemNodeConn handles one generator connection against node until the
// peer closes the channel or sends an unrecognized frame, implementing the
// memory-node side of spec.md §4.4: OFFER_JOB -> OFFER_ACK, zero or more
// MEMTABLE_IMAGE, FETCH_REQUEST -> FETCH_STREAM, RELEASE.
func ServeMemNodeConn(ch transport.Channel, node *MemNode, logger logging.Logger) error {
	logger = logging.OrDefault(logger)
	var genID string
	var jobID uint64

	for {
		frame, err := ch.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch frame.Kind {
		case transport.KindOfferJob:
			hdr, err := transport.DecodeJobHeader(frame.Body)
			if err != nil {
				return writeError(ch, "ProtocolViolation", err.Error())
			}
			genID, jobID = hdr.GeneratorID, hdr.JobID
			ack := transport.OfferAck{Accepted: true}
			if err := node.Offer(hdr.GeneratorID, hdr.JobID, int64(hdr.TotalBytes)); err != nil {
				ack = transport.OfferAck{Accepted: false, Reason: "capacity"}
			}
			if err := ch.WriteFrame(transport.Frame{Kind: transport.KindOfferAck, Body: ack.Encode()}); err != nil {
				return err
			}

		case transport.KindMemtableImage:
			cfID, meta, image, _, err := decodeMemtableImageBody(frame.Body)
			if err != nil {
				return writeError(ch, "ProtocolViolation", err.Error())
			}
			if err := node.OfferImage(genID, jobID, cfID, image, meta); err != nil {
				return writeError(ch, "ProtocolViolation", err.Error())
			}

		case transport.KindFetchRequest:
			hdr, err := transport.DecodeJobHeader(frame.Body)
			if err != nil {
				return writeError(ch, "ProtocolViolation", err.Error())
			}
			images, err := node.Fetch(hdr.GeneratorID, hdr.JobID)
			if err != nil {
				return writeError(ch, "ProtocolViolation", err.Error())
			}
			var buf []byte
			buf = encoding.AppendVarint64(buf, uint64(len(images)))
			for _, img := range images {
				buf = append(buf, encodeMemtableImageBody(img.ColumnFamilyID, img.Meta, img.Image)...)
			}
			if err := ch.WriteFrame(transport.Frame{Kind: transport.KindFetchStream, Body: buf}); err != nil {
				return err
			}

		case transport.KindRelease:
			hdr, err := transport.DecodeJobHeader(frame.Body)
			if err != nil {
				return writeError(ch, "ProtocolViolation", err.Error())
			}
			node.Release(hdr.GeneratorID, hdr.JobID)

		case transport.KindHeartbeat:
			if err := ch.WriteFrame(transport.Frame{Kind: transport.KindHeartbeat}); err != nil {
				return err
			}

		default:
			return writeError(ch, "ProtocolViolation", fmt.Sprintf("unexpected frame %s on memnode connection", frame.Kind))
		}
	}
}

// ServeWorkerConn handles one RUN_REQUEST on ch, driving session against
// fetcher and writing back a single RUN_RESULT, implementing the worker
// side of spec.md §4.5. A worker connection carries exactly one job; the
// caller's accept loop opens a fresh connection per dispatch the same way
// TCPRemoteDriver.Dispatch dials fresh per call. defaultOutputDir fills in
// req.OutputDir when the generator left it unset, so a worker started
// with its own -out flag still has somewhere to write.
func ServeWorkerConn(ch transport.Channel, session *WorkerSession, fetcher ImageFetcher, defaultOutputDir string) error {
	frame, err := ch.ReadFrame()
	if err != nil {
		return err
	}
	if frame.Kind != transport.KindRunRequest {
		return writeError(ch, "ProtocolViolation", fmt.Sprintf("expected RUN_REQUEST, got %s", frame.Kind))
	}
	req, err := transport.DecodeRunRequest(frame.Body)
	if err != nil {
		return writeError(ch, "ProtocolViolation", err.Error())
	}
	if req.OutputDir == "" {
		req.OutputDir = defaultOutputDir
	}

	result := session.Run(req, fetcher)
	return ch.WriteFrame(transport.Frame{Kind: transport.KindRunResult, Body: result.Encode()})
}

func writeError(ch transport.Channel, category, message string) error {
	em := transport.ErrorMessage{Category: category, Message: message}
	werr := ch.WriteFrame(transport.Frame{Kind: transport.KindError, Body: em.Encode()})
	if werr != nil {
		return werr
	}
	return fmt.Errorf("%s: %s", category, message)
}
