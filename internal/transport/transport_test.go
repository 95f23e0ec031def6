package transport

import (
	"bytes"
	"net"
	"testing"
)

func TestFrameRoundTripOverBuffer(t *testing.T) {
	var buf bytes.Buffer
	want := Frame{Kind: KindHello, Body: []byte("hello body")}
	if err := WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Kind != want.Kind || !bytes.Equal(got.Body, want.Body) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestFrameEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	want := Frame{Kind: KindHeartbeat, Body: nil}
	if err := WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Kind != want.Kind || len(got.Body) != 0 {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestFrameChecksumMismatchDetected(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Kind: KindError, Body: []byte("payload")}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	corrupted := buf.Bytes()
	// Flip a byte inside the body (after the 12-byte header).
	corrupted[12] ^= 0xFF
	if _, err := ReadFrame(bytes.NewReader(corrupted)); err != ErrFrameChecksumMismatch {
		t.Fatalf("expected ErrFrameChecksumMismatch, got %v", err)
	}
}

func TestTCPChannelRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		ch := NewTCPChannel(conn)
		defer ch.Close()
		f, err := ch.ReadFrame()
		if err != nil {
			serverDone <- err
			return
		}
		serverDone <- ch.WriteFrame(Frame{Kind: KindOfferAck, Body: f.Body})
	}()

	client, err := DialTCP("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer client.Close()

	if err := client.WriteFrame(Frame{Kind: KindOfferJob, Body: []byte("job-1")}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	resp, err := client.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if resp.Kind != KindOfferAck || string(resp.Body) != "job-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server: %v", err)
	}
}

func TestRDMAChannelPairRoundTrip(t *testing.T) {
	a, b := NewRDMAPair(4)
	defer a.Close()
	defer b.Close()

	want := Frame{Kind: KindMemtableImage, Body: []byte("arena bytes")}
	if err := a.WriteFrame(want); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := b.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Kind != want.Kind || !bytes.Equal(got.Body, want.Body) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestRDMAChannelClosedReturnsError(t *testing.T) {
	a, b := NewRDMAPair(1)
	a.Close()
	if err := a.WriteFrame(Frame{Kind: KindCancel}); err != ErrChannelClosed {
		t.Fatalf("expected ErrChannelClosed on write, got %v", err)
	}
	if _, err := a.ReadFrame(); err != ErrChannelClosed {
		t.Fatalf("expected ErrChannelClosed on read, got %v", err)
	}
	b.Close()
}

func TestMessageEncodeDecodeRoundTrips(t *testing.T) {
	hello := Hello{Role: "worker", NodeID: "worker-7", Capabilities: CapRDMA | CapDoubleCheck}
	gotHello, err := DecodeHello(hello.Encode())
	if err != nil || gotHello != hello {
		t.Fatalf("Hello round trip: got %+v, err %v", gotHello, err)
	}

	hdr := JobHeader{GeneratorID: "gen-1", JobID: 42, TotalBytes: 1 << 20, MemtableCount: 3}
	gotHdr, err := DecodeJobHeader(hdr.Encode())
	if err != nil || gotHdr != hdr {
		t.Fatalf("JobHeader round trip: got %+v, err %v", gotHdr, err)
	}

	ack := OfferAck{Accepted: false, Reason: "out of capacity"}
	gotAck, err := DecodeOfferAck(ack.Encode())
	if err != nil || gotAck != ack {
		t.Fatalf("OfferAck round trip: got %+v, err %v", gotAck, err)
	}

	req := RunRequest{
		GeneratorID:       "gen-1",
		JobID:             42,
		MemNodeAddr:       "10.0.0.5:9000",
		OutputCompression: 2,
		DoubleCheck:       true,
		LogLevel:          1,
	}
	gotReq, err := DecodeRunRequest(req.Encode())
	if err != nil || gotReq != req {
		t.Fatalf("RunRequest round trip: got %+v, err %v", gotReq, err)
	}

	prog := RunProgress{JobID: 42, BytesWritten: 4096, Message: "flushing"}
	gotProg, err := DecodeRunProgress(prog.Encode())
	if err != nil || gotProg != prog {
		t.Fatalf("RunProgress round trip: got %+v, err %v", gotProg, err)
	}

	result := RunResult{
		JobID: 42,
		OK:    true,
		Outputs: []OutputFile{
			{FileName: "000123.sst", FileSize: 8192, Properties: []byte{1, 2, 3}},
		},
	}
	gotResult, err := DecodeRunResult(result.Encode())
	if err != nil {
		t.Fatalf("RunResult decode: %v", err)
	}
	if gotResult.JobID != result.JobID || gotResult.OK != result.OK || len(gotResult.Outputs) != 1 {
		t.Fatalf("RunResult round trip mismatch: %+v", gotResult)
	}
	if gotResult.Outputs[0].FileName != "000123.sst" || gotResult.Outputs[0].FileSize != 8192 ||
		!bytes.Equal(gotResult.Outputs[0].Properties, []byte{1, 2, 3}) {
		t.Fatalf("RunResult output mismatch: %+v", gotResult.Outputs[0])
	}

	failed := RunResult{JobID: 7, OK: false, Reason: "worker crashed"}
	gotFailed, err := DecodeRunResult(failed.Encode())
	if err != nil || gotFailed.OK != false || gotFailed.Reason != "worker crashed" || len(gotFailed.Outputs) != 0 {
		t.Fatalf("RunResult (failed) round trip: got %+v, err %v", gotFailed, err)
	}

	em := ErrorMessage{Category: "ProtocolViolation", Message: "unexpected frame kind"}
	gotEM, err := DecodeErrorMessage(em.Encode())
	if err != nil || gotEM != em {
		t.Fatalf("ErrorMessage round trip: got %+v, err %v", gotEM, err)
	}
}
