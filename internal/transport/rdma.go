package transport

// rdma.go implements Channel over a simulated RDMA registered-memory path.
//
// No ecosystem RDMA library exists in the surrounding corpus (this port's
// retrieval pack carries no RDMA bindings at all), and a real
// verbs/libibverbs binding is out of scope for a pure-Go port. This
// implementation instead models the property that makes RDMA worth having
// in the first place for this protocol: bulk arena page bodies move
// between peers without being re-copied through a socket's frame/checksum
// path. Two RDMAChannel values created by NewRDMAPair share a registered
// region (an in-process buffered channel of Frame) and hand bodies to each
// other by reference; control messages still round-trip through the exact
// same Frame/Kind vocabulary as TCPChannel, so callers above this package
// are transport-agnostic.
import (
	"errors"
	"sync"
)

// ErrChannelClosed is returned by ReadFrame/WriteFrame after Close.
var ErrChannelClosed = errors.New("transport: channel closed")

var _ Channel = (*RDMAChannel)(nil)

// RDMAChannel is a Channel backed by a simulated registered-memory region
// shared with its peer.
type RDMAChannel struct {
	out chan Frame
	in  chan Frame

	closeOnce sync.Once
	closed    chan struct{}
}

// NewRDMAPair returns two connected RDMAChannel ends, simulating a pair of
// peers that have each registered a memory region with the other.
func NewRDMAPair(bufferDepth int) (a, b *RDMAChannel) {
	if bufferDepth <= 0 {
		bufferDepth = 1
	}
	c1 := make(chan Frame, bufferDepth)
	c2 := make(chan Frame, bufferDepth)
	a = &RDMAChannel{out: c1, in: c2, closed: make(chan struct{})}
	b = &RDMAChannel{out: c2, in: c1, closed: make(chan struct{})}
	return a, b
}

// WriteFrame implements Channel. The frame's body is handed to the peer by
// reference, simulating a zero-copy registered-memory transfer.
func (c *RDMAChannel) WriteFrame(f Frame) error {
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}
	select {
	case c.out <- f:
		return nil
	case <-c.closed:
		return ErrChannelClosed
	}
}

// ReadFrame implements Channel.
func (c *RDMAChannel) ReadFrame() (Frame, error) {
	select {
	case f, ok := <-c.in:
		if !ok {
			return Frame{}, ErrChannelClosed
		}
		return f, nil
	case <-c.closed:
		return Frame{}, ErrChannelClosed
	}
}

// Close implements Channel. Close is idempotent and safe to call from
// either peer; it does not close the shared channels themselves (the peer
// may still be draining them), only this end's visibility into them.
func (c *RDMAChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
