package remoteflush

// errors.go defines the remote flush error taxonomy and the Status value
// the generator-side state machine returns from each step, mirroring the
// style of manifest's and flush's sentinel-error-plus-wrapping approach.

import (
	"errors"
	"fmt"
)

// Sentinel errors for the remote flush taxonomy. Category is recovered via
// errors.Is against these, and RemoteFailed/LocalFailed additionally carry
// a free-form reason string.
var (
	// ErrNoMemNode is returned by MatchMemNode when every candidate endpoint
	// was probed and none accepted.
	ErrNoMemNode = errors.New("remoteflush: no memory node available")

	// ErrNoWorker is returned by MatchRemoteWorker when no worker was free
	// within the caller-bounded probe budget.
	ErrNoWorker = errors.New("remoteflush: no worker available")

	// ErrTransportClosed is returned when a Channel reports a closed
	// connection mid-protocol.
	ErrTransportClosed = errors.New("remoteflush: transport closed")

	// ErrTransportTimeout is returned when a per-step deadline elapses
	// before the expected frame arrives.
	ErrTransportTimeout = errors.New("remoteflush: transport timeout")

	// ErrProtocolViolation is returned when a peer sends a frame kind or
	// body that violates the expected sequence. It is fatal: both peers
	// close the connection and the job transitions to Failed.
	ErrProtocolViolation = errors.New("remoteflush: protocol violation")

	// ErrOutOfCapacity is returned by a memory node's OFFER_ACK when it is
	// over its configured byte budget. The generator falls back to the
	// local flush path on this error.
	ErrOutOfCapacity = errors.New("remoteflush: memory node out of capacity")

	// ErrCancelled is returned when Cancel preempted an in-flight step.
	ErrCancelled = errors.New("remoteflush: cancelled")

	// ErrShuttingDown is returned when shutting_down was observed true at a
	// poll point.
	ErrShuttingDown = errors.New("remoteflush: shutting down")

	// ErrNoEligibleMemtables is returned by PickMemTable when the column
	// family's immutable list has no memtable with id <= max_memtable_id.
	ErrNoEligibleMemtables = errors.New("remoteflush: no eligible memtables")

	// ErrWrongState is returned when an operation is invoked from a state
	// that does not permit it (e.g. MatchMemNode before PickMemTable).
	ErrWrongState = errors.New("remoteflush: operation invalid in current state")
)

// RemoteFailed reports a failure surfaced by the remote worker, carrying
// its free-form reason text (worker-side errors aren't sentinel-typed
// across the wire).
type RemoteFailed struct {
	Reason string
}

func (e *RemoteFailed) Error() string {
	return fmt.Sprintf("remoteflush: remote failed: %s", e.Reason)
}

// LocalFailed reports a failure in the local fallback path.
type LocalFailed struct {
	Reason string
}

func (e *LocalFailed) Error() string {
	return fmt.Sprintf("remoteflush: local failed: %s", e.Reason)
}

// Status is the category+message pair returned to the embedding
// application, mirroring rocksdb.Status: a listener-visible summary of how
// a RunRemote/RunLocal call ended.
type Status struct {
	Category string
	Message  string
	Err      error
}

// OK reports whether the status represents success.
func (s Status) OK() bool {
	return s.Err == nil
}

// StatusOK is the zero-cost success status.
var StatusOK = Status{Category: "OK"}

// NewStatus wraps err into a Status, categorizing it against the sentinel
// taxonomy above. Unrecognized errors are categorized "Unknown".
func NewStatus(err error) Status {
	if err == nil {
		return StatusOK
	}
	category := "Unknown"
	switch {
	case errors.Is(err, ErrNoMemNode):
		category = "NoMemNode"
	case errors.Is(err, ErrNoWorker):
		category = "NoWorker"
	case errors.Is(err, ErrTransportClosed):
		category = "TransportClosed"
	case errors.Is(err, ErrTransportTimeout):
		category = "TransportTimeout"
	case errors.Is(err, ErrProtocolViolation):
		category = "ProtocolViolation"
	case errors.Is(err, ErrOutOfCapacity):
		category = "OutOfCapacity"
	case errors.Is(err, ErrCancelled):
		category = "Cancelled"
	case errors.Is(err, ErrShuttingDown):
		category = "ShuttingDown"
	default:
		var rf *RemoteFailed
		var lf *LocalFailed
		if errors.As(err, &rf) {
			category = "RemoteFailed"
		} else if errors.As(err, &lf) {
			category = "LocalFailed"
		}
	}
	return Status{Category: category, Message: err.Error(), Err: err}
}

// retryable reports whether err should be retried (with backoff) against a
// different candidate rather than surfaced immediately, per spec: only
// TransportTimeout and NoWorker recover automatically.
func retryable(err error) bool {
	return errors.Is(err, ErrTransportTimeout) || errors.Is(err, ErrNoWorker)
}
