package remoteflush

import "time"

// Config holds the embedding application's remote-flush settings, mirroring
// the (remote_enabled, memory_node_endpoints, worker_endpoints, rdma_enabled,
// per_step_timeout_ms, max_in_flight_flushes, experimental_mempurge_threshold)
// record named in spec.md's external interfaces, expressed as a plain Go
// struct the way internal/table's BuilderOptions is a plain struct rather
// than a builder type.
type Config struct {
	// RemoteEnabled gates the whole subsystem off; when false every flush
	// takes the local path and no network endpoints are probed.
	RemoteEnabled bool

	// MemoryNodeEndpoints is the prioritized candidate list MatchMemNode
	// probes, in order, until one accepts.
	MemoryNodeEndpoints []string

	// WorkerEndpoints is the candidate list MatchRemoteWorker probes for a
	// free worker.
	WorkerEndpoints []string

	// RDMAEnabled advertises CapRDMA in HELLO and prefers an RDMAChannel
	// for bulk memtable image transfer when the peer also advertises it.
	RDMAEnabled bool

	// PerStepTimeoutMS bounds every individual network step (probe, pack,
	// fetch, run, result). Retryable errors are retried up to MaxRetries
	// times with exponential backoff before surfacing.
	PerStepTimeoutMS int

	// MaxInFlightFlushes bounds how many RunRemote calls a generator may
	// have outstanding simultaneously across all column families.
	MaxInFlightFlushes int

	// ExperimentalMempurgeThreshold, when nonzero, runs a garbage-collecting
	// pre-filter over picked memtables before PackLocal; see DESIGN.md for
	// why this runs on the generator rather than the worker.
	ExperimentalMempurgeThreshold float64

	// DoubleCheck enables the tagged debug wire mode for the table
	// properties codec and is forwarded to the worker in RunRequest.
	DoubleCheck bool

	// MaxRetries bounds the retry count for TransportTimeout/NoWorker.
	MaxRetries int
}

// DefaultConfig returns the zero-value-safe configuration: remote flush
// disabled, conservative timeouts, no retries.
func DefaultConfig() Config {
	return Config{
		RemoteEnabled:      false,
		PerStepTimeoutMS:   5000,
		MaxInFlightFlushes: 1,
		MaxRetries:         2,
	}
}

// StepTimeout returns PerStepTimeoutMS as a time.Duration.
func (c Config) StepTimeout() time.Duration {
	return time.Duration(c.PerStepTimeoutMS) * time.Millisecond
}
