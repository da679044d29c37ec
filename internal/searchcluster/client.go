// Package searchcluster abstracts the search-cluster boundary the master
// reads and writes indexing progress markers through. No index/mapping
// management or query surface is modeled here — only the operations the
// Fleet Planner and Live-Block Tracker depend on.
package searchcluster

import "context"

// MissedBlocksDoc records a producer's missed live-block rounds for
// operator visibility. It mirrors the missed_blocks document shape
// written to the <chain>-logs index: producer, the block the gap was
// detected at, how many blocks were missed, and the schedule version in
// effect at the time.
type MissedBlocksDoc struct {
	Chain           string
	Producer        string
	LastBlock       int64
	Size            int64
	ScheduleVersion int64
	Rounds          []int64
}

// Client is the search-cluster boundary. Concrete implementations (backed
// by whatever cluster the deployment uses) live outside this module; only
// the contract is specified here.
type Client interface {
	// LastIndexedBlock returns the highest block number committed to the
	// cluster for chain, or ok=false if nothing has been indexed yet.
	LastIndexedBlock(ctx context.Context, chain string) (block uint64, ok bool, err error)

	// LastIndexedABIBlock returns the highest block number whose ABI-scan
	// pass has been committed, or ok=false if none has.
	LastIndexedABIBlock(ctx context.Context, chain string) (block uint64, ok bool, err error)

	// ProbeIndexedBlock checks whether a specific block in [lo, hi] has
	// been indexed, used by the Fleet Planner to binary-search the
	// boundary between indexed and unindexed history.
	ProbeIndexedBlock(ctx context.Context, chain string, lo, hi uint64) (block uint64, ok bool, err error)

	// InstallUpdateByBlockScript installs or verifies the stored script the
	// cluster uses to apply partial per-block updates idempotently.
	InstallUpdateByBlockScript(ctx context.Context) error

	// WriteMissedBlocksDoc records a missed-round observation. Failures
	// are swallowed by callers (best-effort operator visibility), so this
	// method's errors matter only to CircuitBreakerClient.
	WriteMissedBlocksDoc(ctx context.Context, doc MissedBlocksDoc) error
}
