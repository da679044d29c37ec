package searchcluster

import (
	"context"
	"sync"
)

// FakeClient is an in-memory Client used by tests.
type FakeClient struct {
	mu sync.Mutex

	LastIndexed    map[string]uint64
	LastIndexedABI map[string]uint64
	MissedDocs     []MissedBlocksDoc
	ScriptInstalls int

	WriteMissedBlocksDocErr error
}

// NewFakeClient creates an empty fake with no chains indexed.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		LastIndexed:    make(map[string]uint64),
		LastIndexedABI: make(map[string]uint64),
	}
}

func (f *FakeClient) LastIndexedBlock(_ context.Context, chain string) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	block, ok := f.LastIndexed[chain]
	return block, ok, nil
}

func (f *FakeClient) LastIndexedABIBlock(_ context.Context, chain string) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	block, ok := f.LastIndexedABI[chain]
	return block, ok, nil
}

// ProbeIndexedBlock reports hi as indexed if it is <= the chain's last
// indexed block, and lo otherwise; this mirrors the boundary-search
// behavior the Fleet Planner needs without implementing a real probe.
func (f *FakeClient) ProbeIndexedBlock(_ context.Context, chain string, lo, hi uint64) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	last, ok := f.LastIndexed[chain]
	if !ok {
		return lo, false, nil
	}
	if hi <= last {
		return hi, true, nil
	}
	return lo, lo <= last, nil
}

func (f *FakeClient) InstallUpdateByBlockScript(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ScriptInstalls++
	return nil
}

func (f *FakeClient) WriteMissedBlocksDoc(_ context.Context, doc MissedBlocksDoc) error {
	if f.WriteMissedBlocksDocErr != nil {
		return f.WriteMissedBlocksDocErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MissedDocs = append(f.MissedDocs, doc)
	return nil
}
