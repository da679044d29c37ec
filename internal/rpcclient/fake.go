package rpcclient

import (
	"context"
	"sync"
)

// FakeClient is an in-memory Client used by tests.
type FakeClient struct {
	mu    sync.Mutex
	Heads map[string]uint64
	Err   error
	Calls int
}

// NewFakeClient creates a fake reporting head for each configured chain.
func NewFakeClient(heads map[string]uint64) *FakeClient {
	return &FakeClient{Heads: heads}
}

func (f *FakeClient) HeadBlock(_ context.Context, chain string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.Err != nil {
		return 0, f.Err
	}
	return f.Heads[chain], nil
}
