// Package rpcclient abstracts the chain-node RPC boundary. No chain-specific
// wire protocol is implemented here, only the one fact the Fleet Planner
// needs to make its block-range decisions.
package rpcclient

import "context"

// Client is the chain-node RPC boundary.
type Client interface {
	// HeadBlock returns the latest known block number for chain.
	HeadBlock(ctx context.Context, chain string) (uint64, error)
}
