package master

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/emperorhan/chain-master/internal/metrics"
)

// ContractUsage is the globalUsageMap entry for one contract: the named
// record replacement for the untyped three-element [hits, share,
// workers] array the source uses.
type ContractUsage struct {
	CurrentHits       int64
	LastShare         float64
	AssignedWorkerIDs []int
}

// RemoveContractMsg is a downstream remove_contract instruction targeted
// at a single ds-pool worker.
type RemoveContractMsg struct {
	WorkerID int
	Contract string
}

// Balancer is the Contract-Usage Balancer, C6. On a 5-second tick it
// recomputes each contract's share of total hits and greedily spreads
// that share across the ds-pool workers, capped at 1/pool_size per
// worker, then the caller broadcasts the updated usage map.
type Balancer struct {
	chain    string
	poolSize int
	logger   *slog.Logger

	usage             map[string]*ContractUsage
	totalContractHits int64
}

// NewBalancer creates a balancer over a ds-pool of poolSize workers.
func NewBalancer(chain string, poolSize int, logger *slog.Logger) *Balancer {
	return &Balancer{
		chain:    chain,
		poolSize: poolSize,
		logger:   logger.With("component", "balancer"),
		usage:    make(map[string]*ContractUsage),
	}
}

// RecordUsageReport folds a contract_usage_report event into the usage map.
func (b *Balancer) RecordUsageReport(totalHits int64, hits map[string]int64) {
	b.totalContractHits += totalHits
	for contract, h := range hits {
		entry := b.usage[contract]
		if entry == nil {
			entry = &ContractUsage{}
			b.usage[contract] = entry
		}
		entry.CurrentHits += h
	}
}

// Tick runs one balancer pass over every known contract and returns the
// remove_contract instructions to send. Contracts are processed in
// sorted order so that, given identical usage input, the greedy fill
// assigns the same worker ids run over run.
func (b *Balancer) Tick() []RemoveContractMsg {
	metrics.BalancerTicksTotal.WithLabelValues(b.chain).Inc()
	if b.totalContractHits == 0 {
		return nil
	}

	workerShares := make([]float64, b.poolSize)
	workerMaxPct := 1.0 / float64(b.poolSize)

	contracts := make([]string, 0, len(b.usage))
	for c := range b.usage {
		contracts = append(contracts, c)
	}
	sort.Strings(contracts)

	var removals []RemoveContractMsg
	for _, code := range contracts {
		entry := b.usage[code]
		share := float64(entry.CurrentHits) / float64(b.totalContractHits)

		proposed := b.fill(workerShares, workerMaxPct, share)
		removals = append(removals, b.diffAssignment(code, entry, proposed)...)
		entry.AssignedWorkerIDs = proposed
		entry.LastShare = share
	}

	for i, share := range workerShares {
		metrics.BalancerWorkerShare.WithLabelValues(b.chain, fmt.Sprintf("ds-%d", i)).Set(share)
	}
	if len(removals) > 0 {
		metrics.BalancerReassignmentsTotal.WithLabelValues(b.chain).Add(float64(len(removals)))
	}

	return removals
}

// fill greedily spreads share across workers 0..pool_size-1, skipping
// any worker already at cap, and returns the ids it assigned to.
func (b *Balancer) fill(workerShares []float64, workerMaxPct, share float64) []int {
	var proposed []int
	used := 0.0
	for i := 0; i < len(workerShares) && used < share; i++ {
		if workerShares[i] >= workerMaxPct {
			continue
		}
		rem := share - used
		avail := workerMaxPct - workerShares[i]
		delta := rem
		if avail < delta {
			delta = avail
		}
		workerShares[i] += delta
		used += delta
		proposed = append(proposed, i)
	}
	return proposed
}

func (b *Balancer) diffAssignment(code string, entry *ContractUsage, proposed []int) []RemoveContractMsg {
	oldSet := toIntSet(entry.AssignedWorkerIDs)
	newSet := toIntSet(proposed)

	var removed []int
	for id := range oldSet {
		if !newSet[id] {
			removed = append(removed, id)
		}
	}
	sort.Ints(removed)

	removals := make([]RemoveContractMsg, 0, len(removed))
	for _, id := range removed {
		removals = append(removals, RemoveContractMsg{WorkerID: id, Contract: code})
	}

	var added []int
	for id := range newSet {
		if !oldSet[id] {
			added = append(added, id)
		}
	}
	sort.Ints(added)
	for _, id := range added {
		b.logger.Info("contract assigned to worker", "contract", code, "worker", id)
	}

	return removals
}

func toIntSet(ids []int) map[int]bool {
	s := make(map[int]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

// UsageSnapshot returns a stable copy of the usage map, for the
// update_pool_map broadcast payload.
func (b *Balancer) UsageSnapshot() map[string]ContractUsage {
	snap := make(map[string]ContractUsage, len(b.usage))
	for k, v := range b.usage {
		snap[k] = *v
	}
	return snap
}
