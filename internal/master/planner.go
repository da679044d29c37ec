package master

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emperorhan/chain-master/internal/config"
	"github.com/emperorhan/chain-master/internal/rpcclient"
	"github.com/emperorhan/chain-master/internal/searchcluster"
)

// PlanResult is the outcome of a fleet-planning pass: the resolved block
// range plus the full set of workers the Lifecycle Controller should
// launch, in creation order.
type PlanResult struct {
	StartingBlock     int64
	Head              int64
	ChainHead         int64
	MaxReaders        int
	ActiveReaderCount int
	LastAssignedBlock int64
	Workers           []WorkerDef
}

// Planner is the Fleet Planner, C2. It resolves the block range to index
// and decides the full worker fleet for a single run, in the five-step
// order: starting block, head, max readers, then worker creation.
type Planner struct {
	chain  string
	rpc    rpcclient.Client
	search searchcluster.Client
	logger *slog.Logger
}

// NewPlanner builds a Planner for chain, backed by rpc for chain-head
// queries and search for search-cluster marker lookups.
func NewPlanner(chain string, rpc rpcclient.Client, search searchcluster.Client, logger *slog.Logger) *Planner {
	return &Planner{
		chain:  chain,
		rpc:    rpc,
		search: search,
		logger: logger.With("component", "planner"),
	}
}

// Plan resolves the block range and decides the fleet for this run.
func (p *Planner) Plan(ctx context.Context, cfg *config.Config) (*PlanResult, error) {
	chainHeadU, err := p.rpc.HeadBlock(ctx, p.chain)
	if err != nil {
		return nil, fmt.Errorf("planner: fetch chain head: %w", err)
	}
	chainHead := int64(chainHeadU)

	startingBlock, err := p.resolveStartingBlock(ctx, cfg, chainHead)
	if err != nil {
		return nil, err
	}

	head := chainHead
	if cfg.Indexer.StopOn != 0 {
		head = cfg.Indexer.StopOn
	}

	if cfg.Indexer.ABIScanMode {
		abiBlock, ok, err := p.search.LastIndexedABIBlock(ctx, p.chain)
		if err != nil {
			return nil, fmt.Errorf("planner: read last indexed abi block: %w", err)
		}
		if ok {
			startingBlock = int64(abiBlock)
		}
	}

	maxReaders := cfg.Scaling.Readers
	if cfg.Indexer.DisableReading {
		maxReaders = 1
	}

	result := &PlanResult{
		StartingBlock: startingBlock,
		Head:          head,
		ChainHead:     chainHead,
		MaxReaders:    maxReaders,
	}

	if !cfg.Indexer.DisableReading {
		p.planRangeReaders(cfg, result)
	}
	p.planLivePair(cfg, chainHead, result)
	p.planDeserializers(cfg, result)
	p.planIngestors(cfg, result)
	p.planRouter(cfg, result)
	p.planDSPool(cfg, result)

	return result, nil
}

// resolveStartingBlock implements step 1-2 of the decision order: the
// last-indexed marker, overridden by indexer.start_on, with a probe to
// advance past any block the search cluster already indexed ahead of it.
func (p *Planner) resolveStartingBlock(ctx context.Context, cfg *config.Config, chainHead int64) (int64, error) {
	startingBlock := int64(1)

	lastIndexed, ok, err := p.search.LastIndexedBlock(ctx, p.chain)
	if err != nil {
		return 0, fmt.Errorf("planner: read last indexed block: %w", err)
	}
	if ok {
		startingBlock = int64(lastIndexed)
	}

	if cfg.Indexer.StartOn == 0 {
		return startingBlock, nil
	}
	startingBlock = cfg.Indexer.StartOn

	if cfg.Indexer.Rewrite {
		return startingBlock, nil
	}

	probed, ok, err := p.search.ProbeIndexedBlock(ctx, p.chain, uint64(startingBlock), uint64(chainHead))
	if err != nil {
		return 0, fmt.Errorf("planner: probe indexed block: %w", err)
	}
	if ok && int64(probed) > startingBlock {
		p.logger.Warn("search cluster already indexed ahead of start_on, advancing",
			"start_on", startingBlock, "probed", probed)
		startingBlock = int64(probed)
	}
	return startingBlock, nil
}

// planRangeReaders implements the range-reader half of worker creation:
// batch_size-strided half-open ranges, bounded by max_readers. This is
// the one place last_assigned_block is allowed to overshoot head: the
// increment is always batch_size, even for the final clamped range,
// because the dispatcher's own guard (last_assigned_block < head) is what
// actually stops further assignment, not the exactness of this value.
func (p *Planner) planRangeReaders(cfg *config.Config, result *PlanResult) {
	lastAssigned := result.StartingBlock
	batchSize := int64(cfg.Scaling.BatchSize)
	active := 0

	for active < result.MaxReaders && lastAssigned < result.Head {
		end := lastAssigned + batchSize
		if end > result.Head {
			end = result.Head
		}
		result.Workers = append(result.Workers, WorkerDef{
			Role:   RoleReader,
			Reader: &ReaderAttrs{FirstBlock: lastAssigned, LastBlock: end},
		})
		lastAssigned += batchSize
		active++
	}

	result.ActiveReaderCount = active
	result.LastAssignedBlock = lastAssigned
}

// planLivePair creates the continuous_reader/live-mode deserializer pair
// bound to <chain>:live_blocks, unless live reading is disabled or the
// run is in repair mode.
func (p *Planner) planLivePair(cfg *config.Config, chainHead int64, result *PlanResult) {
	if !cfg.Indexer.LiveReader || cfg.Features.RepairMode {
		return
	}
	result.Workers = append(result.Workers,
		WorkerDef{
			Role:             RoleContinuousReader,
			ContinuousReader: &ContinuousReaderAttrs{WorkerLastProcessedBlock: chainHead},
		},
		WorkerDef{
			Role: RoleDeserializer,
			Deserializer: &DeserializerAttrs{
				WorkerQueue: fmt.Sprintf("%s:live_blocks", p.chain),
				LiveMode:    true,
			},
		},
	)
}

// planDeserializers creates ds_queues*ds_threads deserializers, round
// robin across the <chain>:blocks:1...ds_queues queues.
func (p *Planner) planDeserializers(cfg *config.Config, result *PlanResult) {
	total := cfg.Scaling.DSQueues * cfg.Scaling.DSThreads
	for i := 0; i < total; i++ {
		queueIdx := (i % cfg.Scaling.DSQueues) + 1
		result.Workers = append(result.Workers, WorkerDef{
			Role: RoleDeserializer,
			Deserializer: &DeserializerAttrs{
				WorkerQueue: fmt.Sprintf("%s:blocks:%d", p.chain, queueIdx),
			},
		})
	}
}

type ingestorCatalogueEntry struct {
	typ string
}

// ingestorCatalogue builds the index-queue catalogue: the fixed action,
// block, abi, logs entries, delta gated by features.index_deltas, plus
// one table-<name> entry per enabled table feature.
func ingestorCatalogue(cfg *config.Config) []ingestorCatalogueEntry {
	entries := []ingestorCatalogueEntry{{typ: "action"}}
	if cfg.Features.IndexDeltas {
		entries = append(entries, ingestorCatalogueEntry{typ: "delta"})
	}
	entries = append(entries,
		ingestorCatalogueEntry{typ: "block"},
		ingestorCatalogueEntry{typ: "abi"},
		ingestorCatalogueEntry{typ: "logs"},
	)
	for _, table := range cfg.Features.EnabledTables {
		entries = append(entries, ingestorCatalogueEntry{typ: "table-" + table})
	}
	return entries
}

// planIngestors creates one ingestor group set per catalogue entry:
// indexing_queues groups, each holding ad_idx_queues ingestors for the
// action/delta types or a single ingestor otherwise. The abi type is
// always a single group regardless of indexing_queues. Queue names are
// suffixed :1...:n in creation order within each type.
func (p *Planner) planIngestors(cfg *config.Config, result *PlanResult) {
	for _, entry := range ingestorCatalogue(cfg) {
		groups := cfg.Scaling.IndexingQueues
		if entry.typ == "abi" {
			groups = 1
		}
		perGroup := 1
		if entry.typ == "action" || entry.typ == "delta" {
			perGroup = cfg.Scaling.AdIdxQueues
		}

		k := 0
		for g := 0; g < groups; g++ {
			for i := 0; i < perGroup; i++ {
				k++
				result.Workers = append(result.Workers, WorkerDef{
					Role: RoleIngestor,
					Ingestor: &IngestorAttrs{
						Queue: fmt.Sprintf("%s:index_%s:%d", p.chain, entry.typ, k),
						Type:  entry.typ,
					},
				})
			}
		}
	}
}

// planRouter creates the single router worker, if streaming is enabled.
func (p *Planner) planRouter(cfg *config.Config, result *PlanResult) {
	if !cfg.Features.StreamingEnable {
		return
	}
	result.Workers = append(result.Workers, WorkerDef{Role: RoleRouter})
}

// planDSPool creates exactly ds_pool_size ds-pool workers, local ids
// 0..ds_pool_size-1.
func (p *Planner) planDSPool(cfg *config.Config, result *PlanResult) {
	for localID := 0; localID < cfg.Scaling.DSPoolSize; localID++ {
		result.Workers = append(result.Workers, WorkerDef{
			Role:         RoleDSPoolWorker,
			DSPoolWorker: &DSPoolWorkerAttrs{LocalID: localID},
		})
	}
}
