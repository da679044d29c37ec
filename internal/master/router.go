package master

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/emperorhan/chain-master/internal/metrics"
)

// Outbound is a downstream message the router decided to send, either
// targeted at one worker (by registry id) or broadcast to every worker.
type Outbound struct {
	Broadcast bool
	TargetID  int64
	Message   DownstreamMessage
}

// Router is the Message Router, C4: a single-threaded dispatch table
// over the closed upstream event enum. It owns the six per-tick counters
// the Progress Monitor folds in, the one-time ABI-broadcast dedup state,
// and the schedule-version counter handed to the Live-Block Tracker.
type Router struct {
	chain      string
	registry   *Registry
	dispatcher *ReaderDispatcher
	live       *LiveBlockTracker
	balancer   *Balancer
	logger     *slog.Logger

	counters             TickCounters
	lastProcessedBlockNum int64
	scheduleVersion       int64

	abiReceived bool
	afterFunc   func(time.Duration, func())
	broadcast   func(DownstreamMessage)

	doctorID           *int64
	onDoctorCompleted  func()
	writeErrorLine     func(json.RawMessage) error
}

// NewRouter creates a router wired to its collaborating components. The
// broadcast hook defaults to a no-op; callers must set it with
// SetBroadcastFunc before handling any init_abi events.
func NewRouter(chain string, registry *Registry, dispatcher *ReaderDispatcher, live *LiveBlockTracker, balancer *Balancer, logger *slog.Logger) *Router {
	return &Router{
		chain:      chain,
		registry:   registry,
		dispatcher: dispatcher,
		live:       live,
		balancer:   balancer,
		logger:     logger.With("component", "router"),
		afterFunc:  func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		broadcast:  func(DownstreamMessage) {},
	}
}

// SetBroadcastFunc installs the hook used to broadcast a message to
// every live worker, including the 1-second-delayed initialize_abi
// broadcast.
func (r *Router) SetBroadcastFunc(f func(DownstreamMessage)) { r.broadcast = f }

// SetErrorLineWriter installs the hook that appends one JSON line per
// ds_error event to the deserialization error log.
func (r *Router) SetErrorLineWriter(f func(json.RawMessage) error) { r.writeErrorLine = f }

// SetDoctorID arms repair-mode dispatch for completed{id}. Per the
// repair-mode Non-goal this should never be called with a non-nil value
// in normal operation.
func (r *Router) SetDoctorID(id *int64) { r.doctorID = id }

// SetDoctorCompletedHook installs the callback invoked when a completed
// event's id matches the armed doctor id.
func (r *Router) SetDoctorCompletedHook(f func()) { r.onDoctorCompleted = f }

// Counters returns the accumulated per-tick counters.
func (r *Router) Counters() TickCounters { return r.counters }

// ResetCounters zeroes the six per-tick counters, called by the engine
// immediately after handing them to the Progress Monitor.
func (r *Router) ResetCounters() { r.counters = TickCounters{} }

// LastProcessedBlockNum returns the highest non-live consumed_block
// block_num observed.
func (r *Router) LastProcessedBlockNum() int64 { return r.lastProcessedBlockNum }

// HandleMessage dispatches one upstream message from senderID and
// returns the downstream messages, if any, the caller should deliver.
func (r *Router) HandleMessage(ctx context.Context, senderID int64, msg Message) []Outbound {
	kind := msg.Kind()
	if kind != EventUnknown {
		metrics.RouterEventsTotal.WithLabelValues(r.chain, string(kind)).Inc()
	}

	switch kind {
	case EventConsumedBlock:
		return r.handleConsumedBlock(ctx, msg)
	case EventInitABI:
		r.handleInitABI(msg)
		return nil
	case EventRouterReady:
		return []Outbound{{Broadcast: true, Message: DownstreamMessage{Event: DownConnectWS}}}
	case EventSaveABI:
		return r.handleSaveABI(senderID, msg)
	case EventCompleted:
		return r.handleCompleted(senderID, msg)
	case EventAddIndex:
		r.counters.IndexedObjects += msg.Size
		return nil
	case EventDSReport:
		r.counters.DeserializedActions += msg.Actions
		r.counters.DeserializedDeltas += msg.Deltas
		return nil
	case EventDSError:
		r.handleDSError(msg)
		return nil
	case EventReadBlock:
		if msg.Live {
			r.counters.LivePushedBlocks++
		} else {
			r.counters.PushedBlocks++
		}
		return nil
	case EventNewSchedule:
		r.handleNewSchedule(msg)
		return nil
	case EventContractUsageReport:
		r.handleContractUsageReport(msg)
		return nil
	case EventDSReady:
		r.logger.Debug("ds_ready", "worker_id", senderID)
		return nil
	default:
		if msg.IsMonitorVariant() {
			r.logger.Debug("axm:monitor", "worker_id", senderID)
		} else {
			metrics.RouterUnknownEventsTotal.WithLabelValues(r.chain).Inc()
		}
		return nil
	}
}

func (r *Router) handleConsumedBlock(ctx context.Context, msg Message) []Outbound {
	if !msg.Live {
		r.counters.ConsumedBlocks++
		if msg.BlockNum > r.lastProcessedBlockNum {
			r.lastProcessedBlockNum = msg.BlockNum
		}
		return nil
	}

	r.live.Apply(ctx, LiveBlockMsg{BlockNum: msg.BlockNum, Producer: msg.Producer})
	metrics.LiveBlocksBuffered.WithLabelValues(r.chain).Set(float64(r.live.BufferedCount()))
	return nil
}

// handleInitABI stores the ABI on first occurrence only and schedules a
// 1-second-delayed broadcast; later occurrences are no-ops.
func (r *Router) handleInitABI(msg Message) {
	if r.abiReceived {
		return
	}
	r.abiReceived = true

	data := msg.Data
	r.afterFunc(time.Second, func() {
		r.broadcast(DownstreamMessage{Event: DownInitializeABI, Data: data})
	})
}

// handleSaveABI forwards update_abi to every deserializer other than the
// sender.
func (r *Router) handleSaveABI(senderID int64, msg Message) []Outbound {
	var out []Outbound
	for _, w := range r.registry.All() {
		if w.Role == RoleDeserializer && w.ID != senderID {
			out = append(out, Outbound{
				TargetID: w.ID,
				Message:  DownstreamMessage{Event: DownUpdateABI, Data: msg.Data},
			})
		}
	}
	return out
}

// handleCompleted branches on repair mode (doctor dispatch, never armed
// in normal operation) versus the ordinary range-reader path.
func (r *Router) handleCompleted(senderID int64, msg Message) []Outbound {
	if r.doctorID != nil && msg.ID != nil && *msg.ID == *r.doctorID {
		if r.onDoctorCompleted != nil {
			r.onDoctorCompleted()
		}
		return nil
	}

	next, ok := r.dispatcher.OnCompletion()
	if !ok {
		return nil
	}

	metrics.RangesDispatched.WithLabelValues(r.chain).Inc()
	metrics.ActiveReaders.WithLabelValues(r.chain).Set(float64(r.dispatcher.ActiveReaders))
	metrics.LastAssignedBlock.WithLabelValues(r.chain).Set(float64(r.dispatcher.LastAssignedBlock))

	return []Outbound{{
		TargetID: senderID,
		Message: DownstreamMessage{
			Event: DownNewRange,
			Data:  NewRangeData{FirstBlock: next.FirstBlock, LastBlock: next.LastBlock},
		},
	}}
}

func (r *Router) handleDSError(msg Message) {
	if r.writeErrorLine == nil {
		return
	}
	if err := r.writeErrorLine(msg.Data); err != nil {
		r.logger.Error("failed to write deserialization error line", "err", err)
	}
}

// handleNewSchedule replaces the active producer schedule; live mode
// only, per spec.
func (r *Router) handleNewSchedule(msg Message) {
	if !msg.Live || msg.NewProducers == nil {
		return
	}
	r.scheduleVersion++
	r.live.UpdateSchedule(r.scheduleVersion, msg.NewProducers.Producers)
}

func (r *Router) handleContractUsageReport(msg Message) {
	var hits map[string]int64
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &hits); err != nil {
			r.logger.Error("failed to decode contract usage report", "err", err)
			return
		}
	}
	r.balancer.RecordUsageReport(msg.TotalHits, hits)
}
