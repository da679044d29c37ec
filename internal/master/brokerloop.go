package master

import (
	"context"
	"fmt"

	"github.com/emperorhan/chain-master/internal/broker"
	"github.com/emperorhan/chain-master/internal/supervisor"
)

// downstreamQueue returns the queue a worker's downstream traffic is
// published to. Deserializers and ingestors already carry the queue
// name the Fleet Planner assigned them (planner.go's
// "<chain>:blocks:<k>" / "<chain>:live_blocks" / "<chain>:index_<type>:<k>"
// scheme, per transport.go); every other role gets a per-worker control
// queue, since readers and the router are driven purely by control
// messages (new_range, stop, update_abi, ...) rather than a work queue.
func downstreamQueue(chain string, def WorkerDef) string {
	switch {
	case def.Deserializer != nil:
		return def.Deserializer.WorkerQueue
	case def.Ingestor != nil:
		return def.Ingestor.Queue
	default:
		return fmt.Sprintf("%s:worker:%d:ctl", chain, def.ID)
	}
}

// reportQueue is where a worker publishes its upstream router events
// (consumed_block, ds_report, completed, ...), regardless of role.
func reportQueue(chain string, def WorkerDef) string {
	return fmt.Sprintf("%s:reports:%d", chain, def.ID)
}

// NewBrokerWorkerLoopFactory builds a WorkerLoopFactory that bridges a
// spawned worker's supervisor.Message traffic onto transport queues
// instead of the in-process loopback supervisor.NewLoopbackHandle
// supplies for tests: a downstream message the engine sends is
// published to the worker's control/work queue, and a message the
// worker publishes to its report queue is decoded and delivered back to
// the engine as an upstream Message. This is the shim a real
// out-of-process worker binary reads and writes on the other end of
// transport; the worker implementations themselves are out of scope
// here.
func NewBrokerWorkerLoopFactory(chain string, transport broker.Transport) WorkerLoopFactory {
	return func(def WorkerDef) supervisor.WorkerLoop {
		downQueue := downstreamQueue(chain, def)
		upQueue := reportQueue(chain, def)

		return func(ctx context.Context, send <-chan supervisor.Message, recv chan<- supervisor.Message) {
			publishDone := make(chan struct{})
			go func() {
				defer close(publishDone)
				for {
					select {
					case <-ctx.Done():
						return
					case envelope, ok := <-send:
						if !ok {
							return
						}
						if envelope.Kind != downstreamKind {
							continue
						}
						if _, err := transport.PublishJSON(ctx, downQueue, envelope.Payload); err != nil {
							return
						}
					}
				}
			}()

			afterID, _ := transport.LoadStreamCheckpoint(ctx, upQueue)
			for {
				var msg Message
				id, err := transport.ReadJSON(ctx, upQueue, afterID, &msg)
				if err != nil {
					<-publishDone
					return
				}
				afterID = id
				_ = transport.PersistStreamCheckpoint(ctx, upQueue, id)

				select {
				case recv <- supervisor.Message{Kind: upstreamKind, Payload: msg}:
				case <-ctx.Done():
					<-publishDone
					return
				}
			}
		}
	}
}
