// Package supervisor runs and tracks the goroutines standing in for the
// master's worker fleet. Each WorkerDef the fleet planner produces gets one
// supervised Handle here; disconnect is modeled as the handle's Recv
// channel closing.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
)

// Message is a generic envelope exchanged between the master and a worker
// handle. Kind and Payload are opaque to the pool; the message router
// interprets them against the worker role that produced them.
type Message struct {
	Kind    string
	Payload any
}

// Handle is how the master talks to one supervised worker.
type Handle struct {
	ID   int64
	Send chan<- Message
	Recv <-chan Message

	stop func()
}

// Stop signals the worker loop backing this handle to exit. It does not
// wait for Recv to close.
func (h Handle) Stop() {
	if h.stop != nil {
		h.stop()
	}
}

// WorkerLoop is the function a Handle runs. It must stop reading from send
// and return (closing recv by returning, per Pool.Spawn) once ctx is done.
type WorkerLoop func(ctx context.Context, send <-chan Message, recv chan<- Message)

// Pool tracks the supervised workers spawned for a worker fleet. In
// production a WorkerLoop is a transport-backed shim that forwards to the
// real out-of-process worker binary over the broker; NewLoopbackHandle
// supplies an in-process fake for tests.
type Pool struct {
	logger *slog.Logger

	mu      sync.Mutex
	handles map[int64]*pooledHandle
}

type pooledHandle struct {
	handle Handle
	cancel context.CancelFunc
}

// NewPool creates an empty pool.
func NewPool(logger *slog.Logger) *Pool {
	return &Pool{
		logger:  logger.With("component", "supervisor"),
		handles: make(map[int64]*pooledHandle),
	}
}

// Spawn starts loop as a supervised goroutine identified by id and returns
// the Handle the caller uses to talk to it. id collisions overwrite the
// previous tracked handle without stopping it; callers are expected to
// assign ids from the worker registry, which never reuses one.
func (p *Pool) Spawn(ctx context.Context, id int64, loop WorkerLoop) Handle {
	workerCtx, cancel := context.WithCancel(ctx)

	send := make(chan Message)
	recv := make(chan Message)

	go func() {
		defer close(recv)
		loop(workerCtx, send, recv)
	}()

	h := Handle{ID: id, Send: send, Recv: recv, stop: cancel}

	p.mu.Lock()
	p.handles[id] = &pooledHandle{handle: h, cancel: cancel}
	p.mu.Unlock()

	p.logger.Info("worker spawned", "worker_id", id)
	return h
}

// Get returns the handle for id, if it is still tracked.
func (p *Pool) Get(id int64) (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ph, ok := p.handles[id]
	if !ok {
		return Handle{}, false
	}
	return ph.handle, true
}

// Remove stops and forgets the worker identified by id. Safe to call after
// the worker has already disconnected on its own.
func (p *Pool) Remove(id int64) {
	p.mu.Lock()
	ph, ok := p.handles[id]
	delete(p.handles, id)
	p.mu.Unlock()

	if ok {
		ph.cancel()
		p.logger.Info("worker removed", "worker_id", id)
	}
}

// Count returns the number of workers currently tracked.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// IDs returns the tracked worker ids in no particular order.
func (p *Pool) IDs() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int64, 0, len(p.handles))
	for id := range p.handles {
		ids = append(ids, id)
	}
	return ids
}

// NewLoopbackHandle builds a WorkerLoop that echoes every message sent to
// it back out on recv, unmodified. Used in tests to exercise pool/router
// wiring without a real worker process.
func NewLoopbackHandle() WorkerLoop {
	return func(ctx context.Context, send <-chan Message, recv chan<- Message) {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-send:
				if !ok {
					return
				}
				select {
				case recv <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
