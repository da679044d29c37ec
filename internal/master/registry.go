package master

import (
	"sync"

	"github.com/emperorhan/chain-master/internal/supervisor"
)

// Registry is the Worker Registry, C1: the authoritative table of every
// worker the master has created. Ids are assigned monotonically and never
// reused. A secondary index maps ds-pool local ids to their WorkerDef,
// since the balancer addresses ds-pool workers by local id rather than by
// registry id.
type Registry struct {
	mu         sync.Mutex
	nextID     int64
	workers    []*WorkerDef
	dsPoolByID map[int]*WorkerDef
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{dsPoolByID: make(map[int]*WorkerDef)}
}

// Add assigns the next id to def, stores it, and returns the assigned id.
func (r *Registry) Add(def WorkerDef) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	def.ID = r.nextID
	stored := def
	r.workers = append(r.workers, &stored)
	if stored.Role == RoleDSPoolWorker && stored.DSPoolWorker != nil {
		r.dsPoolByID[stored.DSPoolWorker.LocalID] = &stored
	}
	return stored.ID
}

// All returns every registered WorkerDef, in registration order.
func (r *Registry) All() []*WorkerDef {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*WorkerDef, len(r.workers))
	copy(out, r.workers)
	return out
}

// Get looks up a worker by registry id.
func (r *Registry) Get(id int64) (*WorkerDef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.workers {
		if w.ID == id {
			return w, true
		}
	}
	return nil, false
}

// ByLocalID looks up a ds-pool worker by its pool-local id.
func (r *Registry) ByLocalID(localID int) (*WorkerDef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.dsPoolByID[localID]
	return w, ok
}

// SetHandle attaches the supervisor handle to a registered worker once
// the Lifecycle Controller has launched it.
func (r *Registry) SetHandle(id int64, handle supervisor.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.workers {
		if w.ID == id {
			w.Handle = handle
			return
		}
	}
}

// Remove drops a worker from the registry, e.g. on disconnect.
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, w := range r.workers {
		if w.ID == id {
			r.workers = append(r.workers[:i], r.workers[i+1:]...)
			if w.Role == RoleDSPoolWorker && w.DSPoolWorker != nil {
				delete(r.dsPoolByID, w.DSPoolWorker.LocalID)
			}
			return
		}
	}
}

// Count returns the number of currently registered workers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}
