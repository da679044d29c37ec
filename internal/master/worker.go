// Package master implements the orchestration engine: the worker fleet
// planner, reader-dispatch loop, contract-usage balancer, live-block
// producer-schedule tracker, and the message router/monitor/auto-stop
// state machine that ties them together.
package master

import "github.com/emperorhan/chain-master/internal/supervisor"

// Role identifies a worker's kind. WorkerDef is a tagged variant over
// Role: shared fields (ID, Handle) are common to every worker, while each
// role carries its own typed attribute struct, only one of which is
// populated for a given WorkerDef.
type Role string

const (
	RoleReader           Role = "reader"
	RoleContinuousReader Role = "continuous_reader"
	RoleDeserializer     Role = "deserializer"
	RoleIngestor         Role = "ingestor"
	RoleRouter           Role = "router"
	RoleDSPoolWorker     Role = "ds_pool_worker"
)

// ReaderAttrs is carried by RoleReader workers.
type ReaderAttrs struct {
	FirstBlock int64
	LastBlock  int64
}

// ContinuousReaderAttrs is carried by RoleContinuousReader workers.
type ContinuousReaderAttrs struct {
	WorkerLastProcessedBlock int64
}

// DeserializerAttrs is carried by RoleDeserializer workers.
type DeserializerAttrs struct {
	WorkerQueue string
	LiveMode    bool
}

// IngestorAttrs is carried by RoleIngestor workers. Type is one of
// "action", "delta", "abi", "block", "logs", or "table-<name>".
type IngestorAttrs struct {
	Queue string
	Type  string
}

// DSPoolWorkerAttrs is carried by RoleDSPoolWorker workers.
type DSPoolWorkerAttrs struct {
	LocalID int
}

// WorkerDef is an assignment record created by the Fleet Planner and
// tracked by the Worker Registry. Handle is the zero value until the
// Lifecycle Controller launches the worker.
type WorkerDef struct {
	ID     int64
	Role   Role
	Handle supervisor.Handle

	Reader           *ReaderAttrs
	ContinuousReader *ContinuousReaderAttrs
	Deserializer     *DeserializerAttrs
	Ingestor         *IngestorAttrs
	DSPoolWorker     *DSPoolWorkerAttrs
}
