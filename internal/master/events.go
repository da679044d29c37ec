package master

import "encoding/json"

// EventKind is the closed enum of upstream worker-to-master message
// kinds the Message Router dispatches on. EventUnknown covers every
// event string the router does not recognize.
type EventKind string

const (
	EventConsumedBlock        EventKind = "consumed_block"
	EventInitABI              EventKind = "init_abi"
	EventRouterReady          EventKind = "router_ready"
	EventSaveABI              EventKind = "save_abi"
	EventCompleted            EventKind = "completed"
	EventAddIndex             EventKind = "add_index"
	EventDSReport             EventKind = "ds_report"
	EventDSError              EventKind = "ds_error"
	EventReadBlock            EventKind = "read_block"
	EventNewSchedule          EventKind = "new_schedule"
	EventContractUsageReport  EventKind = "contract_usage_report"
	EventDSReady              EventKind = "ds_ready"
	EventUnknown              EventKind = ""
)

// monitorType is the inert monitoring variant's type discriminator.
// Messages carrying it have no "event" field at all.
const monitorType = "axm:monitor"

// Message is an upstream worker-to-master message. Only the fields
// relevant to Event are populated; the rest are the zero value. SenderID
// is filled in by the router from the originating worker handle, not
// decoded from the wire payload.
type Message struct {
	Event    EventKind       `json:"event,omitempty"`
	Type     string          `json:"type,omitempty"`
	SenderID int64           `json:"-"`

	Live         bool            `json:"live,omitempty"`
	BlockNum     int64           `json:"block_num,omitempty"`
	Producer     string          `json:"producer,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	ID           *int64          `json:"id,omitempty"`
	Size         int64           `json:"size,omitempty"`
	Actions      int64           `json:"actions,omitempty"`
	Deltas       int64           `json:"deltas,omitempty"`
	TotalHits    int64           `json:"total_hits,omitempty"`
	LiveMode     bool            `json:"live_mode,omitempty"`
	WorkerID     int64           `json:"worker_id,omitempty"`
	NewProducers *newProducers   `json:"new_producers,omitempty"`
}

type newProducers struct {
	Producers []string `json:"producers"`
}

// Kind classifies a decoded Message into the closed event enum, folding
// the inert monitoring variant and any unrecognized event string into
// EventUnknown.
func (m Message) Kind() EventKind {
	if m.Type == monitorType {
		return EventUnknown
	}
	switch m.Event {
	case EventConsumedBlock, EventInitABI, EventRouterReady, EventSaveABI,
		EventCompleted, EventAddIndex, EventDSReport, EventDSError,
		EventReadBlock, EventNewSchedule, EventContractUsageReport, EventDSReady:
		return m.Event
	default:
		return EventUnknown
	}
}

// IsMonitorVariant reports whether m is the opaque, recognized-but-inert
// monitoring message.
func (m Message) IsMonitorVariant() bool {
	return m.Type == monitorType
}

// DownstreamEvent is the closed enum of master-to-worker message kinds.
type DownstreamEvent string

const (
	DownInitializeABI  DownstreamEvent = "initialize_abi"
	DownConnectWS      DownstreamEvent = "connect_ws"
	DownUpdateABI      DownstreamEvent = "update_abi"
	DownNewRange       DownstreamEvent = "new_range"
	DownRemoveContract DownstreamEvent = "remove_contract"
	DownUpdatePoolMap  DownstreamEvent = "update_pool_map"
	DownStop           DownstreamEvent = "stop"
)

// DownstreamMessage is a master-to-worker message, either targeted at a
// single worker or broadcast to every worker.
type DownstreamMessage struct {
	Event  DownstreamEvent `json:"event"`
	Target int64           `json:"target,omitempty"`
	Data   any             `json:"data,omitempty"`
}

// NewRangeData is the payload of a new_range downstream message.
type NewRangeData struct {
	FirstBlock int64 `json:"first_block"`
	LastBlock  int64 `json:"last_block"`
}

// RemoveContractData is the payload of a remove_contract downstream message.
type RemoveContractData struct {
	Contract string `json:"contract"`
}
