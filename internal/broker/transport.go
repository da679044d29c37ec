// Package broker provides the message-queue transport used to exchange
// block batches and index jobs between the master and its worker pool.
package broker

import (
	"context"
)

// Transport is the message-queue abstraction the master uses to publish
// work to, and read worker-produced batches from, named queues. Queue names
// follow the master's own naming scheme (<chain>:blocks:<k>,
// <chain>:live_blocks, <chain>:index_<type>:<k>); Transport itself is
// queue-name agnostic.
type Transport interface {
	// PublishJSON marshals payload and appends it to queue, returning the
	// backend-assigned message id.
	PublishJSON(ctx context.Context, queue string, payload any) (string, error)

	// ReadJSON blocks until a message with id greater than afterID is
	// available on queue, or ctx is done. It unmarshals the message into
	// dst and returns the id of the message read.
	ReadJSON(ctx context.Context, queue string, afterID string, dst any) (string, error)

	// LoadStreamCheckpoint returns the last persisted read offset for key,
	// or "" if none has been persisted.
	LoadStreamCheckpoint(ctx context.Context, key string) (string, error)

	// PersistStreamCheckpoint stores offset as the read checkpoint for key.
	// A call with an empty key is a no-op.
	PersistStreamCheckpoint(ctx context.Context, key, offset string) error

	Close() error
}

// streamPayload renders v into the byte form a transport wire-encodes.
// It accepts only the primitive shapes a transport can carry directly;
// structured payloads are JSON-marshaled by PublishJSON before reaching
// this function.
func streamPayload(v any) ([]byte, error) {
	switch p := v.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	case fmt_Stringer:
		return []byte(p.String()), nil
	default:
		return nil, errNotSupported(v)
	}
}

// fmt_Stringer avoids importing "fmt" solely for the Stringer interface.
type fmt_Stringer interface {
	String() string
}

func errNotSupported(v any) error {
	return &unsupportedPayloadError{v}
}

type unsupportedPayloadError struct{ v any }

func (e *unsupportedPayloadError) Error() string {
	return "broker: payload type not supported for streaming"
}
