package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

type message struct {
	id   int64
	data []byte
}

// InMemoryTransport is a Transport backed by process memory, used in tests
// and in single-process deployments that have no Redis available.
type InMemoryTransport struct {
	mu          sync.Mutex
	cond        *sync.Cond
	streams     map[string][]message
	checkpoints map[string]string
	seq         map[string]int64
}

// NewInMemoryTransport creates an empty in-memory transport.
func NewInMemoryTransport() *InMemoryTransport {
	t := &InMemoryTransport{
		streams:     make(map[string][]message),
		checkpoints: make(map[string]string),
		seq:         make(map[string]int64),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *InMemoryTransport) PublishJSON(ctx context.Context, queue string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("broker: marshal payload for %s: %w", queue, err)
	}

	t.mu.Lock()
	t.seq[queue]++
	id := t.seq[queue]
	t.streams[queue] = append(t.streams[queue], message{id: id, data: data})
	t.mu.Unlock()

	t.cond.Broadcast()
	return strconv.FormatInt(id, 10), nil
}

func (t *InMemoryTransport) ReadJSON(ctx context.Context, queue, afterID string, dst any) (string, error) {
	after, err := parseStreamOffset(afterID)
	if err != nil {
		return "", err
	}

	// cond.Wait only releases the mutex, it is never woken by ctx
	// cancellation on its own, so a watcher goroutine nudges it.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			t.cond.Broadcast()
			t.mu.Unlock()
		case <-watchDone:
		}
	}()

	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		for _, m := range t.streams[queue] {
			if m.id > after {
				if err := json.Unmarshal(m.data, dst); err != nil {
					return "", fmt.Errorf("broker: unmarshal message from %s: %w", queue, err)
				}
				return strconv.FormatInt(m.id, 10), nil
			}
		}
		t.cond.Wait()
	}
}

func (t *InMemoryTransport) LoadStreamCheckpoint(ctx context.Context, key string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkpoints[key], nil
}

func (t *InMemoryTransport) PersistStreamCheckpoint(ctx context.Context, key, offset string) error {
	if key == "" {
		return nil
	}
	if err := validateStreamOffset(offset); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkpoints[key] = offset
	return nil
}

func (t *InMemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streams = make(map[string][]message)
	t.checkpoints = make(map[string]string)
	t.cond.Broadcast()
	return nil
}
