package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const checkpointKeyPrefix = "broker:checkpoint:"

// RedisTransport is a Transport backed by Redis Streams, used for
// cross-process delivery between the master and its worker pool.
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport dials url and verifies connectivity before returning.
func NewRedisTransport(url string) (*RedisTransport, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("broker: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("broker: ping redis: %w", err)
	}

	return &RedisTransport{client: client}, nil
}

func (t *RedisTransport) PublishJSON(ctx context.Context, queue string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("broker: marshal payload for %s: %w", queue, err)
	}
	body, err := streamPayload(data)
	if err != nil {
		return "", err
	}

	id, err := t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: queue,
		Values: map[string]any{"payload": body},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("broker: publish to %s: %w", queue, err)
	}
	return id, nil
}

// ReadJSON blocks on XREAD until a message after afterID arrives or ctx is
// done. An empty afterID reads from the start of the stream.
func (t *RedisTransport) ReadJSON(ctx context.Context, queue, afterID string, dst any) (string, error) {
	if afterID == "" {
		afterID = "0"
	}

	res, err := t.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{queue, afterID},
		Count:   1,
		Block:   0,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("broker: read from %s: %w", queue, err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return "", fmt.Errorf("broker: no messages read from %s", queue)
	}

	msg := res[0].Messages[0]
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return "", fmt.Errorf("broker: message %s on %s missing payload field", msg.ID, queue)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return "", fmt.Errorf("broker: unmarshal message from %s: %w", queue, err)
	}
	return msg.ID, nil
}

func (t *RedisTransport) LoadStreamCheckpoint(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}

	val, err := t.client.Get(ctx, checkpointKeyPrefix+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("broker: load checkpoint %s: %w", key, err)
	}
	return val, nil
}

func (t *RedisTransport) PersistStreamCheckpoint(ctx context.Context, key, offset string) error {
	if key == "" {
		return nil
	}
	if err := validateStreamOffset(offset); err != nil {
		return err
	}

	if err := t.client.Set(ctx, checkpointKeyPrefix+key, offset, 0).Err(); err != nil {
		return fmt.Errorf("broker: persist checkpoint %s: %w", key, err)
	}
	return nil
}

func (t *RedisTransport) Close() error {
	return t.client.Close()
}
