package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/lvonguyen/mistsync/internal/devices"
)

// SyncQueue holds pending single-device sync requests, identified by device
// MAC, in arrival order.
type SyncQueue interface {
	Enqueue(ctx context.Context, mac string) error
	// Dequeue returns the oldest request, or "" when the queue is empty.
	Dequeue(ctx context.Context) (string, error)
	// Requeue puts a dequeued request back at the head of the queue.
	Requeue(ctx context.Context, mac string) error
}

// MemoryQueue is a process-local SyncQueue.
type MemoryQueue struct {
	mu    sync.Mutex
	items []string
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Enqueue implements SyncQueue.
func (q *MemoryQueue) Enqueue(ctx context.Context, mac string) error {
	mac = devices.CompactMAC(mac)
	if mac == "" {
		return ErrInvalidMAC
	}
	q.mu.Lock()
	q.items = append(q.items, mac)
	q.mu.Unlock()
	return nil
}

// Dequeue implements SyncQueue.
func (q *MemoryQueue) Dequeue(ctx context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", nil
	}
	mac := q.items[0]
	q.items = q.items[1:]
	return mac, nil
}

// Requeue implements SyncQueue.
func (q *MemoryQueue) Requeue(ctx context.Context, mac string) error {
	mac = devices.CompactMAC(mac)
	if mac == "" {
		return ErrInvalidMAC
	}
	q.mu.Lock()
	q.items = append([]string{mac}, q.items...)
	q.mu.Unlock()
	return nil
}

// RedisQueue is a SyncQueue backed by a Redis list.
type RedisQueue struct {
	redis *redis.Client
	key   string
}

// NewRedisQueue creates a queue on client.
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisQueue{redis: client, key: prefix + ":sync:queue"}
}

// Enqueue implements SyncQueue.
func (q *RedisQueue) Enqueue(ctx context.Context, mac string) error {
	mac = devices.CompactMAC(mac)
	if mac == "" {
		return ErrInvalidMAC
	}
	if err := q.redis.LPush(ctx, q.key, mac).Err(); err != nil {
		return fmt.Errorf("enqueueing %s: %w", mac, err)
	}
	return nil
}

// Dequeue implements SyncQueue.
func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	mac, err := q.redis.RPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dequeueing: %w", err)
	}
	return mac, nil
}

// Requeue implements SyncQueue. Dequeue pops from the right, so the request
// goes back on that end.
func (q *RedisQueue) Requeue(ctx context.Context, mac string) error {
	mac = devices.CompactMAC(mac)
	if mac == "" {
		return ErrInvalidMAC
	}
	if err := q.redis.RPush(ctx, q.key, mac).Err(); err != nil {
		return fmt.Errorf("requeueing %s: %w", mac, err)
	}
	return nil
}
