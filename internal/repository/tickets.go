package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/lvonguyen/mistsync/internal/devices/correlation"
)

func ticketIndexKey(correlationID, ci string) string {
	return correlationID + "|" + ci
}

// MemoryTicketStore is a process-local correlation.TicketStore.
type MemoryTicketStore struct {
	mu      sync.RWMutex
	tickets map[string]*correlation.Ticket
	index   map[string]string
}

// NewMemoryTicketStore creates an empty ticket store.
func NewMemoryTicketStore() *MemoryTicketStore {
	return &MemoryTicketStore{
		tickets: make(map[string]*correlation.Ticket),
		index:   make(map[string]string),
	}
}

// Find implements correlation.TicketStore.
func (m *MemoryTicketStore) Find(ctx context.Context, correlationID, ci string) (*correlation.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.index[ticketIndexKey(correlationID, ci)]
	if !ok {
		return nil, correlation.ErrTicketNotFound
	}
	t := *m.tickets[id]
	return &t, nil
}

// Create implements correlation.TicketStore.
func (m *MemoryTicketStore) Create(ctx context.Context, t *correlation.Ticket) error {
	if t == nil {
		return ErrNilRecord
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *t
	m.tickets[t.ID] = &stored
	if t.CorrelationID != "" && t.CI != "" {
		m.index[ticketIndexKey(t.CorrelationID, t.CI)] = t.ID
	}
	return nil
}

// Update implements correlation.TicketStore.
func (m *MemoryTicketStore) Update(ctx context.Context, t *correlation.Ticket) error {
	if t == nil {
		return ErrNilRecord
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tickets[t.ID]; !ok {
		return correlation.ErrTicketNotFound
	}
	stored := *t
	m.tickets[t.ID] = &stored
	return nil
}

// List returns every ticket, oldest first.
func (m *MemoryTicketStore) List(ctx context.Context) ([]*correlation.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*correlation.Ticket, 0, len(m.tickets))
	for _, t := range m.tickets {
		c := *t
		out = append(out, &c)
	}
	sortTickets(out)
	return out, nil
}

// RedisTicketStore keeps tickets in a hash keyed by id, with an index hash
// from correlation id and CI to ticket id.
type RedisTicketStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisTicketStore creates a ticket store on client.
func NewRedisTicketStore(client *redis.Client, prefix string) *RedisTicketStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisTicketStore{redis: client, prefix: prefix}
}

func (s *RedisTicketStore) ticketsKey() string { return s.prefix + ":tickets" }
func (s *RedisTicketStore) indexKey() string   { return s.prefix + ":tickets:correlation" }

// Find implements correlation.TicketStore.
func (s *RedisTicketStore) Find(ctx context.Context, correlationID, ci string) (*correlation.Ticket, error) {
	id, err := s.redis.HGet(ctx, s.indexKey(), ticketIndexKey(correlationID, ci)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, correlation.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding ticket: %w", err)
	}
	return s.get(ctx, id)
}

func (s *RedisTicketStore) get(ctx context.Context, id string) (*correlation.Ticket, error) {
	data, err := s.redis.HGet(ctx, s.ticketsKey(), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, correlation.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading ticket %s: %w", id, err)
	}
	var t correlation.Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding ticket %s: %w", id, err)
	}
	return &t, nil
}

// Create implements correlation.TicketStore.
func (s *RedisTicketStore) Create(ctx context.Context, t *correlation.Ticket) error {
	if t == nil {
		return ErrNilRecord
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding ticket: %w", err)
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.ticketsKey(), t.ID, data)
		if t.CorrelationID != "" && t.CI != "" {
			pipe.HSet(ctx, s.indexKey(), ticketIndexKey(t.CorrelationID, t.CI), t.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating ticket: %w", err)
	}
	return nil
}

// Update implements correlation.TicketStore.
func (s *RedisTicketStore) Update(ctx context.Context, t *correlation.Ticket) error {
	if t == nil {
		return ErrNilRecord
	}
	exists, err := s.redis.HExists(ctx, s.ticketsKey(), t.ID).Result()
	if err != nil {
		return fmt.Errorf("updating ticket %s: %w", t.ID, err)
	}
	if !exists {
		return correlation.ErrTicketNotFound
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding ticket: %w", err)
	}
	return s.redis.HSet(ctx, s.ticketsKey(), t.ID, data).Err()
}

// List returns every ticket, oldest first.
func (s *RedisTicketStore) List(ctx context.Context) ([]*correlation.Ticket, error) {
	values, err := s.redis.HVals(ctx, s.ticketsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	out := make([]*correlation.Ticket, 0, len(values))
	for _, v := range values {
		var t correlation.Ticket
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return nil, fmt.Errorf("decoding ticket: %w", err)
		}
		out = append(out, &t)
	}
	sortTickets(out)
	return out, nil
}

func sortTickets(tickets []*correlation.Ticket) {
	sort.Slice(tickets, func(i, j int) bool {
		if !tickets[i].CreatedAt.Equal(tickets[j].CreatedAt) {
			return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
		}
		return tickets[i].ID < tickets[j].ID
	})
}
