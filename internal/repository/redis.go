package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lvonguyen/mistsync/internal/devices"
)

// RedisStore keeps records in a hash keyed by serial, with a second hash
// mapping normalized MAC to serial.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore creates a store on client. An empty prefix uses
// DefaultKeyPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) devicesKey() string { return s.prefix + ":devices" }
func (s *RedisStore) macKey() string     { return s.prefix + ":devices:mac" }
func (s *RedisStore) sitesKey() string   { return s.prefix + ":sites" }

// SaveDevices implements Store. All records are written in one transaction.
func (s *RedisStore) SaveDevices(ctx context.Context, devs map[string]*devices.Device) (int, error) {
	records := make(map[string]any, len(devs))
	macs := make(map[string]any, len(devs))
	for _, d := range devs {
		if d == nil {
			continue
		}
		if d.Serial == "" {
			return 0, ErrMissingSerial
		}
		data, err := json.Marshal(d)
		if err != nil {
			return 0, fmt.Errorf("encoding device %s: %w", d.Serial, err)
		}
		records[d.Serial] = data
		if mac := devices.NormalizeMAC(d.MAC); mac != "" {
			macs[mac] = d.Serial
		}
	}
	if len(records) == 0 {
		return 0, nil
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.devicesKey(), records)
		if len(macs) > 0 {
			pipe.HSet(ctx, s.macKey(), macs)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("saving devices: %w", err)
	}
	return len(records), nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, serial string) (*devices.Device, error) {
	data, err := s.redis.HGet(ctx, s.devicesKey(), serial).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading device %s: %w", serial, err)
	}
	return decodeDevice(data)
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context) ([]*devices.Device, error) {
	values, err := s.redis.HVals(ctx, s.devicesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	out := make([]*devices.Device, 0, len(values))
	for _, v := range values {
		d, err := decodeDevice([]byte(v))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	sortBySerial(out)
	return out, nil
}

// FindByMAC implements Store.
func (s *RedisStore) FindByMAC(ctx context.Context, mac string) (*devices.Device, error) {
	serial, err := s.redis.HGet(ctx, s.macKey(), devices.NormalizeMAC(mac)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving mac %s: %w", mac, err)
	}
	d, err := s.Get(ctx, serial)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return d, err
}

// SaveSites implements Store.
func (s *RedisStore) SaveSites(ctx context.Context, sites devices.SiteLookup) error {
	values := make(map[string]any, len(sites))
	for id, site := range sites {
		data, err := json.Marshal(site)
		if err != nil {
			return fmt.Errorf("encoding site %s: %w", id, err)
		}
		values[id] = data
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sitesKey())
		if len(values) > 0 {
			pipe.HSet(ctx, s.sitesKey(), values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving sites: %w", err)
	}
	return nil
}

// Site implements Store.
func (s *RedisStore) Site(ctx context.Context, id string) (*devices.Site, error) {
	if id == "" {
		return nil, nil
	}
	data, err := s.redis.HGet(ctx, s.sitesKey(), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading site %s: %w", id, err)
	}
	var site devices.Site
	if err := json.Unmarshal(data, &site); err != nil {
		return nil, fmt.Errorf("decoding site %s: %w", id, err)
	}
	return &site, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func decodeDevice(data []byte) (*devices.Device, error) {
	var d devices.Device
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decoding device: %w", err)
	}
	return &d, nil
}
