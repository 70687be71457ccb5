// Package repository persists synced device records, sites, alarm tickets
// and pending single-device sync requests. Each concern has an in-memory and
// a Redis implementation.
package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/lvonguyen/mistsync/internal/devices"
)

// Common errors.
var (
	ErrNotFound      = errors.New("record not found")
	ErrMissingSerial = errors.New("device has no serial")
	ErrNilRecord     = errors.New("nil record")
	ErrInvalidMAC    = errors.New("invalid mac address")
)

// DefaultKeyPrefix namespaces Redis keys.
const DefaultKeyPrefix = "mistsync"

// Store is the write-map collaborator of a sync run: records are upserted by
// serial and indexed by MAC for alarm correlation.
type Store interface {
	// SaveDevices upserts every record and returns the number written.
	SaveDevices(ctx context.Context, devs map[string]*devices.Device) (int, error)
	// Get returns the record for serial, or ErrNotFound.
	Get(ctx context.Context, serial string) (*devices.Device, error)
	// List returns every record ordered by serial.
	List(ctx context.Context) ([]*devices.Device, error)
	// FindByMAC returns the record whose MAC normalizes to mac, or nil.
	FindByMAC(ctx context.Context, mac string) (*devices.Device, error)
	// SaveSites replaces the stored site descriptors.
	SaveSites(ctx context.Context, sites devices.SiteLookup) error
	// Site returns the site descriptor for id, or nil.
	Site(ctx context.Context, id string) (*devices.Site, error)
	Ping(ctx context.Context) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string]*devices.Device
	byMAC   map[string]string
	sites   devices.SiteLookup
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[string]*devices.Device),
		byMAC:   make(map[string]string),
		sites:   devices.SiteLookup{},
	}
}

// SaveDevices implements Store.
func (m *MemoryStore) SaveDevices(ctx context.Context, devs map[string]*devices.Device) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, d := range devs {
		if d == nil {
			continue
		}
		if d.Serial == "" {
			return n, ErrMissingSerial
		}
		if old, ok := m.devices[d.Serial]; ok {
			delete(m.byMAC, devices.NormalizeMAC(old.MAC))
		}
		m.devices[d.Serial] = d.Clone()
		if mac := devices.NormalizeMAC(d.MAC); mac != "" {
			m.byMAC[mac] = d.Serial
		}
		n++
	}
	return n, nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, serial string) (*devices.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[serial]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context) ([]*devices.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*devices.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d.Clone())
	}
	sortBySerial(out)
	return out, nil
}

// FindByMAC implements Store.
func (m *MemoryStore) FindByMAC(ctx context.Context, mac string) (*devices.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	serial, ok := m.byMAC[devices.NormalizeMAC(mac)]
	if !ok {
		return nil, nil
	}
	return m.devices[serial].Clone(), nil
}

// SaveSites implements Store.
func (m *MemoryStore) SaveSites(ctx context.Context, sites devices.SiteLookup) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sites = make(devices.SiteLookup, len(sites))
	for id, s := range sites {
		m.sites[id] = s
	}
	return nil
}

// Site implements Store.
func (m *MemoryStore) Site(ctx context.Context, id string) (*devices.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sites.Get(id), nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func sortBySerial(devs []*devices.Device) {
	sort.Slice(devs, func(i, j int) bool { return devs[i].Serial < devs[j].Serial })
}
