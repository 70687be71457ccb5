package ingestion

import (
	"context"
	"io"
	"sync"

	"github.com/lvonguyen/mistsync/internal/devices"
)

// Stream yields raw JSON items one at a time. Next returns io.EOF once the
// stream is exhausted. Any other error ends the stream.
type Stream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Filter narrows a listing.
type Filter struct {
	// Type is a concrete device class or devices.DeviceTypeAll.
	Type      devices.DeviceType
	DeviceMAC string
	SiteIDs   []string
}

// Source opens inventory and statistics streams and lists sites.
type Source interface {
	InventoryStream(ctx context.Context, f Filter) (Stream, error)
	DetailStream(ctx context.Context, f Filter) (Stream, error)
	ListSites(ctx context.Context) ([]devices.Site, error)
}

// SliceStream is a Stream over in-memory items, optionally failing with Err
// once the items are consumed.
type SliceStream struct {
	mu     sync.Mutex
	items  [][]byte
	pos    int
	err    error
	closed bool
}

// NewSliceStream returns a stream over items that ends with err, or io.EOF
// when err is nil.
func NewSliceStream(items [][]byte, err error) *SliceStream {
	return &SliceStream{items: items, err: err}
}

// Next implements Stream.
func (s *SliceStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, io.EOF
	}
	if s.pos < len(s.items) {
		item := s.items[s.pos]
		s.pos++
		return item, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

// Close implements Stream.
func (s *SliceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (s *SliceStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
