package ingestion

import (
	"context"

	"go.uber.org/zap"

	"github.com/lvonguyen/mistsync/internal/devices"
)

// SiteFilter restricts a sync to a set of site ids. An empty filter admits
// every site.
type SiteFilter []string

// Empty reports whether no filter is configured.
func (f SiteFilter) Empty() bool {
	return len(f) == 0
}

// Contains reports whether id is in the filter.
func (f SiteFilter) Contains(id string) bool {
	for _, s := range f {
		if s == id {
			return true
		}
	}
	return false
}

// Admits reports whether an item bound to siteID passes the filter. Items
// not bound to any site always pass.
func (f SiteFilter) Admits(siteID string) bool {
	return siteID == "" || f.Empty() || f.Contains(siteID)
}

// SiteLister lists the sites of an org.
type SiteLister interface {
	ListSites(ctx context.Context) ([]devices.Site, error)
}

// LoadSites builds the site lookup table, keeping only sites in filter when
// it is non-empty. A listing failure is logged and yields whatever was read
// so far; the sync continues without site descriptors.
func LoadSites(ctx context.Context, lister SiteLister, filter SiteFilter, logger *zap.Logger) devices.SiteLookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	lookup := devices.SiteLookup{}

	sites, err := lister.ListSites(ctx)
	if err != nil {
		logger.Error("site listing failed", zap.Error(err))
	}
	for i := range sites {
		site := sites[i]
		if site.ID == "" {
			continue
		}
		if filter.Empty() || filter.Contains(site.ID) {
			lookup[site.ID] = &site
		}
	}

	logger.Debug("sites loaded", zap.Int("count", len(lookup)))
	return lookup
}
