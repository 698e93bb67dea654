package icechunk

import (
	"github.com/quantarax/icechunk/cache"
	"github.com/quantarax/icechunk/diskcache"
	"github.com/quantarax/icechunk/internal/obslog"
	"github.com/quantarax/icechunk/internal/obsmetrics"
	"github.com/quantarax/icechunk/transport"
)

// Options configures Open. Every field has a usable default, so a zero
// Options resolves the default branch through the fetcher Open selects by
// the root's URL scheme, with the default cache capacity.
type Options struct {
	// Ref selection, at most one of Snapshot/Tag/Ref should be set.
	// Snapshot takes priority over Tag, which takes priority over Ref.
	Snapshot string
	Tag      string
	Ref      string // branch name, defaults to refs.DefaultBranch

	// Fetcher is the transport Open issues ref/snapshot/manifest/native-chunk
	// GETs through. Nil is fine: Open picks a native GCSFetcher/S3Fetcher for
	// a gs:// or s3:// root, or an HTTPFetcher otherwise.
	Fetcher transport.Fetcher

	// VirtualFetcher serves byte-range reads of translated virtual chunk
	// locations (always an https URL — see urlutil.TranslateURL). Nil uses a
	// plain HTTPFetcher, which is correct for any virtual location: its
	// cloud scheme has already been rewritten away by the time a fetch
	// reaches this fetcher, so the root's native backend is irrelevant here.
	VirtualFetcher transport.Fetcher

	// CacheCapacity bounds the in-memory manifest LRU. <= 0 uses
	// cache.DefaultCapacity.
	CacheCapacity int

	// Logger and Metrics are optional; nil disables the corresponding
	// observability surface.
	Logger  *obslog.Logger
	Metrics *obsmetrics.Metrics

	// DiskCache, when set, is consulted before every snapshot/manifest
	// fetch and populated after every successful one. A miss always
	// falls through to Fetcher; this only ever changes performance.
	DiskCache *diskcache.Cache
}

// DefaultOptions returns an Options with an HTTPFetcher and the default
// cache capacity, resolving the default branch.
func DefaultOptions() Options {
	return Options{
		Fetcher:       transport.NewHTTPFetcher(),
		CacheCapacity: cache.DefaultCapacity,
	}
}
