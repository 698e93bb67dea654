// Package icechunk is a read-only client for Icechunk repositories: a
// transactional, content-addressed storage format for chunked Zarr v3
// arrays backed by cloud object storage. Store resolves a ref to a
// snapshot, decodes its node hierarchy, and serves Zarr store keys
// (metadata and chunk bytes) against it.
package icechunk

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/quantarax/icechunk/cache"
	"github.com/quantarax/icechunk/diskcache"
	"github.com/quantarax/icechunk/envelope"
	"github.com/quantarax/icechunk/internal/obslog"
	"github.com/quantarax/icechunk/internal/obsmetrics"
	"github.com/quantarax/icechunk/manifest"
	"github.com/quantarax/icechunk/objectid"
	"github.com/quantarax/icechunk/refs"
	"github.com/quantarax/icechunk/snapshot"
	"github.com/quantarax/icechunk/transport"
	"github.com/quantarax/icechunk/urlutil"
)

// inflightManifest coalesces concurrent fetches of the same manifest id,
// per spec.md's "at most one outstanding fetch per manifest id"
// optimisation (§5).
type inflightManifest struct {
	done   chan struct{}
	result *manifest.Manifest
	err    error
}

// sharedState is the state a Store and all of its resolve(subpath) views
// share: the immutable snapshot, the mutable manifest cache, and the
// coalescing map that protects it.
type sharedState struct {
	root           string
	resolvedRef    string
	fetcher        transport.Fetcher // ref/snapshot/manifest/native-chunk GETs
	virtualFetcher transport.Fetcher // translated (always https) virtual-chunk range reads
	snapshot       *snapshot.Snapshot
	manifestLRU    *cache.ManifestCache
	diskCache      *diskcache.Cache
	logger         *obslog.Logger
	metrics        *obsmetrics.Metrics

	mu       sync.Mutex
	inflight map[string]*inflightManifest
}

// Store is a single logical thread of control over one resolved snapshot.
// Its zero value is not usable; construct one with Open, or derive one
// with Resolve.
type Store struct {
	shared   *sharedState
	basePath string // canonicalised, no leading/trailing "/"
}

// Open resolves rootURL's ref (§4.5), fetches and decodes the snapshot it
// points to, and returns a Store positioned at the repository root.
func Open(ctx context.Context, rootURL string, opts Options) (*Store, error) {
	openStart := time.Now()
	root := urlutil.NormaliseRoot(rootURL)

	fetcher := opts.Fetcher
	if fetcher == nil {
		var err error
		fetcher, err = defaultFetcherForRoot(ctx, root)
		if err != nil {
			return nil, err
		}
	}
	virtualFetcher := opts.VirtualFetcher
	if virtualFetcher == nil {
		virtualFetcher = transport.NewHTTPFetcher()
	}

	id, err := refs.Resolve(ctx, fetcher, root, refs.Options{
		Snapshot: opts.Snapshot,
		Tag:      opts.Tag,
		Ref:      opts.Ref,
		OnFetch: func(d time.Duration, err error) {
			recordFetch(opts.Metrics, obsmetrics.KindRef, d, err)
		},
	})
	if err != nil {
		return nil, err
	}

	var snapPayload []byte
	if opts.DiskCache != nil {
		if cached, ok := opts.DiskCache.GetSnapshot(id); ok {
			snapPayload = cached
		}
	}
	if snapPayload == nil {
		fetchStart := time.Now()
		buf, err := fetcher.Fetch(ctx, urlutil.SnapshotURL(root, id))
		recordFetch(opts.Metrics, obsmetrics.KindSnapshot, time.Since(fetchStart), err)
		if err != nil {
			return nil, err
		}
		recordBytesFetched(opts.Metrics, obsmetrics.KindSnapshot, len(buf))
		decoded, err := envelope.Parse(buf, envelope.FileTypeSnapshot, true)
		recordDecodeError(opts.Metrics, obsmetrics.KindSnapshot, err)
		if err != nil {
			return nil, err
		}
		snapPayload = decoded.Payload
		if opts.DiskCache != nil {
			_ = opts.DiskCache.PutSnapshot(id, snapPayload)
		}
	}
	snap, err := snapshot.Decode(snapPayload)
	recordDecodeError(opts.Metrics, obsmetrics.KindSnapshot, err)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger != nil {
		logger = logger.WithCorrelationID(uuid.New().String())
	}

	lru, err := cache.New(opts.CacheCapacity, func(evictedID string, _ *manifest.Manifest) {
		if logger != nil {
			logger.WithManifest(evictedID).CacheEvicted(evictedID)
		}
	})
	if err != nil {
		return nil, err
	}

	shared := &sharedState{
		root:           root,
		resolvedRef:    id,
		fetcher:        fetcher,
		virtualFetcher: virtualFetcher,
		snapshot:       snap,
		manifestLRU:    lru,
		diskCache:      opts.DiskCache,
		logger:         logger,
		metrics:        opts.Metrics,
		inflight:       map[string]*inflightManifest{},
	}
	if shared.logger != nil {
		shared.logger.WithSnapshot(id).SnapshotResolved(id, len(snap.Nodes), time.Since(openStart))
	}
	return &Store{shared: shared}, nil
}

// defaultFetcherForRoot picks a native object-store fetcher by root's URL
// scheme, falling back to plain HTTP(S) for everything else.
func defaultFetcherForRoot(ctx context.Context, root string) (transport.Fetcher, error) {
	switch {
	case strings.HasPrefix(root, "gs://"):
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		return transport.NewGCSFetcher(client), nil
	case strings.HasPrefix(root, "s3://"):
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return transport.NewS3Fetcher(s3.NewFromConfig(cfg)), nil
	default:
		return transport.NewHTTPFetcher(), nil
	}
}

// Get parses key as a Zarr v3 store key and returns its bytes, or (nil,
// nil) when the requested node, chunk, or extent is absent. Only genuine
// corruption or I/O failure returns an error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if s.shared == nil {
		return nil, ErrNotInitialised
	}

	kind, prefix, coords, err := parseKey(joinBasePath(s.basePath, key))
	if err != nil {
		return nil, err
	}

	switch kind {
	case keyMetadata:
		node, ok := snapshot.FindNode(s.shared.snapshot, prefix)
		if !ok {
			return nil, nil
		}
		return synthesiseMetadata(node)
	case keyChunk:
		return s.getChunk(ctx, prefix, coords)
	default:
		return nil, nil
	}
}

func (s *Store) getChunk(ctx context.Context, prefix string, coords []uint32) ([]byte, error) {
	node, ok := snapshot.FindNode(s.shared.snapshot, prefix)
	if !ok || node.Kind != snapshot.NodeKindArray || node.Array == nil {
		return nil, nil
	}

	var ref *snapshot.ManifestRef
	for i := range node.Array.Manifests {
		if snapshot.IsChunkInExtent(coords, node.Array.Manifests[i].Extents) {
			ref = &node.Array.Manifests[i]
			break
		}
	}
	if ref == nil {
		return nil, nil
	}

	man, err := s.manifestFor(ctx, ref.ID)
	if err != nil {
		return nil, err
	}

	payload, ok := manifest.FindChunk(man, node.ID, coords)
	if !ok {
		return nil, nil
	}

	start := time.Now()
	var body []byte
	switch payload.Kind {
	case manifest.PayloadInline:
		body = payload.InlineData
	case manifest.PayloadNative:
		url := urlutil.ChunkURL(s.shared.root, objectid.Encode(payload.NativeID))
		body, err = s.shared.fetcher.FetchRange(ctx, url, payload.Offset, payload.Length)
	case manifest.PayloadVirtual:
		// Virtual locations are always rewritten to a plain https URL
		// (urlutil.TranslateURL) before this fetch: they point at buckets
		// this store has no native-backend credentials for, which is why
		// the translated fetch goes through a dedicated HTTPS fetcher
		// instead of s.shared.fetcher (the root's native backend, which
		// rejects an https:// URL outright — see transport/gcs.go and
		// transport/s3.go's scheme-prefix checks).
		url := urlutil.TranslateURL(payload.VirtualLocation, "")
		body, err = s.shared.virtualFetcher.FetchRange(ctx, url, payload.Offset, payload.Length)
	default:
		return nil, nil
	}
	if payload.Kind != manifest.PayloadInline {
		recordFetch(s.shared.metrics, obsmetrics.KindChunk, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	recordBytesFetched(s.shared.metrics, obsmetrics.KindChunk, len(body))
	if s.shared.logger != nil {
		s.shared.logger.ChunkServed(payload.Kind.String(), len(body), time.Since(start))
	}
	return body, nil
}

// manifestFor returns the decoded manifest for id, hitting the in-memory
// LRU first, then coalescing concurrent fetches of the same id so at most
// one GET is in flight per manifest. A manifest is inserted into the LRU
// only after a successful decode.
func (s *Store) manifestFor(ctx context.Context, id objectid.ID12) (*manifest.Manifest, error) {
	idStr := objectid.Encode(id)

	if m, ok := s.shared.manifestLRU.Get(idStr); ok {
		if s.shared.metrics != nil {
			s.shared.metrics.CacheHitsTotal.Inc()
		}
		return m, nil
	}
	if s.shared.metrics != nil {
		s.shared.metrics.CacheMissesTotal.Inc()
	}

	s.shared.mu.Lock()
	if inf, ok := s.shared.inflight[idStr]; ok {
		s.shared.mu.Unlock()
		select {
		case <-inf.done:
			return inf.result, inf.err
		case <-ctx.Done():
			return nil, &transport.CancelledError{URL: idStr, Err: ctx.Err()}
		}
	}
	inf := &inflightManifest{done: make(chan struct{})}
	s.shared.inflight[idStr] = inf
	s.shared.mu.Unlock()

	m, err := s.fetchManifest(ctx, idStr)
	inf.result, inf.err = m, err
	close(inf.done)

	s.shared.mu.Lock()
	delete(s.shared.inflight, idStr)
	s.shared.mu.Unlock()

	if err == nil {
		s.shared.manifestLRU.Set(idStr, m)
		if s.shared.metrics != nil {
			s.shared.metrics.CacheSize.Set(float64(s.shared.manifestLRU.Len()))
		}
	}
	return m, err
}

func (s *Store) fetchManifest(ctx context.Context, idStr string) (*manifest.Manifest, error) {
	start := time.Now()

	if s.shared.diskCache != nil {
		if cached, ok := s.shared.diskCache.GetManifest(idStr); ok {
			m, err := manifest.Decode(cached)
			recordDecodeError(s.shared.metrics, obsmetrics.KindManifest, err)
			if err == nil && s.shared.logger != nil {
				s.shared.logger.WithManifest(idStr).ManifestFetched(idStr, true, time.Since(start))
			}
			return m, err
		}
	}

	buf, err := s.shared.fetcher.Fetch(ctx, urlutil.ManifestURL(s.shared.root, idStr))
	recordFetch(s.shared.metrics, obsmetrics.KindManifest, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	recordBytesFetched(s.shared.metrics, obsmetrics.KindManifest, len(buf))

	decoded, err := envelope.Parse(buf, envelope.FileTypeManifest, true)
	recordDecodeError(s.shared.metrics, obsmetrics.KindManifest, err)
	if err != nil {
		return nil, err
	}
	if s.shared.diskCache != nil {
		_ = s.shared.diskCache.PutManifest(idStr, decoded.Payload)
	}

	m, err := manifest.Decode(decoded.Payload)
	recordDecodeError(s.shared.metrics, obsmetrics.KindManifest, err)
	if err == nil && s.shared.logger != nil {
		s.shared.logger.WithManifest(idStr).ManifestFetched(idStr, false, time.Since(start))
	}
	return m, err
}

// Resolve returns a new view sharing this Store's snapshot, backend, and
// manifest cache, whose basePath is this view's basePath followed by
// subpath; that basePath is prepended to every Get key. subpath is
// canonicalised by collapsing runs of "/" and
// stripping leading/trailing "/".
func (s *Store) Resolve(subpath string) *Store {
	return &Store{
		shared:   s.shared,
		basePath: joinBasePath(s.basePath, canonicaliseBasePath(subpath)),
	}
}

// ListChildren returns the set of first path segments, in sorted order,
// of nodes strictly under path.
func (s *Store) ListChildren(path string) []string {
	prefix := snapshot.NormalizePath(joinBasePath(s.basePath, path))

	seen := map[string]struct{}{}
	var out []string
	for _, n := range s.shared.snapshot.Nodes {
		rel := n.Path
		if prefix == "" {
			if rel == "" {
				continue
			}
		} else {
			if !strings.HasPrefix(rel, prefix+"/") {
				continue
			}
			rel = rel[len(prefix)+1:]
		}
		if rel == "" {
			continue
		}
		seg := rel
		if idx := strings.Index(rel, "/"); idx >= 0 {
			seg = rel[:idx]
		}
		if _, ok := seen[seg]; !ok {
			seen[seg] = struct{}{}
			out = append(out, seg)
		}
	}
	sort.Strings(out)
	return out
}

// ListNodes returns every node in the store's snapshot, sorted ascending
// by path.
func (s *Store) ListNodes() []snapshot.Node {
	return s.shared.snapshot.Nodes
}

// GetSnapshot returns the store's decoded snapshot.
func (s *Store) GetSnapshot() *snapshot.Snapshot {
	return s.shared.snapshot
}

// ResolvedRef returns the snapshot id Open resolved the repository's ref
// to.
func (s *Store) ResolvedRef() string {
	return s.shared.resolvedRef
}

// Stats reports point-in-time counters about a store's shared state.
type Stats struct {
	ManifestCacheSize int
}

// Stats returns the current size of the manifest LRU this store (and all
// of its resolve-clones) shares.
func (s *Store) Stats() Stats {
	return Stats{ManifestCacheSize: s.shared.manifestLRU.Len()}
}
