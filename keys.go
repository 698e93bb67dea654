package icechunk

import (
	"strconv"
	"strings"
)

type keyKind int

const (
	keyMetadata keyKind = iota
	keyChunk
)

// parseKey recognises the Zarr v3 key grammar: "zarr.json" or
// "{prefix}/zarr.json" addresses metadata for the node at prefix;
// "{prefix}/c/{i0}/{i1}/…" addresses a chunk at coordinates (i0, i1, …)
// on the array node at prefix. Anything else is treated as a metadata
// request for the whole key as a node path.
func parseKey(key string) (kind keyKind, prefix string, coords []uint32, err error) {
	key = strings.Trim(key, "/")

	if key == "zarr.json" {
		return keyMetadata, "", nil, nil
	}
	if strings.HasSuffix(key, "/zarr.json") {
		return keyMetadata, strings.TrimSuffix(key, "/zarr.json"), nil, nil
	}

	segments := strings.Split(key, "/")
	for i, seg := range segments {
		if seg != "c" {
			continue
		}
		prefix := strings.Join(segments[:i], "/")
		coordTokens := segments[i+1:]
		coords := make([]uint32, len(coordTokens))
		for j, tok := range coordTokens {
			v, convErr := strconv.ParseUint(tok, 10, 32)
			if convErr != nil {
				return 0, "", nil, &BadKeyError{Key: key}
			}
			coords[j] = uint32(v)
		}
		return keyChunk, prefix, coords, nil
	}

	return keyMetadata, key, nil, nil
}

// joinBasePath prepends base (already canonicalised) to key, collapsing
// the boundary; the result is not itself canonicalised beyond that.
func joinBasePath(base, key string) string {
	base = strings.Trim(base, "/")
	key = strings.TrimLeft(key, "/")
	if base == "" {
		return key
	}
	if key == "" {
		return base
	}
	return base + "/" + key
}

// canonicaliseBasePath collapses runs of "/" and strips leading/trailing
// "/", per the store facade's resolve(subpath) contract.
func canonicaliseBasePath(p string) string {
	segments := strings.Split(p, "/")
	kept := segments[:0]
	for _, s := range segments {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "/")
}
