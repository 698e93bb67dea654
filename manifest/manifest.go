// Package manifest decodes an Icechunk manifest's FlatBuffers table into a
// per-array, per-chunk-coordinate map of chunk payloads.
package manifest

import (
	"fmt"
	"strconv"
	"strings"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/quantarax/icechunk/internal/fbreader"
	"github.com/quantarax/icechunk/objectid"
)

// FormatError reports a malformed manifest table.
type FormatError struct {
	Kind string
	Err  error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("manifest: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("manifest: %s", e.Kind)
}

func (e *FormatError) Unwrap() error { return e.Err }

// PayloadKind discriminates a ChunkPayload's storage mode.
type PayloadKind int

const (
	PayloadInline PayloadKind = iota
	PayloadNative
	PayloadVirtual
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadInline:
		return "inline"
	case PayloadNative:
		return "native"
	case PayloadVirtual:
		return "virtual"
	default:
		return "unknown"
	}
}

// ChunkPayload is the tagged variant describing where a chunk's bytes live.
// Exactly one of the field groups is meaningful, selected by Kind.
type ChunkPayload struct {
	Kind PayloadKind

	// PayloadInline
	InlineData []byte

	// PayloadNative
	NativeID objectid.ID12

	// PayloadVirtual
	VirtualLocation string

	// Offset/Length apply to PayloadNative and PayloadVirtual.
	Offset uint64
	Length uint64

	// Opaque, preserved but unused by the read path (spec.md §9).
	ETag         string
	LastModified uint32
}

// ArrayChunks is the per-coordinate-key chunk index for one array node.
type ArrayChunks map[string]ChunkPayload

// Manifest is the fully decoded content of a manifest file.
type Manifest struct {
	ID     objectid.ID12
	Arrays map[objectid.ID8]ArrayChunks
}

const (
	vtManifestID     flatbuffers.VOffsetT = 4
	vtManifestArrays flatbuffers.VOffsetT = 6

	vtArrayManifestNodeID flatbuffers.VOffsetT = 4
	vtArrayManifestRefs   flatbuffers.VOffsetT = 6

	vtChunkRefCoords       flatbuffers.VOffsetT = 4
	vtChunkRefInline       flatbuffers.VOffsetT = 6
	vtChunkRefOffset       flatbuffers.VOffsetT = 8
	vtChunkRefLength       flatbuffers.VOffsetT = 10
	vtChunkRefNativeID     flatbuffers.VOffsetT = 12
	vtChunkRefLocation     flatbuffers.VOffsetT = 14
	vtChunkRefETag         flatbuffers.VOffsetT = 16
	vtChunkRefLastModified flatbuffers.VOffsetT = 18
)

// Decode parses a FlatBuffers payload into a Manifest.
func Decode(payload []byte) (*Manifest, error) {
	root := fbreader.RootTable(payload, 0)

	idBytes, ok := root.Struct(vtManifestID, 12)
	if !ok {
		return nil, &FormatError{Kind: "missing-field", Err: fmt.Errorf("manifest id")}
	}
	m := &Manifest{Arrays: map[objectid.ID8]ArrayChunks{}}
	copy(m.ID[:], idBytes)

	arraysVec, ok := root.TableVectorField(vtManifestArrays)
	if !ok {
		return m, nil
	}
	for i := 0; i < arraysVec.Len(); i++ {
		nodeID, chunks, err := decodeArrayManifest(arraysVec.Elem(i))
		if err != nil {
			return nil, err
		}
		m.Arrays[nodeID] = chunks
	}
	return m, nil
}

func decodeArrayManifest(t fbreader.Table) (objectid.ID8, ArrayChunks, error) {
	var nodeID objectid.ID8
	idBytes, ok := t.Struct(vtArrayManifestNodeID, 8)
	if !ok {
		return nodeID, nil, &FormatError{Kind: "missing-field", Err: fmt.Errorf("array manifest node id")}
	}
	copy(nodeID[:], idBytes)

	chunks := ArrayChunks{}
	refsVec, ok := t.TableVectorField(vtArrayManifestRefs)
	if !ok {
		return nodeID, chunks, nil
	}
	for i := 0; i < refsVec.Len(); i++ {
		coords, payload, ok, err := decodeChunkRef(refsVec.Elem(i))
		if err != nil {
			return nodeID, nil, err
		}
		if !ok {
			// No recognised storage mode present; the ref is dropped without
			// being logged.
			continue
		}
		chunks[CoordKey(coords)] = payload
	}
	return nodeID, chunks, nil
}

// decodeChunkRef returns ok=false when none of the storage-mode fields are
// present, meaning the ref should be silently dropped.
func decodeChunkRef(t fbreader.Table) ([]uint32, ChunkPayload, bool, error) {
	var coords []uint32
	if sv, ok := t.StructVectorField(vtChunkRefCoords, 4); ok {
		coords = make([]uint32, sv.Len())
		for i := 0; i < sv.Len(); i++ {
			coords[i] = fbreader.LittleEndianU32(sv.Elem(i))
		}
	}

	etag, _ := t.String(vtChunkRefETag)
	lastModified := t.U32(vtChunkRefLastModified, 0)

	// Storage-mode selection order: inline -> virtual -> native.
	if data, ok := t.ByteVector(vtChunkRefInline); ok && len(data) > 0 {
		return coords, ChunkPayload{
			Kind:         PayloadInline,
			InlineData:   data,
			ETag:         etag,
			LastModified: lastModified,
		}, true, nil
	}
	if location, ok := t.String(vtChunkRefLocation); ok && location != "" {
		return coords, ChunkPayload{
			Kind:            PayloadVirtual,
			VirtualLocation: location,
			Offset:          t.U64(vtChunkRefOffset, 0),
			Length:          t.U64(vtChunkRefLength, 0),
			ETag:            etag,
			LastModified:    lastModified,
		}, true, nil
	}
	if idBytes, ok := t.Struct(vtChunkRefNativeID, 12); ok {
		var nativeID objectid.ID12
		copy(nativeID[:], idBytes)
		return coords, ChunkPayload{
			Kind:         PayloadNative,
			NativeID:     nativeID,
			Offset:       t.U64(vtChunkRefOffset, 0),
			Length:       t.U64(vtChunkRefLength, 0),
			ETag:         etag,
			LastModified: lastModified,
		}, true, nil
	}
	return coords, ChunkPayload{}, false, nil
}

// CoordKey renders chunk coordinates as the canonical "/"-joined lookup key.
func CoordKey(coords []uint32) string {
	if len(coords) == 0 {
		return ""
	}
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = strconv.FormatUint(uint64(c), 10)
	}
	return strings.Join(parts, "/")
}

// FindChunk looks up the chunk payload for nodeID at coords.
func FindChunk(m *Manifest, nodeID objectid.ID8, coords []uint32) (ChunkPayload, bool) {
	chunks, ok := m.Arrays[nodeID]
	if !ok {
		return ChunkPayload{}, false
	}
	p, ok := chunks[CoordKey(coords)]
	return p, ok
}
