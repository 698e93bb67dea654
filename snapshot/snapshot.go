// Package snapshot decodes an Icechunk snapshot's FlatBuffers table into an
// immutable hierarchy of nodes, and implements the binary-search node
// lookup the store facade relies on.
package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/quantarax/icechunk/internal/fbreader"
	"github.com/quantarax/icechunk/objectid"
)

// FormatError reports a malformed snapshot table: a required field missing
// where the format guarantees one, or a structurally inconsistent vector.
type FormatError struct {
	Kind string
	Err  error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("snapshot: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("snapshot: %s", e.Kind)
}

func (e *FormatError) Unwrap() error { return e.Err }

// ChunkKeyEncoding is the Zarr v3 chunk-key encoding scheme.
type ChunkKeyEncoding int

const (
	ChunkKeyEncodingSlash ChunkKeyEncoding = iota
	ChunkKeyEncodingDot
)

// ZarrMetadata is the decoded content of a Zarr v3 array's metadata
// document. Shape, ChunkShape and DimensionNames come from the binary
// table; DataType, FillValue, Codecs and ChunkKeyEncoding are lifted from
// the node's user attributes when those carry them.
type ZarrMetadata struct {
	Shape            []uint64
	ChunkShape       []uint64
	DimensionNames   []*string
	DataType         string
	FillValue        any
	Codecs           []any
	ChunkKeyEncoding ChunkKeyEncoding
}

// Extent is an inclusive [Start, End] range of u32 chunk coordinates along
// one dimension of a manifest reference.
type Extent struct {
	Start uint32
	End   uint32
}

// ManifestRef attaches a manifest to an array node and the coordinate
// extent, per dimension, that manifest covers.
type ManifestRef struct {
	ID      objectid.ID12
	Extents []Extent
}

// ArrayData is the array-specific payload of a node.
type ArrayData struct {
	Metadata  ZarrMetadata
	Manifests []ManifestRef
}

// NodeKind discriminates a node's data payload.
type NodeKind int

const (
	NodeKindGroup NodeKind = iota
	NodeKindArray
)

// Node is a single entry in the snapshot's hierarchy.
type Node struct {
	ID             objectid.ID8
	Path           string
	UserAttributes map[string]any
	Kind           NodeKind
	Array          *ArrayData // nil for group nodes
}

// Snapshot is the fully decoded, immutable content of a snapshot file.
type Snapshot struct {
	ID             objectid.ID12
	ParentID       *objectid.ID12
	Nodes          []Node // sorted ascending by Path
	FlushedAt      time.Time
	Message        string
	Metadata       map[string]string
	ManifestFiles  map[objectid.ID12]struct{}
	AttributeFiles map[objectid.ID12]struct{}
}

// Vtable byte offsets, matching the spec's field-index tables exactly.
const (
	vtSnapshotID            flatbuffers.VOffsetT = 4
	vtSnapshotParentID      flatbuffers.VOffsetT = 6
	vtSnapshotNodes         flatbuffers.VOffsetT = 8
	vtSnapshotFlushedAt     flatbuffers.VOffsetT = 10
	vtSnapshotMessage       flatbuffers.VOffsetT = 12
	vtSnapshotMetadata      flatbuffers.VOffsetT = 14
	vtSnapshotManifestFiles flatbuffers.VOffsetT = 16
	// AttributeFiles has no documented vtable slot in the format; we read
	// the next slot defensively (absent on most writers, which is fine:
	// StructVectorField just reports ok=false). See DESIGN.md.
	vtSnapshotAttributeFiles flatbuffers.VOffsetT = 18

	vtNodeID       flatbuffers.VOffsetT = 4
	vtNodePath     flatbuffers.VOffsetT = 6
	vtNodeUserData flatbuffers.VOffsetT = 8
	vtNodeDataType flatbuffers.VOffsetT = 10
	vtNodeData     flatbuffers.VOffsetT = 12

	vtArrayShape          flatbuffers.VOffsetT = 4
	vtArrayDimensionNames flatbuffers.VOffsetT = 6
	vtArrayManifests      flatbuffers.VOffsetT = 8

	vtManifestRefID      flatbuffers.VOffsetT = 4
	vtManifestRefExtents flatbuffers.VOffsetT = 6

	vtDimNameValue flatbuffers.VOffsetT = 4

	vtMetadataItemKey   flatbuffers.VOffsetT = 4
	vtMetadataItemValue flatbuffers.VOffsetT = 6

	nodeDataTypeArray uint8 = 1
	nodeDataTypeGroup uint8 = 2

	manifestFileInfoStructSize = 32
	dimLenStructSize           = 16 // (u64, u64)
	extentStructSize           = 8  // (u32, u32)
)

// Decode parses a FlatBuffers payload (the decompressed, file-id-prefixed
// bytes an envelope hands back) into a Snapshot.
func Decode(payload []byte) (*Snapshot, error) {
	root := fbreader.RootTable(payload, 0)

	idBytes, ok := root.Struct(vtSnapshotID, 12)
	if !ok {
		return nil, &FormatError{Kind: "missing-field", Err: fmt.Errorf("snapshot id")}
	}
	s := &Snapshot{
		ManifestFiles:  map[objectid.ID12]struct{}{},
		AttributeFiles: map[objectid.ID12]struct{}{},
		Metadata:       map[string]string{},
	}
	copy(s.ID[:], idBytes)

	if parentBytes, ok := root.Struct(vtSnapshotParentID, 12); ok {
		var parent objectid.ID12
		copy(parent[:], parentBytes)
		s.ParentID = &parent
	}

	if flushedAtMs := root.U64(vtSnapshotFlushedAt, 0); true {
		s.FlushedAt = time.UnixMilli(int64(flushedAtMs)).UTC()
	}

	s.Message, _ = root.String(vtSnapshotMessage)

	if items, ok := root.TableVectorField(vtSnapshotMetadata); ok {
		for i := 0; i < items.Len(); i++ {
			item := items.Elem(i)
			k, _ := item.String(vtMetadataItemKey)
			v, _ := item.String(vtMetadataItemValue)
			s.Metadata[k] = v
		}
	}

	if sv, ok := root.StructVectorField(vtSnapshotManifestFiles, manifestFileInfoStructSize); ok {
		for i := 0; i < sv.Len(); i++ {
			var id objectid.ID12
			copy(id[:], sv.Elem(i)[:12])
			s.ManifestFiles[id] = struct{}{}
		}
	}
	if sv, ok := root.StructVectorField(vtSnapshotAttributeFiles, manifestFileInfoStructSize); ok {
		for i := 0; i < sv.Len(); i++ {
			var id objectid.ID12
			copy(id[:], sv.Elem(i)[:12])
			s.AttributeFiles[id] = struct{}{}
		}
	}

	nodesVec, ok := root.TableVectorField(vtSnapshotNodes)
	if !ok {
		return nil, &FormatError{Kind: "missing-field", Err: fmt.Errorf("nodes")}
	}
	s.Nodes = make([]Node, nodesVec.Len())
	for i := 0; i < nodesVec.Len(); i++ {
		n, err := decodeNode(nodesVec.Elem(i))
		if err != nil {
			return nil, err
		}
		s.Nodes[i] = n
	}

	return s, nil
}

func decodeNode(t fbreader.Table) (Node, error) {
	var n Node

	idBytes, ok := t.Struct(vtNodeID, 8)
	if !ok {
		return n, &FormatError{Kind: "missing-field", Err: fmt.Errorf("node id")}
	}
	copy(n.ID[:], idBytes)

	path, _ := t.String(vtNodePath)
	n.Path = NormalizePath(path)

	n.UserAttributes = map[string]any{}
	if userData, ok := t.ByteVector(vtNodeUserData); ok && len(userData) > 0 {
		var attrs map[string]any
		if err := json.Unmarshal(userData, &attrs); err == nil {
			n.UserAttributes = attrs
		}
		// Parse failures yield an empty attribute map, not an error.
	}

	dataType := t.U8(vtNodeDataType, 0)
	switch dataType {
	case nodeDataTypeArray:
		n.Kind = NodeKindArray
		sub, ok := t.SubTable(vtNodeData)
		if !ok {
			return n, &FormatError{Kind: "missing-field", Err: fmt.Errorf("array node data")}
		}
		arr, err := decodeArrayData(sub, n.UserAttributes)
		if err != nil {
			return n, err
		}
		n.Array = arr
	case nodeDataTypeGroup:
		n.Kind = NodeKindGroup
	default:
		return n, &FormatError{Kind: "invalid-node-type", Err: fmt.Errorf("node data type %d", dataType)}
	}

	return n, nil
}

func decodeArrayData(t fbreader.Table, userAttrs map[string]any) (*ArrayData, error) {
	a := &ArrayData{}

	shapeVec, ok := t.StructVectorField(vtArrayShape, dimLenStructSize)
	if !ok {
		return nil, &FormatError{Kind: "missing-field", Err: fmt.Errorf("array shape")}
	}
	rank := shapeVec.Len()
	shape := make([]uint64, rank)
	chunkShape := make([]uint64, rank)
	for i := 0; i < rank; i++ {
		b := shapeVec.Elem(i)
		shape[i] = fbreader.LittleEndianU64(b[0:8])
		chunkShape[i] = fbreader.LittleEndianU64(b[8:16])
	}

	var dimNames []*string
	if namesVec, ok := t.TableVectorField(vtArrayDimensionNames); ok {
		dimNames = make([]*string, namesVec.Len())
		for i := 0; i < namesVec.Len(); i++ {
			if v, ok := namesVec.Elem(i).String(vtDimNameValue); ok {
				name := v
				dimNames[i] = &name
			}
		}
	}

	var manifests []ManifestRef
	if mrVec, ok := t.TableVectorField(vtArrayManifests); ok {
		manifests = make([]ManifestRef, mrVec.Len())
		for i := 0; i < mrVec.Len(); i++ {
			mr, err := decodeManifestRef(mrVec.Elem(i))
			if err != nil {
				return nil, err
			}
			manifests[i] = mr
		}
	}

	a.Metadata = ZarrMetadata{
		Shape:            shape,
		ChunkShape:       chunkShape,
		DimensionNames:   dimNames,
		ChunkKeyEncoding: ChunkKeyEncodingSlash,
	}
	applyZarrUserAttributes(&a.Metadata, userAttrs)
	a.Manifests = manifests
	return a, nil
}

func decodeManifestRef(t fbreader.Table) (ManifestRef, error) {
	var mr ManifestRef
	idBytes, ok := t.Struct(vtManifestRefID, 12)
	if !ok {
		return mr, &FormatError{Kind: "missing-field", Err: fmt.Errorf("manifest ref id")}
	}
	copy(mr.ID[:], idBytes)

	if ev, ok := t.StructVectorField(vtManifestRefExtents, extentStructSize); ok {
		mr.Extents = make([]Extent, ev.Len())
		for i := 0; i < ev.Len(); i++ {
			b := ev.Elem(i)
			mr.Extents[i] = Extent{
				Start: fbreader.LittleEndianU32(b[0:4]),
				End:   fbreader.LittleEndianU32(b[4:8]),
			}
		}
	}
	return mr, nil
}

// applyZarrUserAttributes lifts dataType, fillValue, codecs, and
// chunkKeyEncoding from userAttrs when it looks like a Zarr v3 metadata
// document. Any field userAttrs doesn't carry keeps its zero value; the
// store facade's metadata synthesis fills remaining defaults.
func applyZarrUserAttributes(m *ZarrMetadata, userAttrs map[string]any) {
	if dt, ok := userAttrs["data_type"].(string); ok {
		m.DataType = dt
	}
	if fv, ok := userAttrs["fill_value"]; ok {
		m.FillValue = fv
	}
	if codecs, ok := userAttrs["codecs"].([]any); ok {
		m.Codecs = codecs
	}
	if cke, ok := userAttrs["chunk_key_encoding"].(map[string]any); ok {
		if name, _ := cke["name"].(string); name == "v2" {
			m.ChunkKeyEncoding = ChunkKeyEncodingDot
		}
	}
}

// NormalizePath strips a leading and trailing "/" from p; the root path is
// the empty string.
func NormalizePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	return p
}

// IsChunkInExtent reports whether coords falls within extents, an inclusive
// [Start, End] range per dimension. coords and extents must have the same
// rank; a rank mismatch never matches.
func IsChunkInExtent(coords []uint32, extents []Extent) bool {
	if len(coords) != len(extents) {
		return false
	}
	for i, e := range extents {
		if coords[i] < e.Start || coords[i] > e.End {
			return false
		}
	}
	return true
}

// FindNode performs a binary search for path in snapshot.Nodes, which must
// be sorted ascending by path (a writer invariant this decoder does not
// verify). Returns (node, true) on a hit.
func FindNode(s *Snapshot, path string) (*Node, bool) {
	target := NormalizePath(path)
	i := sort.Search(len(s.Nodes), func(i int) bool {
		return s.Nodes[i].Path >= target
	})
	if i < len(s.Nodes) && s.Nodes[i].Path == target {
		return &s.Nodes[i], true
	}
	return nil, false
}
