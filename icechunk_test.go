package icechunk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/quantarax/icechunk/envelope"
	"github.com/quantarax/icechunk/internal/fbreader/fbtest"
	"github.com/quantarax/icechunk/objectid"
	"github.com/quantarax/icechunk/urlutil"
)

// envelopeMagic mirrors the bit-exact magic spec.md §6 documents; envelope
// itself doesn't export it since only Parse needs to recognise it.
var envelopeMagic = []byte{'I', 'C', 'E', 0xF0, 0x9F, 0xA7, 0x8A, 'C', 'H', 'U', 'N', 'K'}

func wrapEnvelope(fileType envelope.FileType, payload []byte) []byte {
	buf := make([]byte, 0, envelope.HeaderSize+len(payload))
	buf = append(buf, envelopeMagic...)
	version := make([]byte, 24)
	copy(version, "ic-test")
	buf = append(buf, version...)
	buf = append(buf, 1, byte(fileType), byte(envelope.CompressionNone))
	buf = append(buf, payload...)
	return buf
}

func fieldIdx(vt flatbuffers.VOffsetT) int { return int(vt-4) / 2 }

// buildTestSnapshot constructs a minimal snapshot with a root group node
// and one array node "arr" covered by a single manifest ref over extent
// [0,0], using the same vtable offsets the snapshot package decodes.
func buildTestSnapshot(snapID, manifestID objectid.ID12, arrNodeID objectid.ID8) []byte {
	const (
		vtSnapshotID            flatbuffers.VOffsetT = 4
		vtSnapshotNodes         flatbuffers.VOffsetT = 8
		vtSnapshotManifestFiles flatbuffers.VOffsetT = 16

		vtNodeID       flatbuffers.VOffsetT = 4
		vtNodePath     flatbuffers.VOffsetT = 6
		vtNodeDataType flatbuffers.VOffsetT = 10
		vtNodeData     flatbuffers.VOffsetT = 12

		vtArrayShape     flatbuffers.VOffsetT = 4
		vtArrayManifests flatbuffers.VOffsetT = 8

		vtManifestRefID      flatbuffers.VOffsetT = 4
		vtManifestRefExtents flatbuffers.VOffsetT = 6

		nodeDataTypeArray uint8 = 1
		nodeDataTypeGroup uint8 = 2
	)

	b := flatbuffers.NewBuilder(0)

	extentsVec := fbtest.StructVector(b, [][]byte{fbtest.U32Pair(0, 0)})
	manifestIDBuf := fbtest.Bytes(b, manifestID[:])
	b.StartObject(2)
	b.PrependStructSlot(fieldIdx(vtManifestRefID), manifestIDBuf, 0)
	b.PrependUOffsetTSlot(fieldIdx(vtManifestRefExtents), extentsVec, 0)
	manifestRefTable := b.EndObject()

	manifestRefsVec := fbtest.OffsetVector(b, []flatbuffers.UOffsetT{manifestRefTable})
	shapeVec := fbtest.StructVector(b, [][]byte{fbtest.U64Pair(1, 1)})

	b.StartObject(3)
	b.PrependUOffsetTSlot(fieldIdx(vtArrayManifests), manifestRefsVec, 0)
	b.PrependUOffsetTSlot(fieldIdx(vtArrayShape), shapeVec, 0)
	arrayDataTable := b.EndObject()

	arrPathStr := b.CreateString("arr")
	arrIDBuf := fbtest.Bytes(b, arrNodeID[:])
	b.StartObject(5)
	b.PrependStructSlot(fieldIdx(vtNodeID), arrIDBuf, 0)
	b.PrependUOffsetTSlot(fieldIdx(vtNodePath), arrPathStr, 0)
	b.PrependUint8Slot(fieldIdx(vtNodeDataType), nodeDataTypeArray, 0)
	b.PrependUOffsetTSlot(fieldIdx(vtNodeData), arrayDataTable, 0)
	arrNodeTable := b.EndObject()

	rootPathStr := b.CreateString("")
	rootIDBuf := fbtest.Bytes(b, []byte{0, 0, 0, 0, 0, 0, 0, 0})
	b.StartObject(5)
	b.PrependStructSlot(fieldIdx(vtNodeID), rootIDBuf, 0)
	b.PrependUOffsetTSlot(fieldIdx(vtNodePath), rootPathStr, 0)
	b.PrependUint8Slot(fieldIdx(vtNodeDataType), nodeDataTypeGroup, 0)
	rootNodeTable := b.EndObject()

	nodesVec := fbtest.OffsetVector(b, []flatbuffers.UOffsetT{rootNodeTable, arrNodeTable})

	manifestFilesPad := make([]byte, 32)
	copy(manifestFilesPad, manifestID[:])
	manifestFilesVec := fbtest.StructVector(b, [][]byte{manifestFilesPad})

	idBuf := fbtest.Bytes(b, snapID[:])
	b.StartObject(8)
	b.PrependStructSlot(fieldIdx(vtSnapshotID), idBuf, 0)
	b.PrependUOffsetTSlot(fieldIdx(vtSnapshotNodes), nodesVec, 0)
	b.PrependUOffsetTSlot(fieldIdx(vtSnapshotManifestFiles), manifestFilesVec, 0)
	root := b.EndObject()

	return fbtest.Finish(b, root)
}

// buildTestManifest constructs a manifest with a single inline chunk ref
// at coords (0) for nodeID.
func buildTestManifest(manifestID objectid.ID12, nodeID objectid.ID8) []byte {
	const (
		vtManifestID     flatbuffers.VOffsetT = 4
		vtManifestArrays flatbuffers.VOffsetT = 6

		vtArrayManifestNodeID flatbuffers.VOffsetT = 4
		vtArrayManifestRefs   flatbuffers.VOffsetT = 6

		vtChunkRefCoords flatbuffers.VOffsetT = 4
		vtChunkRefInline flatbuffers.VOffsetT = 6
	)

	b := flatbuffers.NewBuilder(0)

	coordsVec := fbtest.StructVector(b, [][]byte{fbtest.U32Pair(0, 0)[:4]})
	inlineData := b.CreateByteVector([]byte("chunk-bytes"))
	b.StartObject(8)
	b.PrependUOffsetTSlot(fieldIdx(vtChunkRefCoords), coordsVec, 0)
	b.PrependUOffsetTSlot(fieldIdx(vtChunkRefInline), inlineData, 0)
	ref := b.EndObject()

	refsVec := fbtest.OffsetVector(b, []flatbuffers.UOffsetT{ref})
	nodeIDBuf := fbtest.Bytes(b, nodeID[:])
	b.StartObject(2)
	b.PrependStructSlot(fieldIdx(vtArrayManifestNodeID), nodeIDBuf, 0)
	b.PrependUOffsetTSlot(fieldIdx(vtArrayManifestRefs), refsVec, 0)
	arrayManifest := b.EndObject()

	arraysVec := fbtest.OffsetVector(b, []flatbuffers.UOffsetT{arrayManifest})
	manifestIDBuf := fbtest.Bytes(b, manifestID[:])
	b.StartObject(2)
	b.PrependStructSlot(fieldIdx(vtManifestID), manifestIDBuf, 0)
	b.PrependUOffsetTSlot(fieldIdx(vtManifestArrays), arraysVec, 0)
	root := b.EndObject()

	return fbtest.Finish(b, root)
}

// buildVirtualManifest constructs a manifest with a single virtual chunk
// ref at coords (0) for nodeID, pointing at location[offset:offset+length].
func buildVirtualManifest(manifestID objectid.ID12, nodeID objectid.ID8, location string, offset, length uint64) []byte {
	const (
		vtManifestID     flatbuffers.VOffsetT = 4
		vtManifestArrays flatbuffers.VOffsetT = 6

		vtArrayManifestNodeID flatbuffers.VOffsetT = 4
		vtArrayManifestRefs   flatbuffers.VOffsetT = 6

		vtChunkRefCoords   flatbuffers.VOffsetT = 4
		vtChunkRefOffset   flatbuffers.VOffsetT = 8
		vtChunkRefLength   flatbuffers.VOffsetT = 10
		vtChunkRefLocation flatbuffers.VOffsetT = 14
	)

	b := flatbuffers.NewBuilder(0)

	locationStr := b.CreateString(location)
	coordsVec := fbtest.StructVector(b, [][]byte{fbtest.U32Pair(0, 0)[:4]})
	b.StartObject(8)
	b.PrependUOffsetTSlot(fieldIdx(vtChunkRefCoords), coordsVec, 0)
	b.PrependUint64Slot(fieldIdx(vtChunkRefOffset), offset, 0)
	b.PrependUint64Slot(fieldIdx(vtChunkRefLength), length, 0)
	b.PrependUOffsetTSlot(fieldIdx(vtChunkRefLocation), locationStr, 0)
	ref := b.EndObject()

	refsVec := fbtest.OffsetVector(b, []flatbuffers.UOffsetT{ref})
	nodeIDBuf := fbtest.Bytes(b, nodeID[:])
	b.StartObject(2)
	b.PrependStructSlot(fieldIdx(vtArrayManifestNodeID), nodeIDBuf, 0)
	b.PrependUOffsetTSlot(fieldIdx(vtArrayManifestRefs), refsVec, 0)
	arrayManifest := b.EndObject()

	arraysVec := fbtest.OffsetVector(b, []flatbuffers.UOffsetT{arrayManifest})
	manifestIDBuf := fbtest.Bytes(b, manifestID[:])
	b.StartObject(2)
	b.PrependStructSlot(fieldIdx(vtManifestID), manifestIDBuf, 0)
	b.PrependUOffsetTSlot(fieldIdx(vtManifestArrays), arraysVec, 0)
	root := b.EndObject()

	return fbtest.Finish(b, root)
}

type fixtureFetcher struct {
	byURL map[string][]byte
}

func (f *fixtureFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	body, ok := f.byURL[url]
	if !ok {
		return nil, &notFoundErr{url}
	}
	return body, nil
}

func (f *fixtureFetcher) FetchRange(ctx context.Context, url string, offset, length uint64) ([]byte, error) {
	body, ok := f.byURL[url]
	if !ok {
		return nil, &notFoundErr{url}
	}
	end := offset + length
	if end > uint64(len(body)) {
		end = uint64(len(body))
	}
	return body[offset:end], nil
}

type notFoundErr struct{ url string }

func (e *notFoundErr) Error() string { return "not found: " + e.url }

func newFixtureStore(t *testing.T) (*Store, objectid.ID8) {
	t.Helper()
	snapID := objectid.ID12{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	manifestID := objectid.ID12{2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2}
	arrNodeID := objectid.ID8{3, 3, 3, 3, 3, 3, 3, 3}

	root := "http://example.test/repo/"
	snapIDStr := objectid.Encode(snapID)
	manifestIDStr := objectid.Encode(manifestID)

	fetcher := &fixtureFetcher{byURL: map[string][]byte{
		root + "refs/branch.main/ref.json":  []byte(`{"snapshot":"` + snapIDStr + `"}`),
		root + "snapshots/" + snapIDStr:     wrapEnvelope(envelope.FileTypeSnapshot, buildTestSnapshot(snapID, manifestID, arrNodeID)),
		root + "manifests/" + manifestIDStr: wrapEnvelope(envelope.FileTypeManifest, buildTestManifest(manifestID, arrNodeID)),
	}}

	opts := DefaultOptions()
	opts.Fetcher = fetcher
	s, err := Open(context.Background(), root, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, arrNodeID
}

func TestOpenAndGetGroupMetadata(t *testing.T) {
	s, _ := newFixtureStore(t)
	if s.ResolvedRef() == "" {
		t.Fatal("ResolvedRef is empty")
	}

	body, err := s.Get(context.Background(), "zarr.json")
	if err != nil {
		t.Fatalf("Get(zarr.json): %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["zarr_format"] != float64(3) || doc["node_type"] != "group" {
		t.Errorf("doc = %v", doc)
	}
}

func TestListChildren(t *testing.T) {
	s, _ := newFixtureStore(t)
	children := s.ListChildren("")
	if len(children) != 1 || children[0] != "arr" {
		t.Errorf("ListChildren = %v", children)
	}
}

func TestGetChunkInline(t *testing.T) {
	s, _ := newFixtureStore(t)
	body, err := s.Get(context.Background(), "arr/c/0")
	if err != nil {
		t.Fatalf("Get(arr/c/0): %v", err)
	}
	if !bytes.Equal(body, []byte("chunk-bytes")) {
		t.Errorf("body = %q", body)
	}
	if got := s.Stats().ManifestCacheSize; got != 1 {
		t.Errorf("ManifestCacheSize = %d, want 1", got)
	}
}

func TestGetChunkBadKey(t *testing.T) {
	s, _ := newFixtureStore(t)
	_, err := s.Get(context.Background(), "arr/c/x")
	if _, ok := err.(*BadKeyError); !ok {
		t.Fatalf("error = %v, want *BadKeyError", err)
	}
}

func TestGetAbsentChunk(t *testing.T) {
	s, _ := newFixtureStore(t)
	body, err := s.Get(context.Background(), "arr/c/9")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if body != nil {
		t.Errorf("body = %v, want nil (absent)", body)
	}
}

// noRangeFetcher promotes Fetch from the embedded fixtureFetcher but fails
// any FetchRange call, standing in for a native GCS/S3 fetcher that must
// never see an already-translated https:// virtual chunk URL.
type noRangeFetcher struct{ *fixtureFetcher }

func (f *noRangeFetcher) FetchRange(ctx context.Context, url string, offset, length uint64) ([]byte, error) {
	return nil, fmt.Errorf("unexpected native FetchRange call: %s", url)
}

func TestGetChunkVirtualUsesDedicatedHTTPSFetcher(t *testing.T) {
	snapID := objectid.ID12{4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4}
	manifestID := objectid.ID12{5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5}
	arrNodeID := objectid.ID8{6, 6, 6, 6, 6, 6, 6, 6}

	root := "s3://example-bucket/repo/"
	snapIDStr := objectid.Encode(snapID)
	manifestIDStr := objectid.Encode(manifestID)

	location := "gs://other-bucket/virtual.bin"
	translated := urlutil.TranslateURL(location, "")

	nativeFetcher := &noRangeFetcher{&fixtureFetcher{byURL: map[string][]byte{
		root + "refs/branch.main/ref.json": []byte(`{"snapshot":"` + snapIDStr + `"}`),
		root + "snapshots/" + snapIDStr:    wrapEnvelope(envelope.FileTypeSnapshot, buildTestSnapshot(snapID, manifestID, arrNodeID)),
		root + "manifests/" + manifestIDStr: wrapEnvelope(
			envelope.FileTypeManifest,
			buildVirtualManifest(manifestID, arrNodeID, location, 3, 6),
		),
	}}}
	virtualFetcher := &fixtureFetcher{byURL: map[string][]byte{
		translated: []byte("0123456789virtual"),
	}}

	opts := DefaultOptions()
	opts.Fetcher = nativeFetcher
	opts.VirtualFetcher = virtualFetcher
	s, err := Open(context.Background(), root, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	body, err := s.Get(context.Background(), "arr/c/0")
	if err != nil {
		t.Fatalf("Get(arr/c/0): %v", err)
	}
	if !bytes.Equal(body, []byte("345678")) {
		t.Errorf("body = %q, want %q", body, "345678")
	}
}

func TestResolveScopesGet(t *testing.T) {
	s, _ := newFixtureStore(t)
	view := s.Resolve("arr")
	body, err := view.Get(context.Background(), "c/0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(body, []byte("chunk-bytes")) {
		t.Errorf("body = %q", body)
	}
}
