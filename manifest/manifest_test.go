package manifest

import (
	"bytes"
	"testing"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/quantarax/icechunk/internal/fbreader/fbtest"
	"github.com/quantarax/icechunk/objectid"
)

func fieldIndex(vt flatbuffers.VOffsetT) int { return int(vt-4) / 2 }

type fixtureIDs struct {
	manifest objectid.ID12
	node     objectid.ID8
	native   objectid.ID12
}

func buildManifestFixture() ([]byte, fixtureIDs) {
	b := flatbuffers.NewBuilder(0)

	ids := fixtureIDs{
		manifest: objectid.ID12{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		node:     objectid.ID8{2, 2, 2, 2, 2, 2, 2, 2},
		native:   objectid.ID12{3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3},
	}

	// ref 0: inline chunk at coords (0,0)
	coords0 := fbtest.StructVector(b, [][]byte{u32(0), u32(0)})
	inlineData := b.CreateByteVector([]byte("hello chunk"))
	b.StartObject(8)
	b.PrependUOffsetTSlot(fieldIndex(vtChunkRefCoords), coords0, 0)
	b.PrependUOffsetTSlot(fieldIndex(vtChunkRefInline), inlineData, 0)
	ref0 := b.EndObject()

	// ref 1: virtual chunk at coords (0,1)
	coords1 := fbtest.StructVector(b, [][]byte{u32(0), u32(1)})
	location := b.CreateString("s3://bucket/key.bin")
	etag := b.CreateString("\"abc123\"")
	b.StartObject(8)
	b.PrependUOffsetTSlot(fieldIndex(vtChunkRefCoords), coords1, 0)
	b.PrependUOffsetTSlot(fieldIndex(vtChunkRefLocation), location, 0)
	b.PrependUint64Slot(fieldIndex(vtChunkRefOffset), 128, 0)
	b.PrependUint64Slot(fieldIndex(vtChunkRefLength), 64, 0)
	b.PrependUOffsetTSlot(fieldIndex(vtChunkRefETag), etag, 0)
	ref1 := b.EndObject()

	// ref 2: native chunk at coords (1,0)
	coords2 := fbtest.StructVector(b, [][]byte{u32(1), u32(0)})
	nativeIDBuf := fbtest.Bytes(b, ids.native[:])
	b.StartObject(8)
	b.PrependUOffsetTSlot(fieldIndex(vtChunkRefCoords), coords2, 0)
	b.PrependUint64Slot(fieldIndex(vtChunkRefOffset), 0, 0)
	b.PrependUint64Slot(fieldIndex(vtChunkRefLength), 256, 0)
	b.PrependStructSlot(fieldIndex(vtChunkRefNativeID), nativeIDBuf, 0)
	ref2 := b.EndObject()

	refsVec := fbtest.OffsetVector(b, []flatbuffers.UOffsetT{ref0, ref1, ref2})

	nodeIDBuf := fbtest.Bytes(b, ids.node[:])
	b.StartObject(2)
	b.PrependStructSlot(fieldIndex(vtArrayManifestNodeID), nodeIDBuf, 0)
	b.PrependUOffsetTSlot(fieldIndex(vtArrayManifestRefs), refsVec, 0)
	arrayManifestTable := b.EndObject()

	arraysVec := fbtest.OffsetVector(b, []flatbuffers.UOffsetT{arrayManifestTable})

	manifestIDBuf := fbtest.Bytes(b, ids.manifest[:])
	b.StartObject(2)
	b.PrependStructSlot(fieldIndex(vtManifestID), manifestIDBuf, 0)
	b.PrependUOffsetTSlot(fieldIndex(vtManifestArrays), arraysVec, 0)
	root := b.EndObject()

	return fbtest.Finish(b, root), ids
}

func u32(v uint32) []byte {
	buf := make([]byte, 4)
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
	return buf
}

func TestDecodeRoundTrip(t *testing.T) {
	payload, ids := buildManifestFixture()

	m, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.ID != ids.manifest {
		t.Errorf("ID = %x, want %x", m.ID, ids.manifest)
	}
	chunks, ok := m.Arrays[ids.node]
	if !ok {
		t.Fatalf("Arrays missing node %x", ids.node)
	}
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}

	inline, ok := FindChunk(m, ids.node, []uint32{0, 0})
	if !ok || inline.Kind != PayloadInline || !bytes.Equal(inline.InlineData, []byte("hello chunk")) {
		t.Errorf("inline chunk = %+v, ok=%v", inline, ok)
	}

	virtual, ok := FindChunk(m, ids.node, []uint32{0, 1})
	if !ok || virtual.Kind != PayloadVirtual || virtual.VirtualLocation != "s3://bucket/key.bin" ||
		virtual.Offset != 128 || virtual.Length != 64 || virtual.ETag != "\"abc123\"" {
		t.Errorf("virtual chunk = %+v, ok=%v", virtual, ok)
	}

	native, ok := FindChunk(m, ids.node, []uint32{1, 0})
	if !ok || native.Kind != PayloadNative || native.NativeID != ids.native || native.Length != 256 {
		t.Errorf("native chunk = %+v, ok=%v", native, ok)
	}

	if _, ok := FindChunk(m, ids.node, []uint32{9, 9}); ok {
		t.Errorf("FindChunk found a chunk at an absent coordinate")
	}
}

func TestCoordKey(t *testing.T) {
	cases := []struct {
		coords []uint32
		want   string
	}{
		{nil, ""},
		{[]uint32{0}, "0"},
		{[]uint32{1, 2, 3}, "1/2/3"},
	}
	for _, c := range cases {
		if got := CoordKey(c.coords); got != c.want {
			t.Errorf("CoordKey(%v) = %q, want %q", c.coords, got, c.want)
		}
	}
}
