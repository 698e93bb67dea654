// Package fbtest builds small FlatBuffers fixtures for the snapshot and
// manifest decoder tests, without relying on generated builder code.
package fbtest

import (
	"encoding/binary"

	flatbuffers "github.com/google/flatbuffers/go"
)

// Bytes writes buf as a raw inline struct field and returns its offset for
// use with Builder.PrependStructSlot.
func Bytes(b *flatbuffers.Builder, buf []byte) flatbuffers.UOffsetT {
	b.Prep(1, len(buf))
	for i := len(buf) - 1; i >= 0; i-- {
		b.PrependByte(buf[i])
	}
	return b.Offset()
}

// U64Pair packs two little-endian u64 values into a 16-byte struct.
func U64Pair(a, c uint64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], a)
	binary.LittleEndian.PutUint64(buf[8:16], c)
	return buf
}

// U32Pair packs two little-endian u32 values into an 8-byte struct.
func U32Pair(a, c uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], a)
	binary.LittleEndian.PutUint32(buf[4:8], c)
	return buf
}

// StructVector builds a vector of fixed-width inline structs from raw byte
// slices (all must share the same length).
func StructVector(b *flatbuffers.Builder, elems [][]byte) flatbuffers.UOffsetT {
	n := len(elems)
	elemSize := 0
	if n > 0 {
		elemSize = len(elems[0])
	}
	b.StartVector(elemSize, n, 1)
	for i := n - 1; i >= 0; i-- {
		e := elems[i]
		for j := len(e) - 1; j >= 0; j-- {
			b.PrependByte(e[j])
		}
	}
	return b.EndVector(n)
}

// OffsetVector builds a vector of UOffsetT references (tables or strings),
// each of which must already be finished.
func OffsetVector(b *flatbuffers.Builder, offs []flatbuffers.UOffsetT) flatbuffers.UOffsetT {
	n := len(offs)
	b.StartVector(4, n, 4)
	for i := n - 1; i >= 0; i-- {
		b.PrependUOffsetT(offs[i])
	}
	return b.EndVector(n)
}

// Finish finishes b with the FlatBuffers file identifier Icechunk tables
// carry, and returns the finished buffer (root offset at [0:4], "Ichk" at
// [4:8], matching what envelope.Parse hands the decoders).
func Finish(b *flatbuffers.Builder, root flatbuffers.UOffsetT) []byte {
	b.FinishWithFileIdentifier(root, "Ichk")
	return b.FinishedBytes()
}
