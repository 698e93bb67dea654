// Package fbreader reads FlatBuffers tables by explicit vtable slot offset,
// without relying on generated accessor code. The field-index/vtable-offset
// contracts it implements come from the snapshot and manifest format tables
// this repository decodes; see the snapshot and manifest packages.
package fbreader

import (
	"encoding/binary"

	flatbuffers "github.com/google/flatbuffers/go"
)

// Table wraps a flatbuffers.Table with typed, default-aware field readers
// keyed by vtable byte offset (the same numbers a generated reader would
// use: 4 for field 0, 6 for field 1, and so on).
type Table struct {
	t flatbuffers.Table
}

// RootTable interprets buf as a FlatBuffers buffer whose root table starts
// at byteOffset (almost always 0) and returns a Table over it.
func RootTable(buf []byte, byteOffset int) Table {
	n := flatbuffers.GetUOffsetT(buf[byteOffset:])
	return Table{t: flatbuffers.Table{
		Bytes: buf,
		Pos:   n + flatbuffers.UOffsetT(byteOffset),
	}}
}

// HasField reports whether the table carries a value for the given vtable
// byte offset.
func (t Table) HasField(vtableOffset flatbuffers.VOffsetT) bool {
	return t.t.Offset(vtableOffset) != 0
}

func (t Table) U8(vtableOffset flatbuffers.VOffsetT, def uint8) uint8 {
	o := t.t.Offset(vtableOffset)
	if o == 0 {
		return def
	}
	return t.t.GetUint8(t.t.Pos + flatbuffers.UOffsetT(o))
}

func (t Table) U32(vtableOffset flatbuffers.VOffsetT, def uint32) uint32 {
	o := t.t.Offset(vtableOffset)
	if o == 0 {
		return def
	}
	return t.t.GetUint32(t.t.Pos + flatbuffers.UOffsetT(o))
}

func (t Table) U64(vtableOffset flatbuffers.VOffsetT, def uint64) uint64 {
	o := t.t.Offset(vtableOffset)
	if o == 0 {
		return def
	}
	return t.t.GetUint64(t.t.Pos + flatbuffers.UOffsetT(o))
}

// String reads an optional string field. ok is false if the field is absent.
func (t Table) String(vtableOffset flatbuffers.VOffsetT) (string, bool) {
	o := t.t.Offset(vtableOffset)
	if o == 0 {
		return "", false
	}
	return string(t.t.ByteVector(t.t.Pos + flatbuffers.UOffsetT(o))), true
}

// ByteVector reads an optional []ubyte field. ok is false if absent.
func (t Table) ByteVector(vtableOffset flatbuffers.VOffsetT) ([]byte, bool) {
	o := t.t.Offset(vtableOffset)
	if o == 0 {
		return nil, false
	}
	return t.t.ByteVector(t.t.Pos + flatbuffers.UOffsetT(o)), true
}

// Struct returns a fixed-width inline struct's raw bytes, or ok=false if the
// field is absent. size is the struct's byte width.
func (t Table) Struct(vtableOffset flatbuffers.VOffsetT, size int) ([]byte, bool) {
	o := t.t.Offset(vtableOffset)
	if o == 0 {
		return nil, false
	}
	pos := t.t.Pos + flatbuffers.UOffsetT(o)
	return t.t.Bytes[pos : int(pos)+size], true
}

// SubTable returns the nested table a table-typed field points to, or
// ok=false if the field is absent.
func (t Table) SubTable(vtableOffset flatbuffers.VOffsetT) (Table, bool) {
	o := t.t.Offset(vtableOffset)
	if o == 0 {
		return Table{}, false
	}
	pos := t.t.Pos + flatbuffers.UOffsetT(o)
	indirect := t.t.Indirect(pos)
	return Table{t: flatbuffers.Table{Bytes: t.t.Bytes, Pos: indirect}}, true
}

// StructVector describes a vector of fixed-width inline structs (no
// per-element vtable indirection).
type StructVector struct {
	t        flatbuffers.Table
	base     flatbuffers.UOffsetT
	length   int
	elemSize int
}

func (v StructVector) Len() int { return v.length }

// Elem returns the raw bytes of element i.
func (v StructVector) Elem(i int) []byte {
	pos := v.base + flatbuffers.UOffsetT(i*v.elemSize)
	return v.t.Bytes[pos : int(pos)+v.elemSize]
}

// StructVectorField reads a vector-of-structs field.
func (t Table) StructVectorField(vtableOffset flatbuffers.VOffsetT, elemSize int) (StructVector, bool) {
	o := t.t.Offset(vtableOffset)
	if o == 0 {
		return StructVector{}, false
	}
	fieldPos := t.t.Pos + flatbuffers.UOffsetT(o)
	base := t.t.Vector(fieldPos)
	length := t.t.VectorLen(fieldPos)
	return StructVector{t: t.t, base: base, length: length, elemSize: elemSize}, true
}

// TableVector describes a vector of tables, each reached through its own
// UOffsetT indirection.
type TableVector struct {
	t      flatbuffers.Table
	base   flatbuffers.UOffsetT
	length int
}

func (v TableVector) Len() int { return v.length }

// Elem returns the i'th table in the vector.
func (v TableVector) Elem(i int) Table {
	elemPos := v.base + flatbuffers.UOffsetT(i*4)
	indirect := v.t.Indirect(elemPos)
	return Table{t: flatbuffers.Table{Bytes: v.t.Bytes, Pos: indirect}}
}

// TableVectorField reads a vector-of-tables field.
func (t Table) TableVectorField(vtableOffset flatbuffers.VOffsetT) (TableVector, bool) {
	o := t.t.Offset(vtableOffset)
	if o == 0 {
		return TableVector{}, false
	}
	fieldPos := t.t.Pos + flatbuffers.UOffsetT(o)
	base := t.t.Vector(fieldPos)
	length := t.t.VectorLen(fieldPos)
	return TableVector{t: t.t, base: base, length: length}, true
}

// LittleEndianU32 and LittleEndianU64 decode the inline struct fields
// (ObjectId structs aside, FlatBuffers structs are packed little-endian).
func LittleEndianU32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func LittleEndianU64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }
