// Package fbs has small helpers for walking flatbuffer tables by field slot,
// shared by the metadata schema codec and the TFLite model reader.
package fbs

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

const uoffsetSize = 4

// Table is a flatbuffer table addressed by slot number rather than vtable offset.
type Table struct {
	flatbuffers.Table
}

// Root returns the root table of a finished buffer.
func Root(buf []byte) Table {
	return At(buf, flatbuffers.GetUOffsetT(buf))
}

// At returns the table that starts at pos.
func At(buf []byte, pos flatbuffers.UOffsetT) Table {
	return Table{flatbuffers.Table{Bytes: buf, Pos: pos}}
}

// VOffset converts a field slot to its vtable offset.
func VOffset(slot int) flatbuffers.VOffsetT {
	return flatbuffers.VOffsetT(4 + 2*slot)
}

// Field returns the absolute position of a field, or 0 when it is absent.
func (t Table) Field(slot int) flatbuffers.UOffsetT {
	o := t.Offset(VOffset(slot))
	if o == 0 {
		return 0
	}
	return flatbuffers.UOffsetT(o) + t.Pos
}

// Has reports whether the field is present.
func (t Table) Has(slot int) bool { return t.Field(slot) != 0 }

// Target returns the absolute position of the object a reference field points at.
func (t Table) Target(slot int) (flatbuffers.UOffsetT, bool) {
	p := t.Field(slot)
	if p == 0 {
		return 0, false
	}
	return t.Indirect(p), true
}

// String reads a string field.
func (t Table) String(slot int) string {
	p := t.Field(slot)
	if p == 0 {
		return ""
	}
	return string(t.ByteVector(p))
}

// Blob reads a [ubyte] field without copying.
func (t Table) Blob(slot int) []byte {
	p := t.Field(slot)
	if p == 0 {
		return nil
	}
	return t.ByteVector(p)
}

// Sub reads a table field.
func (t Table) Sub(slot int) (Table, bool) {
	pos, ok := t.Target(slot)
	if !ok {
		return Table{}, false
	}
	return At(t.Table.Bytes, pos), true
}

// Vector returns the position of the first element and the length of a vector field.
func (t Table) Vector(slot int) (flatbuffers.UOffsetT, int) {
	pos, ok := t.Target(slot)
	if !ok {
		return 0, 0
	}
	n := int(flatbuffers.GetUOffsetT(t.Table.Bytes[pos:]))
	return pos + uoffsetSize, n
}

// Len returns the length of a vector field, 0 when absent.
func (t Table) Len(slot int) int {
	_, n := t.Vector(slot)
	return n
}

// Tables reads a vector of tables.
func (t Table) Tables(slot int) []Table {
	start, n := t.Vector(slot)
	if n == 0 {
		return nil
	}
	out := make([]Table, n)
	for i := range out {
		out[i] = At(t.Table.Bytes, t.Indirect(start+flatbuffers.UOffsetT(i*uoffsetSize)))
	}
	return out
}

// Float32s reads a [float] field.
func (t Table) Float32s(slot int) []float32 {
	start, n := t.Vector(slot)
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = t.GetFloat32(start + flatbuffers.UOffsetT(i*4))
	}
	return out
}

// Int32s reads an [int] field.
func (t Table) Int32s(slot int) []int32 {
	start, n := t.Vector(slot)
	if n == 0 {
		return nil
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = t.GetInt32(start + flatbuffers.UOffsetT(i*4))
	}
	return out
}

// Int8 reads a byte-sized scalar field, returning def when absent.
func (t Table) Int8(slot int, def int8) int8 {
	p := t.Field(slot)
	if p == 0 {
		return def
	}
	return t.GetInt8(p)
}

// Uint8 reads a ubyte scalar field, returning def when absent.
func (t Table) Uint8(slot int, def uint8) uint8 {
	p := t.Field(slot)
	if p == 0 {
		return def
	}
	return t.GetUint8(p)
}

// Uint32 reads a uint scalar field, returning def when absent.
func (t Table) Uint32(slot int, def uint32) uint32 {
	p := t.Field(slot)
	if p == 0 {
		return def
	}
	return t.GetUint32(p)
}

// Uint64 reads a ulong scalar field, returning def when absent.
func (t Table) Uint64(slot int, def uint64) uint64 {
	p := t.Field(slot)
	if p == 0 {
		return def
	}
	return t.GetUint64(p)
}

// Slots returns the number of field slots declared in the table's vtable.
func (t Table) Slots() int {
	vtable := flatbuffers.UOffsetT(flatbuffers.SOffsetT(t.Pos) - t.GetSOffsetT(t.Pos))
	return (int(t.GetVOffsetT(vtable)) - 4) / 2
}

// HasIdentifier reports whether a finished buffer carries the 4-byte file identifier.
func HasIdentifier(buf []byte, id string) bool {
	if len(buf) < 8 || len(id) != 4 {
		return false
	}
	return string(buf[4:8]) == id
}

// Float32Vector writes a [float] vector.
func Float32Vector(b *flatbuffers.Builder, vals []float32) flatbuffers.UOffsetT {
	b.StartVector(4, len(vals), 4)
	for i := len(vals) - 1; i >= 0; i-- {
		b.PrependFloat32(vals[i])
	}
	return b.EndVector(len(vals))
}

// Int32Vector writes an [int] vector.
func Int32Vector(b *flatbuffers.Builder, vals []int32) flatbuffers.UOffsetT {
	b.StartVector(4, len(vals), 4)
	for i := len(vals) - 1; i >= 0; i-- {
		b.PrependInt32(vals[i])
	}
	return b.EndVector(len(vals))
}

// OffsetVector writes a vector of references to already-built objects.
func OffsetVector(b *flatbuffers.Builder, offs []flatbuffers.UOffsetT) flatbuffers.UOffsetT {
	b.StartVector(uoffsetSize, len(offs), uoffsetSize)
	for i := len(offs) - 1; i >= 0; i-- {
		b.PrependUOffsetT(offs[i])
	}
	return b.EndVector(len(offs))
}

// AlignedBytes writes a [ubyte] vector whose data starts on an align-byte boundary.
func AlignedBytes(b *flatbuffers.Builder, data []byte, align int) flatbuffers.UOffsetT {
	b.StartVector(1, len(data), align)
	b.Pad(len(data))
	copy(b.Bytes[b.Head():], data)
	return b.EndVector(len(data))
}
