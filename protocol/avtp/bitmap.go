/*
NAME
  bitmap.go

DESCRIPTION
  bitmap.go provides the mask and shift primitives used to read and write
  bit packed AVTP header fields, and big-endian load/store helpers for words
  at arbitrary byte offsets of a PDU.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package avtp

import "encoding/binary"

// GetValue32 returns the bits of bitmap selected by mask, shifted down by
// shift. The mask must be contiguous, e.g. 0b00111000, and shift must be the
// position of its lowest set bit.
func GetValue32(bitmap, mask uint32, shift uint) uint64 {
	return uint64((bitmap & mask) >> shift)
}

// SetValue32 returns bitmap with the bits selected by mask replaced by val
// shifted up by shift. Bits of val that don't fit in mask are dropped.
func SetValue32(bitmap uint32, val uint64, mask uint32, shift uint) uint32 {
	return (bitmap &^ mask) | (uint32(val<<shift) & mask)
}

// GetValue64 is the 64-bit counterpart of GetValue32.
func GetValue64(bitmap, mask uint64, shift uint) uint64 {
	return (bitmap & mask) >> shift
}

// SetValue64 is the 64-bit counterpart of SetValue32.
func SetValue64(bitmap, val, mask uint64, shift uint) uint64 {
	return (bitmap &^ mask) | ((val << shift) & mask)
}

// Bits32 describes a run of width bits within a 32-bit word whose lowest
// bit is at position Shift.
type Bits32 struct {
	Mask  uint32
	Shift uint
}

// Field32 returns the Bits32 for a field of width bits with its lowest bit at
// shift. Bit positions count from the least significant bit of the host
// value, i.e. after conversion from network order.
func Field32(width, shift uint) Bits32 {
	return Bits32{Mask: uint32((uint64(1)<<width)-1) << shift, Shift: shift}
}

// Get returns the value of the field within w.
func (b Bits32) Get(w uint32) uint64 { return GetValue32(w, b.Mask, b.Shift) }

// With returns w with the field set to v.
func (b Bits32) With(w uint32, v uint64) uint32 { return SetValue32(w, v, b.Mask, b.Shift) }

// Bits64 describes a run of bits within a 64-bit word.
type Bits64 struct {
	Mask  uint64
	Shift uint
}

// Field64 returns the Bits64 for a field of width bits with its lowest bit at
// shift.
func Field64(width, shift uint) Bits64 {
	var m uint64 = 1<<width - 1
	if width >= 64 {
		m = ^uint64(0)
	}
	return Bits64{Mask: m << shift, Shift: shift}
}

// Get returns the value of the field within w.
func (b Bits64) Get(w uint64) uint64 { return GetValue64(w, b.Mask, b.Shift) }

// With returns w with the field set to v.
func (b Bits64) With(w, v uint64) uint64 { return SetValue64(w, v, b.Mask, b.Shift) }

// Uint32At reads the big-endian 32-bit word at byte offset off of b.
// The caller must ensure len(b) >= off+4.
func Uint32At(b []byte, off int) uint32 {
	return binary.BigEndian.Uint32(b[off : off+4])
}

// PutUint32At writes v as a big-endian 32-bit word at byte offset off of b.
func PutUint32At(b []byte, off int, v uint32) {
	binary.BigEndian.PutUint32(b[off:off+4], v)
}

// Uint64At reads the big-endian 64-bit word at byte offset off of b.
func Uint64At(b []byte, off int) uint64 {
	return binary.BigEndian.Uint64(b[off : off+8])
}

// PutUint64At writes v as a big-endian 64-bit word at byte offset off of b.
func PutUint64At(b []byte, off int, v uint64) {
	binary.BigEndian.PutUint64(b[off:off+8], v)
}

// Get32 reads the word at off and returns the value of field f within it.
func Get32(b []byte, off int, f Bits32) uint64 {
	return f.Get(Uint32At(b, off))
}

// Set32 performs a read-modify-write of field f within the word at off.
func Set32(b []byte, off int, f Bits32, v uint64) {
	PutUint32At(b, off, f.With(Uint32At(b, off), v))
}

// Get64 reads the 64-bit word at off and returns the value of field f.
func Get64(b []byte, off int, f Bits64) uint64 {
	return f.Get(Uint64At(b, off))
}

// Set64 performs a read-modify-write of field f within the 64-bit word at off.
func Set64(b []byte, off int, f Bits64, v uint64) {
	PutUint64At(b, off, f.With(Uint64At(b, off), v))
}
