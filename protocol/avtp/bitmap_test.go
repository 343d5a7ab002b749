/*
NAME
  bitmap_test.go

DESCRIPTION
  bitmap_test.go provides testing for the bitmap primitives in bitmap.go.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package avtp

import (
	"bytes"
	"testing"
)

func TestGetValue32(t *testing.T) {
	tests := []struct {
		bitmap uint32
		mask   uint32
		shift  uint
		want   uint64
	}{
		{bitmap: 0x00800000, mask: 0x00800000, shift: 23, want: 1},
		{bitmap: 0xffffffff, mask: 0x0000ff00, shift: 8, want: 0xff},
		{bitmap: 0x12345678, mask: 0xffffffff, shift: 0, want: 0x12345678},
		{bitmap: 0x0000aa00, mask: 0x000000ff, shift: 0, want: 0},
	}

	for i, test := range tests {
		got := GetValue32(test.bitmap, test.mask, test.shift)
		if got != test.want {
			t.Errorf("unexpected value for test %d.\nGot: %#x\nWant: %#x", i, got, test.want)
		}
	}
}

func TestSetValue32(t *testing.T) {
	tests := []struct {
		bitmap uint32
		val    uint64
		mask   uint32
		shift  uint
		want   uint32
	}{
		{bitmap: 0, val: 1, mask: 0x00800000, shift: 23, want: 0x00800000},
		{bitmap: 0xffffffff, val: 0, mask: 0x0000ff00, shift: 8, want: 0xffff00ff},
		{bitmap: 0x000000ff, val: 0x1ff, mask: 0x0000ff00, shift: 8, want: 0x0000ffff}, // Truncated to field width.
		{bitmap: 0xdeadbeef, val: 0x1, mask: 0x00000001, shift: 0, want: 0xdeadbeef},
	}

	for i, test := range tests {
		got := SetValue32(test.bitmap, test.val, test.mask, test.shift)
		if got != test.want {
			t.Errorf("unexpected bitmap for test %d.\nGot: %#x\nWant: %#x", i, got, test.want)
		}
	}
}

func TestValue64(t *testing.T) {
	f := Field64(29, 32)
	w := f.With(0xe00000000000ffff, 0x1fffffff)
	if w != 0xffffffff0000ffff {
		t.Errorf("unexpected word. Got: %#x Want: %#x", w, uint64(0xffffffff0000ffff))
	}
	if got := f.Get(w); got != 0x1fffffff {
		t.Errorf("unexpected value. Got: %#x Want: %#x", got, 0x1fffffff)
	}
	if got := Field64(64, 0).Get(0xaabbccddeeff0011); got != 0xaabbccddeeff0011 {
		t.Errorf("unexpected full width value. Got: %#x", got)
	}
}

func TestField32(t *testing.T) {
	tests := []struct {
		width, shift uint
		want         Bits32
	}{
		{width: 1, shift: 23, want: Bits32{Mask: 0x00800000, Shift: 23}},
		{width: 8, shift: 24, want: Bits32{Mask: 0xff000000, Shift: 24}},
		{width: 10, shift: 8, want: Bits32{Mask: 0x0003ff00, Shift: 8}},
		{width: 32, shift: 0, want: Bits32{Mask: 0xffffffff, Shift: 0}},
	}

	for i, test := range tests {
		got := Field32(test.width, test.shift)
		if got != test.want {
			t.Errorf("unexpected Bits32 for test %d.\nGot: %+v\nWant: %+v", i, got, test.want)
		}
	}
}

// TestUnaligned checks that the load/store helpers work at offsets that are
// not a multiple of the word size and use network byte order.
func TestUnaligned(t *testing.T) {
	b := make([]byte, 16)
	PutUint32At(b, 1, 0x01020304)
	PutUint64At(b, 5, 0x05060708090a0b0c)

	want := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 0, 0, 0}
	if !bytes.Equal(b, want) {
		t.Errorf("unexpected bytes.\nGot: %v\nWant: %v", b, want)
	}
	if got := Uint32At(b, 1); got != 0x01020304 {
		t.Errorf("unexpected 32-bit word. Got: %#x", got)
	}
	if got := Uint64At(b, 5); got != 0x05060708090a0b0c {
		t.Errorf("unexpected 64-bit word. Got: %#x", got)
	}
}

// TestFieldIndependence checks that writing every value of a field leaves the
// bits of the neighbouring fields of the same word untouched.
func TestFieldIndependence(t *testing.T) {
	fields := []Bits32{bitsSV, bitsMR, bitsTV, bitsSeqNum, bitsTU}
	for i, f := range fields {
		var w uint32 = 0xffffffff
		for v := uint64(0); v <= uint64(f.Mask>>f.Shift); v++ {
			w = f.With(w, v)
			if w&^f.Mask != 0xffffffff&^f.Mask {
				t.Fatalf("field %d perturbed other bits: %#x", i, w)
			}
			if got := f.Get(w); got != v {
				t.Fatalf("field %d: unexpected value. Got: %d Want: %d", i, got, v)
			}
		}
	}
}
