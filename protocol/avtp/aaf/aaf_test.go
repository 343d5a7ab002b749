/*
NAME
  aaf_test.go

DESCRIPTION
  aaf_test.go provides testing for the AAF field accessors in aaf.go.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package aaf

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/ausocean/avtp/protocol/avtp"
)

type header struct {
	SubtypeData    uint32
	StreamID       uint64
	AVTPTime       uint32
	FormatSpecific uint32
	PacketInfo     uint32
}

func (h header) bytes() []byte {
	b := make([]byte, avtp.StreamHeaderSize)
	binary.BigEndian.PutUint32(b[0:], h.SubtypeData)
	binary.BigEndian.PutUint64(b[4:], h.StreamID)
	binary.BigEndian.PutUint32(b[12:], h.AVTPTime)
	binary.BigEndian.PutUint32(b[16:], h.FormatSpecific)
	binary.BigEndian.PutUint32(b[20:], h.PacketInfo)
	return b
}

func headerOf(b []byte) header {
	return header{
		SubtypeData:    binary.BigEndian.Uint32(b[0:]),
		StreamID:       binary.BigEndian.Uint64(b[4:]),
		AVTPTime:       binary.BigEndian.Uint32(b[12:]),
		FormatSpecific: binary.BigEndian.Uint32(b[16:]),
		PacketInfo:     binary.BigEndian.Uint32(b[20:]),
	}
}

var fieldTests = []struct {
	field Field
	val   uint64
	hdr   header
}{
	{field: FieldSV, val: 1, hdr: header{SubtypeData: 0x00800000}},
	{field: FieldMR, val: 1, hdr: header{SubtypeData: 0x00080000}},
	{field: FieldTV, val: 1, hdr: header{SubtypeData: 0x00010000}},
	{field: FieldSeqNum, val: 0xaa, hdr: header{SubtypeData: 0x0000aa00}},
	{field: FieldTU, val: 1, hdr: header{SubtypeData: 0x00000001}},
	{field: FieldStreamID, val: 0xaabbccddeeff0001, hdr: header{StreamID: 0xaabbccddeeff0001}},
	{field: FieldTimestamp, val: 0x80c0ffee, hdr: header{AVTPTime: 0x80c0ffee}},
	{field: FieldStreamDataLen, val: 0xaaaa, hdr: header{PacketInfo: 0xaaaa0000}},
	{field: FieldFormat, val: FormatInt16Bit, hdr: header{FormatSpecific: 0x04000000}},
	{field: FieldNSR, val: NSR48kHz, hdr: header{FormatSpecific: 0x00500000}},
	{field: FieldChanPerFrame, val: 0x2aa, hdr: header{FormatSpecific: 0x0002aa00}},
	{field: FieldBitDepth, val: 24, hdr: header{FormatSpecific: 0x00000018}},
	{field: FieldSP, val: SPSparse, hdr: header{PacketInfo: 0x00001000}},
	{field: FieldEVT, val: 0xa, hdr: header{PacketInfo: 0x00000a00}},
}

func TestGet(t *testing.T) {
	for i, test := range fieldTests {
		got, err := Get(test.hdr.bytes(), test.field)
		if err != nil {
			t.Errorf("did not expect error for test %d: %v", i, err)
			continue
		}
		if got != test.val {
			t.Errorf("unexpected %v for test %d.\nGot: %#x\nWant: %#x", test.field, i, got, test.val)
		}
	}
}

func TestSet(t *testing.T) {
	for i, test := range fieldTests {
		pdu := make([]byte, avtp.StreamHeaderSize)
		err := Set(pdu, test.field, test.val)
		if err != nil {
			t.Errorf("did not expect error for test %d: %v", i, err)
			continue
		}
		if diff := cmp.Diff(test.hdr, headerOf(pdu)); diff != "" {
			t.Errorf("unexpected header for test %d (-want +got):\n%s", i, diff)
		}
	}
}

func TestSetTruncates(t *testing.T) {
	pdu := make([]byte, avtp.StreamHeaderSize)
	err := Set(pdu, FieldNSR, 0x1f)
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	want := header{FormatSpecific: 0x00f00000}
	if diff := cmp.Diff(want, headerOf(pdu)); diff != "" {
		t.Errorf("unexpected header (-want +got):\n%s", diff)
	}
}

func TestInvalid(t *testing.T) {
	short := make([]byte, avtp.StreamHeaderSize-1)
	pdu := make([]byte, avtp.StreamHeaderSize)

	for i, err := range []error{
		func() error { _, err := Get(nil, FieldFormat); return err }(),
		func() error { _, err := Get(short, FieldFormat); return err }(),
		func() error { _, err := Get(short, FieldSV); return err }(),
		func() error { _, err := Get(pdu, FieldMax); return err }(),
		Set(nil, FieldNSR, 1),
		Set(short, FieldEVT, 1),
		Set(pdu, FieldMax, 1),
		Init(nil),
		Init(short),
	} {
		if errors.Cause(err) != avtp.ErrInvalidArgument {
			t.Errorf("expected invalid argument for case %d, got: %v", i, err)
		}
	}

	if diff := cmp.Diff(make([]byte, avtp.StreamHeaderSize), pdu); diff != "" {
		t.Errorf("PDU mutated by rejected calls:\n%s", diff)
	}
}

func TestInit(t *testing.T) {
	pdu := make([]byte, avtp.StreamHeaderSize)
	for i := range pdu {
		pdu[i] = 0xff
	}
	err := Init(pdu)
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	want := header{SubtypeData: 0x02800000}
	if diff := cmp.Diff(want, headerOf(pdu)); diff != "" {
		t.Errorf("unexpected header (-want +got):\n%s", diff)
	}
}

// TestIndependence checks that setting any AAF field leaves all other fields
// unchanged.
func TestIndependence(t *testing.T) {
	for f := Field(0); f < FieldMax; f++ {
		pdu := header{
			SubtypeData:    0x02a5a5a5,
			StreamID:       0x0102030405060708,
			AVTPTime:       0xdeadbeef,
			FormatSpecific: 0x5a5a5a5a,
			PacketInfo:     0xa5a55a5a,
		}.bytes()

		before := make([]uint64, FieldMax)
		for g := Field(0); g < FieldMax; g++ {
			before[g], _ = Get(pdu, g)
		}

		err := Set(pdu, f, ^before[f])
		if err != nil {
			t.Fatalf("did not expect error: %v", err)
		}

		for g := Field(0); g < FieldMax; g++ {
			got, _ := Get(pdu, g)
			if g == f {
				if got == before[g] {
					t.Errorf("set of %v had no effect", f)
				}
				continue
			}
			if got != before[g] {
				t.Errorf("set of %v perturbed %v. Got: %#x Want: %#x", f, g, got, before[g])
			}
		}
	}
}

func TestRates(t *testing.T) {
	for _, rate := range []uint{8000, 16000, 24000, 32000, 44100, 48000, 88200, 96000, 176400, 192000} {
		nsr := NSRFromRate(rate)
		if nsr == NSRUser {
			t.Errorf("no nsr for rate %d", rate)
			continue
		}
		if got := Rate(nsr); got != rate {
			t.Errorf("unexpected rate for nsr %d.\nGot: %d\nWant: %d", nsr, got, rate)
		}
	}
	if got := NSRFromRate(22050); got != NSRUser {
		t.Errorf("unexpected nsr for 22050 Hz.\nGot: %d\nWant: %d", got, NSRUser)
	}
	if got := NSRFromRate(48000); got != NSR48kHz {
		t.Errorf("unexpected nsr for 48 kHz.\nGot: %d\nWant: %d", got, NSR48kHz)
	}
}

func TestFormatFromBitDepth(t *testing.T) {
	tests := []struct {
		depth  uint
		format uint64
		size   int
	}{
		{depth: 16, format: FormatInt16Bit, size: 2},
		{depth: 24, format: FormatInt24Bit, size: 3},
		{depth: 32, format: FormatInt32Bit, size: 4},
		{depth: 0, format: FormatUser, size: 0},
		{depth: 64, format: FormatUser, size: 0},
	}
	for _, test := range tests {
		got := FormatFromBitDepth(test.depth)
		if got != test.format {
			t.Errorf("unexpected format for depth %d.\nGot: %d\nWant: %d", test.depth, got, test.format)
		}
		if size := SampleSize(got); size != test.size {
			t.Errorf("unexpected sample size for depth %d.\nGot: %d\nWant: %d", test.depth, size, test.size)
		}
	}
}
