/*
NAME
  cvf_test.go

DESCRIPTION
  cvf_test.go provides testing for the CVF field accessors in cvf.go.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package cvf

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/ausocean/avtp/protocol/avtp"
)

// pdu is the host order representation of an H.264 CVF PDU header.
type pdu struct {
	SubtypeData    uint32
	StreamID       uint64
	AVTPTime       uint32
	FormatSpecific uint32
	PacketInfo     uint32
	H264Time       uint32
}

func (p pdu) bytes() []byte {
	b := make([]byte, avtp.StreamHeaderSize+H264HeaderSize)
	binary.BigEndian.PutUint32(b[0:], p.SubtypeData)
	binary.BigEndian.PutUint64(b[4:], p.StreamID)
	binary.BigEndian.PutUint32(b[12:], p.AVTPTime)
	binary.BigEndian.PutUint32(b[16:], p.FormatSpecific)
	binary.BigEndian.PutUint32(b[20:], p.PacketInfo)
	binary.BigEndian.PutUint32(b[24:], p.H264Time)
	return b
}

func pduOf(b []byte) pdu {
	return pdu{
		SubtypeData:    binary.BigEndian.Uint32(b[0:]),
		StreamID:       binary.BigEndian.Uint64(b[4:]),
		AVTPTime:       binary.BigEndian.Uint32(b[12:]),
		FormatSpecific: binary.BigEndian.Uint32(b[16:]),
		PacketInfo:     binary.BigEndian.Uint32(b[20:]),
		H264Time:       binary.BigEndian.Uint32(b[24:]),
	}
}

var fieldTests = []struct {
	field Field
	val   uint64
	pdu   pdu
}{
	{field: FieldSV, val: 1, pdu: pdu{SubtypeData: 0x00800000}},
	{field: FieldMR, val: 1, pdu: pdu{SubtypeData: 0x00080000}},
	{field: FieldTV, val: 1, pdu: pdu{SubtypeData: 0x00010000}},
	{field: FieldSeqNum, val: 0xaa, pdu: pdu{SubtypeData: 0x0000aa00}},
	{field: FieldTU, val: 1, pdu: pdu{SubtypeData: 0x00000001}},
	{field: FieldStreamID, val: 0xaabbccddeeff0002, pdu: pdu{StreamID: 0xaabbccddeeff0002}},
	{field: FieldTimestamp, val: 0x80c0ffee, pdu: pdu{AVTPTime: 0x80c0ffee}},
	{field: FieldStreamDataLen, val: 0xaaaa, pdu: pdu{PacketInfo: 0xaaaa0000}},
	{field: FieldFormat, val: FormatRFC, pdu: pdu{FormatSpecific: 0x02000000}},
	{field: FieldFormatSubtype, val: SubtypeH264, pdu: pdu{FormatSpecific: 0x00010000}},
	{field: FieldM, val: 1, pdu: pdu{PacketInfo: 0x00001000}},
	{field: FieldEVT, val: 0xa, pdu: pdu{PacketInfo: 0x00000a00}},
	{field: FieldH264PTV, val: 1, pdu: pdu{PacketInfo: 0x00002000}},
	{field: FieldH264Timestamp, val: 0x80c0ffee, pdu: pdu{H264Time: 0x80c0ffee}},
}

func TestGet(t *testing.T) {
	for i, test := range fieldTests {
		got, err := Get(test.pdu.bytes(), test.field)
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
		b := make([]byte, avtp.StreamHeaderSize+H264HeaderSize)
		err := Set(b, test.field, test.val)
		if err != nil {
			t.Errorf("did not expect error for test %d: %v", i, err)
			continue
		}
		if diff := cmp.Diff(test.pdu, pduOf(b)); diff != "" {
			t.Errorf("unexpected PDU for test %d (-want +got):\n%s", i, diff)
		}
	}
}

func TestInvalid(t *testing.T) {
	hdr := make([]byte, avtp.StreamHeaderSize)

	for i, err := range []error{
		func() error { _, err := Get(nil, FieldFormat); return err }(),
		func() error { _, err := Get(hdr[:20], FieldM); return err }(),
		func() error { _, err := Get(hdr, FieldMax); return err }(),
		// The h264_timestamp lies beyond the stream header.
		func() error { _, err := Get(hdr, FieldH264Timestamp); return err }(),
		Set(hdr, FieldH264Timestamp, 1),
		Set(nil, FieldM, 1),
		Set(hdr, FieldMax, 1),
		Init(nil, SubtypeH264),
		Init(hdr[:avtp.StreamHeaderSize-1], SubtypeH264),
		Init(hdr, SubtypeJPEG2000+1),
	} {
		if errors.Cause(err) != avtp.ErrInvalidArgument {
			t.Errorf("expected invalid argument for case %d, got: %v", i, err)
		}
	}

	if diff := cmp.Diff(make([]byte, avtp.StreamHeaderSize), hdr); diff != "" {
		t.Errorf("PDU mutated by rejected calls:\n%s", diff)
	}
}

func TestInit(t *testing.T) {
	tests := []struct {
		subtype uint64
		want    pdu
	}{
		{subtype: SubtypeMJPEG, want: pdu{SubtypeData: 0x03800000, FormatSpecific: 0x02000000, H264Time: 0xffffffff}},
		{subtype: SubtypeH264, want: pdu{SubtypeData: 0x03800000, FormatSpecific: 0x02010000, H264Time: 0xffffffff}},
		{subtype: SubtypeJPEG2000, want: pdu{SubtypeData: 0x03800000, FormatSpecific: 0x02020000, H264Time: 0xffffffff}},
	}
	for i, test := range tests {
		b := make([]byte, avtp.StreamHeaderSize+H264HeaderSize)
		for j := range b {
			b[j] = 0xff
		}
		err := Init(b, test.subtype)
		if err != nil {
			t.Errorf("did not expect error for test %d: %v", i, err)
			continue
		}
		// Init only touches the stream header.
		if diff := cmp.Diff(test.want, pduOf(b)); diff != "" {
			t.Errorf("unexpected PDU for test %d (-want +got):\n%s", i, diff)
		}
	}
}

func TestIndependence(t *testing.T) {
	for f := Field(0); f < FieldMax; f++ {
		b := pdu{
			SubtypeData:    0x03a5a5a5,
			StreamID:       0x0102030405060708,
			AVTPTime:       0xdeadbeef,
			FormatSpecific: 0x5a5a5a5a,
			PacketInfo:     0xa5a55a5a,
			H264Time:       0x12345678,
		}.bytes()

		before := make([]uint64, FieldMax)
		for g := Field(0); g < FieldMax; g++ {
			before[g], _ = Get(b, g)
		}
		err := Set(b, f, ^before[f])
		if err != nil {
			t.Fatalf("did not expect error: %v", err)
		}
		for g := Field(0); g < FieldMax; g++ {
			got, _ := Get(b, g)
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

func TestPayload(t *testing.T) {
	b := append(make([]byte, avtp.StreamHeaderSize+H264HeaderSize), 0xde, 0xad)

	Init(b, SubtypeH264)
	got, err := Payload(b)
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	if !cmp.Equal(got, []byte{0xde, 0xad}) {
		t.Errorf("unexpected H.264 payload: %v", got)
	}

	Init(b, SubtypeMJPEG)
	got, err = Payload(b)
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	if len(got) != H264HeaderSize+2 {
		t.Errorf("unexpected MJPEG payload length.\nGot: %d\nWant: %d", len(got), H264HeaderSize+2)
	}

	short := make([]byte, avtp.StreamHeaderSize+2)
	Init(short, SubtypeH264)
	_, err = Payload(short)
	if errors.Cause(err) != avtp.ErrInvalidArgument {
		t.Errorf("expected invalid argument, got: %v", err)
	}
}
