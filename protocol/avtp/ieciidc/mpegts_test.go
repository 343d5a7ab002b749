/*
NAME
  mpegts_test.go

DESCRIPTION
  mpegts_test.go provides testing for the MPEG-TS Encoder and Validator.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package ieciidc

import (
	"testing"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/ausocean/avtp/protocol/avtp"
)

type pduRecorder [][]byte

func (r *pduRecorder) Write(p []byte) (int, error) {
	*r = append(*r, append([]byte(nil), p...))
	return len(p), nil
}

// tsPacket returns a transport packet with the given PID whose payload is
// filled with b.
func tsPacket(pid int, b byte) []byte {
	p := make([]byte, TSPacketSize)
	p[0] = tsSyncByte
	p[1] = 0x40 | byte(pid>>8)&0x1f
	p[2] = byte(pid)
	p[3] = 0x10
	for i := 4; i < len(p); i++ {
		p[i] = b
	}
	return p
}

func TestEncoder(t *testing.T) {
	var dst pduRecorder
	now := time.Unix(0, 0x1234567890)
	e, err := NewEncoder(
		&dst,
		(*logging.TestLogger)(t),
		StreamID(0xaabbccddeeff0001),
		TransitTime(time.Millisecond),
		Clock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("could not create encoder: %v", err)
	}

	in := append(tsPacket(0x100, 0xaa), tsPacket(0x101, 0xbb)...)
	n, err := e.Write(in)
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	if n != len(in) {
		t.Errorf("unexpected write count.\nGot: %d\nWant: %d", n, len(in))
	}
	if len(dst) != 2 {
		t.Fatalf("unexpected number of PDUs.\nGot: %d\nWant: 2", len(dst))
	}

	wantTS := uint32(uint64(now.UnixNano()) + uint64(time.Millisecond))
	for i, pdu := range dst {
		if len(pdu) != TSPDUSize {
			t.Errorf("unexpected size of PDU %d.\nGot: %d\nWant: %d", i, len(pdu), TSPDUSize)
		}
		for _, c := range []struct {
			field Field
			want  uint64
		}{
			{FieldSV, 1},
			{FieldTV, 0},
			{FieldSeqNum, uint64(i)},
			{FieldStreamID, 0xaabbccddeeff0001},
			{FieldStreamDataLen, TSDataLen},
			{FieldTag, TagCIP},
			{FieldChannel, 31},
			{FieldTCode, TCode},
			{FieldCIPSID, 63},
			{FieldCIPDBS, 6},
			{FieldCIPFN, 3},
			{FieldCIPSPH, 1},
			{FieldCIPQI2, 2},
			{FieldCIPFMT, FMTMPEG2TS},
			{FieldCIPDBC, uint64(8 * i)},
		} {
			got, err := Get(pdu, c.field)
			if err != nil {
				t.Fatalf("could not get %v: %v", c.field, err)
			}
			if got != c.want {
				t.Errorf("unexpected %v for PDU %d.\nGot: %#x\nWant: %#x", c.field, i, got, c.want)
			}
		}

		pkt, ts, err := TransportPacket(pdu)
		if err != nil {
			t.Fatalf("could not get transport packet: %v", err)
		}
		if ts != wantTS {
			t.Errorf("unexpected source packet timestamp.\nGot: %#x\nWant: %#x", ts, wantTS)
		}
		if diff := cmp.Diff(in[i*TSPacketSize:(i+1)*TSPacketSize], pkt); diff != "" {
			t.Errorf("unexpected transport packet %d (-want +got):\n%s", i, diff)
		}
	}
}

func TestEncoderPIDs(t *testing.T) {
	var dst pduRecorder
	e, err := NewEncoder(&dst, (*logging.TestLogger)(t), PIDs(0x101))
	if err != nil {
		t.Fatalf("could not create encoder: %v", err)
	}
	_, err = e.Write(append(tsPacket(0x100, 0xaa), tsPacket(0x101, 0xbb)...))
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	if len(dst) != 1 {
		t.Fatalf("unexpected number of PDUs.\nGot: %d\nWant: 1", len(dst))
	}
	pkt, _, _ := TransportPacket(dst[0])
	if pkt[4] != 0xbb {
		t.Errorf("unexpected packet sent, payload starts with %#x", pkt[4])
	}
}

func TestEncoderBadInput(t *testing.T) {
	e, err := NewEncoder(&pduRecorder{}, (*logging.TestLogger)(t))
	if err != nil {
		t.Fatalf("could not create encoder: %v", err)
	}

	_, err = e.Write(make([]byte, TSPacketSize-1))
	if errors.Cause(err) != avtp.ErrInvalidArgument {
		t.Errorf("expected invalid argument for partial packet, got: %v", err)
	}

	bad := tsPacket(0x100, 0)
	bad[0] = 0
	_, err = e.Write(bad)
	if errors.Cause(err) != avtp.ErrInvalidArgument {
		t.Errorf("expected invalid argument for bad sync byte, got: %v", err)
	}

	_, err = NewEncoder(&pduRecorder{}, (*logging.TestLogger)(t), Channel(64))
	if errors.Cause(err) != avtp.ErrInvalidArgument {
		t.Errorf("expected invalid argument for channel 64, got: %v", err)
	}
}

func TestValidator(t *testing.T) {
	var dst pduRecorder
	e, err := NewEncoder(&dst, (*logging.TestLogger)(t), StreamID(7))
	if err != nil {
		t.Fatalf("could not create encoder: %v", err)
	}
	for i := 0; i < 4; i++ {
		_, err = e.Write(tsPacket(0x100, byte(i)))
		if err != nil {
			t.Fatalf("did not expect error: %v", err)
		}
	}

	v := NewValidator(7, 31, (*logging.TestLogger)(t))
	for _, i := range []int{0, 1} {
		if err := v.Validate(dst[i]); err != nil {
			t.Errorf("did not expect error for PDU %d: %v", i, err)
		}
	}

	err = v.Validate(dst[3])
	var cerr *ContinuityError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected continuity error, got: %v", err)
	}
	if diff := cmp.Diff(ContinuityError{Field: FieldSeqNum, Got: 3, Want: 2}, *cerr); diff != "" {
		t.Errorf("unexpected continuity error (-want +got):\n%s", diff)
	}

	// A repeated sequence number with the expected dbc is also a discontinuity.
	dup := append([]byte(nil), dst[3]...)
	Set(dup, FieldCIPDBC, 32)
	err = v.Validate(dup)
	if !errors.As(err, &cerr) || cerr.Field != FieldSeqNum {
		t.Errorf("expected sequence discontinuity, got: %v", err)
	}

	// Data block count mismatch alone.
	next := append([]byte(nil), dst[3]...)
	Set(next, FieldSeqNum, 4)
	Set(next, FieldCIPDBC, 0)
	err = v.Validate(next)
	if !errors.As(err, &cerr) {
		t.Fatalf("expected continuity error, got: %v", err)
	}
	if diff := cmp.Diff(ContinuityError{Field: FieldCIPDBC, Got: 0, Want: 40}, *cerr); diff != "" {
		t.Errorf("unexpected continuity error (-want +got):\n%s", diff)
	}

	mismatch := append([]byte(nil), dst[0]...)
	Set(mismatch, FieldStreamID, 8)
	err = NewValidator(7, 31, (*logging.TestLogger)(t)).Validate(mismatch)
	if errors.Cause(err) != ErrMismatch {
		t.Errorf("expected mismatch for wrong stream, got: %v", err)
	}

	err = v.Validate(dst[0][:TSPDUSize-1])
	if errors.Cause(err) != avtp.ErrInvalidArgument {
		t.Errorf("expected invalid argument for short PDU, got: %v", err)
	}
}
