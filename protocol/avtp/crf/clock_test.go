/*
NAME
  clock_test.go

DESCRIPTION
  clock_test.go provides testing for the CRF Encoder, Validator and
  MediaClock.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package crf

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

// timestamps returns all timestamps held by pdu.
func timestamps(t *testing.T, pdu []byte) []uint64 {
	n, err := NumTimestamps(pdu)
	if err != nil {
		t.Fatalf("could not get number of timestamps: %v", err)
	}
	ts := make([]uint64, n)
	for i := range ts {
		ts[i], _ = Timestamp(pdu, i)
	}
	return ts
}

func TestEncoder(t *testing.T) {
	var dst pduRecorder
	e, err := NewEncoder(&dst, (*logging.TestLogger)(t), StreamID(0xaabbccddeeff0002), BaseTime(1000))
	if err != nil {
		t.Fatalf("could not create encoder: %v", err)
	}
	for i := 0; i < 2; i++ {
		err = e.Next()
		if err != nil {
			t.Fatalf("did not expect error for PDU %d: %v", i, err)
		}
	}
	if len(dst) != 2 {
		t.Fatalf("unexpected number of PDUs.\nGot: %d\nWant: 2", len(dst))
	}

	for i, pdu := range dst {
		if len(pdu) != HeaderSize+6*TimestampSize {
			t.Errorf("unexpected size of PDU %d: %d", i, len(pdu))
		}
		for _, c := range []struct {
			field Field
			want  uint64
		}{
			{FieldSV, 1},
			{FieldFS, 0},
			{FieldSeqNum, uint64(i)},
			{FieldType, TypeAudioSample},
			{FieldStreamID, 0xaabbccddeeff0002},
			{FieldPull, PullMultBy1},
			{FieldBaseFreq, 48000},
			{FieldTimestampInterval, 160},
			{FieldCRFDataLen, 48},
		} {
			got, err := Get(pdu, c.field)
			if err != nil {
				t.Fatalf("could not get %v: %v", c.field, err)
			}
			if got != c.want {
				t.Errorf("unexpected %v for PDU %d.\nGot: %d\nWant: %d", c.field, i, got, c.want)
			}
		}
	}

	want := [][]uint64{
		{1000, 3334333, 6667666, 10001000, 13334333, 16667666},
		{20001000, 23334333, 26667666, 30001000, 33334333, 36667666},
	}
	for i, pdu := range dst {
		if diff := cmp.Diff(want[i], timestamps(t, pdu)); diff != "" {
			t.Errorf("unexpected timestamps for PDU %d (-want +got):\n%s", i, diff)
		}
	}

	if e.Interval() != 20*time.Millisecond {
		t.Errorf("unexpected PDU interval.\nGot: %v\nWant: %v", e.Interval(), 20*time.Millisecond)
	}
}

func TestEncoderOptions(t *testing.T) {
	var dst pduRecorder
	e, err := NewEncoder(
		&dst,
		(*logging.TestLogger)(t),
		Type(TypeVideoFrame),
		Clock(25, PullMultBy1, 1),
		TimestampsPerPDU(2),
	)
	if err != nil {
		t.Fatalf("could not create encoder: %v", err)
	}
	err = e.Next()
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	typ, _ := Get(dst[0], FieldType)
	if typ != TypeVideoFrame {
		t.Errorf("unexpected type.\nGot: %d\nWant: %d", typ, TypeVideoFrame)
	}
	if diff := cmp.Diff([]uint64{0, uint64(40 * time.Millisecond)}, timestamps(t, dst[0])); diff != "" {
		t.Errorf("unexpected timestamps (-want +got):\n%s", diff)
	}

	for i, option := range []func(*Encoder) error{
		Type(TypeMachineCycle + 1),
		Clock(0, PullMultBy1, 160),
		Clock(1<<29, PullMultBy1, 160),
		Clock(48000, 6, 160),
		Clock(48000, PullMultBy1, 0),
		TimestampsPerPDU(0),
		TimestampsPerPDU(1 << 13),
	} {
		_, err := NewEncoder(&dst, (*logging.TestLogger)(t), option)
		if errors.Cause(err) != avtp.ErrInvalidArgument {
			t.Errorf("expected invalid argument for option %d, got: %v", i, err)
		}
	}
}

func TestValidator(t *testing.T) {
	var dst pduRecorder
	e, err := NewEncoder(&dst, (*logging.TestLogger)(t), StreamID(2))
	if err != nil {
		t.Fatalf("could not create encoder: %v", err)
	}
	for i := 0; i < 4; i++ {
		e.Next()
	}

	s := Stream{ID: 2, Type: TypeAudioSample, Pull: PullMultBy1, BaseFreq: 48000, DataLen: 48}
	v := NewValidator(s, (*logging.TestLogger)(t))
	for _, i := range []int{0, 1} {
		if err := v.Validate(dst[i]); err != nil {
			t.Errorf("did not expect error for PDU %d: %v", i, err)
		}
	}

	err = v.Validate(dst[3])
	var serr *SequenceError
	if !errors.As(err, &serr) {
		t.Fatalf("expected sequence error, got: %v", err)
	}
	if diff := cmp.Diff(SequenceError{Got: 3, Want: 2}, *serr); diff != "" {
		t.Errorf("unexpected sequence error (-want +got):\n%s", diff)
	}

	next := append([]byte(nil), dst[3]...)
	Set(next, FieldSeqNum, 4)
	if err := v.Validate(next); err != nil {
		t.Errorf("did not expect error after resync: %v", err)
	}

	for i, mutate := range []func([]byte){
		func(b []byte) { avtp.Set(b, avtp.FieldSubtype, uint32(avtp.SubtypeAAF)) },
		func(b []byte) { avtp.Set(b, avtp.FieldVersion, 1) },
		func(b []byte) { Set(b, FieldSV, 0) },
		func(b []byte) { Set(b, FieldFS, 1) },
		func(b []byte) { Set(b, FieldType, TypeVideoLine) },
		func(b []byte) { Set(b, FieldStreamID, 3) },
		func(b []byte) { Set(b, FieldPull, PullMultBy1001) },
		func(b []byte) { Set(b, FieldBaseFreq, 44100) },
		func(b []byte) { Set(b, FieldCRFDataLen, 40) },
	} {
		b := append([]byte(nil), dst[0]...)
		mutate(b)
		err := NewValidator(s, (*logging.TestLogger)(t)).Validate(b)
		if errors.Cause(err) != ErrMismatch {
			t.Errorf("expected mismatch for case %d, got: %v", i, err)
		}
	}

	empty := append([]byte(nil), dst[0][:HeaderSize]...)
	Set(empty, FieldCRFDataLen, 0)
	err = NewValidator(Stream{ID: 2, Type: TypeAudioSample, BaseFreq: 48000}, (*logging.TestLogger)(t)).Validate(empty)
	if errors.Cause(err) != avtp.ErrInvalidArgument {
		t.Errorf("expected invalid argument for PDU without timestamps, got: %v", err)
	}
}

// crfPDU returns a CRF PDU whose first timestamp is ts.
func crfPDU(ts uint64) []byte {
	b := make([]byte, HeaderSize+TimestampSize)
	Init(b)
	Set(b, FieldCRFDataLen, TimestampSize)
	SetTimestamp(b, 0, ts)
	return b
}

func TestMediaClock(t *testing.T) {
	m, err := NewMediaClock(1000, 4, 0)
	if err != nil {
		t.Fatalf("could not create media clock: %v", err)
	}
	err = m.Recover(crfPDU(10000))
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}

	steps := []struct {
		avtpTime uint32
		want     uint64
	}{
		{avtpTime: 12000, want: 12000}, // Lookup skips 10000 and 11000.
		{avtpTime: 0, want: 13000},
		{avtpTime: 0, want: 14000}, // Freewheeled.
	}
	for i, s := range steps {
		got, err := m.Timestamp(s.avtpTime)
		if err != nil {
			t.Fatalf("did not expect error for step %d: %v", i, err)
		}
		if got != s.want {
			t.Errorf("unexpected media clock timestamp for step %d.\nGot: %d\nWant: %d", i, got, s.want)
		}
	}

	// 14000 has already been used so only 15000 onwards is recovered.
	m.Recover(crfPDU(14000))
	got, err := m.Timestamp(16000)
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	if got != 16000 {
		t.Errorf("unexpected media clock timestamp after freewheel.\nGot: %d\nWant: 16000", got)
	}
	if next := m.Next(); next != 17000 {
		t.Errorf("unexpected next media clock timestamp.\nGot: %d\nWant: 17000", next)
	}
}

func TestMediaClockOffset(t *testing.T) {
	m, err := NewMediaClock(1000, 1, 1500)
	if err != nil {
		t.Fatalf("could not create media clock: %v", err)
	}
	m.Recover(crfPDU(10000))
	if got := m.Next(); got != 12000 {
		t.Errorf("unexpected media clock timestamp.\nGot: %d\nWant: 12000", got)
	}
}

func TestMediaClockResync(t *testing.T) {
	m, err := NewMediaClock(1000, 4, 0)
	if err != nil {
		t.Fatalf("could not create media clock: %v", err)
	}
	m.Recover(crfPDU(10000))

	// The PDU presented at 11000 is lost.
	steps := []struct {
		avtpTime uint32
		resync   bool
		want     uint64
	}{
		{avtpTime: 10000, want: 10000},
		{avtpTime: 12000, resync: true, want: 12000},
		{avtpTime: 13000, want: 13000},
	}
	for i, s := range steps {
		if s.resync {
			m.Resync()
		}
		got, err := m.Timestamp(s.avtpTime)
		if err != nil {
			t.Fatalf("did not expect error for step %d: %v", i, err)
		}
		if got != s.want {
			t.Errorf("unexpected media clock timestamp for step %d.\nGot: %d\nWant: %d", i, got, s.want)
		}
	}
}

func TestMediaClockFreewheel(t *testing.T) {
	m, _ := NewMediaClock(1000, 1, 0)
	got, err := m.Timestamp(5000)
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	if got != 5000 {
		t.Errorf("unexpected media clock timestamp.\nGot: %d\nWant: 5000", got)
	}

	_, err = m.Timestamp(5500)
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}

	// Presentation times off the media clock grid match within a quarter
	// period.
	for _, test := range []struct {
		avtpTime uint32
		want     uint64
	}{
		{avtpTime: 5001, want: 5000},
		{avtpTime: 4750, want: 5000},
		{avtpTime: 5250, want: 5000},
		{avtpTime: 5751, want: 6000},
	} {
		m, _ = NewMediaClock(1000, 1, 0)
		got, err := m.Timestamp(test.avtpTime)
		if err != nil {
			t.Fatalf("did not expect error for %d: %v", test.avtpTime, err)
		}
		if got != test.want {
			t.Errorf("unexpected media clock timestamp for %d.\nGot: %d\nWant: %d", test.avtpTime, got, test.want)
		}
	}

	m, _ = NewMediaClock(1000, 1, 0)
	_, err = m.Timestamp(123)
	if errors.Cause(err) != ErrNoMediaClock {
		t.Errorf("expected no media clock error, got: %v", err)
	}

	_, err = NewMediaClock(0, 1, 0)
	if errors.Cause(err) != avtp.ErrInvalidArgument {
		t.Errorf("expected invalid argument for zero period, got: %v", err)
	}
}

func TestAligned(t *testing.T) {
	tests := []struct {
		mclk, avtp uint32
		want       bool
	}{
		{mclk: 1000, avtp: 1000, want: true},
		{mclk: 1000, avtp: 1000 + 5208, want: true},
		{mclk: 1000, avtp: 1000 + 5209, want: false},
		{mclk: 10000, avtp: 10000 - 5208, want: true},
		{mclk: 10000, avtp: 10000 - 5209, want: false},
		{mclk: 0xfffffff0, avtp: 0x10, want: true},
	}
	for i, test := range tests {
		got := Aligned(test.mclk, test.avtp, 48000)
		if got != test.want {
			t.Errorf("unexpected alignment for test %d.\nGot: %t\nWant: %t", i, got, test.want)
		}
	}
}
