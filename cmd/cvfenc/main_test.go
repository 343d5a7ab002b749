/*
DESCRIPTION
  main_test.go provides testing for packetising H.264 with cvfenc.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/ausocean/utils/logging"
	"github.com/google/go-cmp/cmp"

	"github.com/ausocean/avtp/protocol/avtp"
	"github.com/ausocean/avtp/protocol/avtp/cvf"
)

// stream is an H.264 byte stream of two access units: parameter sets with
// an IDR slice, then a non-IDR slice.
var stream = []byte{
	0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xc0, 0x1e, // SPS
	0x00, 0x00, 0x01, 0x68, 0xce, 0x3c, 0x80, // PPS
	0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x21, // IDR slice
	0x00, 0x00, 0x01, 0x41, 0x9a, 0x02, 0x03, // Non-IDR slice
}

func TestEncode(t *testing.T) {
	var out bytes.Buffer
	cfg := config{streamID: 9, maxNAL: 1400, fps: 25}
	n, err := encode(bytes.NewReader(stream), &out, cfg, (*logging.TestLogger)(t))
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	if n != 2 {
		t.Errorf("unexpected number of access units.\nGot: %d\nWant: 2", n)
	}

	var (
		video []byte
		marks []uint64
	)
	v := cvf.NewValidator(9, (*logging.TestLogger)(t))
	r := avtp.NewReader(&out)
	for {
		pdu, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("could not read PDU: %v", err)
		}
		err = v.Validate(pdu)
		if err != nil {
			t.Errorf("did not expect error validating PDU: %v", err)
		}
		data, _ := cvf.H264Data(pdu)
		video = append(video, data...)
		m, _ := cvf.Get(pdu, cvf.FieldM)
		marks = append(marks, m)
	}
	if diff := cmp.Diff([]uint64{0, 0, 1, 1}, marks); diff != "" {
		t.Errorf("unexpected M bits (-want +got):\n%s", diff)
	}
	if !bytes.Equal(video, stream) {
		t.Errorf("unexpected video.\nGot: % x\nWant: % x", video, stream)
	}
}

func TestEncodeNALTooLarge(t *testing.T) {
	cfg := config{maxNAL: 7}
	_, err := encode(bytes.NewReader(stream), &bytes.Buffer{}, cfg, (*logging.TestLogger)(t))
	if err == nil {
		t.Error("expected error for NAL unit larger than maximum")
	}
}
