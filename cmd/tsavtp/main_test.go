/*
DESCRIPTION
  main_test.go provides testing for MPEG-TS conversion with tsavtp.

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
	"testing"

	"github.com/ausocean/utils/logging"
	"github.com/google/go-cmp/cmp"

	"github.com/ausocean/avtp/protocol/avtp/ieciidc"
)

// tsPacket returns a transport packet of the given PID and continuity
// counter with a payload of fill.
func tsPacket(pid int, cc, fill byte) []byte {
	p := bytes.Repeat([]byte{fill}, ieciidc.TSPacketSize)
	p[0] = 0x47
	p[1] = byte(pid>>8) & 0x1f
	p[2] = byte(pid)
	p[3] = 0x10 | cc&0x0f
	return p
}

func TestEncodeDecode(t *testing.T) {
	var ts []byte
	ts = append(ts, tsPacket(0x100, 0, 0xaa)...)
	ts = append(ts, tsPacket(0x101, 0, 0xbb)...)
	ts = append(ts, tsPacket(0x100, 1, 0xcc)...)

	cfg := config{streamID: 5, channel: 31, pids: []int{0x100}}
	var pdus bytes.Buffer
	n, err := encode(bytes.NewReader(ts), &pdus, cfg, (*logging.TestLogger)(t))
	if err != nil {
		t.Fatalf("did not expect error encoding: %v", err)
	}
	if n != 3 {
		t.Errorf("unexpected packets read.\nGot: %d\nWant: 3", n)
	}
	if pdus.Len() != 2*ieciidc.TSPDUSize {
		t.Fatalf("unexpected output size.\nGot: %d\nWant: %d", pdus.Len(), 2*ieciidc.TSPDUSize)
	}

	// A stream with another ID is skipped.
	_, err = encode(bytes.NewReader(tsPacket(0x100, 0, 0xdd)), &pdus, config{streamID: 6, channel: 31}, (*logging.TestLogger)(t))
	if err != nil {
		t.Fatalf("did not expect error encoding: %v", err)
	}

	var out bytes.Buffer
	n, err = decode(&pdus, &out, cfg, (*logging.TestLogger)(t))
	if err != nil {
		t.Fatalf("did not expect error decoding: %v", err)
	}
	if n != 2 {
		t.Errorf("unexpected packets written.\nGot: %d\nWant: 2", n)
	}
	want := append(tsPacket(0x100, 0, 0xaa), tsPacket(0x100, 1, 0xcc)...)
	if !bytes.Equal(out.Bytes(), want) {
		t.Error("recovered transport stream does not match input")
	}
}

func TestEncodePartial(t *testing.T) {
	ts := tsPacket(0x100, 0, 0)
	_, err := encode(bytes.NewReader(ts[:100]), &bytes.Buffer{}, config{channel: 31}, (*logging.TestLogger)(t))
	if err == nil {
		t.Error("expected error for partial transport packet")
	}
}

func TestParsePIDs(t *testing.T) {
	got, err := parsePIDs("0x100, 257,0x1fff")
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	if diff := cmp.Diff([]int{0x100, 0x101, 0x1fff}, got); diff != "" {
		t.Errorf("unexpected PIDs (-want +got):\n%s", diff)
	}
	got, err = parsePIDs("")
	if err != nil || got != nil {
		t.Errorf("unexpected result for empty list: %v, %v", got, err)
	}
	_, err = parsePIDs("0x2000")
	if err == nil {
		t.Error("expected error for PID out of range")
	}
}
