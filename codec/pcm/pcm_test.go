/*
NAME
  pcm_test.go

DESCRIPTION
  pcm_test.go contains functions for testing the pcm package.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package pcm

import (
	"bytes"
	"testing"

	"github.com/go-audio/audio"
	"github.com/google/go-cmp/cmp"

	"github.com/ausocean/avtp/protocol/avtp/aaf"
)

func TestInts(t *testing.T) {
	tests := []struct {
		samples []int
		depth   uint
		sf      SampleFormat
		want    []byte
	}{
		{
			samples: []int{1, -1, 0x7fff, -0x8000},
			depth:   16,
			sf:      S16_BE,
			want:    []byte{0x00, 0x01, 0xff, 0xff, 0x7f, 0xff, 0x80, 0x00},
		},
		{
			samples: []int{-2, 0x123456},
			depth:   24,
			sf:      S24_BE,
			want:    []byte{0xff, 0xff, 0xfe, 0x12, 0x34, 0x56},
		},
		{
			samples: []int{1, -1},
			depth:   16,
			sf:      S32_BE,
			want:    []byte{0x00, 0x01, 0x00, 0x00, 0xff, 0xff, 0x00, 0x00},
		},
		{
			samples: []int{-1, 0x7ff},
			depth:   12,
			sf:      S16_BE,
			want:    []byte{0xff, 0xf0, 0x7f, 0xf0},
		},
	}

	for i, test := range tests {
		got, err := FromInts(test.samples, test.depth, test.sf)
		if err != nil {
			t.Errorf("did not expect error for test %d: %v", i, err)
			continue
		}
		if !bytes.Equal(got, test.want) {
			t.Errorf("unexpected bytes for test %d.\nGot: % x\nWant: % x", i, got, test.want)
		}

		samples, err := ToInts(got, test.depth, test.sf)
		if err != nil {
			t.Errorf("did not expect error converting back for test %d: %v", i, err)
			continue
		}
		if diff := cmp.Diff(test.samples, samples); diff != "" {
			t.Errorf("unexpected samples for test %d (-want +got):\n%s", i, diff)
		}
	}
}

func TestIntsErrors(t *testing.T) {
	for i, f := range []func() error{
		func() error { _, err := ToInts([]byte{1, 2, 3}, 16, S16_BE); return err },
		func() error { _, err := ToInts([]byte{1, 2}, 0, S16_BE); return err },
		func() error { _, err := ToInts([]byte{1, 2}, 17, S16_BE); return err },
		func() error { _, err := ToInts([]byte{1, 2}, 16, Unknown); return err },
		func() error { _, err := FromInts([]int{1}, 25, S24_BE); return err },
		func() error { _, err := FromInts([]int{1}, 16, Unknown); return err },
	} {
		if f() == nil {
			t.Errorf("expected error for case %d", i)
		}
	}
}

func TestIntBuffer(t *testing.T) {
	in := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 44100},
		Data:           []int{100, -100, 8388607, -8388608},
		SourceBitDepth: 24,
	}
	buf, err := FromIntBuffer(in, S32_BE)
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	wantFormat := BufferFormat{SFormat: S32_BE, Rate: 44100, Channels: 2, BitDepth: 24}
	if buf.Format != wantFormat {
		t.Errorf("unexpected format.\nGot: %+v\nWant: %+v", buf.Format, wantFormat)
	}
	if len(buf.Data) != 16 {
		t.Errorf("unexpected data length.\nGot: %d\nWant: 16", len(buf.Data))
	}

	out, err := IntBuffer(buf)
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("unexpected buffer (-want +got):\n%s", diff)
	}

	_, err = FromIntBuffer(&audio.IntBuffer{}, S16_BE)
	if err == nil {
		t.Error("expected error for buffer without format")
	}
}

func TestResample(t *testing.T) {
	stereo, _ := FromInts([]int{1, -1, 2, -2, 3, -3, 4, -4, 5, -5, 6, -6, 7, -7}, 16, S16_BE)
	buf := Buffer{
		Format: BufferFormat{SFormat: S16_BE, Rate: 48000, Channels: 2},
		Data:   stereo,
	}

	// The seventh frame does not make a whole output frame and is dropped.
	resampled, err := Resample(buf, 16000)
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	want, _ := FromInts([]int{2, -2, 5, -5}, 16, S16_BE)
	if !bytes.Equal(resampled.Data, want) {
		t.Errorf("unexpected resampled data.\nGot: % x\nWant: % x", resampled.Data, want)
	}
	if resampled.Format.Rate != 16000 || resampled.Format.Channels != 2 {
		t.Errorf("unexpected resampled format: %+v", resampled.Format)
	}

	_, err = Resample(buf, 44100)
	if err == nil {
		t.Error("expected error for uneven rate ratio")
	}
}

func TestStereoToMono(t *testing.T) {
	stereo, _ := FromInts([]int{0x10203, -1, 0x40506, -2}, 24, S24_BE)
	buf := Buffer{
		Format: BufferFormat{SFormat: S24_BE, Rate: 48000, Channels: 2},
		Data:   stereo,
	}

	mono, err := StereoToMono(buf)
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	want := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	if !bytes.Equal(mono.Data, want) {
		t.Errorf("unexpected mono data.\nGot: % x\nWant: % x", mono.Data, want)
	}
	if mono.Format.Channels != 1 {
		t.Errorf("unexpected channels.\nGot: %d\nWant: 1", mono.Format.Channels)
	}

	buf.Format.Channels = 3
	_, err = StereoToMono(buf)
	if err == nil {
		t.Error("expected error for 3 channel audio")
	}
}

func TestSampleFormat(t *testing.T) {
	tests := []struct {
		depth  uint
		sf     SampleFormat
		format uint64
	}{
		{depth: 8, sf: S16_BE, format: aaf.FormatInt16Bit},
		{depth: 16, sf: S16_BE, format: aaf.FormatInt16Bit},
		{depth: 20, sf: S24_BE, format: aaf.FormatInt24Bit},
		{depth: 32, sf: S32_BE, format: aaf.FormatInt32Bit},
	}
	for i, test := range tests {
		sf, err := SFFromBitDepth(test.depth)
		if err != nil {
			t.Errorf("did not expect error for test %d: %v", i, err)
			continue
		}
		if sf != test.sf {
			t.Errorf("unexpected sample format for test %d.\nGot: %v\nWant: %v", i, sf, test.sf)
		}
		if sf.AAFFormat() != test.format {
			t.Errorf("unexpected AAF format for test %d.\nGot: %d\nWant: %d", i, sf.AAFFormat(), test.format)
		}
		if sf.Size() != aaf.SampleSize(test.format) {
			t.Errorf("sample size of %v differs from AAF sample size", sf)
		}
		back, err := SFFromAAF(test.format)
		if err != nil || back != sf {
			t.Errorf("unexpected sample format from AAF format %d: %v, %v", test.format, back, err)
		}
		parsed, err := SFFromString(sf.String())
		if err != nil || parsed != sf {
			t.Errorf("could not parse %q: %v", sf.String(), err)
		}
	}

	for _, depth := range []uint{0, 33} {
		_, err := SFFromBitDepth(depth)
		if err == nil {
			t.Errorf("expected error for bit depth %d", depth)
		}
	}
	_, err := SFFromAAF(aaf.FormatFloat32Bit)
	if err == nil {
		t.Error("expected error for float AAF format")
	}
}

func TestSwapEndian(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	err := SwapEndian(data, S16_BE)
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	want := []byte{0x02, 0x01, 0x04, 0x03, 0x06, 0x05}
	if !bytes.Equal(data, want) {
		t.Errorf("unexpected result.\nGot: % x\nWant: % x", data, want)
	}

	err = SwapEndian(data, S24_BE)
	if err != nil {
		t.Fatalf("did not expect error: %v", err)
	}
	want = []byte{0x04, 0x01, 0x02, 0x05, 0x06, 0x03}
	if !bytes.Equal(data, want) {
		t.Errorf("unexpected result.\nGot: % x\nWant: % x", data, want)
	}

	if SwapEndian(data, S32_BE) == nil {
		t.Error("expected error for partial sample")
	}
	if SwapEndian(data, Unknown) == nil {
		t.Error("expected error for unknown format")
	}
}
