/*
NAME
  rvf.go

DESCRIPTION
  rvf.go provides access to the fields of Raw Video Format (RVF) PDUs,
  including the 64 bit raw header that precedes the video payload.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package rvf provides encoding and decoding of AVTP Raw Video Format PDUs,
// see IEEE 1722-2016 section 12.
package rvf

import (
	"github.com/ausocean/avtp/protocol/avtp"
)

/*
Layout of the RVF specific header words.

format_specific:  active_pixels(16) | total_lines(16)
packet_info:      stream_data_length(16) | ap(1) | r(1) | f(1) | ef(1) | evt(4) | pd(1) | i(1) | r(6)
raw_header:       r(8) | pixel_depth(4) | pixel_format(4) | frame_rate(8) | colorspace(4) |
                  num_lines(4) | r(8) | i_seq_num(8) | line_number(16)
*/

// RawHeaderSize is the size of the raw_header that starts the payload of
// every RVF PDU.
const RawHeaderSize = 8

// rawHeaderIdx is the byte offset of the raw_header within the PDU.
const rawHeaderIdx = avtp.PayloadIdx

// Pixel depth field values.
const (
	PixelDepth8    = 0x01
	PixelDepth10   = 0x02
	PixelDepth12   = 0x03
	PixelDepth16   = 0x04
	PixelDepthUser = 0x0f
)

// Pixel format field values.
const (
	PixelFormatMono      = 0x00
	PixelFormat411       = 0x01
	PixelFormat420       = 0x02
	PixelFormat422       = 0x03
	PixelFormat444       = 0x04
	PixelFormat4224      = 0x06
	PixelFormat4444      = 0x07
	PixelFormatBayerGRBG = 0x08
	PixelFormatBayerRGGB = 0x09
	PixelFormatBayerBGGR = 0x0a
	PixelFormatBayerGBRG = 0x0b
	PixelFormatUser      = 0x0f
)

// Frame rate field values.
const (
	FrameRate1    = 0x01
	FrameRate2    = 0x02
	FrameRate5    = 0x03
	FrameRate10   = 0x10
	FrameRate15   = 0x11
	FrameRate20   = 0x12
	FrameRate24   = 0x13
	FrameRate25   = 0x14
	FrameRate30   = 0x15
	FrameRate48   = 0x16
	FrameRate50   = 0x17
	FrameRate60   = 0x18
	FrameRate72   = 0x19
	FrameRate85   = 0x1a
	FrameRate100  = 0x30
	FrameRate120  = 0x31
	FrameRate150  = 0x32
	FrameRate200  = 0x33
	FrameRate240  = 0x34
	FrameRate300  = 0x35
	FrameRateUser = 0x0f
)

// Colorspace field values.
const (
	ColorspaceYCbCr = 0x01
	ColorspaceSRGB  = 0x02
	ColorspaceYCgCo = 0x03
	ColorspaceGray  = 0x04
	ColorspaceXYZ   = 0x05
	ColorspaceYCM   = 0x06
	ColorspaceBT601 = 0x07
	ColorspaceBT709 = 0x08
	ColorspaceITUBT = 0x09
	ColorspaceUser  = 0x0f
)

// Field identifies a field of an RVF PDU.
type Field uint8

// RVF PDU fields.
const (
	FieldSV Field = iota
	FieldMR
	FieldTV
	FieldSeqNum
	FieldTU
	FieldStreamID
	FieldTimestamp
	FieldStreamDataLen
	FieldActivePixels
	FieldTotalLines
	FieldAP
	FieldF
	FieldEF
	FieldEVT
	FieldPD
	FieldI
	FieldRawPixelDepth
	FieldRawPixelFormat
	FieldRawFrameRate
	FieldRawColorspace
	FieldRawNumLines
	FieldRawISeqNum
	FieldRawLineNumber
	FieldMax
)

var fieldNames = [...]string{
	FieldSV:             "sv",
	FieldMR:             "mr",
	FieldTV:             "tv",
	FieldSeqNum:         "sequence_num",
	FieldTU:             "tu",
	FieldStreamID:       "stream_id",
	FieldTimestamp:      "avtp_timestamp",
	FieldStreamDataLen:  "stream_data_length",
	FieldActivePixels:   "active_pixels",
	FieldTotalLines:     "total_lines",
	FieldAP:             "ap",
	FieldF:              "f",
	FieldEF:             "ef",
	FieldEVT:            "evt",
	FieldPD:             "pd",
	FieldI:              "i",
	FieldRawPixelDepth:  "pixel_depth",
	FieldRawPixelFormat: "pixel_format",
	FieldRawFrameRate:   "frame_rate",
	FieldRawColorspace:  "colorspace",
	FieldRawNumLines:    "num_lines",
	FieldRawISeqNum:     "i_seq_num",
	FieldRawLineNumber:  "line_number",
}

func (f Field) String() string {
	if f < FieldMax {
		return fieldNames[f]
	}
	return "invalid"
}

type word struct {
	idx  int
	bits avtp.Bits32
}

var headerLayout = map[Field]word{
	FieldActivePixels: {avtp.FormatSpecificIdx, avtp.Field32(16, 16)},
	FieldTotalLines:   {avtp.FormatSpecificIdx, avtp.Field32(16, 0)},
	FieldAP:           {avtp.PacketInfoIdx, avtp.Field32(1, 15)},
	FieldF:            {avtp.PacketInfoIdx, avtp.Field32(1, 13)},
	FieldEF:           {avtp.PacketInfoIdx, avtp.Field32(1, 12)},
	FieldEVT:          {avtp.PacketInfoIdx, avtp.Field32(4, 8)},
	FieldPD:           {avtp.PacketInfoIdx, avtp.Field32(1, 7)},
	FieldI:            {avtp.PacketInfoIdx, avtp.Field32(1, 6)},
}

var rawLayout = map[Field]avtp.Bits64{
	FieldRawPixelDepth:  avtp.Field64(4, 52),
	FieldRawPixelFormat: avtp.Field64(4, 48),
	FieldRawFrameRate:   avtp.Field64(8, 40),
	FieldRawColorspace:  avtp.Field64(4, 36),
	FieldRawNumLines:    avtp.Field64(4, 32),
	FieldRawISeqNum:     avtp.Field64(8, 16),
	FieldRawLineNumber:  avtp.Field64(16, 0),
}

func streamField(f Field) (avtp.StreamField, bool) {
	switch f {
	case FieldSV:
		return avtp.StreamFieldSV, true
	case FieldMR:
		return avtp.StreamFieldMR, true
	case FieldTV:
		return avtp.StreamFieldTV, true
	case FieldSeqNum:
		return avtp.StreamFieldSeqNum, true
	case FieldTU:
		return avtp.StreamFieldTU, true
	case FieldStreamID:
		return avtp.StreamFieldStreamID, true
	case FieldTimestamp:
		return avtp.StreamFieldTimestamp, true
	case FieldStreamDataLen:
		return avtp.StreamFieldStreamDataLen, true
	}
	return 0, false
}

// Get returns the value of field f of the RVF PDU pdu. pdu must include the
// raw header to read any of the FieldRaw fields.
func Get(pdu []byte, f Field) (uint64, error) {
	if sf, ok := streamField(f); ok {
		return avtp.StreamGet(pdu, sf)
	}
	if w, ok := headerLayout[f]; ok {
		if err := avtp.CheckLen(pdu, avtp.StreamHeaderSize); err != nil {
			return 0, err
		}
		return avtp.Get32(pdu, w.idx, w.bits), nil
	}
	if b, ok := rawLayout[f]; ok {
		if err := avtp.CheckLen(pdu, avtp.StreamHeaderSize+RawHeaderSize); err != nil {
			return 0, err
		}
		return avtp.Get64(pdu, rawHeaderIdx, b), nil
	}
	return 0, avtp.InvalidField(f)
}

// Set sets field f of the RVF PDU pdu to v. Bits of v beyond the width of the
// field are discarded.
func Set(pdu []byte, f Field, v uint64) error {
	if sf, ok := streamField(f); ok {
		return avtp.StreamSet(pdu, sf, v)
	}
	if w, ok := headerLayout[f]; ok {
		if err := avtp.CheckLen(pdu, avtp.StreamHeaderSize); err != nil {
			return err
		}
		avtp.Set32(pdu, w.idx, w.bits, v)
		return nil
	}
	if b, ok := rawLayout[f]; ok {
		if err := avtp.CheckLen(pdu, avtp.StreamHeaderSize+RawHeaderSize); err != nil {
			return err
		}
		avtp.Set64(pdu, rawHeaderIdx, b, v)
		return nil
	}
	return avtp.InvalidField(f)
}

// Init zeroes the stream header of pdu and sets subtype to RVF and sv to 1.
// The raw header is part of the payload and is left untouched.
func Init(pdu []byte) error {
	return avtp.StreamInit(pdu, avtp.SubtypeRVF)
}

// Payload returns the video data following the raw header of pdu. The
// returned slice shares memory with pdu.
func Payload(pdu []byte) ([]byte, error) {
	err := avtp.CheckLen(pdu, avtp.StreamHeaderSize+RawHeaderSize)
	if err != nil {
		return nil, err
	}
	return pdu[rawHeaderIdx+RawHeaderSize:], nil
}

var frameRates = map[uint]uint64{
	1: FrameRate1, 2: FrameRate2, 5: FrameRate5, 10: FrameRate10,
	15: FrameRate15, 20: FrameRate20, 24: FrameRate24, 25: FrameRate25,
	30: FrameRate30, 48: FrameRate48, 50: FrameRate50, 60: FrameRate60,
	72: FrameRate72, 85: FrameRate85, 100: FrameRate100, 120: FrameRate120,
	150: FrameRate150, 200: FrameRate200, 240: FrameRate240, 300: FrameRate300,
}

// FrameRateCode returns the frame_rate field value for fps frames per second,
// or FrameRateUser if there is no code for fps.
func FrameRateCode(fps uint) uint64 {
	if c, ok := frameRates[fps]; ok {
		return c
	}
	return FrameRateUser
}

// FPS returns the frames per second denoted by frame_rate code c, or 0 for
// FrameRateUser and unknown codes.
func FPS(c uint64) uint {
	for fps, code := range frameRates {
		if code == c {
			return fps
		}
	}
	return 0
}
