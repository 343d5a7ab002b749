/*
NAME
  aaf.go

DESCRIPTION
  aaf.go provides access to the fields of AVTP Audio Format (AAF) PDUs.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package aaf provides encoding and decoding of AVTP Audio Format PDUs, see
// IEEE 1722-2016 section 7.
package aaf

import (
	"github.com/ausocean/avtp/protocol/avtp"
)

// AAF format field values.
const (
	FormatUser       = 0x00
	FormatFloat32Bit = 0x01
	FormatInt32Bit   = 0x02
	FormatInt24Bit   = 0x03
	FormatInt16Bit   = 0x04
	FormatAES332Bit  = 0x05
)

// AAF nominal sample rate (nsr) field values.
const (
	NSRUser     = 0x00
	NSR8kHz     = 0x01
	NSR16kHz    = 0x02
	NSR32kHz    = 0x03
	NSR44_1kHz  = 0x04
	NSR48kHz    = 0x05
	NSR88_2kHz  = 0x06
	NSR96kHz    = 0x07
	NSR176_4kHz = 0x08
	NSR192kHz   = 0x09
	NSR24kHz    = 0x0a
)

// AAF sparse timestamp (sp) field values.
const (
	SPNormal = 0x00
	SPSparse = 0x01
)

// Field identifies a field of an AAF PDU.
type Field uint8

// AAF PDU fields.
const (
	FieldSV Field = iota
	FieldMR
	FieldTV
	FieldSeqNum
	FieldTU
	FieldStreamID
	FieldTimestamp
	FieldStreamDataLen
	FieldFormat
	FieldNSR
	FieldChanPerFrame
	FieldBitDepth
	FieldSP
	FieldEVT
	FieldMax
)

var fieldNames = [...]string{
	FieldSV:            "sv",
	FieldMR:            "mr",
	FieldTV:            "tv",
	FieldSeqNum:        "sequence_num",
	FieldTU:            "tu",
	FieldStreamID:      "stream_id",
	FieldTimestamp:     "avtp_timestamp",
	FieldStreamDataLen: "stream_data_length",
	FieldFormat:        "format",
	FieldNSR:           "nsr",
	FieldChanPerFrame:  "channels_per_frame",
	FieldBitDepth:      "bit_depth",
	FieldSP:            "sp",
	FieldEVT:           "evt",
}

func (f Field) String() string {
	if f < FieldMax {
		return fieldNames[f]
	}
	return "invalid"
}

// word locates a bit field within the header word at byte offset idx.
type word struct {
	idx  int
	bits avtp.Bits32
}

var layout = map[Field]word{
	FieldFormat:       {avtp.FormatSpecificIdx, avtp.Field32(8, 31-7)},
	FieldNSR:          {avtp.FormatSpecificIdx, avtp.Field32(4, 31-11)},
	FieldChanPerFrame: {avtp.FormatSpecificIdx, avtp.Field32(10, 31-23)},
	FieldBitDepth:     {avtp.FormatSpecificIdx, avtp.Field32(8, 0)},
	FieldSP:           {avtp.PacketInfoIdx, avtp.Field32(1, 31-19)},
	FieldEVT:          {avtp.PacketInfoIdx, avtp.Field32(4, 31-23)},
}

// streamField maps the AAF fields held in the generic stream header to
// their stream field.
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

// Get returns the value of field f of the AAF PDU pdu. An error wrapping
// avtp.ErrInvalidArgument is returned if pdu is nil or too short, or f is
// not an AAF field.
func Get(pdu []byte, f Field) (uint64, error) {
	if sf, ok := streamField(f); ok {
		return avtp.StreamGet(pdu, sf)
	}
	w, ok := layout[f]
	if !ok {
		return 0, avtp.InvalidField(f)
	}
	if err := avtp.CheckLen(pdu, avtp.StreamHeaderSize); err != nil {
		return 0, err
	}
	return avtp.Get32(pdu, w.idx, w.bits), nil
}

// Set sets field f of the AAF PDU pdu to v. Bits of v beyond the width of the
// field are discarded.
func Set(pdu []byte, f Field, v uint64) error {
	if sf, ok := streamField(f); ok {
		return avtp.StreamSet(pdu, sf, v)
	}
	w, ok := layout[f]
	if !ok {
		return avtp.InvalidField(f)
	}
	if err := avtp.CheckLen(pdu, avtp.StreamHeaderSize); err != nil {
		return err
	}
	avtp.Set32(pdu, w.idx, w.bits, v)
	return nil
}

// Init zeroes the header of pdu and sets subtype to AAF and sv to 1. The
// payload is left untouched.
func Init(pdu []byte) error {
	return avtp.StreamInit(pdu, avtp.SubtypeAAF)
}

// nsrRates maps nominal sample rate codes to rates in Hz.
var nsrRates = map[uint64]uint{
	NSR8kHz:     8000,
	NSR16kHz:    16000,
	NSR24kHz:    24000,
	NSR32kHz:    32000,
	NSR44_1kHz:  44100,
	NSR48kHz:    48000,
	NSR88_2kHz:  88200,
	NSR96kHz:    96000,
	NSR176_4kHz: 176400,
	NSR192kHz:   192000,
}

// Rate returns the sample rate in Hz denoted by nominal sample rate code
// nsr, or 0 for NSRUser and unknown codes.
func Rate(nsr uint64) uint {
	return nsrRates[nsr]
}

// NSRFromRate returns the nominal sample rate code for rate in Hz, or
// NSRUser if rate has no code.
func NSRFromRate(rate uint) uint64 {
	for nsr, r := range nsrRates {
		if r == rate {
			return nsr
		}
	}
	return NSRUser
}

// FormatFromBitDepth returns the integer AAF format for samples of the given
// bit depth, or FormatUser if there is none.
func FormatFromBitDepth(depth uint) uint64 {
	switch {
	case depth == 0:
		return FormatUser
	case depth <= 16:
		return FormatInt16Bit
	case depth <= 24:
		return FormatInt24Bit
	case depth <= 32:
		return FormatInt32Bit
	}
	return FormatUser
}

// SampleSize returns the size in bytes of a single sample in the given AAF
// format, or 0 if the format has no fixed sample size.
func SampleSize(format uint64) int {
	switch format {
	case FormatFloat32Bit, FormatInt32Bit, FormatAES332Bit:
		return 4
	case FormatInt24Bit:
		return 3
	case FormatInt16Bit:
		return 2
	}
	return 0
}
