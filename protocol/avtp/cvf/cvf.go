/*
NAME
  cvf.go

DESCRIPTION
  cvf.go provides access to the fields of Compressed Video Format (CVF) PDUs,
  including the H.264 specific timestamp carried ahead of the payload.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package cvf provides encoding and decoding of AVTP Compressed Video Format
// PDUs, see IEEE 1722-2016 section 8.
package cvf

import (
	"github.com/pkg/errors"

	"github.com/ausocean/avtp/protocol/avtp"
)

// CVF format field values.
const FormatRFC = 0x02

// CVF format_subtype field values.
const (
	SubtypeMJPEG    = 0x00
	SubtypeH264     = 0x01
	SubtypeJPEG2000 = 0x02
)

// H264HeaderSize is the size of the h264_timestamp word that starts the
// payload of H.264 CVF PDUs.
const H264HeaderSize = 4

// Field identifies a field of a CVF PDU.
type Field uint8

// CVF PDU fields.
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
	FieldFormatSubtype
	FieldM
	FieldEVT
	FieldH264PTV
	FieldH264Timestamp
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
	FieldFormatSubtype: "format_subtype",
	FieldM:             "m",
	FieldEVT:           "evt",
	FieldH264PTV:       "ptv",
	FieldH264Timestamp: "h264_timestamp",
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

var layout = map[Field]word{
	FieldFormat:        {avtp.FormatSpecificIdx, avtp.Field32(8, 24)},
	FieldFormatSubtype: {avtp.FormatSpecificIdx, avtp.Field32(8, 16)},
	FieldH264PTV:       {avtp.PacketInfoIdx, avtp.Field32(1, 13)},
	FieldM:             {avtp.PacketInfoIdx, avtp.Field32(1, 12)},
	FieldEVT:           {avtp.PacketInfoIdx, avtp.Field32(4, 8)},
	FieldH264Timestamp: {avtp.PayloadIdx, avtp.Field32(32, 0)},
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

// lookup returns the location of CVF specific field f after checking that
// pdu is long enough to hold it.
func lookup(pdu []byte, f Field) (word, error) {
	w, ok := layout[f]
	if !ok {
		return word{}, avtp.InvalidField(f)
	}
	n := avtp.StreamHeaderSize
	if f == FieldH264Timestamp {
		n += H264HeaderSize
	}
	return w, avtp.CheckLen(pdu, n)
}

// Get returns the value of field f of the CVF PDU pdu. Reading
// FieldH264Timestamp requires pdu to extend past the stream header to
// include the h264_timestamp word.
func Get(pdu []byte, f Field) (uint64, error) {
	if sf, ok := streamField(f); ok {
		return avtp.StreamGet(pdu, sf)
	}
	w, err := lookup(pdu, f)
	if err != nil {
		return 0, err
	}
	return avtp.Get32(pdu, w.idx, w.bits), nil
}

// Set sets field f of the CVF PDU pdu to v. Bits of v beyond the width of the
// field are discarded.
func Set(pdu []byte, f Field, v uint64) error {
	if sf, ok := streamField(f); ok {
		return avtp.StreamSet(pdu, sf, v)
	}
	w, err := lookup(pdu, f)
	if err != nil {
		return err
	}
	avtp.Set32(pdu, w.idx, w.bits, v)
	return nil
}

// Init zeroes the header of pdu and initialises it as a CVF PDU with format
// RFC and the given format subtype, one of SubtypeMJPEG, SubtypeH264 or
// SubtypeJPEG2000. pdu is left untouched if subtype is invalid.
func Init(pdu []byte, subtype uint64) error {
	if subtype > SubtypeJPEG2000 {
		return errors.Wrapf(avtp.ErrInvalidArgument, "invalid format subtype %d", subtype)
	}
	err := avtp.StreamInit(pdu, avtp.SubtypeCVF)
	if err != nil {
		return err
	}
	err = Set(pdu, FieldFormat, FormatRFC)
	if err != nil {
		return err
	}
	return Set(pdu, FieldFormatSubtype, subtype)
}

// Payload returns the video data carried by the CVF PDU pdu, excluding the
// h264_timestamp word of H.264 PDUs. The returned slice shares memory with
// pdu.
func Payload(pdu []byte) ([]byte, error) {
	p, err := avtp.Payload(pdu)
	if err != nil {
		return nil, err
	}
	sub, _ := Get(pdu, FieldFormatSubtype)
	if sub != SubtypeH264 {
		return p, nil
	}
	if len(p) < H264HeaderSize {
		return nil, errors.Wrap(avtp.ErrInvalidArgument, "H.264 PDU missing h264_timestamp")
	}
	return p[H264HeaderSize:], nil
}
