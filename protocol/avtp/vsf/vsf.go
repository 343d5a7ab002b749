/*
NAME
  vsf.go

DESCRIPTION
  vsf.go provides access to the fields of Vendor Specific Format stream
  (VSF-stream) PDUs.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package vsf provides encoding and decoding of AVTP Vendor Specific Format
// stream PDUs, see IEEE 1722-2016 section 9.
//
// The 48 bit vendor_id spans two header words: its upper 32 bits are the
// format_specific word and its lower 16 bits the low half of packet_info.
package vsf

import (
	"github.com/ausocean/avtp/protocol/avtp"
)

// Field identifies a field of a VSF-stream PDU.
type Field uint8

// VSF-stream PDU fields.
const (
	FieldSV Field = iota
	FieldMR
	FieldTV
	FieldSeqNum
	FieldTU
	FieldStreamID
	FieldTimestamp
	FieldStreamDataLen
	FieldVendorID
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
	FieldVendorID:      "vendor_id",
}

func (f Field) String() string {
	if f < FieldMax {
		return fieldNames[f]
	}
	return "invalid"
}

var (
	bitsVendorIDHigh = avtp.Field32(32, 0)
	bitsVendorIDLow  = avtp.Field32(16, 0)
)

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

// Get returns the value of field f of the VSF-stream PDU pdu.
func Get(pdu []byte, f Field) (uint64, error) {
	if sf, ok := streamField(f); ok {
		return avtp.StreamGet(pdu, sf)
	}
	if f != FieldVendorID {
		return 0, avtp.InvalidField(f)
	}
	if err := avtp.CheckLen(pdu, avtp.StreamHeaderSize); err != nil {
		return 0, err
	}
	hi := avtp.Get32(pdu, avtp.FormatSpecificIdx, bitsVendorIDHigh)
	lo := avtp.Get32(pdu, avtp.PacketInfoIdx, bitsVendorIDLow)
	return hi<<16 | lo, nil
}

// Set sets field f of the VSF-stream PDU pdu to v. Bits of v beyond the width
// of the field are discarded. Setting the vendor ID leaves the
// stream_data_length half of packet_info unchanged.
func Set(pdu []byte, f Field, v uint64) error {
	if sf, ok := streamField(f); ok {
		return avtp.StreamSet(pdu, sf, v)
	}
	if f != FieldVendorID {
		return avtp.InvalidField(f)
	}
	if err := avtp.CheckLen(pdu, avtp.StreamHeaderSize); err != nil {
		return err
	}
	avtp.Set32(pdu, avtp.FormatSpecificIdx, bitsVendorIDHigh, v>>16)
	avtp.Set32(pdu, avtp.PacketInfoIdx, bitsVendorIDLow, v&0xffff)
	return nil
}

// Init zeroes the header of pdu and sets subtype to VSF-stream and sv to 1.
func Init(pdu []byte) error {
	return avtp.StreamInit(pdu, avtp.SubtypeVSFStream)
}
