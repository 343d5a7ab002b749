/*
NAME
  crf.go

DESCRIPTION
  crf.go provides access to the fields and timestamps of Clock Reference
  Format (CRF) PDUs.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package crf provides encoding and decoding of AVTP Clock Reference Format
// PDUs, see IEEE 1722-2016 section 10, and recovery of a media clock from a
// CRF stream.
package crf

import (
	"time"

	"github.com/pkg/errors"

	"github.com/ausocean/avtp/protocol/avtp"
)

/*
Layout of the CRF PDU header. CRF PDUs don't use the stream header.

==============================================================================
| octet    | 0          | 1                 | 2              | 3           |
==============================================================================
| 0-3      | subtype    | sv|ver|mr|r|fs|tu | sequence_num   | type        |
------------------------------------------------------------------------------
| 4-11     | stream_id                                                      |
------------------------------------------------------------------------------
| 12-19    | pull(3) | base_frequency(29) | crf_data_length | ts_interval   |
------------------------------------------------------------------------------
| 20-      | crf_data, 64 bit timestamps                                    |
------------------------------------------------------------------------------
*/

// Byte offsets of the CRF header words.
const (
	subtypeDataIdx = 0
	streamIDIdx    = 4
	packetInfoIdx  = 12
	crfDataIdx     = 20
)

// HeaderSize is the size of the CRF header preceding the timestamps.
const HeaderSize = crfDataIdx

// TimestampSize is the size of each CRF timestamp.
const TimestampSize = 8

// CRF type field values.
const (
	TypeUser         = 0x00
	TypeAudioSample  = 0x01
	TypeVideoFrame   = 0x02
	TypeVideoLine    = 0x03
	TypeMachineCycle = 0x04
)

// CRF pull field values, the multiplier applied to the base frequency.
const (
	PullMultBy1         = 0x00
	PullMultBy1Over1001 = 0x01 // 1/1.001
	PullMultBy1001      = 0x02 // 1.001
	PullMultBy24Over25  = 0x03
	PullMultBy25Over24  = 0x04
	PullMultBy1Over8    = 0x05
)

// Field identifies a field of a CRF PDU.
type Field uint8

// CRF PDU fields.
const (
	FieldSV Field = iota
	FieldMR
	FieldFS
	FieldTU
	FieldSeqNum
	FieldType
	FieldStreamID
	FieldPull
	FieldBaseFreq
	FieldCRFDataLen
	FieldTimestampInterval
	FieldMax
)

var fieldNames = [...]string{
	FieldSV:                "sv",
	FieldMR:                "mr",
	FieldFS:                "fs",
	FieldTU:                "tu",
	FieldSeqNum:            "sequence_num",
	FieldType:              "type",
	FieldStreamID:          "stream_id",
	FieldPull:              "pull",
	FieldBaseFreq:          "base_frequency",
	FieldCRFDataLen:        "crf_data_length",
	FieldTimestampInterval: "timestamp_interval",
}

func (f Field) String() string {
	if f < FieldMax {
		return fieldNames[f]
	}
	return "invalid"
}

var subtypeDataLayout = map[Field]avtp.Bits32{
	FieldSV:     avtp.Field32(1, 31-8),
	FieldMR:     avtp.Field32(1, 31-12),
	FieldFS:     avtp.Field32(1, 31-14),
	FieldTU:     avtp.Field32(1, 31-15),
	FieldSeqNum: avtp.Field32(8, 31-23),
	FieldType:   avtp.Field32(8, 0),
}

var packetInfoLayout = map[Field]avtp.Bits64{
	FieldPull:              avtp.Field64(3, 63-2),
	FieldBaseFreq:          avtp.Field64(29, 63-31),
	FieldCRFDataLen:        avtp.Field64(16, 63-47),
	FieldTimestampInterval: avtp.Field64(16, 0),
}

// Get returns the value of field f of the CRF PDU pdu. An error wrapping
// avtp.ErrInvalidArgument is returned if pdu is nil or shorter than the CRF
// header, or f is not a CRF field.
func Get(pdu []byte, f Field) (uint64, error) {
	if f >= FieldMax {
		return 0, avtp.InvalidField(f)
	}
	if err := avtp.CheckLen(pdu, HeaderSize); err != nil {
		return 0, err
	}
	if b, ok := subtypeDataLayout[f]; ok {
		return avtp.Get32(pdu, subtypeDataIdx, b), nil
	}
	if b, ok := packetInfoLayout[f]; ok {
		return avtp.Get64(pdu, packetInfoIdx, b), nil
	}
	return avtp.Uint64At(pdu, streamIDIdx), nil
}

// Set sets field f of the CRF PDU pdu to v. Bits of v beyond the width of the
// field are discarded.
func Set(pdu []byte, f Field, v uint64) error {
	if f >= FieldMax {
		return avtp.InvalidField(f)
	}
	if err := avtp.CheckLen(pdu, HeaderSize); err != nil {
		return err
	}
	if b, ok := subtypeDataLayout[f]; ok {
		avtp.Set32(pdu, subtypeDataIdx, b, v)
		return nil
	}
	if b, ok := packetInfoLayout[f]; ok {
		avtp.Set64(pdu, packetInfoIdx, b, v)
		return nil
	}
	avtp.PutUint64At(pdu, streamIDIdx, v)
	return nil
}

// Init zeroes the header of pdu and sets subtype to CRF and sv to 1. The
// timestamps are left untouched.
func Init(pdu []byte) error {
	err := avtp.CheckLen(pdu, HeaderSize)
	if err != nil {
		return err
	}
	clear(pdu[:HeaderSize])
	err = avtp.Set(pdu, avtp.FieldSubtype, uint32(avtp.SubtypeCRF))
	if err != nil {
		return err
	}
	return Set(pdu, FieldSV, 1)
}

// NumTimestamps returns the number of timestamps held by pdu according to
// its crf_data_length. An error is returned if pdu is too short to hold
// them.
func NumTimestamps(pdu []byte) (int, error) {
	n, err := Get(pdu, FieldCRFDataLen)
	if err != nil {
		return 0, err
	}
	if int(n) > len(pdu)-HeaderSize {
		return 0, errors.Wrapf(avtp.ErrInvalidArgument, "crf_data_length %d exceeds PDU data of %d bytes", n, len(pdu)-HeaderSize)
	}
	return int(n) / TimestampSize, nil
}

// timestampIdx returns the byte offset of timestamp i after checking that
// pdu holds it.
func timestampIdx(pdu []byte, i int) (int, error) {
	if i < 0 || i >= (len(pdu)-HeaderSize)/TimestampSize {
		return 0, errors.Wrapf(avtp.ErrInvalidArgument, "invalid timestamp index %d", i)
	}
	return crfDataIdx + i*TimestampSize, nil
}

// Timestamp returns the i'th timestamp of pdu.
func Timestamp(pdu []byte, i int) (uint64, error) {
	off, err := timestampIdx(pdu, i)
	if err != nil {
		return 0, err
	}
	return avtp.Uint64At(pdu, off), nil
}

// SetTimestamp sets the i'th timestamp of pdu to ts.
func SetTimestamp(pdu []byte, i int, ts uint64) error {
	off, err := timestampIdx(pdu, i)
	if err != nil {
		return err
	}
	avtp.PutUint64At(pdu, off, ts)
	return nil
}

// pullFactors holds the multiplier for each pull value as a ratio.
var pullFactors = map[uint64][2]uint64{
	PullMultBy1:         {1, 1},
	PullMultBy1Over1001: {1000, 1001},
	PullMultBy1001:      {1001, 1000},
	PullMultBy24Over25:  {24, 25},
	PullMultBy25Over24:  {25, 24},
	PullMultBy1Over8:    {1, 8},
}

// Frequency returns the nominal frequency in Hz, as a ratio num/den, of the
// clock described by the base frequency and pull of pdu.
func Frequency(pdu []byte) (num, den uint64, err error) {
	base, err := Get(pdu, FieldBaseFreq)
	if err != nil {
		return 0, 0, err
	}
	pull, _ := Get(pdu, FieldPull)
	f, ok := pullFactors[pull]
	if !ok {
		return 0, 0, errors.Wrapf(avtp.ErrInvalidArgument, "reserved pull value %d", pull)
	}
	return base * f[0], f[1], nil
}

// Period returns the nominal time between consecutive timestamps of pdu,
// i.e. timestamp_interval clock events.
func Period(pdu []byte) (time.Duration, error) {
	num, den, err := Frequency(pdu)
	if err != nil {
		return 0, err
	}
	if num == 0 {
		return 0, errors.Wrap(avtp.ErrInvalidArgument, "zero base frequency")
	}
	interval, _ := Get(pdu, FieldTimestampInterval)
	return time.Duration(interval * den * uint64(time.Second) / num), nil
}
